package auth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinkyharbor/harbor-api/internal/domain"
	"github.com/kinkyharbor/harbor-api/internal/pkg/mail"
	"github.com/kinkyharbor/harbor-api/internal/pkg/token"
)

// Stateful in-memory stores mirroring the single-use delete semantics of the
// DynamoDB repositories, so multi-step flows can be exercised end to end.

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*domain.User
	seq   int
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*domain.User{}}
}

func (f *fakeUserStore) Get(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) GetByLogin(_ context.Context, login string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == login || u.Email == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUserStore) Add(_ context.Context, displayName, email, passwordHash string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := domain.NewUser(displayName, email, passwordHash)
	for _, existing := range f.users {
		if existing.Username == u.Username {
			return nil, domain.ErrUsernameTaken
		}
		if existing.Email == u.Email {
			return nil, domain.ErrEmailTaken
		}
	}
	f.seq++
	u.UserID = fmt.Sprintf("u%d", f.seq)
	f.users[u.UserID] = u
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) SetPassword(_ context.Context, userID, passwordHash string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) SetFlag(_ context.Context, userID string, flag domain.UserFlag, value bool) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	switch flag {
	case domain.FlagVerified:
		u.IsVerified = value
	case domain.FlagLocked:
		u.IsLocked = value
	case domain.FlagAdmin:
		u.IsAdmin = value
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) UpdateLastLogin(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		now := time.Now()
		u.LastLogin = &now
	}
	return nil
}

type fakeVerifTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*domain.VerificationToken // keyed by secret
}

func newFakeVerifTokenStore() *fakeVerifTokenStore {
	return &fakeVerifTokenStore{tokens: map[string]*domain.VerificationToken{}}
}

func (f *fakeVerifTokenStore) Create(_ context.Context, userID string, purpose domain.VerificationPurpose) (*domain.VerificationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for secret, t := range f.tokens {
		if t.UserID == userID && t.Purpose == purpose {
			delete(f.tokens, secret)
		}
	}
	secret, err := token.NewSecret()
	if err != nil {
		return nil, err
	}
	t := &domain.VerificationToken{
		Secret:    secret,
		UserID:    userID,
		Purpose:   purpose,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}
	f.tokens[t.Secret] = t
	return t, nil
}

func (f *fakeVerifTokenStore) Verify(_ context.Context, secret string, purpose domain.VerificationPurpose, userID string) (*domain.VerificationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[secret]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	if userID != "" && t.UserID != userID {
		// Owner mismatch leaves the token in place for its real owner.
		return nil, domain.ErrInvalidToken
	}
	delete(f.tokens, secret)
	if t.Purpose != purpose {
		return nil, domain.ErrInvalidToken
	}
	return t, nil
}

type fakeRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken // keyed by user_id:secret
}

func newFakeRefreshTokenStore() *fakeRefreshTokenStore {
	return &fakeRefreshTokenStore{tokens: map[string]*domain.RefreshToken{}}
}

func (f *fakeRefreshTokenStore) Create(_ context.Context, userID string) (*domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	secret, err := token.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	t := &domain.RefreshToken{
		UserID:    userID,
		Secret:    secret,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(3 * 24 * time.Hour).Unix(),
	}
	f.tokens[t.UserID+":"+t.Secret] = t
	return t, nil
}

func (f *fakeRefreshTokenStore) Replace(_ context.Context, userID, oldSecret string) (*domain.RefreshToken, error) {
	f.mu.Lock()
	key := userID + ":" + oldSecret
	_, ok := f.tokens[key]
	if !ok {
		f.mu.Unlock()
		return nil, domain.ErrInvalidToken
	}
	delete(f.tokens, key)
	f.mu.Unlock()
	return f.Create(context.Background(), userID)
}

type fakeIssuer struct{ count int }

func (f *fakeIssuer) Issue(userID string) (string, error) {
	f.count++
	return fmt.Sprintf("access-%s-%d", userID, f.count), nil
}

type captureSender struct {
	mu   sync.Mutex
	sent []domain.EmailMessage
}

func (c *captureSender) Enqueue(_ context.Context, msg domain.EmailMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureSender) last(t *testing.T) domain.EmailMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent)
	return c.sent[len(c.sent)-1]
}

type flowFixture struct {
	svc    Service
	users  *fakeUserStore
	verifs *fakeVerifTokenStore
	sender *captureSender
}

func newFlowFixture() *flowFixture {
	users := newFakeUserStore()
	verifs := newFakeVerifTokenStore()
	sender := &captureSender{}
	svc := NewService(ServiceDeps{
		UserRepo:         users,
		VerifTokenRepo:   verifs,
		RefreshTokenRepo: newFakeRefreshTokenStore(),
		TokenIssuer:      &fakeIssuer{},
		Sender:           sender,
		Mail:             mail.NewBuilder("https://harbor.example"),
	})
	return &flowFixture{svc: svc, users: users, verifs: verifs, sender: sender}
}

func (fx *flowFixture) register(t *testing.T, name, email, pass string) *domain.User {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.svc.Register(ctx, RegisterRequest{DisplayName: name, Email: email, Password: pass}))
	u, err := fx.users.GetByLogin(ctx, email)
	require.NoError(t, err)
	return u
}

func (fx *flowFixture) lastTokenFor(t *testing.T, userID string, purpose domain.VerificationPurpose) string {
	t.Helper()
	fx.verifs.mu.Lock()
	defer fx.verifs.mu.Unlock()
	for secret, tok := range fx.verifs.tokens {
		if tok.UserID == userID && tok.Purpose == purpose {
			return secret
		}
	}
	t.Fatalf("no %s token for %s", purpose, userID)
	return ""
}

func TestFlow_RegisterVerifyLogin(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	u := fx.register(t, "Alice", "a@b.com", "longenough")
	assert.False(t, u.IsVerified)

	secret := fx.lastTokenFor(t, u.UserID, domain.PurposeRegister)
	require.NoError(t, fx.svc.RegisterVerify(ctx, secret))

	u, err := fx.users.Get(ctx, u.UserID)
	require.NoError(t, err)
	assert.True(t, u.IsVerified)

	pair, err := fx.svc.Login(ctx, LoginRequest{Login: "alice", Password: "longenough"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestFlow_VerificationTokenIsSingleUse(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	u := fx.register(t, "Alice", "a@b.com", "longenough")
	secret := fx.lastTokenFor(t, u.UserID, domain.PurposeRegister)

	require.NoError(t, fx.svc.RegisterVerify(ctx, secret))
	err := fx.svc.RegisterVerify(ctx, secret)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestFlow_TokenBurnedOnPurposeMismatch(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	u := fx.register(t, "Alice", "a@b.com", "longenough")
	registerSecret := fx.lastTokenFor(t, u.UserID, domain.PurposeRegister)

	// Redeeming a REGISTER token through the password reset flow fails and
	// consumes it, so it cannot be replayed on the correct flow either.
	_, err := fx.svc.ExecPasswordReset(ctx, ExecPasswordResetRequest{
		UserID: u.UserID, Token: registerSecret, Password: "newpassword",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	err = fx.svc.RegisterVerify(ctx, registerSecret)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestFlow_ResetRequestReplacesOutstandingToken(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	u := fx.register(t, "Alice", "a@b.com", "longenough")
	require.NoError(t, fx.svc.RequestPasswordReset(ctx, "a@b.com"))
	first := fx.lastTokenFor(t, u.UserID, domain.PurposeResetPassword)

	require.NoError(t, fx.svc.RequestPasswordReset(ctx, "a@b.com"))
	second := fx.lastTokenFor(t, u.UserID, domain.PurposeResetPassword)
	require.NotEqual(t, first, second)

	_, err := fx.svc.ExecPasswordReset(ctx, ExecPasswordResetRequest{
		UserID: u.UserID, Token: first, Password: "newpassword",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	outcome, err := fx.svc.ExecPasswordReset(ctx, ExecPasswordResetRequest{
		UserID: u.UserID, Token: second, Password: "newpassword",
	})
	require.NoError(t, err)
	assert.Equal(t, ResetOutcomeUpdatedAndVerified, outcome)
}

func TestFlow_ResetVerifiesUnverifiedAccount(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	u := fx.register(t, "Alice", "a@b.com", "longenough")
	require.NoError(t, fx.svc.RequestPasswordReset(ctx, "a@b.com"))
	secret := fx.lastTokenFor(t, u.UserID, domain.PurposeResetPassword)

	outcome, err := fx.svc.ExecPasswordReset(ctx, ExecPasswordResetRequest{
		UserID: u.UserID, Token: secret, Password: "brandnewpass",
	})
	require.NoError(t, err)
	assert.Equal(t, ResetOutcomeUpdatedAndVerified, outcome)

	pair, err := fx.svc.Login(ctx, LoginRequest{Login: "a@b.com", Password: "brandnewpass"})
	require.NoError(t, err)
	assert.NotNil(t, pair)

	_, err = fx.svc.Login(ctx, LoginRequest{Login: "a@b.com", Password: "longenough"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestFlow_ResetTokenBoundToOwner(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	alice := fx.register(t, "Alice", "a@b.com", "longenough")
	bob := fx.register(t, "Bob", "b@b.com", "longenough")

	require.NoError(t, fx.svc.RequestPasswordReset(ctx, "a@b.com"))
	secret := fx.lastTokenFor(t, alice.UserID, domain.PurposeResetPassword)

	// Bob presenting Alice's token fails without consuming it.
	_, err := fx.svc.ExecPasswordReset(ctx, ExecPasswordResetRequest{
		UserID: bob.UserID, Token: secret, Password: "newpassword",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	outcome, err := fx.svc.ExecPasswordReset(ctx, ExecPasswordResetRequest{
		UserID: alice.UserID, Token: secret, Password: "newpassword",
	})
	require.NoError(t, err)
	assert.Equal(t, ResetOutcomeUpdatedAndVerified, outcome)
}

func TestFlow_RefreshRotationIsSingleUse(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	fx.register(t, "Alice", "a@b.com", "longenough")
	pair, err := fx.svc.Login(ctx, LoginRequest{Login: "alice", Password: "longenough"})
	require.NoError(t, err)

	rotated, err := fx.svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The spent secret is gone.
	_, err = fx.svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	// The replacement still works.
	_, err = fx.svc.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestFlow_SecondRegistrationWithSameEmail(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	fx.register(t, "Alice", "a@b.com", "longenough")

	// Same email, different username: silent success, notice mail, no account.
	err := fx.svc.Register(ctx, RegisterRequest{
		DisplayName: "Mallory", Email: "a@b.com", Password: "longenough",
	})
	require.NoError(t, err)
	msg := fx.sender.last(t)
	assert.Equal(t, "a@b.com", msg.ToEmail)
	assert.NotContains(t, msg.Text, "register/verify")

	_, err = fx.users.GetByLogin(ctx, "mallory")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFlow_LockedAccountCannotLogin(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	u := fx.register(t, "Alice", "a@b.com", "longenough")
	_, err := fx.users.SetFlag(ctx, u.UserID, domain.FlagLocked, true)
	require.NoError(t, err)

	_, err = fx.svc.Login(ctx, LoginRequest{Login: "alice", Password: "longenough"})
	assert.ErrorIs(t, err, domain.ErrUserLocked)
}

func TestFlow_GhostResetDisclosesNothing(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	require.NoError(t, fx.svc.RequestPasswordReset(ctx, "nobody@b.com"))
	assert.Empty(t, fx.sender.sent)
}

func TestFlow_ConcurrentRefreshSingleWinner(t *testing.T) {
	fx := newFlowFixture()
	ctx := context.Background()

	fx.register(t, "Alice", "a@b.com", "longenough")
	pair, err := fx.svc.Login(ctx, LoginRequest{Login: "alice", Password: "longenough"})
	require.NoError(t, err)

	const n = 8
	results := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.Refresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrInvalidToken)
		}
	}
	assert.Equal(t, 1, wins)
}
