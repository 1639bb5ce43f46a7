package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kinkyharbor/harbor-api/internal/domain"
	"github.com/kinkyharbor/harbor-api/internal/pkg/mail"
	"github.com/kinkyharbor/harbor-api/internal/pkg/password"
)

type LoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	DisplayName           string `json:"username" validate:"required,min=2,max=32"`
	Email                 string `json:"email" validate:"required,email"`
	Password              string `json:"password" validate:"required,min=8,max=72"`
	IsAdult               bool   `json:"is_adult" validate:"required,eq=true"`
	AcceptPrivacyAndTerms bool   `json:"accept_privacy_and_terms" validate:"required,eq=true"`
}

type ExecPasswordResetRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// ResetOutcome tells the caller which confirmation message to show after a
// password reset: proving control of the mailbox also verifies the account.
type ResetOutcome string

const (
	ResetOutcomeUpdated            ResetOutcome = "passwordUpdated"
	ResetOutcomeUpdatedAndVerified ResetOutcome = "passwordUpdatedAndAccountVerified"
)

type Service interface {
	Login(ctx context.Context, req LoginRequest) (*domain.TokenPair, error)
	Register(ctx context.Context, req RegisterRequest) error
	RegisterVerify(ctx context.Context, secret string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ExecPasswordReset(ctx context.Context, req ExecPasswordResetRequest) (ResetOutcome, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByLogin(ctx context.Context, login string) (*domain.User, error)
	Add(ctx context.Context, displayName, email, passwordHash string) (*domain.User, error)
	SetPassword(ctx context.Context, userID, passwordHash string) (*domain.User, error)
	SetFlag(ctx context.Context, userID string, flag domain.UserFlag, value bool) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, userID string) error
}

type verifTokenStore interface {
	Create(ctx context.Context, userID string, purpose domain.VerificationPurpose) (*domain.VerificationToken, error)
	Verify(ctx context.Context, secret string, purpose domain.VerificationPurpose, userID string) (*domain.VerificationToken, error)
}

type refreshTokenStore interface {
	Create(ctx context.Context, userID string) (*domain.RefreshToken, error)
	Replace(ctx context.Context, userID, oldSecret string) (*domain.RefreshToken, error)
}

type accessTokenIssuer interface {
	Issue(userID string) (string, error)
}

// Sender is the outbound notification queue. Enqueue returns once the message
// is accepted; delivery is asynchronous and never gates a use case.
type Sender interface {
	Enqueue(ctx context.Context, msg domain.EmailMessage) error
}

type service struct {
	users         userStore
	verifTokens   verifTokenStore
	refreshTokens refreshTokenStore
	issuer        accessTokenIssuer
	sender        Sender
	mail          *mail.Builder
}

type ServiceDeps struct {
	UserRepo         userStore
	VerifTokenRepo   verifTokenStore
	RefreshTokenRepo refreshTokenStore
	TokenIssuer      accessTokenIssuer
	Sender           Sender
	Mail             *mail.Builder
}

func NewService(deps ServiceDeps) Service {
	return &service{
		users:         deps.UserRepo,
		verifTokens:   deps.VerifTokenRepo,
		refreshTokens: deps.RefreshTokenRepo,
		issuer:        deps.TokenIssuer,
		sender:        deps.Sender,
		mail:          deps.Mail,
	}
}

// Login trades credentials for an access/refresh token pair.
//
// An unknown login and a wrong password return the identical bare
// domain.ErrInvalidCredentials; the dummy hash in the unknown-login branch
// keeps the two paths doing comparable work so response timing does not
// reveal whether the account exists.
func (s *service) Login(ctx context.Context, req LoginRequest) (*domain.TokenPair, error) {
	login := strings.ToLower(strings.TrimSpace(req.Login))

	u, err := s.users.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if _, hashErr := password.Hash(req.Password); hashErr != nil {
				slog.Warn("dummy hash failed during login", "err", hashErr)
			}
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if !password.Verify(req.Password, u.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	if u.IsLocked {
		return nil, domain.ErrUserLocked
	}

	// Best-effort; a failed timestamp write never fails a login.
	if err := s.users.UpdateLastLogin(ctx, u.UserID); err != nil {
		slog.Warn("failed to update last login", "user_id", u.UserID, "err", err)
	}

	access, err := s.issuer.Issue(u.UserID)
	if err != nil {
		return nil, err
	}
	refresh, err := s.refreshTokens.Create(ctx, u.UserID)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh.External()}, nil
}

// Register creates an account and queues a verification mail.
//
// A taken username is disclosed; a taken email is not. The email collision
// branch reports success to the caller and sends the address an "account
// already exists" notice instead of a verification link, so registration
// responses cannot be used to probe which addresses have accounts.
func (s *service) Register(ctx context.Context, req RegisterRequest) error {
	email := strings.ToLower(req.Email)
	username := strings.ToLower(req.DisplayName)

	if domain.UsernameReserved(username) {
		return fmt.Errorf("username %q: %w", username, domain.ErrUsernameReserved)
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return err
	}

	var msg domain.EmailMessage
	u, err := s.users.Add(ctx, req.DisplayName, email, hash)
	switch {
	case err == nil:
		t, err := s.verifTokens.Create(ctx, u.UserID, domain.PurposeRegister)
		if err != nil {
			return err
		}
		msg = s.mail.RegisterVerification(req.DisplayName, email, t.Secret)
	case errors.Is(err, domain.ErrEmailTaken):
		msg = s.mail.RegisterAttempt(req.DisplayName, email)
	default:
		return err
	}

	if err := s.sender.Enqueue(ctx, msg); err != nil {
		slog.Warn("failed to enqueue registration mail", "email_subject", msg.Subject, "err", err)
	}
	return nil
}

// RegisterVerify consumes a REGISTER token and marks the account verified.
func (s *service) RegisterVerify(ctx context.Context, secret string) error {
	t, err := s.verifTokens.Verify(ctx, secret, domain.PurposeRegister, "")
	if err != nil {
		return err
	}
	if _, err := s.users.SetFlag(ctx, t.UserID, domain.FlagVerified, true); err != nil {
		return err
	}
	return nil
}

// RequestPasswordReset queues a reset mail when the address is known. It
// never reports whether it was: an unknown address is a silent success.
func (s *service) RequestPasswordReset(ctx context.Context, email string) error {
	u, err := s.users.GetByLogin(ctx, strings.ToLower(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	t, err := s.verifTokens.Create(ctx, u.UserID, domain.PurposeResetPassword)
	if err != nil {
		return err
	}
	msg := s.mail.PasswordReset(u.DisplayName, u.Email, u.UserID, t.Secret)
	if err := s.sender.Enqueue(ctx, msg); err != nil {
		slog.Warn("failed to enqueue password reset mail", "user_id", u.UserID, "err", err)
	}
	return nil
}

// ExecPasswordReset trades a RESET_PASSWORD token for the right to set a new
// password. Proving control of the mailbox also verifies an unverified
// account, and the outcome tells the caller which happened.
func (s *service) ExecPasswordReset(ctx context.Context, req ExecPasswordResetRequest) (ResetOutcome, error) {
	t, err := s.verifTokens.Verify(ctx, req.Token, domain.PurposeResetPassword, req.UserID)
	if err != nil {
		return "", err
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return "", err
	}
	u, err := s.users.SetPassword(ctx, t.UserID, hash)
	if err != nil {
		return "", err
	}

	if !u.IsVerified {
		if _, err := s.users.SetFlag(ctx, t.UserID, domain.FlagVerified, true); err != nil {
			return "", err
		}
		return ResetOutcomeUpdatedAndVerified, nil
	}
	return ResetOutcomeUpdated, nil
}

// Refresh rotates a refresh token and mints a fresh access token. A reused
// (already rotated) secret finds no record and fails closed.
func (s *service) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	userID, secret, err := domain.SplitRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	next, err := s.refreshTokens.Replace(ctx, userID, secret)
	if err != nil {
		return nil, err
	}

	access, err := s.issuer.Issue(userID)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: next.External()}, nil
}
