package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/kinkyharbor/harbor-api/internal/domain"
	"github.com/kinkyharbor/harbor-api/internal/pkg/token"
)

// refreshTokenTTL drops a refresh token after inactivity; each rotation
// inserts a fresh row with a fresh expiry.
const refreshTokenTTL = 3 * 24 * time.Hour

// RefreshTokenRepo stores rotating refresh tokens. PK: user_id, SK: secret.
type RefreshTokenRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewRefreshTokenRepo(client *dynamodb.Client, tableName string) *RefreshTokenRepo {
	return &RefreshTokenRepo{client: client, tableName: tableName}
}

// Create inserts a fresh refresh token for the user.
func (r *RefreshTokenRepo) Create(ctx context.Context, userID string) (*domain.RefreshToken, error) {
	secret, err := token.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &domain.RefreshToken{
		UserID:    userID,
		Secret:    secret,
		CreatedAt: now,
		ExpiresAt: now.Add(refreshTokenTTL).Unix(),
	}
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return nil, fmt.Errorf("marshal refresh token: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Replace atomically consumes the old (user_id, secret) record and issues a
// new token. DeleteItem with ALL_OLD returns the deleted row to exactly one
// caller; concurrent redemptions of the same secret therefore yield one
// winner and one domain.ErrInvalidToken loser, and a secret that was already
// rotated away fails closed for the same reason.
func (r *RefreshTokenRepo) Replace(ctx context.Context, userID, oldSecret string) (*domain.RefreshToken, error) {
	out, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.tableName),
		Key:          compositeKey("user_id", userID, "secret", oldSecret),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Attributes) == 0 {
		return nil, domain.ErrInvalidToken
	}

	var old domain.RefreshToken
	if err := attributevalue.UnmarshalMap(out.Attributes, &old); err != nil {
		return nil, err
	}
	if old.ExpiresAt < time.Now().Unix() {
		// Consumed but past its TTL window; treated like a missing row.
		return nil, domain.ErrInvalidToken
	}
	return r.Create(ctx, userID)
}
