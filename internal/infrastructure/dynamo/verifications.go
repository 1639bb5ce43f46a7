package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/kinkyharbor/harbor-api/internal/domain"
	"github.com/kinkyharbor/harbor-api/internal/pkg/token"
)

// verifTokenTTL bounds how long a verification link stays valid. DynamoDB TTL
// reaps expired rows; Verify re-checks because TTL deletion lags.
const verifTokenTTL = time.Hour

// VerifTokenRepo stores single-use verification tokens. PK: secret.
// GSI user_id-purpose-index enforces the upsert-by-(user,purpose) lifecycle.
type VerifTokenRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewVerifTokenRepo(client *dynamodb.Client, tableName string) *VerifTokenRepo {
	return &VerifTokenRepo{client: client, tableName: tableName}
}

// Create issues a fresh token for (userID, purpose). Any outstanding token for
// the same pair is invalidated first, so a repeated request always leaves
// exactly one live secret.
func (r *VerifTokenRepo) Create(ctx context.Context, userID string, purpose domain.VerificationPurpose) (*domain.VerificationToken, error) {
	if err := r.deleteByUserPurpose(ctx, userID, purpose); err != nil {
		return nil, err
	}

	secret, err := token.NewSecret()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &domain.VerificationToken{
		Secret:    secret,
		UserID:    userID,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(verifTokenTTL).Unix(),
	}
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		return nil, fmt.Errorf("marshal verification token: %w", err)
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

// Verify redeems a token in one atomic check-then-delete.
//
// The conditional delete is the whole security story: two concurrent requests
// holding the same leaked secret race inside DynamoDB and exactly one gets the
// old item back. When the caller supplies a userID and it disagrees with the
// stored record, the condition fails and the record is left untouched: a
// guessed secret cannot burn someone else's token. In every other case the
// record is consumed on first contact, and only then is the purpose compared:
// a consumed-but-mismatched token is gone for good and still reported invalid.
//
// All invalid outcomes collapse into domain.ErrInvalidToken.
func (r *VerifTokenRepo) Verify(ctx context.Context, secret string, purpose domain.VerificationPurpose, userID string) (*domain.VerificationToken, error) {
	input := &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.tableName),
		Key:          strKey("secret", secret),
		ReturnValues: types.ReturnValueAllOld,
	}
	if userID != "" {
		input.ConditionExpression = aws.String("user_id = :uid")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
		}
	}

	out, err := r.client.DeleteItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}
	if len(out.Attributes) == 0 {
		return nil, domain.ErrInvalidToken
	}

	var t domain.VerificationToken
	if err := attributevalue.UnmarshalMap(out.Attributes, &t); err != nil {
		return nil, err
	}
	if t.Purpose != purpose {
		return nil, domain.ErrInvalidToken
	}
	if t.ExpiresAt < time.Now().Unix() {
		return nil, domain.ErrInvalidToken
	}
	return &t, nil
}

func (r *VerifTokenRepo) deleteByUserPurpose(ctx context.Context, userID string, purpose domain.VerificationPurpose) error {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(r.tableName),
		IndexName:                aws.String("user_id-purpose-index"),
		KeyConditionExpression:   aws.String("user_id = :uid AND #p = :p"),
		ExpressionAttributeNames: map[string]string{"#p": "purpose"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
			":p":   &types.AttributeValueMemberS{Value: string(purpose)},
		},
	})
	if err != nil {
		return err
	}
	for _, item := range out.Items {
		s, ok := item["secret"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(r.tableName),
			Key:       strKey("secret", s.Value),
		}); err != nil {
			slog.Warn("failed to invalidate previous verification token", "user_id", userID, "purpose", purpose, "err", err)
			return err
		}
	}
	return nil
}
