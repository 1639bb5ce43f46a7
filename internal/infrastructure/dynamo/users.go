package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/kinkyharbor/harbor-api/internal/domain"
	"github.com/kinkyharbor/harbor-api/internal/pkg/id"
)

// UserRepo provides typed DynamoDB operations for the users table.
//
// Username and email uniqueness is enforced by the store, not by pre-checks:
// Add writes the user row and one marker item per unique attribute in a single
// transaction with attribute_not_exists conditions. Concurrent registrations
// of the same name race inside DynamoDB, and exactly one wins.
type UserRepo struct {
	client       *dynamodb.Client
	tableName    string
	uniquesTable string
}

func NewUserRepo(client *dynamodb.Client, tableName, uniquesTable string) *UserRepo {
	return &UserRepo{client: client, tableName: tableName, uniquesTable: uniquesTable}
}

func usernameMarker(username string) string { return "username#" + username }
func emailMarker(email string) string       { return "email#" + email }

// Add inserts a new user, failing with domain.ErrUsernameTaken or
// domain.ErrEmailTaken when a unique marker already exists. The cancellation
// reasons of the transaction are positional: item 1 is the username marker,
// item 2 the email marker.
func (r *UserRepo) Add(ctx context.Context, displayName, email, passwordHash string) (*domain.User, error) {
	u := domain.NewUser(displayName, email, passwordHash)
	u.UserID = id.New()

	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return nil, fmt.Errorf("marshal user: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(user_id)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(r.uniquesTable),
				Item: map[string]types.AttributeValue{
					"marker":  &types.AttributeValueMemberS{Value: usernameMarker(u.Username)},
					"user_id": &types.AttributeValueMemberS{Value: u.UserID},
				},
				ConditionExpression: aws.String("attribute_not_exists(marker)"),
			}},
			{Put: &types.Put{
				TableName: aws.String(r.uniquesTable),
				Item: map[string]types.AttributeValue{
					"marker":  &types.AttributeValueMemberS{Value: emailMarker(u.Email)},
					"user_id": &types.AttributeValueMemberS{Value: u.UserID},
				},
				ConditionExpression: aws.String("attribute_not_exists(marker)"),
			}},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) == 3 {
			if reasonFailed(tce.CancellationReasons[1]) {
				return nil, fmt.Errorf("username %q: %w", u.Username, domain.ErrUsernameTaken)
			}
			if reasonFailed(tce.CancellationReasons[2]) {
				return nil, fmt.Errorf("email: %w", domain.ErrEmailTaken)
			}
		}
		return nil, fmt.Errorf("add user: %w", err)
	}
	return u, nil
}

func reasonFailed(r types.CancellationReason) bool {
	return r.Code != nil && *r.Code == "ConditionalCheckFailed"
}

func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("user_id", userID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.queryGSI(ctx, "username-index", "username", username)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.queryGSI(ctx, "email-index", "email", email)
}

// GetByLogin resolves a login that is either a username or an email address.
// The caller folds the login to lowercase first.
func (r *UserRepo) GetByLogin(ctx context.Context, login string) (*domain.User, error) {
	u, err := r.GetByUsername(ctx, login)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return r.GetByEmail(ctx, login)
}

// SetPassword stores a new password hash and returns the updated user.
func (r *UserRepo) SetPassword(ctx context.Context, userID, passwordHash string) (*domain.User, error) {
	return r.update(ctx, userID, map[string]interface{}{"password_hash": passwordHash})
}

// SetFlag toggles a boolean account flag and returns the updated user.
func (r *UserRepo) SetFlag(ctx context.Context, userID string, flag domain.UserFlag, value bool) (*domain.User, error) {
	return r.update(ctx, userID, map[string]interface{}{string(flag): value})
}

// UpdateLastLogin stamps the last successful login. Best-effort side effect;
// callers log failures instead of propagating them.
func (r *UserRepo) UpdateLastLogin(ctx context.Context, userID string) error {
	_, err := r.update(ctx, userID, map[string]interface{}{
		"last_login": time.Now().UTC().Format(time.RFC3339),
	})
	return err
}

func (r *UserRepo) update(ctx context.Context, userID string, updates map[string]interface{}) (*domain.User, error) {
	updates["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return nil, err
	}
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("user_id", userID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ConditionExpression:       aws.String("attribute_exists(user_id)"),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
		}
		return nil, err
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Attributes, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) queryGSI(ctx context.Context, index, attr, value string) (*domain.User, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    aws.String("#a = :v"),
		ExpressionAttributeNames:  map[string]string{"#a": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberS{Value: value}},
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	var u domain.User
	if err := attributevalue.UnmarshalMap(out.Items[0], &u); err != nil {
		return nil, err
	}
	return &u, nil
}
