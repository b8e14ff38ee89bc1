package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

const uniqueSK = "UNIQUE"

type AccountRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewAccountRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *AccountRepository {
	return &AccountRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func usernamePK(username string) string { return "USERNAME!" + username }
func emailPK(email string) string       { return "EMAIL!" + email }
func phonePK(phone string) string       { return "PHONE!" + phone }

// Create stores a new account together with one marker item per unique
// identifier in a single transaction, so two registrations racing for the
// same username, email or phone cannot both succeed.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	account.Version = 1

	item, err := attributevalue.MarshalMap(account)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal account for DynamoDB")
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: account.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: account.GetSK()}

	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}
	conflicts := []error{ErrConflict}

	markers := []struct {
		pk  string
		err error
	}{
		{usernamePK(account.Username), ErrUsernameTaken},
		{emailPK(account.Email), ErrEmailTaken},
	}
	if account.Phone != "" {
		markers = append(markers, struct {
			pk  string
			err error
		}{phonePK(account.Phone), ErrPhoneTaken})
	}
	for _, m := range markers {
		writes = append(writes, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(r.tableName),
				Item: map[string]types.AttributeValue{
					"PK":         &types.AttributeValueMemberS{Value: m.pk},
					"SK":         &types.AttributeValueMemberS{Value: uniqueSK},
					"account_id": &types.AttributeValueMemberS{Value: account.ID},
				},
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		})
		conflicts = append(conflicts, m.err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for i, reason := range canceled.CancellationReasons {
				if aws.ToString(reason.Code) == "ConditionalCheckFailed" && i < len(conflicts) {
					return conflicts[i]
				}
			}
		}
		r.logger.WithError(err).Error("Failed to create account in DynamoDB")
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetByID returns the account, or nil when it does not exist.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	key := &models.Account{ID: id}
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: key.GetSK()},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get account from DynamoDB")
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var account models.Account
	if err := attributevalue.UnmarshalMap(result.Item, &account); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal account from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}

	return &account, nil
}

// GetByEmail expects an already normalized (lower-case) address.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getByMarker(ctx, emailPK(email))
}

// GetByPhone expects an E.164 number.
func (r *AccountRepository) GetByPhone(ctx context.Context, phone string) (*models.Account, error) {
	return r.getByMarker(ctx, phonePK(phone))
}

func (r *AccountRepository) getByMarker(ctx context.Context, pk string) (*models.Account, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: uniqueSK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account marker: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	idAttr, ok := result.Item["account_id"].(*types.AttributeValueMemberS)
	if !ok || idAttr.Value == "" {
		return nil, fmt.Errorf("account marker %s has no account_id", pk)
	}

	return r.GetByID(ctx, idAttr.Value)
}

// Update applies mutate to the current account and writes it back only if
// no other writer changed the record in between, retrying on conflict.
// Identifiers (username, email, phone) must not be changed through Update.
func (r *AccountRepository) Update(ctx context.Context, id string, mutate AccountMutation) (*models.Account, error) {
	var updated *models.Account

	err := withConflictRetry(ctx, defaultConflictRetries, func(ctx context.Context) error {
		account, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if account == nil {
			return ErrAccountNotFound
		}

		expected := account.Version
		write, err := mutate(account)
		if err != nil {
			return err
		}
		if !write {
			updated = account
			return nil
		}

		account.Version = expected + 1
		account.UpdatedAt = time.Now().UTC()

		item, err := attributevalue.MarshalMap(account)
		if err != nil {
			return fmt.Errorf("failed to marshal account: %w", err)
		}
		item["PK"] = &types.AttributeValueMemberS{Value: account.GetPK()}
		item["SK"] = &types.AttributeValueMemberS{Value: account.GetSK()}

		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(r.tableName),
			Item:                     item,
			ConditionExpression:      aws.String("#v = :expected"),
			ExpressionAttributeNames: map[string]string{"#v": "version"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
			},
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				r.logger.WithField("account_id", id).Debug("Account version conflict, retrying")
				return retry.RetryableError(ErrConflict)
			}
			r.logger.WithError(err).Error("Failed to update account in DynamoDB")
			return fmt.Errorf("failed to update account: %w", err)
		}

		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}
