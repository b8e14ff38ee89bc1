package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// ChallengeRepository stores one challenge item per (account, channel).
// Every write is conditioned on the version that was read, which serializes
// issue and verify for the same pair without any in-process locking.
type ChallengeRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewChallengeRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *ChallengeRepository {
	return &ChallengeRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Get returns the stored challenge, or nil when none was ever issued.
func (r *ChallengeRepository) Get(ctx context.Context, accountID string, channel models.ChannelKind) (*models.Challenge, error) {
	key := &models.Challenge{AccountID: accountID, Channel: channel}
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: key.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: key.GetSK()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var challenge models.Challenge
	if err := attributevalue.UnmarshalMap(result.Item, &challenge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}

	return &challenge, nil
}

// Update reads the challenge, applies mutate and writes the result with a
// version condition. A lost race re-reads and re-applies mutate, so mutate
// must derive everything from the challenge it is given.
func (r *ChallengeRepository) Update(ctx context.Context, accountID string, channel models.ChannelKind, mutate ChallengeMutation) (*models.Challenge, error) {
	var updated *models.Challenge

	err := withConflictRetry(ctx, defaultConflictRetries, func(ctx context.Context) error {
		current, err := r.Get(ctx, accountID, channel)
		if err != nil {
			return err
		}

		challenge := models.Challenge{AccountID: accountID, Channel: channel}
		if current != nil {
			challenge = *current
		}

		expected := challenge.Version
		write, err := mutate(&challenge)
		if err != nil {
			return err
		}
		if !write {
			updated = &challenge
			return nil
		}

		challenge.Version = expected + 1
		if err := r.put(ctx, &challenge, expected); err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				r.logger.WithFields(logrus.Fields{
					"account_id": accountID,
					"channel":    channel,
				}).Debug("Challenge version conflict, retrying")
				return retry.RetryableError(ErrConflict)
			}
			r.logger.WithError(err).Error("Failed to store challenge in DynamoDB")
			return fmt.Errorf("failed to store challenge: %w", err)
		}

		updated = &challenge
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *ChallengeRepository) put(ctx context.Context, challenge *models.Challenge, expected int64) error {
	item, err := attributevalue.MarshalMap(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: challenge.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: challenge.GetSK()}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}
	if expected == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		input.ConditionExpression = aws.String("#v = :expected")
		input.ExpressionAttributeNames = map[string]string{"#v": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		}
	}

	_, err = r.client.PutItem(ctx, input)
	return err
}
