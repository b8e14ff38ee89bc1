package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chartmaker/chartmaker/internal/models"
	"github.com/sirupsen/logrus"
)

type ActivityRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewActivityRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *ActivityRepository {
	return &ActivityRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// Store appends an activity record under the account's partition.
func (r *ActivityRepository) Store(ctx context.Context, activity *models.Activity) error {
	item, err := attributevalue.MarshalMap(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: activity.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: activity.GetSK()}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store activity in DynamoDB")
		return fmt.Errorf("failed to store activity: %w", err)
	}

	return nil
}

// ListByAccount returns up to limit activities, newest first.
func (r *ActivityRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]models.Activity, error) {
	key := &models.Activity{AccountID: accountID}
	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: key.GetPK()},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}

	var activities []models.Activity
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &activities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal activities: %w", err)
	}

	return activities, nil
}
