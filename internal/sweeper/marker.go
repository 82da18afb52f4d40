package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/transacta/paymentid/internal/aws"
)

const (
	// MarkerID is the system_config record holding the last sweep day.
	MarkerID = "expiry-sweep"
	// DayLayout is the format of lastExpiryUpdate.
	DayLayout = "2006-01-02"
)

// ErrAlreadySwept means the marker already names today, or another sweeper
// claimed the day first.
var ErrAlreadySwept = errors.New("expiry sweep already ran today")

// MarkerStore reads and claims the shared run-date marker.
type MarkerStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewMarkerStore(client aws.DynamoDBAPI, tableName string) *MarkerStore {
	return &MarkerStore{client: client, tableName: tableName, nowFunc: time.Now}
}

// Last returns the last swept day, or "" if the marker was never written.
func (m *MarkerStore) Last(ctx context.Context) (string, error) {
	out, err := m.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &m.tableName,
		Key:            markerKey(),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get sweep marker: %w", err)
	}
	if out.Item == nil {
		return "", nil
	}
	v, ok := out.Item["lastExpiryUpdate"].(*types.AttributeValueMemberS)
	if !ok {
		return "", nil
	}
	return v.Value, nil
}

// Claim moves the marker from prev to today. It fails with ErrAlreadySwept
// when the stored value is no longer prev.
func (m *MarkerStore) Claim(ctx context.Context, today, prev string) error {
	values := map[string]types.AttributeValue{
		":today": &types.AttributeValueMemberS{Value: today},
		":ua":    &types.AttributeValueMemberS{Value: m.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	cond := "attribute_not_exists(lastExpiryUpdate)"
	if prev != "" {
		cond = "lastExpiryUpdate = :prev"
		values[":prev"] = &types.AttributeValueMemberS{Value: prev}
	}
	return m.swap(ctx, cond, values)
}

// Release hands a claimed day back so a later run can retry it.
func (m *MarkerStore) Release(ctx context.Context, today, prev string) error {
	values := map[string]types.AttributeValue{
		":today": &types.AttributeValueMemberS{Value: today},
	}
	if prev == "" {
		_, err := m.client.UpdateItem(ctx, &dyn.UpdateItemInput{
			TableName:                 &m.tableName,
			Key:                       markerKey(),
			UpdateExpression:          awsString("REMOVE lastExpiryUpdate"),
			ConditionExpression:       awsString("lastExpiryUpdate = :today"),
			ExpressionAttributeValues: values,
		})
		if err != nil {
			return fmt.Errorf("release sweep marker: %w", err)
		}
		return nil
	}
	values[":prev"] = &types.AttributeValueMemberS{Value: prev}
	values[":ua"] = &types.AttributeValueMemberS{Value: m.nowFunc().UTC().Format(time.RFC3339Nano)}
	_, err := m.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &m.tableName,
		Key:                       markerKey(),
		UpdateExpression:          awsString("SET lastExpiryUpdate = :prev, updatedAt = :ua"),
		ConditionExpression:       awsString("lastExpiryUpdate = :today"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("release sweep marker: %w", err)
	}
	return nil
}

func (m *MarkerStore) swap(ctx context.Context, cond string, values map[string]types.AttributeValue) error {
	_, err := m.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &m.tableName,
		Key:                       markerKey(),
		UpdateExpression:          awsString("SET lastExpiryUpdate = :today, updatedAt = :ua"),
		ConditionExpression:       &cond,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrAlreadySwept
		}
		return fmt.Errorf("claim sweep marker: %w", err)
	}
	return nil
}

func markerKey() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: MarkerID}}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
