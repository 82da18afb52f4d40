package transactions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/transacta/paymentid/internal/aws"
)

// Store encapsulates operations on the transactions table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new transactions Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Save upserts t. Only non-empty fields are written so a record already
// touched by the webhook keeps its paid/refund details. The write is refused
// with ErrStaleStatus when the stored status outranks t.Status.
func (s *Store) Save(ctx context.Context, t *Transaction) error {
	now := s.nowFunc()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.StatusRank = Rank(t.Status)

	fields, err := attributevalue.MarshalMap(t)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	delete(fields, "order_id")
	return s.upsert(ctx, t.OrderID, t.Status, fields)
}

type statusFields struct {
	Status       string     `dynamodbav:"status"`
	StatusRank   int        `dynamodbav:"status_rank"`
	PaidAmount   string     `dynamodbav:"paid_amount,omitempty"`
	PaidAt       *time.Time `dynamodbav:"paid_at,omitempty"`
	RefundedAt   *time.Time `dynamodbav:"refunded_at,omitempty"`
	ErrorMessage string     `dynamodbav:"error_message,omitempty"`
	CreatedAt    time.Time  `dynamodbav:"created_at"`
	UpdatedAt    time.Time  `dynamodbav:"updated_at"`
}

// ApplyWebhookStatus writes the status reported by a webhook notification,
// creating the record if the capture write has not landed yet. The same
// precedence rule as Save applies.
func (s *Store) ApplyWebhookStatus(ctx context.Context, u StatusUpdate) error {
	now := s.nowFunc()
	fields, err := attributevalue.MarshalMap(statusFields{
		Status:       u.Status,
		StatusRank:   Rank(u.Status),
		PaidAmount:   u.PaidAmount,
		PaidAt:       u.PaidAt,
		RefundedAt:   u.RefundedAt,
		ErrorMessage: u.ErrorMessage,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}
	return s.upsert(ctx, u.OrderID, u.Status, fields)
}

// upsert issues one UpdateItem setting every attribute in fields.
// created_at is only set when absent.
func (s *Store) upsert(ctx context.Context, orderID, status string, fields map[string]types.AttributeValue) error {
	names := map[string]string{"#status": "status", "#rank": "status_rank"}
	rank := strconv.Itoa(Rank(status))
	values := map[string]types.AttributeValue{
		":rank": &types.AttributeValueMemberN{Value: rank},
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys))
	for i, k := range keys {
		v := fmt.Sprintf(":f%d", i)
		values[v] = fields[k]
		switch k {
		case "status":
			sets = append(sets, "#status = "+v)
		case "status_rank":
			sets = append(sets, "#rank = "+v)
		case "created_at":
			names["#created"] = k
			sets = append(sets, fmt.Sprintf("#created = if_not_exists(#created, %s)", v))
		default:
			n := fmt.Sprintf("#f%d", i)
			names[n] = k
			sets = append(sets, n+" = "+v)
		}
	}

	eq := equivalent(status)
	placeholders := make([]string, len(eq))
	for i, st := range eq {
		p := fmt.Sprintf(":eq%d", i)
		placeholders[i] = p
		values[p] = &types.AttributeValueMemberS{Value: st}
	}
	cond := fmt.Sprintf("attribute_not_exists(order_id) OR #rank < :rank OR #status IN (%s)", strings.Join(placeholders, ", "))

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          awsString("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       &cond,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrStaleStatus
		}
		return fmt.Errorf("update transaction: %w", err)
	}
	return nil
}

// Get fetches a transaction by order id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Transaction, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       orderKey(orderID),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var t Transaction
	if err := attributevalue.UnmarshalMap(out.Item, &t); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &t, nil
}

// List returns transactions matching filter (all, completed, cancelled),
// newest first.
func (s *Store) List(ctx context.Context, filter string) ([]Transaction, error) {
	var result []Transaction
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan transactions: %w", err)
		}
		var page []Transaction
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal transactions: %w", err)
		}
		for _, t := range page {
			if t.Matches(filter) {
				result = append(result, t)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"order_id": &types.AttributeValueMemberS{Value: orderID}}
}

func awsString(s string) *string { return &s }
