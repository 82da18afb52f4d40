package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/transacta/paymentid/internal/aws"
)

// Entry is one processed capture, appended by the webhook listener.
type Entry struct {
	EntryID       string    `dynamodbav:"entry_id" json:"entryId"` // PK
	OrderID       string    `dynamodbav:"order_id" json:"orderId"`
	Status        string    `dynamodbav:"status" json:"status"`
	Amount        string    `dynamodbav:"amount" json:"amount"`
	Currency      string    `dynamodbav:"currency" json:"currency"`
	PaymentMethod string    `dynamodbav:"payment_method" json:"paymentMethod"`
	ProcessedAt   time.Time `dynamodbav:"processed_at" json:"processedAt"`
}

// Refund is written when PayPal reports a refunded capture.
type Refund struct {
	RefundID    string    `dynamodbav:"refund_id" json:"refundId"` // PK, the notification id
	OrderID     string    `dynamodbav:"order_id" json:"orderId"`
	Amount      string    `dynamodbav:"amount" json:"amount"`
	Currency    string    `dynamodbav:"currency,omitempty" json:"currency,omitempty"`
	Status      string    `dynamodbav:"status" json:"status"`
	ProcessedAt time.Time `dynamodbav:"processed_at" json:"processedAt"`
}

// ErrDuplicate is returned when an entry or refund with the same id exists.
var ErrDuplicate = errors.New("ledger record already exists")

// Store appends to the ledger and refunds tables. Records are immutable.
type Store struct {
	client       aws.DynamoDBAPI
	ledgerTable  string
	refundsTable string
}

// NewStore creates a new ledger Store.
func NewStore(client aws.DynamoDBAPI, ledgerTable, refundsTable string) *Store {
	return &Store{
		client:       client,
		ledgerTable:  ledgerTable,
		refundsTable: refundsTable,
	}
}

// Append writes e; an existing entry id yields ErrDuplicate.
func (s *Store) Append(ctx context.Context, e Entry) error {
	return s.putNew(ctx, s.ledgerTable, "entry_id", e)
}

// PutRefund writes r; an existing refund id yields ErrDuplicate.
func (s *Store) PutRefund(ctx context.Context, r Refund) error {
	return s.putNew(ctx, s.refundsTable, "refund_id", r)
}

func (s *Store) putNew(ctx context.Context, table, keyAttr string, v interface{}) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal %s item: %w", table, err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &table,
		Item:                item,
		ConditionExpression: awsString(fmt.Sprintf("attribute_not_exists(%s)", keyAttr)),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrDuplicate
		}
		return fmt.Errorf("put %s item: %w", table, err)
	}
	return nil
}

// ListByOrder returns the ledger entries of one order.
func (s *Store) ListByOrder(ctx context.Context, orderID string) ([]Entry, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                 &s.ledgerTable,
		IndexName:                 awsString("order-index"),
		KeyConditionExpression:    awsString("order_id = :oid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":oid": &types.AttributeValueMemberS{Value: orderID}},
	})
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	var entries []Entry
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal ledger entries: %w", err)
	}
	return entries, nil
}

func awsString(s string) *string { return &s }
