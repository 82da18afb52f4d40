// Package awstest provides in-memory fakes of the AWS client interfaces for
// package tests. They are not meant to reproduce DynamoDB semantics: only
// plain key storage and attribute_not_exists puts are modelled, anything else
// involving expressions is left to the per-test hook functions.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB is a minimal in-memory DynamoDB fake.
//
// Tables are keyed by their partition key attribute, registered via NewDynamoDB.
// Set the *Fn fields to script behaviour for a single operation.
type DynamoDB struct {
	mu     sync.Mutex
	keys   map[string]string
	Tables map[string]map[string]map[string]types.AttributeValue

	Puts      []*dyn.PutItemInput
	Updates   []*dyn.UpdateItemInput
	Deletes   []*dyn.DeleteItemInput
	Transacts []*dyn.TransactWriteItemsInput

	PutItemFn            func(in *dyn.PutItemInput) (*dyn.PutItemOutput, error)
	UpdateItemFn         func(in *dyn.UpdateItemInput) (*dyn.UpdateItemOutput, error)
	QueryFn              func(in *dyn.QueryInput) (*dyn.QueryOutput, error)
	TransactWriteItemsFn func(in *dyn.TransactWriteItemsInput) (*dyn.TransactWriteItemsOutput, error)
}

// NewDynamoDB returns a fake with the given table -> partition key attribute mapping.
func NewDynamoDB(keys map[string]string) *DynamoDB {
	tables := map[string]map[string]map[string]types.AttributeValue{}
	for t := range keys {
		tables[t] = map[string]map[string]types.AttributeValue{}
	}
	return &DynamoDB{keys: keys, Tables: tables}
}

// Seed stores item directly, bypassing call recording.
func (m *DynamoDB) Seed(table string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := m.pkOf(table, item)
	if err != nil {
		panic(err)
	}
	m.Tables[table][pk] = item
}

// Item returns the stored item or nil.
func (m *DynamoDB) Item(table, pk string) map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Tables[table][pk]
}

func (m *DynamoDB) pkOf(table string, item map[string]types.AttributeValue) (string, error) {
	attr, ok := m.keys[table]
	if !ok {
		return "", fmt.Errorf("awstest: unknown table %q", table)
	}
	v, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("awstest: item in %q has no string key %q", table, attr)
	}
	return v.Value, nil
}

func (m *DynamoDB) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := m.pkOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.Tables[*in.TableName][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

// PutItem stores the item. A condition of the form attribute_not_exists(...)
// fails when the key is already present, unless PutItemFn is set.
func (m *DynamoDB) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	m.Puts = append(m.Puts, in)
	fn := m.PutItemFn
	m.mu.Unlock()
	if fn != nil {
		out, err := fn(in)
		if err != nil {
			return nil, err
		}
		m.Seed(*in.TableName, in.Item)
		return out, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := m.pkOf(*in.TableName, in.Item)
	if err != nil {
		return nil, err
	}
	if in.ConditionExpression != nil && strings.HasPrefix(*in.ConditionExpression, "attribute_not_exists(") {
		if _, exists := m.Tables[*in.TableName][pk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.Tables[*in.TableName][pk] = in.Item
	return &dyn.PutItemOutput{}, nil
}

// UpdateItem records the call; behaviour comes from UpdateItemFn when set,
// otherwise it fails for missing items and succeeds without mutation.
func (m *DynamoDB) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	m.Updates = append(m.Updates, in)
	fn := m.UpdateItemFn
	m.mu.Unlock()
	if fn != nil {
		return fn(in)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := m.pkOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	if _, ok := m.Tables[*in.TableName][pk]; !ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{}
	}
	return &dyn.UpdateItemOutput{}, nil
}

func (m *DynamoDB) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes = append(m.Deletes, in)
	pk, err := m.pkOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	if _, ok := m.Tables[*in.TableName][pk]; !ok && in.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{}
	}
	delete(m.Tables[*in.TableName], pk)
	return &dyn.DeleteItemOutput{}, nil
}

// Query supports a single "attr = :value" key condition unless QueryFn is set.
func (m *DynamoDB) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	if m.QueryFn != nil {
		return m.QueryFn(in)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.KeyConditionExpression == nil {
		return nil, errors.New("awstest: missing key condition")
	}
	parts := strings.SplitN(*in.KeyConditionExpression, " = ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("awstest: unsupported key condition %q", *in.KeyConditionExpression)
	}
	attr := strings.TrimSpace(parts[0])
	if in.ExpressionAttributeNames != nil {
		if name, ok := in.ExpressionAttributeNames[attr]; ok {
			attr = name
		}
	}
	want, ok := in.ExpressionAttributeValues[strings.TrimSpace(parts[1])].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("awstest: key condition value must be a string")
	}
	var items []map[string]types.AttributeValue
	for _, item := range m.Tables[*in.TableName] {
		if v, ok := item[attr].(*types.AttributeValueMemberS); ok && v.Value == want.Value {
			items = append(items, item)
		}
	}
	return &dyn.QueryOutput{Items: items, Count: int32(len(items))}, nil
}

// Scan returns every item of the table; filter expressions are ignored.
func (m *DynamoDB) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.Tables[*in.TableName]
	if !ok {
		return nil, fmt.Errorf("awstest: unknown table %q", *in.TableName)
	}
	items := make([]map[string]types.AttributeValue, 0, len(table))
	for _, item := range table {
		items = append(items, item)
	}
	return &dyn.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

// TransactWriteItems records the call and applies Put and Delete items. A Put
// conditioned on attribute_not_exists(...) cancels the whole transaction when
// its key is present. Update and ConditionCheck items are only recorded
// unless TransactWriteItemsFn is set.
func (m *DynamoDB) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	m.Transacts = append(m.Transacts, in)
	fn := m.TransactWriteItemsFn
	m.mu.Unlock()
	if fn != nil {
		return fn(in)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	cancelled := false
	for i, it := range in.TransactItems {
		reasons[i].Code = strPtr("None")
		p := it.Put
		if p == nil || p.ConditionExpression == nil || !strings.HasPrefix(*p.ConditionExpression, "attribute_not_exists(") {
			continue
		}
		pk, err := m.pkOf(*p.TableName, p.Item)
		if err != nil {
			return nil, err
		}
		if _, exists := m.Tables[*p.TableName][pk]; exists {
			reasons[i].Code = strPtr("ConditionalCheckFailed")
			cancelled = true
		}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			pk, err := m.pkOf(*it.Put.TableName, it.Put.Item)
			if err != nil {
				return nil, err
			}
			m.Tables[*it.Put.TableName][pk] = it.Put.Item
		case it.Delete != nil:
			pk, err := m.pkOf(*it.Delete.TableName, it.Delete.Key)
			if err != nil {
				return nil, err
			}
			delete(m.Tables[*it.Delete.TableName], pk)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func strPtr(s string) *string { return &s }

// ApplySet applies a "SET a = :v, #b = if_not_exists(#b, :w)" update
// expression to the stored item, creating it when missing. Conditions are
// not evaluated. Tests install it as UpdateItemFn when they only need
// updates to land.
func (m *DynamoDB) ApplySet(in *dyn.UpdateItemInput) error {
	if in.UpdateExpression == nil || !strings.HasPrefix(*in.UpdateExpression, "SET ") {
		return fmt.Errorf("awstest: unsupported update expression")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := m.pkOf(*in.TableName, in.Key)
	if err != nil {
		return err
	}
	item := map[string]types.AttributeValue{}
	for k, v := range m.Tables[*in.TableName][pk] {
		item[k] = v
	}
	for k, v := range in.Key {
		item[k] = v
	}
	for _, assign := range splitAssignments(strings.TrimPrefix(*in.UpdateExpression, "SET ")) {
		lhs, rhs, ok := strings.Cut(assign, " = ")
		if !ok {
			return fmt.Errorf("awstest: unsupported assignment %q", assign)
		}
		attr := lhs
		if name, ok := in.ExpressionAttributeNames[lhs]; ok {
			attr = name
		}
		if strings.HasPrefix(rhs, "if_not_exists(") {
			if _, exists := item[attr]; exists {
				continue
			}
			rhs = strings.TrimSuffix(rhs[strings.LastIndex(rhs, " ")+1:], ")")
		}
		v, ok := in.ExpressionAttributeValues[rhs]
		if !ok {
			return fmt.Errorf("awstest: missing value %s", rhs)
		}
		item[attr] = v
	}
	m.Tables[*in.TableName][pk] = item
	return nil
}

func splitAssignments(expr string) []string {
	var out []string
	for _, part := range strings.Split(expr, ", ") {
		if !strings.Contains(part, " = ") && len(out) > 0 {
			out[len(out)-1] += ", " + part
			continue
		}
		out = append(out, part)
	}
	return out
}
