package products

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/transacta/paymentid/internal/aws"
)

// SlugIndex is the GSI projecting products by slug.
const SlugIndex = "slug-index"

// maxTransactItems is the DynamoDB limit for one TransactWriteItems call.
const maxTransactItems = 25

// slugGuardPrefix keys the items that reserve a slug: {id: "slug#<slug>",
// product_id}. They carry no slug attribute, so the slug index never sees them.
const slugGuardPrefix = "slug#"

// Store encapsulates operations on the products table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new products Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create inserts p. The slug is claimed by a companion guard item written in
// the same transaction, so two concurrent creates cannot share a slug.
func (s *Store) Create(ctx context.Context, p *Product) error {
	now := s.nowFunc()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			s.claimSlug(p.Slug, p.ID),
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                item,
				ConditionExpression: awsString("attribute_not_exists(id)"),
			}},
		},
	})
	switch {
	case err == nil:
		return nil
	case cancelledAt(err, 0):
		return ErrSlugTaken
	case cancelledAt(err, 1):
		return fmt.Errorf("product %s already exists: %w", p.ID, err)
	default:
		return fmt.Errorf("put product: %w", err)
	}
}

// Get fetches a product by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, id string) (*Product, error) {
	if strings.HasPrefix(id, slugGuardPrefix) {
		return nil, nil
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       idKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// GetBySlug looks a product up through the slug index. Returns (nil, nil) if
// no product carries the slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Product, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 awsString(SlugIndex),
		KeyConditionExpression:    awsString("slug = :slug"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":slug": &types.AttributeValueMemberS{Value: slug}},
		Limit:                     awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query slug: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Items[0], &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// List returns every product, following scan pagination to the end.
func (s *Store) List(ctx context.Context) ([]Product, error) {
	return s.scan(ctx, &dyn.ScanInput{
		FilterExpression:          awsString("NOT begins_with(id, :guard)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":guard": &types.AttributeValueMemberS{Value: slugGuardPrefix}},
	})
}

// ListPublished returns products with is_published = true. Expiry is not
// checked here; callers decide with Purchasable.
func (s *Store) ListPublished(ctx context.Context) ([]Product, error) {
	all, err := s.scan(ctx, &dyn.ScanInput{
		FilterExpression:          awsString("is_published = :pub"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":pub": &types.AttributeValueMemberBOOL{Value: true}},
	})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.IsPublished {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) scan(ctx context.Context, base *dyn.ScanInput) ([]Product, error) {
	var result []Product
	var startKey map[string]types.AttributeValue
	for {
		in := &dyn.ScanInput{}
		if base != nil {
			*in = *base
		}
		in.TableName = &s.tableName
		in.ExclusiveStartKey = startKey

		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("scan products: %w", err)
		}
		var page []Product
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal products: %w", err)
		}
		for _, p := range page {
			if !strings.HasPrefix(p.ID, slugGuardPrefix) {
				result = append(result, p)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return result, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// Update replaces an existing product. A slug change moves the guard item
// and is rejected if another product already owns the new slug.
func (s *Store) Update(ctx context.Context, p *Product) error {
	current, err := s.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNotFound
	}

	p.UpdatedAt = s.nowFunc()
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	put := &types.Put{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_exists(id)"),
	}

	if current.Slug == p.Slug {
		_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:           put.TableName,
			Item:                put.Item,
			ConditionExpression: put.ConditionExpression,
		})
		if err != nil {
			if isConditionFailed(err) {
				return ErrNotFound
			}
			return fmt.Errorf("put product: %w", err)
		}
		return nil
	}

	items := []types.TransactWriteItem{s.claimSlug(p.Slug, p.ID), {Put: put}}
	if current.Slug != "" {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: &s.tableName,
			Key:       idKey(slugGuardPrefix + current.Slug),
		}})
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	switch {
	case err == nil:
		return nil
	case cancelledAt(err, 0):
		return ErrSlugTaken
	case cancelledAt(err, 1):
		return ErrNotFound
	default:
		return fmt.Errorf("put product: %w", err)
	}
}

// Delete removes a product and releases its slug. Returns ErrNotFound if it
// does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrNotFound
	}

	items := []types.TransactWriteItem{{Delete: &types.Delete{
		TableName:           &s.tableName,
		Key:                 idKey(id),
		ConditionExpression: awsString("attribute_exists(id)"),
	}}}
	if current.Slug != "" {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: &s.tableName,
			Key:       idKey(slugGuardPrefix + current.Slug),
		}})
	}
	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	switch {
	case err == nil:
		return nil
	case cancelledAt(err, 0):
		return ErrNotFound
	default:
		return fmt.Errorf("delete product: %w", err)
	}
}

// claimSlug is the guard item owning slug for productID.
func (s *Store) claimSlug(slug, productID string) types.TransactWriteItem {
	return types.TransactWriteItem{Put: &types.Put{
		TableName: &s.tableName,
		Item: map[string]types.AttributeValue{
			"id":         &types.AttributeValueMemberS{Value: slugGuardPrefix + slug},
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		ConditionExpression: awsString("attribute_not_exists(id)"),
	}}
}

// ApplySweep writes sweeper updates in transactions of up to 25 items. Each
// update is conditioned on expiry_days still holding PrevExpiryDays. A chunk
// that fails is retried item by item, so a product edited since planning
// only cancels its own update: it is returned in skipped and keeps the
// edited value. applied counts the updates that were committed.
func (s *Store) ApplySweep(ctx context.Context, updates []SweepUpdate) (applied int, skipped []string, err error) {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	var errs []error
	for start := 0; start < len(updates); start += maxTransactItems {
		end := min(start+maxTransactItems, len(updates))
		chunk := updates[start:end]

		items := make([]types.TransactWriteItem, 0, len(chunk))
		for _, u := range chunk {
			expr, values := sweepExpression(u, now)
			items = append(items, types.TransactWriteItem{Update: &types.Update{
				TableName:                 &s.tableName,
				Key:                       idKey(u.ID),
				UpdateExpression:          &expr,
				ConditionExpression:       awsString(sweepCondition),
				ExpressionAttributeValues: values,
			}})
		}
		if _, terr := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); terr == nil {
			applied += len(chunk)
			continue
		}

		for _, u := range chunk {
			expr, values := sweepExpression(u, now)
			_, uerr := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
				TableName:                 &s.tableName,
				Key:                       idKey(u.ID),
				UpdateExpression:          &expr,
				ConditionExpression:       awsString(sweepCondition),
				ExpressionAttributeValues: values,
			})
			switch {
			case uerr == nil:
				applied++
			case isConditionFailed(uerr):
				skipped = append(skipped, u.ID)
			default:
				errs = append(errs, fmt.Errorf("sweep product %s: %w", u.ID, uerr))
			}
		}
	}
	return applied, skipped, errors.Join(errs...)
}

const sweepCondition = "expiry_days = :prev"

func sweepExpression(u SweepUpdate, now string) (string, map[string]types.AttributeValue) {
	expr := "SET expiry_days = :days, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":days": &types.AttributeValueMemberN{Value: strconv.Itoa(u.ExpiryDays)},
		":prev": &types.AttributeValueMemberN{Value: strconv.Itoa(u.PrevExpiryDays)},
		":ua":   &types.AttributeValueMemberS{Value: now},
	}
	if u.Unpublish {
		expr += ", is_published = :pub"
		values[":pub"] = &types.AttributeValueMemberBOOL{Value: false}
	}
	return expr, values
}

func isConditionFailed(err error) bool {
	var cfe *types.ConditionalCheckFailedException
	return errors.As(err, &cfe)
}

// cancelledAt reports whether err is a cancelled transaction whose item i
// failed its condition.
func cancelledAt(err error, i int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || i >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[i].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

func awsString(s string) *string { return &s }

func awsInt32(v int32) *int32 { return &v }
