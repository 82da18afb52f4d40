package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/transacta/paymentid/internal/aws"
)

// Store handles the accounts table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Get returns the account or (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, uid string) (*Account, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       uidKey(uid),
	})
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var a Account
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, fmt.Errorf("unmarshal account: %w", err)
	}
	return &a, nil
}

// List returns all accounts ordered by creation, oldest first.
func (s *Store) List(ctx context.Context) ([]Account, error) {
	var result []Account
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan accounts: %w", err)
		}
		var page []Account
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal accounts: %w", err)
		}
		result = append(result, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// UpdateProfile overwrites the self-editable fields. Empty PhotoURL keeps
// the current photo.
func (s *Store) UpdateProfile(ctx context.Context, uid string, p Profile) error {
	expr := "SET display_name = :dn, phone_number = :pn, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":dn": &types.AttributeValueMemberS{Value: p.DisplayName},
		":pn": &types.AttributeValueMemberS{Value: p.PhoneNumber},
		":ua": s.now(),
	}
	if p.PhotoURL != "" {
		expr += ", photo_url = :photo"
		values[":photo"] = &types.AttributeValueMemberS{Value: p.PhotoURL}
	}
	return s.update(ctx, uid, expr, values)
}

// SetPhoto replaces the profile photo URL.
func (s *Store) SetPhoto(ctx context.Context, uid, photoURL string) error {
	return s.update(ctx, uid, "SET photo_url = :photo, updated_at = :ua", map[string]types.AttributeValue{
		":photo": &types.AttributeValueMemberS{Value: photoURL},
		":ua":    s.now(),
	})
}

// SetRole changes the role of an account.
func (s *Store) SetRole(ctx context.Context, uid string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	return s.update(ctx, uid, "SET #role = :role, updated_at = :ua", map[string]types.AttributeValue{
		":role": &types.AttributeValueMemberS{Value: string(role)},
		":ua":   s.now(),
	})
}

// Delete removes the account record. The identity-provider user is not touched.
func (s *Store) Delete(ctx context.Context, uid string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 uidKey(uid),
		ConditionExpression: awsString("attribute_exists(uid)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrNotFound
		}
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, uid, expr string, values map[string]types.AttributeValue) error {
	in := &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       uidKey(uid),
		UpdateExpression:          &expr,
		ConditionExpression:       awsString("attribute_exists(uid)"),
		ExpressionAttributeValues: values,
	}
	if _, ok := values[":role"]; ok {
		in.ExpressionAttributeNames = map[string]string{"#role": "role"}
	}
	if _, err := s.client.UpdateItem(ctx, in); err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrNotFound
		}
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (s *Store) now() types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)}
}

func uidKey(uid string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"uid": &types.AttributeValueMemberS{Value: uid}}
}

func awsString(s string) *string { return &s }
