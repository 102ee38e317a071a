package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/shopspring/decimal"

	paymentpkg "github.com/frahmantamala/pix-payments/internal/payment"
)

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// PaymentStore keeps records in a DynamoDB table with "id" as partition key.
type PaymentStore struct {
	client API
	table  string
}

func NewPaymentStore(client API, table string) *PaymentStore {
	return &PaymentStore{client: client, table: table}
}

type ddbPayment struct {
	ID           string `dynamodbav:"id"`
	Status       string `dynamodbav:"status"`
	StatusDetail string `dynamodbav:"status_detail,omitempty"`
	Method       string `dynamodbav:"payment_method,omitempty"`
	Amount       string `dynamodbav:"amount"`
	CreatedAt    string `dynamodbav:"created_at"`
	UpdatedAt    string `dynamodbav:"updated_at"`
}

func (r *PaymentStore) Put(ctx context.Context, record *paymentpkg.Record) error {
	item, err := attributevalue.MarshalMap(ddbPayment{
		ID:           record.ID,
		Status:       string(record.Status),
		StatusDetail: record.StatusDetail,
		Method:       record.Method,
		Amount:       record.Amount.String(),
		CreatedAt:    record.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    record.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &r.table,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (r *PaymentStore) Get(ctx context.Context, id string) (*paymentpkg.Record, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"id": id})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	consistent := true
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &r.table,
		Key:            key,
		ConsistentRead: &consistent,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, paymentpkg.ErrPaymentNotFound
	}

	var dp ddbPayment
	if err := attributevalue.UnmarshalMap(out.Item, &dp); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}

	record := &paymentpkg.Record{
		ID:           dp.ID,
		Status:       paymentpkg.Status(dp.Status),
		StatusDetail: dp.StatusDetail,
		Method:       dp.Method,
	}
	if amount, err := decimal.NewFromString(dp.Amount); err == nil {
		record.Amount = amount
	}
	if t, err := time.Parse(time.RFC3339Nano, dp.CreatedAt); err == nil {
		record.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, dp.UpdatedAt); err == nil {
		record.UpdatedAt = t
	}
	return record, nil
}
