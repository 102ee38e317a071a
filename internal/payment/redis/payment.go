package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	paymentpkg "github.com/frahmantamala/pix-payments/internal/payment"
)

// Client is the subset of *redis.Client the store uses.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// PaymentStore keeps each record as a JSON document under prefix+id. Records
// never expire.
type PaymentStore struct {
	client Client
	prefix string
}

func NewPaymentStore(client Client, prefix string) *PaymentStore {
	return &PaymentStore{
		client: client,
		prefix: prefix,
	}
}

// NewClient parses a redis:// URL and checks the connection.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (r *PaymentStore) key(id string) string {
	return r.prefix + id
}

func (r *PaymentStore) Put(ctx context.Context, record *paymentpkg.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal payment %s: %w", record.ID, err)
	}

	if err := r.client.Set(ctx, r.key(record.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store payment %s: %w", record.ID, err)
	}
	return nil
}

func (r *PaymentStore) Get(ctx context.Context, id string) (*paymentpkg.Record, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, paymentpkg.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment %s: %w", id, err)
	}

	var record paymentpkg.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode payment %s: %w", id, err)
	}
	return &record, nil
}
