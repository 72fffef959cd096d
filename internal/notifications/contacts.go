package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrContactNotFound = errors.New("contact not found")

// Contact is the recipient snapshot taken from order.created. Payment
// events carry no contact data, so the dispatcher resolves recipients from
// this store when they arrive.
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type ContactStore interface {
	Save(ctx context.Context, orderID string, contact Contact) error
	Get(ctx context.Context, orderID string) (*Contact, error)
}

type RedisContactStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisContactStore(client *redis.Client) *RedisContactStore {
	return &RedisContactStore{
		client: client,
		ttl:    72 * time.Hour,
	}
}

func (s *RedisContactStore) Save(ctx context.Context, orderID string, contact Contact) error {
	data, err := json.Marshal(contact)
	if err != nil {
		return fmt.Errorf("marshal contact failed: %w", err)
	}
	if err := s.client.Set(ctx, contactKey(orderID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisContactStore) Get(ctx context.Context, orderID string) (*Contact, error) {
	data, err := s.client.Get(ctx, contactKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var contact Contact
	if err := json.Unmarshal(data, &contact); err != nil {
		return nil, fmt.Errorf("unmarshal contact failed: %w", err)
	}
	return &contact, nil
}

func contactKey(orderID string) string {
	return fmt.Sprintf("contact:%s", orderID)
}
