package realtime

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brightboard/backend/pkg/utils"
)

// RedisTicketStore keeps join tickets in Redis with a TTL. A ticket is minted
// by the REST layer once enrollment/ownership is verified and consumed exactly
// once at join time.
type RedisTicketStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTicketStore creates a ticket store with the given ticket lifetime.
func NewRedisTicketStore(client *redis.Client, ttl time.Duration) *RedisTicketStore {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisTicketStore{client: client, ttl: ttl}
}

func ticketKey(streamKey string, userID uuid.UUID) string {
	return fmt.Sprintf("stream:ticket:%s:%s", streamKey, userID)
}

// Mint stores a fresh ticket for (streamKey, userID), replacing any prior one.
func (t *RedisTicketStore) Mint(ctx context.Context, streamKey string, userID uuid.UUID) (string, error) {
	ticket, err := utils.NewTicket()
	if err != nil {
		return "", err
	}
	if err := t.client.Set(ctx, ticketKey(streamKey, userID), ticket, t.ttl).Err(); err != nil {
		return "", fmt.Errorf("store ticket: %w", err)
	}
	return ticket, nil
}

// Consume validates and deletes the ticket. A second consume fails.
func (t *RedisTicketStore) Consume(ctx context.Context, streamKey string, userID uuid.UUID, ticket string) error {
	stored, err := t.client.GetDel(ctx, ticketKey(streamKey, userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrInvalidTicket
		}
		return fmt.Errorf("load ticket: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(ticket)) != 1 {
		return ErrInvalidTicket
	}
	return nil
}
