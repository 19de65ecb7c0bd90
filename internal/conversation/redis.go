// ABOUTME: Redis-backed conversation store
// ABOUTME: Turns live in a list per conversation with server-side TTL expiry

package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/2389/glimpse-gateway/internal/fault"
)

const keyPrefix = "conv:"

// RedisStore keeps each conversation as a Redis list of JSON turns plus a
// small meta key marking existence. Expiry is server-side: both keys carry
// the TTL, refreshed on every append, so SweepExpired has nothing to do.
type RedisStore struct {
	client   *redis.Client
	ttl      time.Duration
	maxTurns int
}

// NewRedisStore builds a store over an owned client; Close closes it.
func NewRedisStore(client *redis.Client, ttl time.Duration, maxTurns int) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, maxTurns: maxTurns}
}

func (s *RedisStore) Create(ctx context.Context) (string, error) {
	id := uuid.NewString()
	err := s.client.Set(ctx, metaKey(id), time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
	if err != nil {
		return "", fault.New(fault.KindStorageFailure, "could not create conversation",
			fault.WithWrapped(err))
	}
	return id, nil
}

func (s *RedisStore) Append(ctx context.Context, id, role, content string) error {
	exists, err := s.client.Exists(ctx, metaKey(id)).Result()
	if err != nil {
		return fault.New(fault.KindStorageFailure, "could not check conversation",
			fault.WithWrapped(err))
	}
	if exists == 0 {
		return fault.New(fault.KindConversationNotFound,
			fmt.Sprintf("conversation %s not found or expired", id))
	}

	turn := Turn{Role: role, Content: content, CreatedAt: time.Now()}
	data, err := json.Marshal(turn)
	if err != nil {
		return fault.New(fault.KindStorageFailure, "could not encode turn",
			fault.WithWrapped(err))
	}

	length, err := s.client.RPush(ctx, turnsKey(id), data).Result()
	if err != nil {
		return fault.New(fault.KindStorageFailure, "could not append turn",
			fault.WithWrapped(err))
	}

	pipe := s.client.Pipeline()
	if excess := trimExcess(int(length), 2*s.maxTurns); excess > 0 {
		pipe.LTrim(ctx, turnsKey(id), int64(excess), -1)
	}
	pipe.Expire(ctx, turnsKey(id), s.ttl)
	pipe.Expire(ctx, metaKey(id), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fault.New(fault.KindStorageFailure, "could not trim conversation",
			fault.WithWrapped(err))
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, id string) ([]Turn, error) {
	rows, err := s.client.LRange(ctx, turnsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fault.New(fault.KindStorageFailure, "could not load history",
			fault.WithWrapped(err))
	}

	turns := make([]Turn, 0, len(rows))
	for _, row := range rows {
		var t Turn
		if err := json.Unmarshal([]byte(row), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// SweepExpired is a no-op: Redis evicts expired keys itself.
func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time) int {
	return 0
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func metaKey(id string) string  { return keyPrefix + id + ":meta" }
func turnsKey(id string) string { return keyPrefix + id + ":turns" }
