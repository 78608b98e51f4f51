package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/redis/go-redis/v9"
)

// StoredMessage is one persisted conversation turn
type StoredMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists conversation history and structured working memory
// in redis, addressed by (resource, thread).
type Store struct {
	rdb          *redis.Client
	historyLimit int
	workingTTL   time.Duration
}

// NewStore creates a redis-backed store with connection validation.
func NewStore(cfg config.MemoryConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 50
	}
	return &Store{rdb: rdb, historyLimit: limit, workingTTL: cfg.WorkingTTL.Std()}, nil
}

func historyKey(s Scope) string {
	return "dispatch:history:" + s.ResourceID + ":" + s.ThreadID
}

func workingKey(s Scope) string {
	return "dispatch:working:" + s.ResourceID + ":" + s.ThreadID
}

// AppendMessage appends one turn to the thread history, trimming to
// the configured limit.
func (s *Store) AppendMessage(ctx context.Context, scope Scope, role, content string) error {
	msg := StoredMessage{Role: role, Content: content, Timestamp: time.Now()}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := historyKey(scope)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.historyLimit), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// History returns up to limit most recent turns, oldest first.
func (s *Store) History(ctx context.Context, scope Scope, limit int) ([]StoredMessage, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	raw, err := s.rdb.LRange(ctx, historyKey(scope), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	messages := make([]StoredMessage, 0, len(raw))
	for _, item := range raw {
		var msg StoredMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue // skip corrupt entries
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// SetWorking stores one structured working-memory fact. Each write
// renews the hash TTL so abandoned scopes eventually expire.
func (s *Store) SetWorking(ctx context.Context, scope Scope, field, value string) error {
	key := workingKey(scope)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	if s.workingTTL > 0 {
		pipe.Expire(ctx, key, s.workingTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set working memory: %w", err)
	}
	return nil
}

// GetWorking reads one working-memory fact; ok is false when unset.
func (s *Store) GetWorking(ctx context.Context, scope Scope, field string) (string, bool, error) {
	val, err := s.rdb.HGet(ctx, workingKey(scope), field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get working memory: %w", err)
	}
	return val, true, nil
}

// DeleteWorking removes one working-memory fact.
func (s *Store) DeleteWorking(ctx context.Context, scope Scope, field string) error {
	if err := s.rdb.HDel(ctx, workingKey(scope), field).Err(); err != nil {
		return fmt.Errorf("failed to delete working memory: %w", err)
	}
	return nil
}

// Working returns all working-memory facts for the scope.
func (s *Store) Working(ctx context.Context, scope Scope) (map[string]string, error) {
	facts, err := s.rdb.HGetAll(ctx, workingKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read working memory: %w", err)
	}
	return facts, nil
}

// Clear removes all state for the scope.
func (s *Store) Clear(ctx context.Context, scope Scope) error {
	if err := s.rdb.Del(ctx, historyKey(scope), workingKey(scope)).Err(); err != nil {
		return fmt.Errorf("failed to clear scope: %w", err)
	}
	return nil
}

// Ping checks redis reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}
