package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"cardassist/internal/domain"
)

// Config connects the history store to Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTLDays  int
}

// RedisHistory keeps per-session transcripts in Redis lists. Every append
// refreshes the session TTL, so an active conversation never expires under
// the user.
type RedisHistory struct {
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Logger
}

// NewRedisHistory opens a client against the configured address. The
// connection is lazy; use Ping to verify reachability at startup.
func NewRedisHistory(cfg Config, log *logrus.Logger) *RedisHistory {
	if log == nil {
		log = logrus.StandardLogger()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	var ttl time.Duration
	if cfg.TTLDays > 0 {
		ttl = time.Duration(cfg.TTLDays) * 24 * time.Hour
	}
	return &RedisHistory{client: client, ttl: ttl, log: log}
}

func key(sessionID string) string { return "chat:" + sessionID }

// Ping checks the Redis connection.
func (h *RedisHistory) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// Append pushes one message onto the session transcript.
func (h *RedisHistory) Append(ctx context.Context, sessionID string, msg domain.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	if err := h.client.RPush(ctx, key(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("append to session %s: %w", sessionID, err)
	}
	if h.ttl > 0 {
		if err := h.client.Expire(ctx, key(sessionID), h.ttl).Err(); err != nil {
			return fmt.Errorf("refresh ttl of session %s: %w", sessionID, err)
		}
	}
	return nil
}

// Messages returns the transcript in append order. Entries that fail to
// decode are skipped with a warning rather than poisoning the whole session.
func (h *RedisHistory) Messages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	raw, err := h.client.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	msgs := make([]domain.ChatMessage, 0, len(raw))
	for _, entry := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			h.log.WithError(err).WithField("session_id", sessionID).Warn("dropping undecodable history entry")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Clear deletes the session transcript.
func (h *RedisHistory) Clear(ctx context.Context, sessionID string) error {
	if err := h.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}

// Close releases the underlying client.
func (h *RedisHistory) Close() error {
	return h.client.Close()
}
