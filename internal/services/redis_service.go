package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"chat-relay/internal/database"

	"github.com/redis/go-redis/v9"
)

const (
	onlineUsersKey     = "online_users"
	migrationStatusKey = "db:migration:status"

	onlineStatusTTL  = 5 * time.Minute
	offlineStatusTTL = 24 * time.Hour
)

// RedisService backs presence, rate limiting and migration bookkeeping.
type RedisService struct {
	client *database.RedisClient
	now    func() time.Time
}

func NewRedisService(client *database.RedisClient) *RedisService {
	return &RedisService{
		client: client,
		now:    time.Now,
	}
}

func userStatusKey(userID string) string {
	return fmt.Sprintf("user:%s:status", userID)
}

// =============================================================================
// Presence
// =============================================================================

func (r *RedisService) SetUserOnline(ctx context.Context, userID string) error {
	return r.setStatus(ctx, userID, "online", onlineStatusTTL, func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, onlineUsersKey, userID)
	})
}

func (r *RedisService) SetUserOffline(ctx context.Context, userID string) error {
	return r.setStatus(ctx, userID, "offline", offlineStatusTTL, func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, onlineUsersKey, userID)
	})
}

func (r *RedisService) setStatus(ctx context.Context, userID, status string, ttl time.Duration, membership func(redis.Pipeliner)) error {
	now := r.now().Unix()
	pipe := r.client.GetClient().Pipeline()

	pipe.HSet(ctx, userStatusKey(userID), map[string]interface{}{
		"status":     status,
		"last_seen":  now,
		"updated_at": now,
	})
	pipe.Expire(ctx, userStatusKey(userID), ttl)
	membership(pipe)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to set user status", "userID", userID, "status", status, "error", err)
		return err
	}

	slog.Debug("User status updated", "userID", userID, "status", status)
	return nil
}

// GetOnlineUsers lists every identity currently marked online, sorted.
func (r *RedisService) GetOnlineUsers(ctx context.Context) ([]string, error) {
	users, err := r.client.GetClient().SMembers(ctx, onlineUsersKey).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(users)
	return users, nil
}

// UserStatus is the last recorded presence of an identity.
type UserStatus struct {
	UserID   string `json:"userId"`
	Status   string `json:"status"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

// GetUserStatus reports "offline" for identities never seen.
func (r *RedisService) GetUserStatus(ctx context.Context, userID string) (*UserStatus, error) {
	fields, err := r.client.GetClient().HGetAll(ctx, userStatusKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	status := &UserStatus{UserID: userID, Status: "offline"}
	if s, ok := fields["status"]; ok {
		status.Status = s
	}
	if ls, ok := fields["last_seen"]; ok {
		status.LastSeen, _ = strconv.ParseInt(ls, 10, 64)
	}
	return status, nil
}

// =============================================================================
// Rate Limiting
// =============================================================================

// CheckRateLimit records one hit on key and reports whether the number of
// hits already inside the sliding window is below limit.
func (r *RedisService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := r.now()
	windowStart := now.Add(-window).UnixMilli()

	pipe := r.client.GetClient().Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return count.Val() < int64(limit), nil
}

// =============================================================================
// Migration State Management
// =============================================================================

func (r *RedisService) SetMigrationState(ctx context.Context, version string, status string) error {
	return r.client.GetClient().HSet(ctx, migrationStatusKey, map[string]interface{}{
		"version":    version,
		"status":     status,
		"updated_at": r.now().Unix(),
	}).Err()
}

func (r *RedisService) GetMigrationState(ctx context.Context) (map[string]string, error) {
	return r.client.GetClient().HGetAll(ctx, migrationStatusKey).Result()
}
