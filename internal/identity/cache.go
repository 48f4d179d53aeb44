package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"marketchat/internal/domain"
)

// CachedDirectory is a Redis read-through cache in front of another
// directory. Cache failures degrade to the underlying directory; they
// never fail a lookup on their own.
type CachedDirectory struct {
	next   domain.ProfileDirectory
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedDirectory(next domain.ProfileDirectory, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDirectory{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "profile_cache"),
	}
}

var _ domain.ProfileDirectory = (*CachedDirectory)(nil)

func cacheKey(userID string) string {
	return "profile:" + userID
}

func (d *CachedDirectory) Profile(ctx context.Context, userID string) (*domain.Profile, error) {
	raw, err := d.rdb.Get(ctx, cacheKey(userID)).Result()
	if err == nil {
		var p domain.Profile
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return &p, nil
		}
		// Unreadable entry: fall through and rewrite it.
	} else if err != redis.Nil {
		d.logger.Warn("profile cache read failed", "user_id", userID, "error", err)
	}

	p, err := d.next.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(p); err == nil {
		if err := d.rdb.Set(ctx, cacheKey(userID), raw, d.ttl).Err(); err != nil {
			d.logger.Warn("profile cache write failed", "user_id", userID, "error", err)
		}
	}
	return p, nil
}

// Invalidate drops a cached profile, e.g. after the identity service
// signals an update.
func (d *CachedDirectory) Invalidate(ctx context.Context, userID string) error {
	if err := d.rdb.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate profile %s: %w", userID, err)
	}
	return nil
}
