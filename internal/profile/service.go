package profile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"jobpilot-workers/internal/common/logger"
	"jobpilot-workers/internal/store"

	"github.com/redis/go-redis/v9"
)

const cacheKey = "jobpilot:candidate:profile"

type Loader interface {
	LoadActiveProfile(ctx context.Context) (*store.ProfileRow, error)
}

// Service is a read-through cache in front of the profile table. The cache
// is optional; any cache failure falls back to the database.
type Service struct {
	loader Loader
	cache  redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewService(loader Loader, cache redis.Cmdable, ttl time.Duration, log logger.Logger) *Service {
	return &Service{
		loader: loader,
		cache:  cache,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "profile"}),
	}
}

// Current returns a snapshot of the active profile.
func (s *Service) Current(ctx context.Context) (*Profile, error) {
	if p := s.fromCache(ctx); p != nil {
		return p, nil
	}

	row, err := s.loader.LoadActiveProfile(ctx)
	if err != nil {
		return nil, err
	}
	p := New(row.Identity, row.Summary, row.Skills, row.Languages, row.BaseResume)
	s.toCache(ctx, p)
	return p, nil
}

// Invalidate drops the cached snapshot so the next read hits the database.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, cacheKey).Err()
}

func (s *Service) fromCache(ctx context.Context) *Profile {
	if s.cache == nil {
		return nil
	}
	val, err := s.cache.Get(ctx, cacheKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("profile cache read failed", map[string]interface{}{"error": err.Error()})
		}
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		s.logger.Warn("profile cache entry corrupt", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return fromSnapshot(snap)
}

func (s *Service) toCache(ctx context.Context, p *Profile) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	b, err := json.Marshal(p.toSnapshot())
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey, b, s.ttl).Err(); err != nil {
		s.logger.Warn("profile cache write failed", map[string]interface{}{"error": err.Error()})
	}
}
