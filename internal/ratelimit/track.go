package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/attribution/internal/config"
	"go.uber.org/fx"
)

const keyTrackPixel = "attribution:track:pixel:%s"

// Bucket is the token bucket a TrackLimiter draws from.
type Bucket interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (*RateLimitResult, error)
}

// TrackLimiter throttles click ingestion per pixel id.
type TrackLimiter struct {
	enabled bool
	bucket  Bucket
	rate    float64
	burst   int
}

func NewTrackLimiter(lc fx.Lifecycle, cfg config.Config) (*TrackLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.TrackRate <= 0 || limitCfg.TrackBurst <= 0 {
		return nil, errors.New("track rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				_ = ctx
				return client.Close()
			},
		})
	}

	return NewTrackLimiterWithBucket(NewTokenBucket(client), limitCfg.TrackRate, limitCfg.TrackBurst), nil
}

func NewTrackLimiterWithBucket(b Bucket, rate float64, burst int) *TrackLimiter {
	return &TrackLimiter{
		enabled: true,
		bucket:  b,
		rate:    rate,
		burst:   burst,
	}
}

func (l *TrackLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowPixel consumes one token from the pixel's bucket. A disabled limiter always allows.
func (l *TrackLimiter) AllowPixel(ctx context.Context, pixelID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	pixelID = strings.TrimSpace(pixelID)
	if pixelID == "" {
		pixelID = "unknown"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyTrackPixel, pixelID), l.rate, l.burst)
}
