package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/attribution/internal/observability/logger"
	"github.com/smallbiznis/attribution/internal/ratelimit"
	"go.uber.org/zap"
)

const rateLimitReasonPixelRate = "pixel-rate"

type trackRateLimitKey struct {
	PixelID string `json:"pixel_id"`
}

// TrackRateLimit throttles click ingestion per pixel. It is a no-op when the
// limiter is disabled.
func (s *Server) TrackRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.trackLimiter == nil || !s.trackLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		pixelID, err := readTrackRateLimitKey(c)
		if err != nil {
			logger.FromContext(ctx).Warn("track rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		result, err := s.trackLimiter.AllowPixel(ctx, pixelID)
		if err != nil {
			logger.FromContext(ctx).Warn("track rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		setRateLimitHeaders(c, result)
		if !result.Allowed {
			logger.FromContext(ctx).Warn("track rate limit exceeded",
				zap.String("reason", rateLimitReasonPixelRate),
				zap.String("endpoint", endpoint),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonPixelRate)

			c.Header("Retry-After", retryAfterSeconds(result.RetryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonPixelRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *ratelimit.RateLimitResult) {
	if result == nil || result.Limit <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetTime.IsZero() {
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	}
}

// retryAfterSeconds rounds up to whole seconds, never below one.
func retryAfterSeconds(wait time.Duration) string {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

// readTrackRateLimitKey peeks the pixel id and restores the body for the handler.
// Undecodable bodies yield an empty key so the handler reports the real error.
func readTrackRateLimitKey(c *gin.Context) (string, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "", nil
	}

	var payload trackRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil
	}
	return strings.TrimSpace(payload.PixelID), nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
