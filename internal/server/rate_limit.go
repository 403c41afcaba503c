package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/supportdesk/internal/actorcontext"
	"github.com/smallbiznis/supportdesk/internal/observability/logger"
	"github.com/smallbiznis/supportdesk/internal/ratelimit"
	"go.uber.org/zap"
)

type writeKind string

const (
	writeKindMessage   writeKind = "message"
	writeKindWorkEntry writeKind = "work_entry"
)

const (
	rateLimitReasonUserRate    = "user-rate"
	rateLimitReasonTicketWrite = "ticket-write-in-flight"
)

// WriteRateLimit throttles per-user writes on a ticket and rejects a second
// submission by the same user while the first is still running.
func (s *Server) WriteRateLimit(kind writeKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.writeLimiter == nil || !s.writeLimiter.Enabled() {
			c.Next()
			return
		}

		actor, ok := actorcontext.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)
		userID := actor.UserID.String()

		var (
			result ratelimit.Result
			err    error
		)
		switch kind {
		case writeKindMessage:
			result, err = s.writeLimiter.AllowMessage(ctx, userID)
		default:
			result, err = s.writeLimiter.AllowWorkEntry(ctx, userID)
		}
		if err != nil {
			logger.FromContext(ctx).Warn("write rate limit check failed", zap.String("kind", string(kind)), zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			denyWriteRateLimit(c, endpoint, rateLimitReasonUserRate, retryAfter, s)
			return
		}

		ticketID := strings.TrimSpace(c.Param("id"))
		if ticketID != "" {
			release, locked, err := s.writeLimiter.TryLockTicketWrite(ctx, userID, ticketID)
			if err != nil {
				logger.FromContext(ctx).Warn("ticket write lock failed", zap.Error(err))
				AbortWithError(c, ErrServiceUnavailable)
				return
			}
			if !locked {
				denyWriteRateLimit(c, endpoint, rateLimitReasonTicketWrite, 1, s)
				return
			}
			defer release(context.WithoutCancel(ctx))
		}

		c.Next()
	}
}

func denyWriteRateLimit(c *gin.Context, endpoint, reason string, retryAfter int, s *Server) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("write rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitDenied(ctx, endpoint)
	}

	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrTooManyRequests)
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
