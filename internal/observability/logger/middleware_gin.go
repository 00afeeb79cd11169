package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/billingguard/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	headerRequestID = "X-Request-Id"

	// Context keys shared with the HTTP handlers.
	CtxKeyRequestID        = "request_id"
	CtxKeyBillingAccountID = "billing_account_id"
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier maps the last handler error to (type, code).
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware writes one http_request line per request. Billing guard
// rejections (402, 409, 429) are business outcomes and log at warn; only 5xx
// logs at error.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFrom(c)
		c.Set(CtxKeyRequestID, requestID)
		c.Header(headerRequestID, requestID)
		c.Request = c.Request.WithContext(obscontext.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}

		ctx := c.Request.Context()
		if accountID := c.GetString(CtxKeyBillingAccountID); accountID != "" && obscontext.BillingAccountIDFromContext(ctx) == "" {
			ctx = obscontext.WithBillingAccountID(ctx, accountID)
		}

		var errType string
		if last := c.Errors.Last(); last != nil && cfg.ErrorClassifier != nil {
			var errCode string
			errType, errCode = cfg.ErrorClassifier(last.Err)
			fields = append(fields, zap.String("error_type", errType), zap.String("error_code", errCode))
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		if ce := FromContext(ctx).Check(requestLevel(route, status, errType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestID(c *gin.Context) string {
	for _, h := range []string{headerRequestID, "X-Request-ID"} {
		if v := strings.TrimSpace(c.GetHeader(h)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.GetString(CtxKeyRequestID))
}

func requestIDFrom(c *gin.Context) string {
	if id := requestID(c); id != "" {
		return id
	}
	return uuid.NewString()
}

func requestLevel(route string, status int, errType string) zapcore.Level {
	switch {
	case route == "/metrics" || route == "/health":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status == http.StatusPaymentRequired, status == http.StatusConflict, status == http.StatusTooManyRequests:
		return zapcore.WarnLevel
	case route == "/api/usage/events" && errType == "validation_error":
		// Malformed ingest payloads are client noise.
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}
