package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	domainerrors "pospay.backend/internal/domain/errors"
	"pospay.backend/internal/interfaces/http/response"
	"pospay.backend/pkg/logger"
	"pospay.backend/pkg/redis"
)

const (
	IdempotencyHeader    = "Idempotency-Key"
	IdempotencyHitHeader = "X-Idempotency-Hit"
	// LockDuration is the time we hold the lock while processing
	LockDuration = 30 * time.Second
	// RetentionDuration is how long we keep the response
	RetentionDuration = 24 * time.Hour

	processingMarker     = "processing"
	maxIdempotencyKeyLen = 128
)

var (
	redisGet   = redis.Get
	redisSet   = redis.Set
	redisSetNX = redis.SetNX
	redisDel   = redis.Del
)

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// cachedResponse is the replayable part of a completed response.
type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Keys are scoped by caller and route. Only final responses
// (2xx and 4xx other than 409/429) are stored so transient failures stay retryable.
func IdempotencyMiddleware(retention time.Duration) gin.HandlerFunc {
	if retention <= 0 {
		retention = RetentionDuration
	}
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			response.Error(c, domainerrors.Validation("Idempotency-Key is too long"))
			c.Abort()
			return
		}

		userID, _ := GetUserID(c)
		storageKey := fmt.Sprintf("idempotency:%s:%s:%s", userID, c.FullPath(), key)
		ctx := c.Request.Context()

		val, err := redisGet(ctx, storageKey)
		if err == nil {
			if val == processingMarker {
				response.Error(c, domainerrors.IdempotencyInProgress())
				c.Abort()
				return
			}

			var cached cachedResponse
			if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil && cached.Status != 0 {
				c.Header(IdempotencyHitHeader, "true")
				c.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
				c.Abort()
				return
			}
			logger.Warn(ctx, "Discarding unreadable idempotency entry", zap.String("key", storageKey))
			_ = redisDel(ctx, storageKey)
		} else if !redis.IsNil(err) {
			// fail open: the domain layer still guards double settlement
			logger.Warn(ctx, "Idempotency store unavailable", zap.Error(err))
			c.Next()
			return
		}

		acquired, err := redisSetNX(ctx, storageKey, processingMarker, LockDuration)
		if err != nil || !acquired {
			response.Error(c, domainerrors.IdempotencyInProgress())
			c.Abort()
			return
		}

		w := &responseWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		status := c.Writer.Status()
		if !isFinalStatus(status) {
			_ = redisDel(ctx, storageKey)
			return
		}
		encoded, err := json.Marshal(cachedResponse{Status: status, Body: json.RawMessage(w.body.Bytes())})
		if err != nil || w.body.Len() == 0 {
			_ = redisDel(ctx, storageKey)
			return
		}
		if err := redisSet(ctx, storageKey, string(encoded), retention); err != nil {
			logger.Warn(ctx, "Failed to store idempotent response", zap.Error(err))
		}
	}
}

func isFinalStatus(status int) bool {
	switch {
	case status >= 200 && status < 300:
		return true
	case status == http.StatusConflict, status == http.StatusTooManyRequests, status == http.StatusUnauthorized:
		return false
	case status >= 400 && status < 500:
		return true
	default:
		return false
	}
}
