package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redsync/redsync/v4"
	rsgoredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyHeader is the standard HTTP header for idempotency keys
	IdempotencyHeader = "Idempotency-Key"

	// IdempotencyHitHeader marks a response replayed from the cache
	IdempotencyHitHeader = "X-Idempotency-Hit"

	// LockTimeout bounds how long a crashed request can hold a key
	LockTimeout = 10 * time.Second

	idempotencyKeyPrefix = "idempotency:"
	lockKeyPrefix        = "lock:idempotency:"
)

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// bodyRecorder captures the response body while still writing it to the client.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated Idempotency-Key and
// rejects a duplicate that arrives while the first is still in flight.
// Keys are scoped to the caller and the request path. Only 2xx responses are
// stored, so a rejected submission can be corrected and resent with the same key.
type Idempotency struct {
	client *goredis.Client
	locks  *redsync.Redsync
	ttl    time.Duration
	logger *zap.Logger
}

func NewIdempotency(client *goredis.Client, ttl time.Duration, logger *zap.Logger) *Idempotency {
	return &Idempotency{
		client: client,
		locks:  redsync.New(rsgoredis.NewPool(client)),
		ttl:    ttl,
		logger: logger,
	}
}

func (i *Idempotency) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		userID, _ := GetUserID(c)
		scope := userID + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key
		cacheKey := idempotencyKeyPrefix + scope
		logger := i.logger.With(zap.String("idempotency_key", key))

		if i.replay(c, cacheKey) {
			logger.Debug("idempotent response replayed")
			return
		}

		mutex := i.locks.NewMutex(lockKeyPrefix+scope,
			redsync.WithExpiry(LockTimeout),
			redsync.WithTries(1),
		)
		if err := mutex.LockContext(ctx); err != nil {
			if isLockContention(err) {
				logger.Info("concurrent request with same idempotency key")
				RespondWithError(c, http.StatusConflict, "A request with this idempotency key is currently being processed")
				c.Abort()
				return
			}
			logger.Error("idempotency lock failed", zap.Error(err))
			RespondWithError(c, http.StatusInternalServerError, "Internal server error")
			c.Abort()
			return
		}
		defer func() {
			if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
				logger.Warn("failed to release idempotency lock", zap.Error(err))
			}
		}()

		// The first holder may have finished between the cache check and the lock.
		if i.replay(c, cacheKey) {
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		if status < 200 || status >= 300 {
			return
		}
		data, err := json.Marshal(cachedResponse{Status: status, Body: recorder.body.Bytes()})
		if err != nil {
			logger.Error("failed to encode idempotent response", zap.Error(err))
			return
		}
		if err := i.client.Set(ctx, cacheKey, data, i.ttl).Err(); err != nil {
			logger.Warn("failed to store idempotent response", zap.Error(err))
		}
	}
}

func (i *Idempotency) replay(c *gin.Context, cacheKey string) bool {
	data, err := i.client.Get(c.Request.Context(), cacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			i.logger.Warn("idempotency cache read failed", zap.Error(err))
		}
		return false
	}
	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return false
	}
	c.Header(IdempotencyHitHeader, "true")
	c.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
	c.Abort()
	return true
}

func isLockContention(err error) bool {
	var taken *redsync.ErrTaken
	if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}
