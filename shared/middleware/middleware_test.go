package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, userID string, expiresAt time.Time) string {
	t.Helper()

	claims := Claims{UserID: userID, Email: userID + "@example.com"}
	if !expiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	return r
}

func doRequest(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---- auth ----

func TestAuthMiddleware(t *testing.T) {
	r := newRouter(AuthMiddleware(testSecret))
	r.GET("/me", func(c *gin.Context) {
		id, _ := GetUserID(c)
		c.String(http.StatusOK, id)
	})

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{name: "missing header", header: "", expectedStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", expectedStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not-a-jwt", expectedStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, []byte("other"), "usr-001", time.Now().Add(time.Hour)), expectedStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, testSecret, "usr-001", time.Now().Add(-time.Hour)), expectedStatus: http.StatusUnauthorized},
		{name: "no expiry", header: "Bearer " + signToken(t, testSecret, "usr-001", time.Time{}), expectedStatus: http.StatusUnauthorized},
		{name: "no user", header: "Bearer " + signToken(t, testSecret, "", time.Now().Add(time.Hour)), expectedStatus: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + signToken(t, testSecret, "usr-001", time.Now().Add(time.Hour)), expectedStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := doRequest(r, http.MethodGet, "/me", headers)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, "usr-001", w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_SetsOnlyTheCaller(t *testing.T) {
	var keys map[string]any
	r := newRouter(AuthMiddleware(testSecret))
	r.GET("/me", func(c *gin.Context) {
		keys = c.Keys
		c.Status(http.StatusOK)
	})

	w := doRequest(r, http.MethodGet, "/me", map[string]string{
		"Authorization": "Bearer " + signToken(t, testSecret, "usr-001", time.Now().Add(time.Hour)),
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{userIDKey: "usr-001"}, keys)
}

// ---- validation ----

type amountRequest struct {
	Amount    decimal.NullDecimal `json:"amount" validate:"required,gt=0"`
	AccountNo *int64              `json:"account_no" validate:"omitempty,gt=0"`
}

func TestValidateRequest_Decimal(t *testing.T) {
	neg := int64(-1)

	tests := []struct {
		name   string
		req    amountRequest
		fields []string
		tags   []string
		msg    string
	}{
		{name: "valid", req: amountRequest{Amount: decimal.NullDecimal{Decimal: decimal.RequireFromString("10.50"), Valid: true}}},
		{name: "missing amount", req: amountRequest{}, fields: []string{"amount"}, tags: []string{"required"}, msg: "This field is required"},
		{name: "negative amount", req: amountRequest{Amount: decimal.NullDecimal{Decimal: decimal.RequireFromString("-1"), Valid: true}}, fields: []string{"amount"}, tags: []string{"gt"}, msg: "Value must be greater than 0"},
		{name: "negative account", req: amountRequest{Amount: decimal.NullDecimal{Decimal: decimal.NewFromInt(1), Valid: true}, AccountNo: &neg}, fields: []string{"account_no"}, tags: []string{"gt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRequest(tt.req)
			if tt.fields == nil {
				assert.Nil(t, errs)
				return
			}
			require.Len(t, errs, len(tt.fields))
			for i := range tt.fields {
				assert.Equal(t, tt.fields[i], errs[i].Field)
				assert.Equal(t, tt.tags[i], errs[i].Type)
			}
			if tt.msg != "" {
				assert.Equal(t, tt.msg, errs[0].Message)
			}
		})
	}
}

// ---- logging ----

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := newRouter(LoggingMiddleware(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := doRequest(r, http.MethodGet, "/ok", map[string]string{RequestIDHeader: "req-123"})
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))

	w = doRequest(r, http.MethodGet, "/boom", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "req-123", entries[0].ContextMap()["request_id"])
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
}

// ---- idempotency ----

func newIdempotentRouter(t *testing.T, status int, calls *atomic.Int32) *gin.Engine {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	idem := NewIdempotency(client, time.Hour, zap.NewNop())
	r := newRouter(func(c *gin.Context) {
		c.Set("userId", "usr-001")
		c.Next()
	}, idem.Middleware())
	r.POST("/v1/accounts/1001/deposits", func(c *gin.Context) {
		n := calls.Add(1)
		c.JSON(status, gin.H{"call": n})
	})
	return r
}

func TestIdempotency_ReplaysSuccessfulResponse(t *testing.T) {
	var calls atomic.Int32
	r := newIdempotentRouter(t, http.StatusCreated, &calls)
	headers := map[string]string{IdempotencyHeader: "key-1"}

	first := doRequest(r, http.MethodPost, "/v1/accounts/1001/deposits", headers)
	second := doRequest(r, http.MethodPost, "/v1/accounts/1001/deposits", headers)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(IdempotencyHitHeader))
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdempotency_DoesNotStoreRejections(t *testing.T) {
	var calls atomic.Int32
	r := newIdempotentRouter(t, http.StatusBadRequest, &calls)
	headers := map[string]string{IdempotencyHeader: "key-2"}

	doRequest(r, http.MethodPost, "/v1/accounts/1001/deposits", headers)
	second := doRequest(r, http.MethodPost, "/v1/accounts/1001/deposits", headers)

	assert.Empty(t, second.Header().Get(IdempotencyHitHeader))
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_WithoutKeyPassesThrough(t *testing.T) {
	var calls atomic.Int32
	r := newIdempotentRouter(t, http.StatusCreated, &calls)

	doRequest(r, http.MethodPost, "/v1/accounts/1001/deposits", nil)
	doRequest(r, http.MethodPost, "/v1/accounts/1001/deposits", nil)

	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_ConcurrentDuplicateIsRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	idem := NewIdempotency(client, time.Hour, zap.NewNop())
	r := newRouter(func(c *gin.Context) {
		c.Set("userId", "usr-001")
		c.Next()
	}, idem.Middleware())
	r.POST("/v1/accounts/1001/deposits", func(c *gin.Context) {
		n := calls.Add(1)
		close(started)
		<-release
		c.JSON(http.StatusCreated, gin.H{"call": n})
	})
	headers := map[string]string{IdempotencyHeader: "key-3"}

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		firstDone <- doRequest(r, http.MethodPost, "/v1/accounts/1001/deposits", headers)
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first request never reached the handler")
	}

	second := doRequest(r, http.MethodPost, "/v1/accounts/1001/deposits", headers)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "currently being processed")

	close(release)
	first := <-firstDone
	assert.Equal(t, http.StatusCreated, first.Code)

	third := doRequest(r, http.MethodPost, "/v1/accounts/1001/deposits", headers)
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get(IdempotencyHitHeader))
	assert.JSONEq(t, first.Body.String(), third.Body.String())
	assert.Equal(t, int32(1), calls.Load())
}
