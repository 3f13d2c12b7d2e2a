package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func hashKey(t *testing.T, key string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestParseServiceKeys(t *testing.T) {
	h := hashKey(t, "k1")
	keys, invalid := ParseServiceKeys([]string{"pipeline=" + h, h, "", "broken=plain-text"})

	require.Len(t, keys, 2)
	assert.Equal(t, "pipeline", keys[0].Service)
	assert.Equal(t, "service-2", keys[1].Service)
	assert.Equal(t, []string{"broken"}, invalid)
}

func TestAPIKeyAuth_Middleware(t *testing.T) {
	keys, _ := ParseServiceKeys([]string{"pipeline=" + hashKey(t, "s3cret")})
	auth := NewAPIKeyAuth("X-API-Key", keys)

	var gotService string
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotService = ServiceFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", "s3cret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotService = ""
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, "pipeline", gotService)
}

func TestRequestSizeLimit(t *testing.T) {
	h := RequestSizeLimitMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeadersAndChain(t *testing.T) {
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(mark("a"), SecurityHeadersMiddleware, mark("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

type loadedFlag bool

func (l loadedFlag) Loaded() bool { return bool(l) }

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("test")
	c.AddCheck("postgres", func(context.Context) error { return nil })
	c.AddOptionalCheck("redis", func(context.Context) error { return errors.New("down") })
	c.AddOptionalCheck("roster", NewRosterLoadedCheck(loadedFlag(false)))

	st := c.Check(context.Background())
	assert.True(t, st.Healthy)
	assert.False(t, st.Ready)
	assert.Equal(t, "Some checks failed: redis, roster", st.Message)
	assert.False(t, st.Checks["redis"].Critical)

	c.AddCheck("postgres", func(context.Context) error { return errors.New("refused") })
	assert.False(t, c.Check(context.Background()).Healthy)

	empty := NewCompositeHealthChecker("test").Check(context.Background())
	assert.True(t, empty.Healthy)
	assert.True(t, empty.Ready)
	assert.Nil(t, empty.Details)
}

func TestCompositeHealthChecker_Details(t *testing.T) {
	c := NewCompositeHealthChecker("test")
	calls := 0
	c.AddDetail("redis_session_breaker", func() any { calls++; return "open" })
	c.AddDetail("postgres_pool", func() any { return map[string]any{"total_conns": int32(4)} })

	st := c.Check(context.Background())
	assert.True(t, st.Healthy)
	assert.True(t, st.Ready)
	assert.Equal(t, "open", st.Details["redis_session_breaker"])
	assert.Equal(t, map[string]any{"total_conns": int32(4)}, st.Details["postgres_pool"])

	c.Check(context.Background())
	assert.Equal(t, 2, calls)

	out, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"details":{"postgres_pool":{"total_conns":4},"redis_session_breaker":"open"}`)
}
