package limiter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"linkroom/internal/pkg/errs"
	"linkroom/internal/pkg/resp"
)

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	r.RemoteAddr = "203.0.113.9:5123"
	assert.Equal(t, "203.0.113.9", ClientIP(r))

	r.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", ClientIP(r))

	r.RemoteAddr = ""
	assert.Equal(t, "unknown_ip", ClientIP(r))
}

func TestMiddlewareRejectsAfterBurst(t *testing.T) {
	l := NewIPRateLimiter("test", rate.Limit(0.001), 2)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusNoContent, call("198.51.100.1:1").Code)
	assert.Equal(t, http.StatusNoContent, call("198.51.100.1:2").Code)

	rejected := call("198.51.100.1:3")
	assert.Equal(t, http.StatusTooManyRequests, rejected.Code)
	var body resp.JSONResponse
	require.NoError(t, json.Unmarshal(rejected.Body.Bytes(), &body))
	assert.Equal(t, errs.ErrRateLimitExceeded, body.Code)

	// Other clients have their own bucket.
	assert.Equal(t, http.StatusNoContent, call("198.51.100.2:1").Code)
}

func TestPruneDropsIdleLimiters(t *testing.T) {
	l := NewIPRateLimiter("test", rate.Limit(1), 1)

	busy := l.GetLimiter("198.51.100.1")
	l.GetLimiter("198.51.100.2")
	require.True(t, busy.Allow())

	removed, remaining := l.prune(time.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, remaining)

	removed, remaining = l.prune(time.Now().Add(time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, remaining)
}
