package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcs-classroom/motivation-hub/pkg/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ══════════════════════════════════════════════════════════════════════════════
// LIMITER
// ══════════════════════════════════════════════════════════════════════════════

func TestLimiter_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	l := NewLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	allowed, _ := l.Allow("a")
	assert.True(t, allowed)
	allowed, _ = l.Allow("a")
	assert.True(t, allowed)

	now = now.Add(20 * time.Second)
	allowed, wait := l.Allow("a")
	assert.False(t, allowed)
	assert.Equal(t, 40*time.Second, wait)

	allowed, _ = l.Allow("b")
	assert.True(t, allowed, "clients are counted separately")

	now = now.Add(40 * time.Second)
	allowed, _ = l.Allow("a")
	assert.True(t, allowed, "a new window starts")
}

func TestLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	l := NewLimiter(5, time.Minute)
	l.now = func() time.Time { return now }

	for _, c := range []string{"a", "b", "c"} {
		l.Allow(c)
	}
	assert.Equal(t, 3, l.Clients())

	now = now.Add(2 * time.Minute)
	l.Allow("d")
	assert.Equal(t, 1, l.Clients())
}

func TestNewLimiter_Disabled(t *testing.T) {
	assert.Nil(t, NewLimiter(0, time.Minute))
	assert.Nil(t, RateLimit(nil, nil))
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	serve(Chain(ok, mark("outer"), nil, mark("inner")), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRequestIDAndAccessLog(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Output: &buf, Format: logger.FormatText})

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "trace-7", RequestIDFrom(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	}), RequestID(log), AccessLog())

	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	req.Header.Set(HeaderRequestID, "trace-7")
	rec := serve(h, req)

	assert.Equal(t, "trace-7", rec.Header().Get(HeaderRequestID))
	assert.Contains(t, buf.String(), "request_id=trace-7")
	assert.Contains(t, buf.String(), "status=418")
	assert.Empty(t, RequestIDFrom(context.Background()))
}

func TestRequestID_MintsWhenAbsent(t *testing.T) {
	rec := serve(Chain(ok, RequestID(logger.Nop())), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)
}

func TestRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		Recover(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	h := Chain(ok, RateLimit(NewLimiter(1, time.Minute), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
	assert.Equal(t, http.StatusOK, serve(h, req).Code)

	rec := serve(h, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:5000"
	assert.Equal(t, "::1", ClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.4")
	assert.Equal(t, "192.0.2.4", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", ClientIP(req))
}

func TestDeadline(t *testing.T) {
	assert.Nil(t, Deadline(0))

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, has := r.Context().Deadline()
		assert.True(t, has)
	}), Deadline(time.Second))
	serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestBodyLimit(t *testing.T) {
	reject := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusRequestEntityTooLarge) }
	var readErr error
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}), BodyLimit(4, reject))

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	req.ContentLength = -1
	serve(h, req)
	var tooLarge *http.MaxBytesError
	assert.ErrorAs(t, readErr, &tooLarge)
}

func TestAPIHeaders(t *testing.T) {
	rec := serve(Chain(ok, APIHeaders()), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

type pinger func(context.Context) error

func (p pinger) Ping(ctx context.Context) error { return p(ctx) }

func TestHealth(t *testing.T) {
	h := NewHealth("v-test")
	assert.Equal(t, "No health checks registered", h.Check(context.Background()).Message)

	h.AddCheck("database", true, PingCheck(pinger(func(context.Context) error { return nil })))
	h.AddCheck("redis", false, PingCheck(pinger(func(context.Context) error { return errors.New("refused") })))

	st := h.Check(context.Background())
	assert.False(t, st.Healthy)
	assert.True(t, st.Ready)
	assert.Equal(t, "Some checks failed: redis", st.Message)
	assert.Equal(t, "refused", st.Checks["redis"].Error)
	assert.Equal(t, "v-test", st.Version)

	h.AddCheck("redis", false, PingCheck(pinger(func(context.Context) error { return nil })))
	st = h.Check(context.Background())
	assert.True(t, st.Healthy)
	assert.Len(t, st.Checks, 2)
}

func TestHealth_TimeoutFailsCriticalCheck(t *testing.T) {
	h := NewHealth("v-test")
	h.SetTimeout(10 * time.Millisecond)
	h.AddCheck("database", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	st := h.Check(context.Background())
	require.Contains(t, st.Checks, "database")
	assert.False(t, st.Ready)
	assert.Contains(t, st.Checks["database"].Error, "deadline exceeded")
}
