package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestIngressLimitsPerClient(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	guard := NewIngress(1, 2, WithIngressClock(clock.Now))
	handler := guard.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	// Arrange: burst of two for the first client
	require.Equal(t, http.StatusOK, call("10.0.0.1:5000").Code)
	require.Equal(t, http.StatusOK, call("10.0.0.1:5001").Code)

	// Act: third request inside the same second
	rec := call("10.0.0.1:5002")

	// Assert
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Another client has its own bucket.
	assert.Equal(t, http.StatusOK, call("10.0.0.2:5000").Code)

	// A token refills after one second.
	clock.Advance(time.Second)
	assert.Equal(t, http.StatusOK, call("10.0.0.1:5003").Code)
}

func TestIngressRejectFuncReceivesWait(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	var waits []time.Duration
	guard := NewIngress(2, 1, WithIngressClock(clock.Now),
		WithRejectFunc(func(w http.ResponseWriter, _ *http.Request, wait time.Duration) {
			waits = append(waits, wait)
			w.WriteHeader(http.StatusTeapot)
		}))
	handler := guard.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, want := range []int{http.StatusOK, http.StatusTeapot} {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code)
	}
	require.Equal(t, []time.Duration{500 * time.Millisecond}, waits)
}

func TestIngressEvictsIdleClients(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	guard := NewIngress(5, 5, WithIngressClock(clock.Now), WithIdleTTL(time.Minute))

	_, ok := guard.allow("a")
	require.True(t, ok)
	_, ok = guard.allow("b")
	require.True(t, ok)
	require.Equal(t, 2, guard.Clients())

	clock.Advance(2 * time.Minute)
	_, ok = guard.allow("c")
	require.True(t, ok)
	assert.Equal(t, 1, guard.Clients())
}
