package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Ingress limits inbound requests per client address with a token bucket.
// It protects the MCP endpoint from a single noisy client and is separate
// from the upstream governor, which shapes traffic to Yahoo.
type Ingress struct {
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	reject  RejectFunc

	mu      sync.Mutex
	clients map[string]*ingressEntry
}

type ingressEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RejectFunc answers a request the guard turned away; wait is how long until
// the client has a token again.
type RejectFunc func(w http.ResponseWriter, r *http.Request, wait time.Duration)

// IngressOption customizes an Ingress guard.
type IngressOption func(*Ingress)

// WithIdleTTL sets how long an idle client's bucket is kept.
func WithIdleTTL(d time.Duration) IngressOption {
	return func(g *Ingress) { g.idleTTL = d }
}

// WithRejectFunc sets how rejected requests are answered. Without it the guard
// writes a bare 429 with Retry-After.
func WithRejectFunc(fn RejectFunc) IngressOption {
	return func(g *Ingress) {
		if fn != nil {
			g.reject = fn
		}
	}
}

// WithIngressClock overrides the time source.
func WithIngressClock(now func() time.Time) IngressOption {
	return func(g *Ingress) { g.now = now }
}

// NewIngress returns a guard allowing rps requests per second per client
// with bursts of up to burst.
func NewIngress(rps float64, burst int, opts ...IngressOption) *Ingress {
	g := &Ingress{
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
		reject:  rejectPlain,
		clients: make(map[string]*ingressEntry),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler wraps next with the guard.
func (g *Ingress) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wait, ok := g.allow(clientKey(r)); !ok {
			g.reject(w, r, wait)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rejectPlain(w http.ResponseWriter, _ *http.Request, wait time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
}

// allow takes a token for key, or reports how long until one is available.
func (g *Ingress) allow(key string) (time.Duration, bool) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictIdle(now)

	ent, ok := g.clients[key]
	if !ok {
		ent = &ingressEntry{lim: rate.NewLimiter(g.rps, g.burst)}
		g.clients[key] = ent
	}
	ent.lastSeen = now

	res := ent.lim.ReserveN(now, 1)
	if !res.OK() {
		return time.Second, false
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

func (g *Ingress) evictIdle(now time.Time) {
	if g.idleTTL <= 0 {
		return
	}
	cutoff := now.Add(-g.idleTTL)
	for k, ent := range g.clients {
		if ent.lastSeen.Before(cutoff) {
			delete(g.clients, k)
		}
	}
}

// Clients returns how many client buckets are tracked.
func (g *Ingress) Clients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}
