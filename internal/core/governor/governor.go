// Package governor shapes traffic to a throttling-prone upstream. A Governor
// composes a result cache, a sliding-window global limiter, a per-key
// throttle and a retrying executor behind one call.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config holds the governance parameters.
type Config struct {
	Window         time.Duration `json:"window" yaml:"window"`
	MaxRequests    int           `json:"max_requests" yaml:"max_requests"`
	MinKeyInterval time.Duration `json:"min_key_interval" yaml:"min_key_interval"`
	CacheTTL       time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	BackoffBase    time.Duration `json:"backoff_base" yaml:"backoff_base"`
	Coalesce       bool          `json:"coalesce" yaml:"coalesce"`
}

// DefaultConfig returns the stock limits: 30 requests per 60s, 2s between
// calls for the same key, 60s cache, 2 retries from a 1.5s base.
func DefaultConfig() Config {
	return Config{
		Window:         60 * time.Second,
		MaxRequests:    30,
		MinKeyInterval: 2 * time.Second,
		CacheTTL:       60 * time.Second,
		MaxRetries:     2,
		BackoffBase:    1500 * time.Millisecond,
		Coalesce:       true,
	}
}

// Outcome classifies how a governed call was resolved.
type Outcome string

const (
	OutcomeCacheHit          Outcome = "cache_hit"
	OutcomeCoalesced         Outcome = "coalesced"
	OutcomeRateLimitedGlobal Outcome = "rate_limited_global"
	OutcomeRateLimitedKey    Outcome = "rate_limited_key"
	OutcomeFetched           Outcome = "fetched"
	OutcomeFailed            Outcome = "failed"
	OutcomeAnswered          Outcome = "answered"
	OutcomeRetry             Outcome = "retry"
)

// RateLimited reports whether the outcome is a limiter rejection.
func (o Outcome) RateLimited() bool {
	return o == OutcomeRateLimitedGlobal || o == OutcomeRateLimitedKey
}

// Result is the resolution of one governed call.
type Result struct {
	Value      string
	Outcome    Outcome
	RetryAfter time.Duration
	Err        error
}

// Text renders the result as the string handed back to callers.
func (r Result) Text() string {
	switch {
	case r.Outcome.RateLimited():
		return RateLimitMessage(r.RetryAfter)
	case r.Err != nil:
		return r.Err.Error()
	default:
		return r.Value
	}
}

// Notice is returned by a fetch to answer with Message instead of a value.
// The answer is handed back as is, without caching or retrying, and does not
// count as a failure.
type Notice struct {
	Message string
}

func (n *Notice) Error() string {
	return n.Message
}

// Failed reports whether the fetch ran and failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// RateLimitMessage formats the rejection sentence with a one-decimal wait.
func RateLimitMessage(wait time.Duration) string {
	return fmt.Sprintf("Rate limited. Try after %.1fs.", wait.Seconds())
}

// Logger is the subset of the structured logger the governor writes to.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// Event describes one governor decision.
type Event struct {
	Operation  string
	Key        string
	Outcome    Outcome
	RetryAfter time.Duration
	At         time.Time
}

// Recorder receives governor decisions off the call path. Errors are logged
// and otherwise ignored.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

const (
	// DefaultRecordBuffer is how many decisions may wait for recorders before
	// new ones are dropped.
	DefaultRecordBuffer = 1024
	// DefaultRecordTimeout bounds one Record call.
	DefaultRecordTimeout = 2 * time.Second
)

// Option customizes a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(g *Governor) { g.clock = clock }
}

// WithSleep overrides how backoff delays are waited out.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Governor) { g.retrier.Sleep = sleep }
}

// WithRand overrides the jitter source; fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(g *Governor) { g.retrier.Rand = fn }
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(g *Governor) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRecorder adds decision recorders.
func WithRecorder(recorders ...Recorder) Option {
	return func(g *Governor) {
		for _, r := range recorders {
			if r != nil {
				g.recorders = append(g.recorders, r)
			}
		}
	}
}

// WithRecordBuffer sets the decision queue capacity.
func WithRecordBuffer(n int) Option {
	return func(g *Governor) {
		if n > 0 {
			g.recordBuffer = n
		}
	}
}

// WithRecordTimeout bounds each Record call.
func WithRecordTimeout(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.recordTimeout = d
		}
	}
}

// WithFetchTimeout bounds a fetch once it no longer follows any caller's
// context. Zero leaves it unbounded.
func WithFetchTimeout(d time.Duration) Option {
	return func(g *Governor) { g.fetchTimeout = d }
}

// Governor is the single entry point for upstream access. It is safe for
// concurrent use.
type Governor struct {
	cfg       Config
	clock     func() time.Time
	window    *Window
	throttle  *Throttle
	cache     *Cache
	retrier   *Retrier
	group     singleflight.Group
	logger    Logger
	recorders []Recorder

	fetchTimeout  time.Duration
	recordBuffer  int
	recordTimeout time.Duration
	queue         chan recordJob
	stop          chan struct{}
	drained       chan struct{}
	closeOnce     sync.Once
	dropped       atomic.Int64

	// admit serializes the combined global/per-key decision so both limiters
	// see a consistent view. It is never held across a fetch or a sleep.
	admit sync.Mutex
}

// New builds a Governor from cfg.
func New(cfg Config, opts ...Option) *Governor {
	g := &Governor{
		cfg:      cfg,
		window:   NewWindow(cfg.Window, cfg.MaxRequests),
		throttle: NewThrottle(cfg.MinKeyInterval),
		cache:    NewCache(cfg.CacheTTL),
		retrier: &Retrier{
			MaxRetries:  cfg.MaxRetries,
			BaseDelay:   cfg.BackoffBase,
			JitterRatio: DefaultJitterRatio,
		},
		logger:        zap.NewNop(),
		recordBuffer:  DefaultRecordBuffer,
		recordTimeout: DefaultRecordTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if len(g.recorders) > 0 {
		g.queue = make(chan recordJob, g.recordBuffer)
		g.stop = make(chan struct{})
		g.drained = make(chan struct{})
		go g.drain()
	}
	return g
}

// Config returns the configuration the governor was built with.
func (g *Governor) Config() Config {
	return g.cfg
}

// Execute resolves id through the cache, the limiters and the retrying
// fetcher, in that order. Cache hits cost no limiter quota. Limiter usage is
// recorded before fetch runs and is not refunded if the fetch fails or ctx
// is cancelled. A successful fetch is cached under id.
func (g *Governor) Execute(ctx context.Context, id Identity, key string, fetch FetchFunc) Result {
	if value, ok := g.cache.Get(id, g.now()); ok {
		g.record(ctx, id, key, OutcomeCacheHit, 0)
		g.logger.Debug("Cache hit",
			zap.String("operation", id.Operation),
			zap.String("key", key))
		return Result{Value: value, Outcome: OutcomeCacheHit}
	}

	if !g.cfg.Coalesce {
		return g.resolve(ctx, id, key, fetch)
	}

	led := false
	ch := g.group.DoChan(id.Key(), func() (any, error) {
		led = true
		// The fetch is shared, so no single caller's cancellation may end it.
		shared, cancel := g.detach(ctx)
		defer cancel()
		return g.resolve(shared, id, key, fetch), nil
	})

	select {
	case <-ctx.Done():
		return Result{Outcome: OutcomeFailed, Err: ctx.Err()}
	case res := <-ch:
		result, _ := res.Val.(Result)
		if res.Shared && !led {
			g.record(ctx, id, key, OutcomeCoalesced, 0)
			if !result.Outcome.RateLimited() && result.Err == nil {
				result.Outcome = OutcomeCoalesced
			}
		}
		return result
	}
}

func (g *Governor) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	shared := context.WithoutCancel(ctx)
	if g.fetchTimeout > 0 {
		return context.WithTimeout(shared, g.fetchTimeout)
	}
	return shared, func() {}
}

func (g *Governor) resolve(ctx context.Context, id Identity, key string, fetch FetchFunc) Result {
	// A concurrent leader may have filled the cache since the first lookup.
	if value, ok := g.cache.Get(id, g.now()); ok {
		g.record(ctx, id, key, OutcomeCacheHit, 0)
		return Result{Value: value, Outcome: OutcomeCacheHit}
	}

	if outcome, wait := g.Admit(key); outcome.RateLimited() {
		g.record(ctx, id, key, outcome, wait)
		g.logger.Debug("Rate limited",
			zap.String("operation", id.Operation),
			zap.String("key", key),
			zap.String("limiter", string(outcome)),
			zap.Duration("retry_after", wait))
		return Result{Outcome: outcome, RetryAfter: wait}
	}

	retrier := *g.retrier
	retrier.OnRetry = func(attempt int, delay time.Duration, err error) {
		g.record(ctx, id, key, OutcomeRetry, delay)
		g.logger.Warn("Transient upstream failure, backing off",
			zap.String("operation", id.Operation),
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	value, err := retrier.Do(withStepRetrier(ctx, &retrier), fetch)
	var notice *Notice
	if errors.As(err, &notice) {
		g.record(ctx, id, key, OutcomeAnswered, 0)
		g.logger.Debug("Fetch answered without a value",
			zap.String("operation", id.Operation),
			zap.String("key", key),
			zap.String("notice", notice.Message))
		return Result{Value: notice.Message, Outcome: OutcomeAnswered}
	}
	if err != nil {
		g.record(ctx, id, key, OutcomeFailed, 0)
		g.logger.Error("Governed fetch failed",
			zap.String("operation", id.Operation),
			zap.String("key", key),
			zap.Error(err))
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	g.cache.Set(id, value, g.now())
	g.record(ctx, id, key, OutcomeFetched, 0)
	return Result{Value: value, Outcome: OutcomeFetched}
}

// Admit runs the global check then the per-key check and records usage in
// both only when both pass. A per-key rejection leaves global quota untouched.
func (g *Governor) Admit(key string) (Outcome, time.Duration) {
	g.admit.Lock()
	defer g.admit.Unlock()

	now := g.now()
	if ok, wait := g.window.Check(now); !ok {
		return OutcomeRateLimitedGlobal, wait
	}
	if ok, wait := g.throttle.Check(key, now); !ok {
		return OutcomeRateLimitedKey, wait
	}

	g.window.Record(now)
	g.throttle.Record(key, now)
	return OutcomeFetched, 0
}

// Snapshot reports current limiter and cache occupancy.
type Snapshot struct {
	Config        Config `json:"config" yaml:"config"`
	WindowInUse   int    `json:"window_in_use" yaml:"window_in_use"`
	TrackedKeys   int    `json:"tracked_keys" yaml:"tracked_keys"`
	CachedEntries int    `json:"cached_entries" yaml:"cached_entries"`
}

// Snapshot returns the current occupancy.
func (g *Governor) Snapshot() Snapshot {
	return Snapshot{
		Config:        g.cfg,
		WindowInUse:   g.window.Len(g.now()),
		TrackedKeys:   g.throttle.Keys(),
		CachedEntries: g.cache.Len(),
	}
}

type recordJob struct {
	ctx  context.Context
	ev   Event
	done chan struct{}
}

// record queues ev for the recorders without waiting on them. When the queue
// is full the event is dropped.
func (g *Governor) record(ctx context.Context, id Identity, key string, outcome Outcome, wait time.Duration) {
	if g.queue == nil {
		return
	}
	job := recordJob{
		ctx: context.WithoutCancel(ctx),
		ev: Event{
			Operation:  id.Operation,
			Key:        key,
			Outcome:    outcome,
			RetryAfter: wait,
			At:         g.now(),
		},
	}
	select {
	case <-g.stop:
		return
	default:
	}
	select {
	case g.queue <- job:
	default:
		n := g.dropped.Add(1)
		g.logger.Debug("Decision queue full, event dropped",
			zap.String("operation", id.Operation),
			zap.String("outcome", string(outcome)),
			zap.Int64("dropped_total", n))
	}
}

func (g *Governor) drain() {
	defer close(g.drained)
	for {
		select {
		case job := <-g.queue:
			g.deliver(job)
		case <-g.stop:
			for {
				select {
				case job := <-g.queue:
					g.deliver(job)
				default:
					return
				}
			}
		}
	}
}

func (g *Governor) deliver(job recordJob) {
	if job.done != nil {
		close(job.done)
		return
	}
	for _, r := range g.recorders {
		ctx, cancel := context.WithTimeout(job.ctx, g.recordTimeout)
		if err := r.Record(ctx, job.ev); err != nil {
			g.logger.Debug("Decision recorder failed", zap.Error(err))
		}
		cancel()
	}
}

// Flush waits until every decision queued before the call has reached the
// recorders, or ctx is done.
func (g *Governor) Flush(ctx context.Context) error {
	if g.queue == nil {
		return nil
	}
	done := make(chan struct{})
	select {
	case g.queue <- recordJob{done: done}:
	case <-g.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-g.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many decisions were discarded because the queue was
// full.
func (g *Governor) Dropped() int64 {
	return g.dropped.Load()
}

// Close delivers queued decisions and stops the recorder goroutine. Decisions
// made after Close are not recorded.
func (g *Governor) Close() {
	if g.queue == nil {
		return
	}
	g.closeOnce.Do(func() { close(g.stop) })
	<-g.drained
}

func (g *Governor) now() time.Time {
	if g != nil && g.clock != nil {
		return g.clock()
	}
	return time.Now()
}
