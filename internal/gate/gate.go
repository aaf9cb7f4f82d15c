// Package gate serializes every outbound provider request through a single
// dispatcher. Requests complete in submission order with a minimum
// inter-request delay derived from the adaptive budget; dev mode collapses
// the delay to zero.
package gate

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bracketpi/bracketd/internal/metrics"
)

const defaultRetryBackoff = 5 * time.Second

// Thunk is one provider invocation. It runs on the dispatcher goroutine,
// at most one at a time.
type Thunk = func(ctx context.Context) (any, error)

type result struct {
	value any
	err   error
}

type request struct {
	thunk      Thunk
	ctx        context.Context
	resultCh   chan result // buffered (size 1) so the dispatcher never blocks
	retried    bool
	enqueuedAt time.Time
}

// Gate is the single-flight FIFO request queue.
type Gate struct {
	mu           sync.Mutex
	queue        []*request
	perMinute    int
	lastDispatch time.Time
	inFlight     bool

	limiter      *rate.Limiter
	bypass       func() bool
	shouldRetry  func(error) bool
	retryBackoff time.Duration

	notify chan struct{} // buffered (size 1); wakes the dispatcher
}

// Status is a point-in-time snapshot for the operator surface.
type Status struct {
	QueueDepth    int           `json:"queue_depth"`
	InFlight      bool          `json:"in_flight"`
	RatePerMinute int           `json:"rate_per_minute"`
	MinDelayMS    int64         `json:"min_delay_ms"`
	LastDispatch  time.Time     `json:"last_dispatch"`
	RetryBackoff  time.Duration `json:"-"`
}

// New creates a gate dispatching at most perMinute requests per minute.
// shouldRetry decides the single head-of-queue retry (provider 429/403).
func New(perMinute int, shouldRetry func(error) bool) *Gate {
	perMinute = clampRate(perMinute)
	return &Gate{
		perMinute:    perMinute,
		limiter:      rate.NewLimiter(perMinuteLimit(perMinute), 1),
		shouldRetry:  shouldRetry,
		retryBackoff: defaultRetryBackoff,
		notify:       make(chan struct{}, 1),
	}
}

// SetBypass installs the dev-mode check. When it returns true the dispatcher
// skips the pacing wait entirely.
func (g *Gate) SetBypass(f func() bool) {
	g.mu.Lock()
	g.bypass = f
	g.mu.Unlock()
}

// SetRate changes the dispatch budget. Takes effect from the next dispatch.
func (g *Gate) SetRate(perMinute int) {
	perMinute = clampRate(perMinute)
	g.mu.Lock()
	g.perMinute = perMinute
	g.mu.Unlock()
	g.limiter.SetLimit(perMinuteLimit(perMinute))
}

// MinDelay returns the current minimum inter-request delay: zero when dev
// mode is active, otherwise ceil(60000ms / rate).
func (g *Gate) MinDelay() time.Duration {
	g.mu.Lock()
	bypass := g.bypass
	perMinute := g.perMinute
	g.mu.Unlock()

	if bypass != nil && bypass() {
		return 0
	}
	ms := int64(math.Ceil(60000.0 / float64(perMinute)))
	return time.Duration(ms) * time.Millisecond
}

// Submit enqueues the thunk and blocks until it has been dispatched and
// completed, or ctx is cancelled. A caller cancelled while still queued is
// removed from the queue; a caller cancelled mid-flight does not interrupt
// the invocation, only the delivery of its result.
func (g *Gate) Submit(ctx context.Context, thunk Thunk) (any, error) {
	req := &request{
		thunk:      thunk,
		ctx:        ctx,
		resultCh:   make(chan result, 1),
		enqueuedAt: time.Now(),
	}
	g.enqueue(req, false)

	select {
	case res := <-req.resultCh:
		return res.value, res.err
	case <-ctx.Done():
		g.remove(req)
		return nil, ctx.Err()
	}
}

// Run drives the dispatch loop until ctx is cancelled. Call it in a goroutine.
func (g *Gate) Run(ctx context.Context) {
	for {
		req := g.dequeue(ctx)
		if req == nil {
			g.failAll(ctx.Err())
			return
		}

		// Skip work for callers that gave up while queued.
		if req.ctx.Err() != nil {
			continue
		}

		if !g.bypassActive() {
			if err := g.limiter.Wait(ctx); err != nil {
				deliver(req, nil, err)
				g.failAll(err)
				return
			}
		}

		metrics.GateWaitDuration.Observe(time.Since(req.enqueuedAt).Seconds())

		g.setInFlight(true)
		// The invocation must complete even if the caller cancelled: a
		// response already owed to the provider is still committed to the
		// cache by the thunk.
		value, err := req.thunk(context.WithoutCancel(req.ctx))
		g.setInFlight(false)

		g.mu.Lock()
		g.lastDispatch = time.Now()
		g.mu.Unlock()

		if err != nil && !req.retried && g.shouldRetry != nil && g.shouldRetry(err) {
			req.retried = true
			metrics.GateRetries.Inc()
			slog.Warn("gate.retry_scheduled",
				"component", "request_gate",
				"event", "gate.retry",
				"backoff", g.retryBackoff,
				"error", err,
			)
			select {
			case <-time.After(g.retryBackoff):
			case <-ctx.Done():
				deliver(req, nil, ctx.Err())
				g.failAll(ctx.Err())
				return
			}
			g.enqueue(req, true)
			continue
		}

		deliver(req, value, err)
	}
}

// Status reports the gate state for the operator surface.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := int64(math.Ceil(60000.0 / float64(g.perMinute)))
	if g.bypass != nil && g.bypass() {
		ms = 0
	}
	return Status{
		QueueDepth:    len(g.queue),
		InFlight:      g.inFlight,
		RatePerMinute: g.perMinute,
		MinDelayMS:    ms,
		LastDispatch:  g.lastDispatch,
	}
}

func (g *Gate) enqueue(req *request, atHead bool) {
	g.mu.Lock()
	if atHead {
		g.queue = append([]*request{req}, g.queue...)
	} else {
		g.queue = append(g.queue, req)
	}
	metrics.GateQueueDepth.Set(float64(len(g.queue)))
	g.mu.Unlock()

	select {
	case g.notify <- struct{}{}:
	default:
	}
}

func (g *Gate) dequeue(ctx context.Context) *request {
	for {
		g.mu.Lock()
		if len(g.queue) > 0 {
			req := g.queue[0]
			g.queue = g.queue[1:]
			metrics.GateQueueDepth.Set(float64(len(g.queue)))
			g.mu.Unlock()
			return req
		}
		g.mu.Unlock()

		select {
		case <-g.notify:
		case <-ctx.Done():
			return nil
		}
	}
}

// remove deletes a still-queued request. A request already dispatched is
// left alone; its result is simply never read.
func (g *Gate) remove(req *request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, queued := range g.queue {
		if queued == req {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			metrics.GateQueueDepth.Set(float64(len(g.queue)))
			return
		}
	}
}

// failAll drains the queue on shutdown, unblocking every waiting caller.
func (g *Gate) failAll(err error) {
	g.mu.Lock()
	pending := g.queue
	g.queue = nil
	metrics.GateQueueDepth.Set(0)
	g.mu.Unlock()

	if err == nil {
		err = context.Canceled
	}
	for _, req := range pending {
		deliver(req, nil, err)
	}
}

func (g *Gate) bypassActive() bool {
	g.mu.Lock()
	bypass := g.bypass
	g.mu.Unlock()
	return bypass != nil && bypass()
}

func (g *Gate) setInFlight(v bool) {
	g.mu.Lock()
	g.inFlight = v
	g.mu.Unlock()
}

func deliver(req *request, value any, err error) {
	select {
	case req.resultCh <- result{value: value, err: err}:
	default:
	}
}

func perMinuteLimit(perMinute int) rate.Limit {
	return rate.Limit(float64(perMinute) / 60.0)
}

func clampRate(perMinute int) int {
	if perMinute < 1 {
		return 1
	}
	if perMinute > 60 {
		return 60
	}
	return perMinute
}
