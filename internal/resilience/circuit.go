package resilience

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/backend-pricing/internal/obs"
)

// ErrOpenCircuit is returned when the breaker refuses a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is a breaker state. Its numeric value is what the state gauge reports.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

var stateNames = [...]string{Closed: "closed", Open: "open", HalfOpen: "half_open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Breaker trips once at least minRequests outcomes have been seen and the
// share of failures among them reaches failureRatio. After openFor it lets a
// single probe through; the probe's outcome closes or re-opens it.
//
// Use NewBreaker; the zero value is not usable.
type Breaker struct {
	minRequests  int
	failureRatio float64
	openFor      time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    State
	window   outcomes
	openedAt time.Time
	probing  bool
	target   string
	logger   zerolog.Logger
}

// outcomes counts call results since the breaker last changed state.
type outcomes struct{ ok, failed int }

func (o outcomes) total() int { return o.ok + o.failed }

// halve keeps the ratio while letting old results age out.
func (o *outcomes) halve() {
	o.ok = (o.ok + 1) / 2
	o.failed = (o.failed + 1) / 2
}

func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	b := &Breaker{
		minRequests:  max(minRequests, 1),
		failureRatio: failureRatio,
		openFor:      openFor,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
	if b.failureRatio <= 0 || b.failureRatio > 1 {
		b.failureRatio = 0.5
	}
	if b.openFor <= 0 {
		b.openFor = 30 * time.Second
	}
	return b
}

// WithTarget names the guarded dependency in metrics and logs.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	BreakerState.WithLabelValues(b.label()).Set(float64(b.state))
	return b
}

// WithLogger sets the logger used for state transitions. A logger attached
// to the call context takes precedence.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. While half-open only one caller
// at a time is admitted.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.moveLocked(ctx, HalfOpen)
	}
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

// Report records the outcome of a call admitted by Allow.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.moveLocked(ctx, Closed)
		} else {
			b.moveLocked(ctx, Open)
		}
		return
	}

	if success {
		b.window.ok++
	} else {
		b.window.failed++
	}
	n := b.window.total()
	switch {
	case n < b.minRequests:
	case float64(b.window.failed)/float64(n) >= b.failureRatio:
		b.moveLocked(ctx, Open)
	case n > 2*b.minRequests:
		b.window.halve()
	}
}

// Do runs fn if the breaker admits it and reports the result. An error
// returned after the caller's context ended is passed back without being
// counted against the dependency.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow(ctx) {
		return ErrOpenCircuit
	}
	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		b.release()
		return err
	}
	b.Report(ctx, err == nil)
	return err
}

// release frees the half-open probe slot without recording an outcome.
func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) moveLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.window = outcomes{}
	b.probing = false
	if next == Open {
		b.openedAt = b.now()
	}

	target := b.label()
	BreakerState.WithLabelValues(target).Set(float64(next))
	BreakerTransitions.WithLabelValues(target, prev.String(), next.String()).Inc()

	logger := b.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	evt := logger.Warn()
	if next == Closed {
		evt = logger.Info()
	}
	evt = evt.Str("target", target).Str("from_state", prev.String()).Str("to_state", next.String())
	obs.TraceFields(evt, trace.SpanContextFromContext(ctx)).Msg("breaker_transition")
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}

// Backoff is the delay before retry number attempt (1-based): base doubled
// per attempt, capped at ceiling when ceiling is positive, then spread by
// up to +/- jitterPct.
func Backoff(base time.Duration, attempt int, jitterPct float64, ceiling time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	attempt = min(max(attempt, 1), 30)
	d := base << (attempt - 1)
	if d <= 0 || (ceiling > 0 && d > ceiling) {
		d = ceiling
	}
	if jitterPct <= 0 || d <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * jitterPct * float64(d)
	return d + time.Duration(spread)
}
