// Package cover implements the Cover-Traffic Scheduler (C7): a cooperative,
// single-threaded per-session sender loop whose inter-emission times are
// Exp(λ) distributed regardless of whether a given emission carries a real
// message or a cover packet, grounded on the timer/ticker discipline of
// pzverkov's tunnel.Pool health checker.
package cover

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ElMoorish/ComLock/pkg/config"
	"github.com/ElMoorish/ComLock/pkg/telemetry"
)

// Rate is a user-selected anonymity budget (spec §4.6: "a fixed set {low,
// medium, max}").
type Rate int

const (
	RateLow Rate = iota
	RateMedium
	RateMax
)

// lambda returns the Poisson rate, in emissions per second, for a Rate.
func (r Rate) lambda() float64 {
	switch r {
	case RateMedium:
		return 4.0
	case RateMax:
		return 12.0
	default:
		return 1.0
	}
}

// ParseRate maps config.Cover's "low"/"medium"/"max" string onto a Rate.
func ParseRate(s string) (Rate, error) {
	switch s {
	case "", "low":
		return RateLow, nil
	case "medium":
		return RateMedium, nil
	case "max":
		return RateMax, nil
	default:
		return RateLow, fmt.Errorf("cover: unknown rate %q", s)
	}
}

// Emission is what the scheduler hands the caller at each emit tick.
type Emission struct {
	Real    bool
	Payload []byte // nil for cover packets
}

// Source supplies real outgoing messages to the scheduler. PeekReal reports
// the head of the queue without removing it (so the scheduler can decide to
// hold it back without losing it); DequeueReal removes and returns it. Both
// return ok=false when the queue is empty.
type Source interface {
	PeekReal() (queuedAt time.Time, ok bool)
	DequeueReal() (payload []byte, ok bool)
}

// Scheduler drives one session's emission timing. It owns no network
// connection; callers read Emissions off the channel returned by Emissions and
// push the result onto whatever fixed-size Sphinx-wrapped transport they
// have wired up.
type Scheduler struct {
	mu        sync.Mutex
	rate      Rate
	composing bool
	grace     time.Duration
	source    Source
	rng       *rand.Rand

	emissions chan Emission
	stop      chan struct{}
	stopOnce  sync.Once
}

// New creates a scheduler for source at the given anonymity budget, using
// config.Defaults()'s composing grace window.
func New(source Source, rate Rate) *Scheduler {
	return NewWithConfig(source, rate, config.Defaults())
}

// NewWithConfig is New, but takes the composing-grace window (spec §4.6's
// grace window) from cfg.Cover.ComposingGrace rather than the package
// default.
func NewWithConfig(source Source, rate Rate, cfg config.Config) *Scheduler {
	grace := cfg.Cover.ComposingGrace
	if grace <= 0 {
		grace = config.Defaults().Cover.ComposingGrace
	}
	return &Scheduler{
		rate:      rate,
		grace:     grace,
		source:    source,
		rng:       rand.New(rand.NewSource(seed())),
		emissions: make(chan Emission),
		stop:      make(chan struct{}),
	}
}

// seed is isolated so it's the only place this package touches an ambient
// time source, keeping the rest of the scheduler deterministic given a rng.
func seed() int64 { return time.Now().UnixNano() }

// SetComposing toggles the "user is typing" flag the UI asserts (spec
// §4.6's composing-aware predictive cover).
func (s *Scheduler) SetComposing(composing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composing = composing
}

// SetRate changes the anonymity budget; it takes effect on the next sampled
// inter-arrival time.
func (s *Scheduler) SetRate(rate Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = rate
}

// Emissions returns the channel of scheduled emissions.
func (s *Scheduler) Emissions() <-chan Emission { return s.emissions }

// Stop halts the scheduler loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run drives the cooperative loop: sample next_emit_time, sleep until it
// elapses, decide what to emit, repeat. It blocks until Stop is called, so
// callers run it in its own goroutine — the loop itself remains single
// threaded per session per spec §5; the rate and composing flag it reads are
// the only state other goroutines write (via SetRate and SetComposing), and
// both sides take s.mu for them.
func (s *Scheduler) Run() {
	defer close(s.emissions)
	slog.Debug("cover: scheduler started")
	defer slog.Debug("cover: scheduler stopped")

	for {
		s.mu.Lock()
		lambda := s.rate.lambda()
		s.mu.Unlock()

		delay := s.sampleInterArrival(lambda)

		timer := time.NewTimer(delay)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		emission := s.decideEmission()
		select {
		case s.emissions <- emission:
		case <-s.stop:
			return
		}
	}
}

// sampleInterArrival draws one Exp(lambda) sample, in whatever time unit
// lambda (emissions per second) implies.
func (s *Scheduler) sampleInterArrival(lambda float64) time.Duration {
	s.mu.Lock()
	u := s.rng.ExpFloat64()
	s.mu.Unlock()
	seconds := u / lambda
	return time.Duration(seconds * float64(time.Second))
}

// decideEmission picks what goes out at this tick. The decision of *which*
// packet to send depends on queue state and composing; the *timing* never
// does — sampleInterArrival already ran before this is called, and runs
// again identically next tick regardless of what decideEmission returns.
func (s *Scheduler) decideEmission() (emission Emission) {
	_, end := telemetry.StartSpan(context.Background(), telemetry.SpanSchedulerEmit)
	defer func() { end(nil) }()

	queuedAt, ok := s.source.PeekReal()
	if !ok {
		return Emission{Real: false}
	}

	s.mu.Lock()
	composing := s.composing
	grace := s.grace
	s.mu.Unlock()

	if !composing || time.Since(queuedAt) > grace {
		payload, ok := s.source.DequeueReal()
		if !ok {
			return Emission{Real: false}
		}
		return Emission{Real: true, Payload: payload}
	}

	// Composing is asserted and the message hasn't waited past its grace
	// window: hold it back and emit cover instead, preserving the
	// distribution by changing only *what* goes out, never *when*.
	return Emission{Real: false}
}
