// Package resilience stops hammering a remote host once it keeps failing.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tom-jm69/cs-medal-parser/pkg/fn"
)

// State is where a Breaker currently sits.
type State int

const (
	Closed  State = iota // calls flow through
	Open                 // calls are refused
	Probing              // a limited number of calls test the host
)

var stateNames = [...]string{Closed: "closed", Open: "open", Probing: "probing"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned for calls refused while the host is considered down.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts tunes a Breaker. Zero fields fall back to DefaultBreakerOpts.
type BreakerOpts struct {
	Threshold int           // consecutive counted failures before opening
	Cooldown  time.Duration // time spent open before probing
	Probes    int           // concurrent calls admitted while probing

	// Counts reports whether err is the host's fault. Nil counts every error.
	Counts func(err error) bool
	// OnTransition runs after the lock is released, once per state change.
	OnTransition func(from, to State)
}

var DefaultBreakerOpts = BreakerOpts{
	Threshold: 5,
	Cooldown:  30 * time.Second,
	Probes:    1,
}

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent use.
type Breaker struct {
	opts BreakerOpts
	now  func() time.Time

	mu       sync.Mutex
	state    State
	streak   int
	until    time.Time
	inflight int
}

func NewBreaker(opts BreakerOpts) *Breaker {
	d := DefaultBreakerOpts
	if opts.Threshold < 1 {
		opts.Threshold = d.Threshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = d.Cooldown
	}
	if opts.Probes < 1 {
		opts.Probes = d.Probes
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State reports the state, moving an expired Open to Probing.
func (b *Breaker) State() State {
	b.mu.Lock()
	changes := b.expire()
	st := b.state
	b.mu.Unlock()
	b.emit(changes)
	return st
}

type change struct{ from, to State }

// expire must be called with mu held.
func (b *Breaker) expire() []change {
	if b.state != Open || b.now().Before(b.until) {
		return nil
	}
	b.state, b.inflight = Probing, 0
	return []change{{Open, Probing}}
}

func (b *Breaker) enter() error {
	b.mu.Lock()
	changes := b.expire()
	var err error
	switch {
	case b.state == Open:
		err = ErrCircuitOpen
	case b.state == Probing && b.inflight >= b.opts.Probes:
		err = ErrCircuitOpen
	case b.state == Probing:
		b.inflight++
	}
	b.mu.Unlock()
	b.emit(changes)
	return err
}

func (b *Breaker) leave(err error) {
	counted := err != nil && (b.opts.Counts == nil || b.opts.Counts(err))

	b.mu.Lock()
	from := b.state
	switch {
	case counted:
		b.streak++
		if from == Probing || b.streak >= b.opts.Threshold {
			b.state = Open
			b.until = b.now().Add(b.opts.Cooldown)
			b.streak, b.inflight = 0, 0
		}
	case from == Probing:
		b.state, b.streak, b.inflight = Closed, 0, 0
	default:
		b.streak = 0
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.emit([]change{{from, to}})
	}
}

func (b *Breaker) emit(changes []change) {
	if b.opts.OnTransition == nil {
		return
	}
	for _, c := range changes {
		b.opts.OnTransition(c.from, c.to)
	}
}

// Call runs f unless the breaker refuses it.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.enter(); err != nil {
		return err
	}
	err := f(ctx)
	b.leave(err)
	return err
}

// Do is Call for functions producing an fn.Result.
func Do[T any](ctx context.Context, b *Breaker, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if err := b.enter(); err != nil {
		return fn.Err[T](err)
	}
	r := f(ctx)
	b.leave(r.Cause())
	return r
}
