package racingapi

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable means an endpoint's circuit breaker refused the request.
// It says nothing about the day or entity being fetched.
var ErrUnavailable = errors.New("racing api unavailable")

// breaker guards one endpoint. Endpoints trip independently so a failing
// enrichment endpoint cannot stop results from being fetched.
type breaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	timeout  time.Duration
	openedAt atomic.Int64
	log      *zap.Logger
}

func newBreaker(name string, failures uint32, timeout time.Duration, log *zap.Logger) *breaker {
	b := &breaker{name: name, timeout: timeout, log: log}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// Only transport and server failures count against the API.
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.openedAt.Store(time.Now().UnixNano())
			}
			log.Warn("circuit breaker state change", zap.String("endpoint", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return b
}

// execute runs fn through the breaker. When the breaker refuses and wait is
// set, it sleeps until the breaker lets a trial request through and tries
// again, so the error returned is always fn's own. Otherwise the refusal is
// returned wrapped in ErrUnavailable.
func (b *breaker) execute(ctx context.Context, wait bool, fn func() ([]byte, error)) ([]byte, error) {
	for {
		res, err := b.cb.Execute(func() (interface{}, error) { return fn() })
		if err == nil {
			return res.([]byte), nil
		}
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, err
		}
		if !wait {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, b.name, err)
		}
		d := b.remaining()
		b.log.Warn("waiting for circuit breaker", zap.String("endpoint", b.name), zap.Duration("wait", d))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// remaining is how long the breaker stays open. A half-open breaker with a
// trial already in flight is polled at a fraction of the timeout.
func (b *breaker) remaining() time.Duration {
	poll := b.timeout / 10
	if poll <= 0 {
		poll = time.Millisecond
	}
	opened := time.Unix(0, b.openedAt.Load())
	if d := time.Until(opened.Add(b.timeout)); d > poll {
		return d
	}
	return poll
}
