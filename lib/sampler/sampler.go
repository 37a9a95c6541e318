// Package sampler runs one worker function many times concurrently and
// collects every outcome, successful or not, once all of them finish.
package sampler

import (
	"context"
	"errors"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Func is the unit of work. It is expected to bound its own runtime.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// Outcome is the result of one invocation.
type Outcome[In, Out any] struct {
	Input  In
	Output Out
	Err    error
}

// Results holds every outcome of one Repeat or Each call, in input order.
type Results[In, Out any] struct {
	Outcomes []Outcome[In, Out]
}

// Outputs returns the outputs of the invocations that succeeded.
func (r Results[In, Out]) Outputs() []Out {
	out := make([]Out, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o.Output)
		}
	}
	return out
}

// Failures returns the errors of the invocations that failed.
func (r Results[In, Out]) Failures() []error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// Err joins every failure, or returns nil when all invocations succeeded.
func (r Results[In, Out]) Err() error {
	return errors.Join(r.Failures()...)
}

type config struct {
	limit   int
	limiter *rate.Limiter
}

// Option configures a Repeat or Each call.
type Option func(*config)

// WithLimit caps the number of invocations running at once. Zero or a
// negative value means no cap.
func WithLimit(n int) Option {
	return func(c *config) {
		c.limit = n
	}
}

// WithLimiter paces invocation starts. A nil limiter disables pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *config) {
		c.limiter = l
	}
}

// Repeat runs fn n times against the same input.
func Repeat[In, Out any](ctx context.Context, n int, input In, fn Func[In, Out], opts ...Option) Results[In, Out] {
	if n < 0 {
		n = 0
	}
	inputs := make([]In, n)
	for i := range inputs {
		inputs[i] = input
	}
	return run(ctx, inputs, fn, opts)
}

// Each runs fn once per input.
func Each[In, Out any](ctx context.Context, inputs []In, fn Func[In, Out], opts ...Option) Results[In, Out] {
	return run(ctx, inputs, fn, opts)
}

// run blocks until every invocation has returned. Workers report failure
// through their Outcome and never through the group, so one failure cannot
// cancel its siblings.
func run[In, Out any](ctx context.Context, inputs []In, fn Func[In, Out], opts []Option) Results[In, Out] {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	outcomes := make([]Outcome[In, Out], len(inputs))
	var g errgroup.Group
	if cfg.limit > 0 {
		g.SetLimit(cfg.limit)
	}
	for i, in := range inputs {
		g.Go(func() error {
			outcomes[i] = invoke(ctx, in, fn, cfg.limiter)
			return nil
		})
	}
	_ = g.Wait()

	res := Results[In, Out]{Outcomes: outcomes}
	if failed := len(res.Failures()); failed > 0 {
		log.WithFields(logger.Fields{
			"at":        "sampler.run",
			"total":     len(inputs),
			"failed":    failed,
			"succeeded": len(inputs) - failed,
		}).Debug("discarding failed invocations")
	}
	return res
}

func invoke[In, Out any](ctx context.Context, in In, fn Func[In, Out], limiter *rate.Limiter) (o Outcome[In, Out]) {
	o.Input = in
	defer func() {
		if r := recover(); r != nil {
			o.Err = oops.Errorf("sampler: worker panicked: %v", r)
		}
	}()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			o.Err = err
			return o
		}
	}
	o.Output, o.Err = fn(ctx, in)
	return o
}
