package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Step names, as they appear in logs, metrics and the run ledger.
const (
	StepFetchCoordinates = "fetch_coordinates"
	StepFetchSnapshot    = "fetch_snapshot"
	StepStoreMeasure     = "store_measure"
)

// ExtractStep names the extractor step for a field, e.g. "extract_temperature".
func ExtractStep(f domain.Field) string {
	return "extract_" + f.String()
}

// StepError records which step failed a run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// runStep executes fn with the per-attempt timeout, retrying up to opts.Retries
// times with opts.RetryDelay between attempts.
func runStep[T any](ctx context.Context, p *Pipeline, logger *slog.Logger, step string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := attemptStep(ctx, p, step, fn)
		if err == nil {
			return v, nil
		}
		p.metrics.StepFailures.WithLabelValues(step).Inc()

		if attempt >= p.opts.Retries || ctx.Err() != nil {
			return zero, &StepError{Step: step, Err: err}
		}
		logger.Warn("step failed, retrying",
			"step", step,
			"attempt", attempt+1,
			"retry_in", p.opts.RetryDelay,
			"error", err,
		)
		p.metrics.StepRetries.WithLabelValues(step).Inc()
		if !sleepWithContext(ctx, p.clock, p.opts.RetryDelay) {
			return zero, &StepError{Step: step, Err: err}
		}
	}
}

// attemptStep runs one attempt of fn and observes its duration.
func attemptStep[T any](ctx context.Context, p *Pipeline, step string, fn func(context.Context) (T, error)) (T, error) {
	if p.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.StepTimeout)
		defer cancel()
	}

	start := p.clock.Now()
	v, err := fn(ctx)
	p.metrics.StepDuration.WithLabelValues(step).Observe(p.clock.Since(start).Seconds())
	return v, err
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
