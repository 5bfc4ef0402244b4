package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/couchcryptid/weather-measures-etl/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// MeasureWriter appends one measure row.
type MeasureWriter interface {
	InsertMeasure(ctx context.Context, rec domain.MeasureRecord) (domain.MeasureRecord, error)
}

// RunRecorder keeps the run ledger.
type RunRecorder interface {
	CreateRun(ctx context.Context, run domain.Run) error
	UpdateRun(ctx context.Context, run domain.Run) error
}

// MeasurePublisher announces a persisted row. Implementations handle their own errors.
type MeasurePublisher interface {
	PublishMeasure(ctx context.Context, run domain.Run, rec domain.MeasureRecord)
}

// Options configures what a run fetches and how its steps are retried.
type Options struct {
	// City is the name sent to the geocoder.
	City string
	// Label is stored in the city column. Empty stores the geocoded name.
	Label string

	Retries     int
	RetryDelay  time.Duration
	StepTimeout time.Duration

	// Publisher is optional.
	Publisher MeasurePublisher
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// RunRequest asks for one execution of the graph.
type RunRequest struct {
	LogicalDate time.Time
	Type        domain.RunType
}

// Pipeline runs fetch coordinates → fetch snapshot → extract ×4 → persist for one logical date.
type Pipeline struct {
	geocoder domain.Geocoder
	source   domain.WeatherSource
	measures MeasureWriter
	runs     RunRecorder
	opts     Options
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	ready    atomic.Bool
}

// New creates a Pipeline with the given adapters and observability.
func New(g domain.Geocoder, src domain.WeatherSource, measures MeasureWriter, runs RunRecorder, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		geocoder: g,
		source:   src,
		measures: measures,
		runs:     runs,
		opts:     opts,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once a run has succeeded or the scheduler marked
// the pipeline ready after catch-up.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no pipeline run has succeeded yet")
	}
	return nil
}

// MarkReady flags the pipeline as ready without a successful run.
func (p *Pipeline) MarkReady() {
	p.ready.Store(true)
}

// Run executes the graph for req.LogicalDate and records the outcome.
// The returned run is terminal unless the ledger entry could not be created.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (domain.Run, error) {
	logicalDate := domain.LogicalDay(req.LogicalDate)
	run := domain.NewRun(newRunID(req.Type, logicalDate), logicalDate, req.Type)
	logger := p.logger.With("run_id", run.ID, "logical_date", logicalDate.Format(time.DateOnly))

	if err := p.runs.CreateRun(ctx, run); err != nil {
		return run, fmt.Errorf("record run: %w", err)
	}

	p.metrics.PipelineRunning.Inc()
	defer p.metrics.PipelineRunning.Dec()
	logger.Info("run started", "run_type", run.Type)

	err := p.execute(ctx, &run, logger)
	if err != nil {
		run.Fail(err)
		p.metrics.RunsTotal.WithLabelValues(string(run.Type), "failed").Inc()
		logger.Error("run failed", "error", err)
	} else {
		p.metrics.RunsTotal.WithLabelValues(string(run.Type), "success").Inc()
		p.metrics.LastSuccessTime.Set(float64(run.LogicalDate.Unix()))
		p.ready.Store(true)
		logger.Info("run persisted")
	}

	// The ledger write must survive a cancelled run context.
	if uerr := p.runs.UpdateRun(context.WithoutCancel(ctx), run); uerr != nil {
		logger.Error("record run outcome failed", "error", uerr)
		if err == nil {
			err = fmt.Errorf("record run: %w", uerr)
		}
	}
	return run, err
}

func (p *Pipeline) execute(ctx context.Context, run *domain.Run, logger *slog.Logger) error {
	candidates, err := runStep(ctx, p, logger, StepFetchCoordinates, func(ctx context.Context) ([]domain.Location, error) {
		return p.geocoder.Geocode(ctx, p.opts.City)
	})
	if err != nil {
		return err
	}
	p.advance(ctx, run, logger)

	var location domain.Location
	snapshot, err := runStep(ctx, p, logger, StepFetchSnapshot, func(ctx context.Context) (domain.WeatherSnapshot, error) {
		loc, err := domain.FirstLocation(candidates)
		if err != nil {
			return domain.WeatherSnapshot{}, err
		}
		lat, lon, err := loc.Coordinates()
		if err != nil {
			return domain.WeatherSnapshot{}, err
		}
		location = loc
		return p.source.Snapshot(ctx, lat, lon, run.LogicalDate)
	})
	if err != nil {
		return err
	}
	p.advance(ctx, run, logger)

	readings, err := p.extractAll(ctx, snapshot, logger)
	if err != nil {
		return err
	}
	p.advance(ctx, run, logger)

	label := p.opts.Label
	if label == "" {
		label = location.Name
	}

	saved, err := runStep(ctx, p, logger, StepStoreMeasure, func(ctx context.Context) (domain.MeasureRecord, error) {
		rec, err := domain.BuildRecord(label, readings)
		if err != nil {
			return domain.MeasureRecord{}, err
		}
		return p.measures.InsertMeasure(ctx, rec)
	})
	if err != nil {
		return err
	}
	if err := run.Advance(); err != nil {
		return err
	}
	p.metrics.MeasuresWritten.Inc()
	logger.Info("measure stored", "id", saved.ID, "city", saved.City, "timestamp", saved.Timestamp)

	if p.opts.Publisher != nil {
		p.opts.Publisher.PublishMeasure(ctx, *run, saved)
	}
	return nil
}

// extractAll runs the four extractors concurrently and waits for all of them.
// Readings come back in domain.Fields order.
func (p *Pipeline) extractAll(ctx context.Context, snapshot domain.WeatherSnapshot, logger *slog.Logger) ([]domain.Reading, error) {
	readings := make([]domain.Reading, len(domain.Fields))

	var g errgroup.Group
	for i, f := range domain.Fields {
		g.Go(func() error {
			r, err := runStep(ctx, p, logger, ExtractStep(f), func(context.Context) (domain.Reading, error) {
				return domain.Extract(snapshot, f)
			})
			readings[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return readings, nil
}

// advance moves the run to its next non-terminal state and records it.
// Ledger errors here are logged only; the final update reports the outcome.
func (p *Pipeline) advance(ctx context.Context, run *domain.Run, logger *slog.Logger) {
	if err := run.Advance(); err != nil {
		logger.Error("advance run", "error", err)
		return
	}
	if err := p.runs.UpdateRun(ctx, *run); err != nil {
		logger.Warn("record run state failed", "state", run.State, "error", err)
	}
}

func newRunID(typ domain.RunType, logicalDate time.Time) string {
	return fmt.Sprintf("%s__%s__%s", typ, logicalDate.UTC().Format(time.RFC3339), uuid.NewString()[:8])
}
