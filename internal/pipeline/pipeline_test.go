package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/couchcryptid/weather-measures-etl/internal/observability"
	"github.com/couchcryptid/weather-measures-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockGeocoder struct {
	results  []domain.Location
	failures int
	err      error
	calls    int
	cities   []string
}

func (m *mockGeocoder) Geocode(_ context.Context, city string) ([]domain.Location, error) {
	m.calls++
	m.cities = append(m.cities, city)
	if m.calls <= m.failures {
		return nil, m.err
	}
	return m.results, nil
}

type snapshotCall struct {
	Lat, Lon float64
	At       time.Time
}

type mockSource struct {
	snapshot domain.WeatherSnapshot
	err      error
	block    bool
	calls    []snapshotCall
}

func (m *mockSource) Snapshot(ctx context.Context, lat, lon float64, at time.Time) (domain.WeatherSnapshot, error) {
	m.calls = append(m.calls, snapshotCall{Lat: lat, Lon: lon, At: at})
	if m.block {
		<-ctx.Done()
		return domain.WeatherSnapshot{}, ctx.Err()
	}
	return m.snapshot, m.err
}

type mockMeasures struct {
	rows []domain.MeasureRecord
	err  error
}

func (m *mockMeasures) InsertMeasure(_ context.Context, rec domain.MeasureRecord) (domain.MeasureRecord, error) {
	if m.err != nil {
		return domain.MeasureRecord{}, m.err
	}
	rec.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, rec)
	return rec, nil
}

type mockRuns struct {
	mu        sync.Mutex
	created   []domain.Run
	states    []domain.RunState
	last      domain.Run
	createErr error
}

func (m *mockRuns) CreateRun(_ context.Context, run domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, run)
	m.states = append(m.states, run.State)
	m.last = run
	return nil
}

func (m *mockRuns) UpdateRun(_ context.Context, run domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, run.State)
	m.last = run
	return nil
}

type mockPublisher struct {
	published []domain.MeasureRecord
}

func (m *mockPublisher) PublishMeasure(_ context.Context, _ domain.Run, rec domain.MeasureRecord) {
	m.published = append(m.published, rec)
}

// --- fixtures ---

var logicalDate = time.Date(2023, 11, 27, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func odesa() []domain.Location {
	return []domain.Location{{Name: "Odesa", Lat: ptr(46.48), Lon: ptr(30.73), Country: "UA"}}
}

func sampleSnapshot() domain.WeatherSnapshot {
	return domain.WeatherSnapshot{
		Lat:      46.48,
		Lon:      30.73,
		Timezone: "Europe/Kyiv",
		Data: []domain.DataPoint{{
			Dt:        ptr(int64(1701043200)),
			Temp:      ptr(280.1),
			Humidity:  ptr(77.0),
			Clouds:    ptr(40.0),
			WindSpeed: ptr(3.2),
		}},
	}
}

type fixture struct {
	geocoder  *mockGeocoder
	source    *mockSource
	measures  *mockMeasures
	runs      *mockRuns
	publisher *mockPublisher
	metrics   *observability.Metrics
}

func newFixture() *fixture {
	return &fixture{
		geocoder:  &mockGeocoder{results: odesa()},
		source:    &mockSource{snapshot: sampleSnapshot()},
		measures:  &mockMeasures{},
		runs:      &mockRuns{},
		publisher: &mockPublisher{},
		metrics:   observability.NewMetricsForTesting(),
	}
}

func (f *fixture) pipeline(mutate func(*pipeline.Options)) *pipeline.Pipeline {
	opts := pipeline.Options{
		City:      "Odesa",
		Label:     "Kharkiv",
		Publisher: f.publisher,
		Clock:     clockwork.NewRealClock(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.New(f.geocoder, f.source, f.measures, f.runs, opts, logger, f.metrics)
}

func scheduled() pipeline.RunRequest {
	return pipeline.RunRequest{LogicalDate: logicalDate, Type: domain.RunScheduled}
}

// --- tests ---

func TestPipeline_Run_PersistsMeasure(t *testing.T) {
	f := newFixture()
	p := f.pipeline(nil)

	run, err := p.Run(context.Background(), scheduled())
	require.NoError(t, err)

	assert.Equal(t, domain.RunPersisted, run.State)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, f.measures.rows, 1)
	want := domain.MeasureRecord{ID: 1, City: "Kharkiv", Timestamp: 1701043200, Temp: 280.1, Cloudiness: 40, Wind: 3.2, Humidity: 77}
	if diff := cmp.Diff(want, f.measures.rows[0]); diff != "" {
		t.Errorf("row mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"Odesa"}, f.geocoder.cities)
	require.Len(t, f.source.calls, 1)
	assert.True(t, f.source.calls[0].At.Equal(logicalDate))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MeasuresWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("scheduled", "success")))
}

func TestPipeline_Run_LedgerStates(t *testing.T) {
	f := newFixture()
	_, err := f.pipeline(nil).Run(context.Background(), scheduled())
	require.NoError(t, err)

	assert.Equal(t, []domain.RunState{
		domain.RunPending,
		domain.RunCoordsFetched,
		domain.RunSnapshotFetched,
		domain.RunExtracted,
		domain.RunPersisted,
	}, f.runs.states)
}

func TestPipeline_Run_RunIDFormat(t *testing.T) {
	f := newFixture()
	run, err := f.pipeline(nil).Run(context.Background(), pipeline.RunRequest{
		LogicalDate: logicalDate.Add(15 * time.Hour),
		Type:        domain.RunManual,
	})
	require.NoError(t, err)

	prefix := "manual__2023-11-27T00:00:00Z__"
	require.True(t, strings.HasPrefix(run.ID, prefix), run.ID)
	assert.Len(t, strings.TrimPrefix(run.ID, prefix), 8)
	assert.True(t, run.LogicalDate.Equal(logicalDate))
}

func TestPipeline_Run_UsesFirstCandidateOnly(t *testing.T) {
	f := newFixture()
	f.geocoder.results = []domain.Location{
		{Name: "Odesa", Lat: ptr(46.48), Lon: ptr(30.73)},
		{Name: "Odessa", Lat: ptr(31.84), Lon: ptr(-102.36), Country: "US", State: "Texas"},
	}

	_, err := f.pipeline(nil).Run(context.Background(), scheduled())
	require.NoError(t, err)

	require.Len(t, f.source.calls, 1)
	assert.Equal(t, 46.48, f.source.calls[0].Lat)
	assert.Equal(t, 30.73, f.source.calls[0].Lon)
}

func TestPipeline_Run_NoCandidatesFails(t *testing.T) {
	f := newFixture()
	f.geocoder.results = []domain.Location{}

	run, err := f.pipeline(nil).Run(context.Background(), scheduled())
	require.Error(t, err)

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, pipeline.StepFetchSnapshot, stepErr.Step)
	require.ErrorIs(t, err, domain.ErrNoLocation)
	assert.Empty(t, f.source.calls)
	assert.Empty(t, f.measures.rows)
	assert.Equal(t, domain.RunFailed, run.State)
}

func TestPipeline_Run_CandidateWithoutCoordinatesFails(t *testing.T) {
	f := newFixture()
	f.geocoder.results = []domain.Location{{Name: "Odesa", Country: "UA"}}

	run, err := f.pipeline(nil).Run(context.Background(), scheduled())
	require.ErrorIs(t, err, domain.ErrMissingField)

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, pipeline.StepFetchSnapshot, stepErr.Step)
	assert.Contains(t, err.Error(), `"lat"`)
	assert.Empty(t, f.source.calls, "no weather request for an unknown position")
	assert.Empty(t, f.measures.rows)
	assert.Equal(t, domain.RunFailed, run.State)
}

func TestPipeline_Run_EmptyDataPersistsNothing(t *testing.T) {
	f := newFixture()
	f.source.snapshot.Data = nil

	run, err := f.pipeline(nil).Run(context.Background(), scheduled())
	require.ErrorIs(t, err, domain.ErrNoDataPoints)

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.True(t, strings.HasPrefix(stepErr.Step, "extract_"), stepErr.Step)
	assert.Empty(t, f.measures.rows)
	assert.Empty(t, f.publisher.published)
	assert.Equal(t, domain.RunFailed, run.State)
	assert.Equal(t, domain.RunFailed, f.runs.last.State)
	assert.Contains(t, f.runs.last.Error, "no data points")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("scheduled", "failed")))
	for _, field := range domain.Fields {
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StepFailures.WithLabelValues(pipeline.ExtractStep(field))), field.String())
	}
}

func TestPipeline_Run_MissingFieldNamesStep(t *testing.T) {
	f := newFixture()
	f.source.snapshot.Data[0].Humidity = nil

	_, err := f.pipeline(nil).Run(context.Background(), scheduled())
	require.ErrorIs(t, err, domain.ErrMissingField)

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "extract_humidity", stepErr.Step)
	assert.Empty(t, f.measures.rows)
}

func TestPipeline_Run_SameDateTwiceAppendsTwoRows(t *testing.T) {
	f := newFixture()
	p := f.pipeline(nil)

	first, err := p.Run(context.Background(), scheduled())
	require.NoError(t, err)
	second, err := p.Run(context.Background(), pipeline.RunRequest{LogicalDate: logicalDate, Type: domain.RunManual})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	require.Len(t, f.measures.rows, 2)
	assert.Equal(t, f.measures.rows[0].Timestamp, f.measures.rows[1].Timestamp)
}

func TestPipeline_Run_EmptyLabelUsesGeocodedName(t *testing.T) {
	f := newFixture()
	p := f.pipeline(func(o *pipeline.Options) { o.Label = "" })

	_, err := p.Run(context.Background(), scheduled())
	require.NoError(t, err)
	require.Len(t, f.measures.rows, 1)
	assert.Equal(t, "Odesa", f.measures.rows[0].City)
}

func TestPipeline_Run_RetriesStep(t *testing.T) {
	f := newFixture()
	f.geocoder.failures = 1
	f.geocoder.err = errors.New("connection reset")
	p := f.pipeline(func(o *pipeline.Options) {
		o.Retries = 1
		o.RetryDelay = time.Millisecond
	})

	run, err := p.Run(context.Background(), scheduled())
	require.NoError(t, err)

	assert.Equal(t, domain.RunPersisted, run.State)
	assert.Equal(t, 2, f.geocoder.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StepRetries.WithLabelValues(pipeline.StepFetchCoordinates)))
}

func TestPipeline_Run_NoRetriesByDefault(t *testing.T) {
	f := newFixture()
	f.geocoder.failures = 1
	f.geocoder.err = errors.New("connection reset")

	_, err := f.pipeline(nil).Run(context.Background(), scheduled())
	require.Error(t, err)

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, pipeline.StepFetchCoordinates, stepErr.Step)
	assert.Equal(t, "fetch_coordinates: connection reset", err.Error())
	assert.Equal(t, 1, f.geocoder.calls)
}

func TestPipeline_Run_StepTimeout(t *testing.T) {
	f := newFixture()
	f.source.block = true
	p := f.pipeline(func(o *pipeline.Options) { o.StepTimeout = 20 * time.Millisecond })

	_, err := p.Run(context.Background(), scheduled())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.measures.rows)
}

func TestPipeline_Run_StoreFailure(t *testing.T) {
	f := newFixture()
	f.measures.err = errors.New("disk full")

	run, err := f.pipeline(nil).Run(context.Background(), scheduled())
	require.Error(t, err)

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, pipeline.StepStoreMeasure, stepErr.Step)
	assert.Equal(t, domain.RunFailed, run.State)
	assert.Empty(t, f.publisher.published)
}

func TestPipeline_Run_CreateRunFailure(t *testing.T) {
	f := newFixture()
	f.runs.createErr = errors.New("db locked")

	_, err := f.pipeline(nil).Run(context.Background(), scheduled())
	require.ErrorContains(t, err, "record run: db locked")
	assert.Zero(t, f.geocoder.calls)
}

func TestPipeline_Run_PublishesPersistedRow(t *testing.T) {
	f := newFixture()

	_, err := f.pipeline(nil).Run(context.Background(), scheduled())
	require.NoError(t, err)

	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, f.measures.rows[0], f.publisher.published[0])
}

func TestPipeline_Run_WithoutPublisher(t *testing.T) {
	f := newFixture()
	p := f.pipeline(func(o *pipeline.Options) { o.Publisher = nil })

	_, err := p.Run(context.Background(), scheduled())
	require.NoError(t, err)
	assert.Len(t, f.measures.rows, 1)
}

func TestPipeline_CheckReadiness(t *testing.T) {
	f := newFixture()
	p := f.pipeline(nil)

	require.Error(t, p.CheckReadiness(context.Background()))

	f.source.snapshot.Data = nil
	_, _ = p.Run(context.Background(), scheduled())
	require.Error(t, p.CheckReadiness(context.Background()), "failed run must not flip readiness")

	f.source.snapshot = sampleSnapshot()
	_, err := p.Run(context.Background(), scheduled())
	require.NoError(t, err)
	require.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_MarkReady(t *testing.T) {
	p := newFixture().pipeline(nil)
	p.MarkReady()
	require.NoError(t, p.CheckReadiness(context.Background()))
}

func TestStepError(t *testing.T) {
	err := &pipeline.StepError{Step: "fetch_snapshot", Err: domain.ErrNoLocation}
	assert.Equal(t, "fetch_snapshot: "+domain.ErrNoLocation.Error(), err.Error())
	assert.ErrorIs(t, err, domain.ErrNoLocation)
}
