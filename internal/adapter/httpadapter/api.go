package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/couchcryptid/weather-measures-etl/internal/domain"
	"github.com/couchcryptid/weather-measures-etl/internal/pipeline"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

const (
	defaultListLimit = 50
	maxBodyBytes     = 1 << 10

	// defaultWaitTimeout leaves headroom under writeTimeout for the response.
	defaultWaitTimeout = writeTimeout - 5*time.Second
)

var validate = validator.New()

// Trigger starts a pipeline run.
type Trigger interface {
	Run(ctx context.Context, req pipeline.RunRequest) (domain.Run, error)
}

// RunLister lists the run ledger.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

// MeasureLister lists persisted rows.
type MeasureLister interface {
	ListMeasures(ctx context.Context, limit int) ([]domain.MeasureRecord, error)
}

// API serves manual triggers and read access to runs and measures.
type API struct {
	trigger  Trigger
	runs     RunLister
	measures MeasureLister
	clock    clockwork.Clock
	logger   *slog.Logger

	waitTimeout time.Duration

	// Background runs are bound to baseCtx, not to the request.
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewAPI creates the run API. Triggered runs always execute under baseCtx;
// ?wait=true only decides whether the response waits for the outcome.
func NewAPI(baseCtx context.Context, trigger Trigger, runs RunLister, measures MeasureLister, clock clockwork.Clock, logger *slog.Logger) *API {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &API{
		trigger:  trigger,
		runs:     runs,
		measures: measures,
		clock:    clock,
		logger:   logger,
		baseCtx:  baseCtx,

		waitTimeout: defaultWaitTimeout,
	}
}

// WithWaitTimeout sets how long ?wait=true holds the request before
// answering 202 and leaving the run in the background.
func (a *API) WithWaitTimeout(d time.Duration) *API {
	a.waitTimeout = d
	return a
}

// Wait blocks until background runs started by the API have finished.
func (a *API) Wait() {
	a.wg.Wait()
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", a.handleTrigger)
	mux.HandleFunc("GET /api/v1/runs", a.handleListRuns)
	mux.HandleFunc("GET /api/v1/measures", a.handleListMeasures)
}

// triggerRequest is the body of POST /api/v1/runs.
type triggerRequest struct {
	LogicalDate string `json:"logical_date" validate:"required,datetime=2006-01-02"`
}

type listQuery struct {
	Limit int `validate:"min=1,max=500"`
}

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logicalDate, _ := time.Parse(time.DateOnly, req.LogicalDate)
	if logicalDate.After(domain.LogicalDay(a.clock.Now())) {
		writeError(w, http.StatusUnprocessableEntity, "logical_date is in the future")
		return
	}
	runReq := pipeline.RunRequest{LogicalDate: logicalDate, Type: domain.RunManual}

	type result struct {
		run domain.Run
		err error
	}
	done := make(chan result, 1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		run, err := a.trigger.Run(a.baseCtx, runReq)
		if err != nil {
			a.logger.Warn("manual run failed", "logical_date", req.LogicalDate, "error", err)
		}
		done <- result{run: run, err: err}
	}()

	if r.URL.Query().Get("wait") != "true" {
		writeAccepted(w, "accepted", req.LogicalDate)
		return
	}

	timer := a.clock.NewTimer(a.waitTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		if res.err != nil && !res.run.State.Terminal() {
			writeError(w, http.StatusInternalServerError, res.err.Error())
			return
		}
		status := http.StatusOK
		if res.run.State != domain.RunPersisted {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, res.run)
	case <-timer.Chan():
		writeAccepted(w, "running", req.LogicalDate)
	case <-r.Context().Done():
		// Client went away; the run carries on under baseCtx.
	}
}

func writeAccepted(w http.ResponseWriter, status, logicalDate string) {
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":       status,
		"logical_date": logicalDate,
		"run_type":     string(domain.RunManual),
	})
}

func (a *API) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := a.runs.ListRuns(r.Context(), limit)
	if err != nil {
		a.logger.Error("list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *API) handleListMeasures(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	measures, err := a.measures.ListMeasures(r.Context(), limit)
	if err != nil {
		a.logger.Error("list measures", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list measures")
		return
	}
	writeJSON(w, http.StatusOK, measures)
}

// parseLimit reads ?limit=, writing a 400 response when it is invalid.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	q := listQuery{Limit: defaultListLimit}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return 0, false
		}
		q.Limit = n
	}
	if err := validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return q.Limit, true
}
