package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/runwatch/internal/errors"
	"github.com/3leaps/runwatch/pkg/check"
	"github.com/3leaps/runwatch/pkg/checkstore"
	"github.com/3leaps/runwatch/pkg/pipeline"
)

// ReportSource yields the most recent completed check, or nil.
type ReportSource interface {
	Latest() *check.Report
}

// HistorySource reads recorded checks. *checkstore.Store satisfies it.
type HistorySource interface {
	List() ([]checkstore.Record, error)
	Get(checkID string) (*checkstore.Record, error)
}

// RunsResponse is the body of GET /v1/runs.
type RunsResponse struct {
	CheckID  string                             `json:"check_id"`
	State    checkstore.State                   `json:"state"`
	Started  time.Time                          `json:"started"`
	Finished time.Time                          `json:"finished"`
	Runs     pipeline.EnrichedRunSet            `json:"runs"`
	Stats    map[string]pipeline.WorkspaceStats `json:"stats"`
	Errors   map[string]string                  `json:"errors,omitempty"`
}

// DurationsResponse is the body of GET /v1/durations.
type DurationsResponse struct {
	CheckID   string                        `json:"check_id"`
	Durations map[string]map[string]float64 `json:"durations"`
}

func latest(w http.ResponseWriter, r *http.Request, src ReportSource) *check.Report {
	var rep *check.Report
	if src != nil {
		rep = src.Latest()
	}
	if rep == nil {
		respondWithError(w, r, apperrors.NewNotFound("no check has completed yet"))
	}
	return rep
}

// RunsHandler serves the runs of the latest check.
func RunsHandler(src ReportSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := latest(w, r, src)
		if rep == nil {
			return
		}
		resp := RunsResponse{
			CheckID:  rep.CheckID,
			State:    rep.State,
			Started:  rep.Result.Started,
			Finished: rep.Result.Finished,
			Runs:     rep.Result.Runs,
			Stats:    rep.Result.Stats,
		}
		if len(rep.Result.Errors) > 0 {
			resp.Errors = make(map[string]string, len(rep.Result.Errors))
			for _, e := range rep.Result.Errors {
				resp.Errors[e.Workspace] = e.Error()
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// DurationsHandler serves the duration maps of the latest check.
func DurationsHandler(src ReportSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := latest(w, r, src)
		if rep == nil {
			return
		}
		writeJSON(w, http.StatusOK, DurationsResponse{CheckID: rep.CheckID, Durations: rep.Durations})
	}
}

// ChecksHandler lists recorded checks, newest first. ?limit=N caps the list.
func ChecksHandler(src HistorySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := src.List()
		if err != nil {
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "list checks"))
			return
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				respondWithError(w, r, apperrors.NewInvalidArgument("limit must be a non-negative integer", err))
				return
			}
			if n < len(records) {
				records = records[:n]
			}
		}
		if records == nil {
			records = []checkstore.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

// CheckHandler serves one recorded check by the {id} URL parameter.
func CheckHandler(src HistorySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := src.Get(id)
		if err != nil {
			if checkstore.IsNotFound(err) {
				respondWithError(w, r, apperrors.NewNotFound("check "+id+" not found"))
				return
			}
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "get check"))
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// LatestReport holds the most recent report for concurrent readers.
type LatestReport struct {
	mu  sync.RWMutex
	rep *check.Report
}

// Set replaces the held report.
func (l *LatestReport) Set(rep *check.Report) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rep = rep
}

// Latest returns the held report, or nil.
func (l *LatestReport) Latest() *check.Report {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rep
}
