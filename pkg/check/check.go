// Package check runs one stuck-run check end to end.
//
// A check polls every workspace through the pipeline, writes the results as
// JSONL records, posts alerts, uploads the report to the archive and records
// the outcome in the check store. Only the pipeline is required; every
// other stage is skipped when its collaborator is nil.
package check

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/runwatch/pkg/archive"
	"github.com/3leaps/runwatch/pkg/checkstore"
	"github.com/3leaps/runwatch/pkg/output"
	"github.com/3leaps/runwatch/pkg/pipeline"
	"github.com/3leaps/runwatch/pkg/provider"
	"github.com/3leaps/runwatch/pkg/restapi"
	"github.com/3leaps/runwatch/pkg/slack"
)

// Source produces one pipeline pass. *pipeline.Pipeline satisfies it.
type Source interface {
	Run(ctx context.Context, opts pipeline.Options) pipeline.Result
}

// Notifier delivers formatted payloads. *slack.Poster satisfies it.
type Notifier interface {
	PostWorkspacePayloads(ctx context.Context, messages []slack.WorkspaceMessage) ([]slack.PostResult, error)
}

// Config wires a Runner.
type Config struct {
	// Source is the pipeline to poll. Required.
	Source Source

	// Order is the workspace order used for output and alerts.
	Order []string

	// Formatter builds alert payloads. Default: slack.NewFormatter with defaults.
	Formatter *slack.Formatter

	// Notifier posts alerts. Nil disables posting.
	Notifier Notifier

	// Archive receives the JSONL report. Nil disables upload.
	Archive *archive.Archive

	// Store records check outcomes. Nil disables history.
	Store *checkstore.Store

	// Output receives a copy of every JSONL record as it is written. Optional.
	Output io.Writer

	// ManifestPath is recorded in the check store.
	ManifestPath string

	// NewID returns a check id. Default: uuid.NewString.
	NewID func() string

	// Now is the clock. Default: time.Now.
	Now func() time.Time

	// Logger receives progress and failures. Default: no-op.
	Logger *zap.Logger
}

// Runner executes checks. It is safe to call Run repeatedly but not concurrently.
type Runner struct {
	cfg Config
}

// Report is the outcome of one check.
type Report struct {
	CheckID    string
	State      checkstore.State
	Result     pipeline.Result
	Durations  map[string]map[string]float64
	Posts      []slack.PostResult
	Summary    output.SummaryRecord
	ArchiveKey string

	// JSONL is the full report as written to Output and the archive.
	JSONL []byte

	// Errors are non-fatal failures from later stages (posting, archive).
	Errors []error
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Source == nil {
		return nil, errors.New("check: source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Formatter == nil {
		cfg.Formatter = slack.NewFormatter(slack.FormatterConfig{Logger: cfg.Logger})
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{cfg: cfg}, nil
}

// Run executes one check.
//
// The returned error is non-nil only when the report itself could not be
// produced or recorded. Workspace, delivery and archive failures are
// reflected in Report.State and Report.Errors.
func (r *Runner) Run(ctx context.Context, opts pipeline.Options) (*Report, error) {
	log := r.cfg.Logger
	started := r.cfg.Now()
	rep := &Report{CheckID: r.cfg.NewID(), State: checkstore.StateRunning}
	log = log.With(zap.String("check_id", rep.CheckID))

	rec := &checkstore.Record{
		CheckID:        rep.CheckID,
		State:          checkstore.StateRunning,
		ManifestPath:   r.cfg.ManifestPath,
		ThresholdHours: opts.OlderThanHours,
		Workspaces:     r.cfg.Order,
		StartedAt:      started.UTC(),
	}
	if err := r.record(rec); err != nil {
		return nil, err
	}

	log.Info("Starting check", zap.Int("workspaces", len(r.cfg.Order)), zap.Float64("older_than_hours", opts.OlderThanHours))
	rep.Result = r.cfg.Source.Run(ctx, opts)
	rep.Durations = pipeline.Durations(rep.Result.Runs)

	var buf bytes.Buffer
	sink := io.Writer(&buf)
	if r.cfg.Output != nil {
		sink = io.MultiWriter(&buf, r.cfg.Output)
	}
	w := output.NewJSONLWriter(sink, rep.CheckID)
	// Records are written with a background context so a cancelled check
	// still produces a complete report of what it saw.
	wctx := context.WithoutCancel(ctx)

	if err := r.writeResults(wctx, w, rep); err != nil {
		return nil, err
	}

	if r.cfg.Notifier != nil {
		msgs := r.cfg.Formatter.WorkspacePayloads(rep.Result.Runs, r.cfg.Order, opts.OlderThanHours)
		posts, err := r.cfg.Notifier.PostWorkspacePayloads(ctx, msgs)
		rep.Posts = posts
		if err != nil {
			rep.Errors = append(rep.Errors, err)
		}
		for _, p := range posts {
			pr := &output.PostRecord{Workspace: p.Workspace, Payload: p.Index, StatusCode: p.StatusCode}
			if p.Err != nil {
				pr.Error = p.Err.Error()
			}
			if err := w.WritePost(wctx, pr); err != nil {
				return nil, err
			}
		}
	}

	rep.Summary = r.summary(rep, opts, started)
	rep.State = checkstore.StateFor(rep.Summary.Workspaces, rep.Summary.WorkspacesFailed, rep.Summary.PayloadsFailed)
	if err := w.WriteSummary(wctx, &rep.Summary); err != nil {
		return nil, err
	}
	rep.JSONL = buf.Bytes()

	if r.cfg.Archive != nil {
		key, err := r.cfg.Archive.Upload(wctx, rep.CheckID, started, rep.JSONL)
		if err != nil {
			log.Error("Failed to archive check report",
				zap.String("reason", provider.Reason(err)),
				zap.Bool("retryable", provider.Retryable(err)),
				zap.Error(err),
			)
			rep.Errors = append(rep.Errors, fmt.Errorf("archive: %w", err))
			if rep.State == checkstore.StateSuccess {
				rep.State = checkstore.StatePartial
			}
		}
		rep.ArchiveKey = key
	}

	ended := r.cfg.Now().UTC()
	rec.State = rep.State
	rec.PerWorkspace = rep.Summary.PerWorkspace
	rec.Runs = rep.Summary.Runs
	rec.PayloadsPosted = rep.Summary.PayloadsPosted
	rec.PayloadsFailed = rep.Summary.PayloadsFailed
	rec.ArchiveKey = rep.ArchiveKey
	rec.EndedAt = &ended
	for _, e := range rep.Result.Errors {
		rec.FailedWorkspaces = append(rec.FailedWorkspaces, e.Workspace)
	}
	if len(rep.Errors) > 0 {
		rec.Error = errors.Join(rep.Errors...).Error()
	}
	if err := r.record(rec); err != nil {
		return nil, err
	}

	log.Info("Check complete",
		zap.String("state", string(rep.State)),
		zap.Int("runs", rep.Summary.Runs),
		zap.Int("workspaces_failed", rep.Summary.WorkspacesFailed),
		zap.Int("payloads_posted", rep.Summary.PayloadsPosted),
		zap.Duration("duration", rep.Summary.Duration),
	)
	return rep, nil
}

func (r *Runner) record(rec *checkstore.Record) error {
	if r.cfg.Store == nil {
		return nil
	}
	if err := r.cfg.Store.Write(rec); err != nil {
		return fmt.Errorf("record check %s: %w", rec.CheckID, err)
	}
	return nil
}

func (r *Runner) writeResults(ctx context.Context, w *output.JSONLWriter, rep *Report) error {
	failed := make(map[string]*pipeline.WorkspaceError, len(rep.Result.Errors))
	for _, e := range rep.Result.Errors {
		failed[e.Workspace] = e
	}

	for _, ws := range r.workspaces(rep.Result.Runs) {
		if e, ok := failed[ws]; ok {
			if err := w.WriteWorkspaceError(ctx, workspaceErrorRecord(e)); err != nil {
				return err
			}
			continue
		}
		for _, run := range rep.Result.Runs[ws] {
			if err := w.WriteRun(ctx, &output.RunRecord{Workspace: ws, Run: run}); err != nil {
				return err
			}
		}
		if d := rep.Durations[ws]; len(d) > 0 {
			if err := w.WriteDuration(ctx, &output.DurationRecord{Workspace: ws, Durations: d}); err != nil {
				return err
			}
		}
	}
	return nil
}

// workspaces returns Order followed by any result keys it does not name.
func (r *Runner) workspaces(set pipeline.EnrichedRunSet) []string {
	seen := make(map[string]bool, len(set))
	out := make([]string, 0, len(set))
	for _, ws := range r.cfg.Order {
		if _, ok := set[ws]; ok && !seen[ws] {
			seen[ws] = true
			out = append(out, ws)
		}
	}
	for _, ws := range sortedKeys(set) {
		if !seen[ws] {
			out = append(out, ws)
		}
	}
	return out
}

func (r *Runner) summary(rep *Report, opts pipeline.Options, started time.Time) output.SummaryRecord {
	s := output.SummaryRecord{
		ThresholdHours:   opts.OlderThanHours,
		Workspaces:       len(rep.Result.Runs),
		WorkspacesFailed: len(rep.Result.Errors),
		Runs:             rep.Result.Runs.Total(),
		PerWorkspace:     pipeline.Counts(rep.Result.Runs),
	}
	for _, st := range rep.Result.Stats {
		if !opts.IncludeStreamingJobs {
			s.StreamingExcluded += st.Streaming
		}
	}
	for _, p := range rep.Posts {
		if p.Err != nil {
			s.PayloadsFailed++
		} else {
			s.PayloadsPosted++
		}
	}
	s.Duration = r.cfg.Now().Sub(started)
	s.DurationHuman = s.Duration.Round(time.Millisecond).String()
	return s
}

func workspaceErrorRecord(e *pipeline.WorkspaceError) *output.WorkspaceErrorRecord {
	rec := &output.WorkspaceErrorRecord{
		Workspace:  e.Workspace,
		Message:    e.Error(),
		StatusCode: e.StatusCode,
		Page:       e.Page,
	}
	switch {
	case errors.Is(e, context.DeadlineExceeded):
		rec.Code = output.ErrCodeTimeout
	case errors.Is(e, context.Canceled):
		rec.Code = output.ErrCodeInternal
	case restapi.IsDecode(e):
		rec.Code = output.ErrCodeMalformed
	case e.StatusCode != 0:
		rec.Code = output.CodeForStatus(e.StatusCode)
	default:
		rec.Code = output.ErrCodeInternal
	}
	return rec
}

func sortedKeys(set pipeline.EnrichedRunSet) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
