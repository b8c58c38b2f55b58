package slack

import (
	"sort"

	"go.uber.org/zap"

	"github.com/3leaps/runwatch/pkg/jobrun"
)

// FormatterConfig configures a Formatter.
type FormatterConfig struct {
	// Unspecified is the back-fill sentinel the pipeline used.
	// Default: jobrun.Unspecified.
	Unspecified string

	// MaxBlocks caps blocks per payload. Default: MaxBlocksPerPayload.
	MaxBlocks int

	// Compact packs the header and as many runs as fit into each payload
	// instead of posting one payload per run.
	Compact bool

	// PostEmpty emits a header-only message for workspaces without runs.
	PostEmpty bool

	// Logger receives formatting warnings. Default: no-op.
	Logger *zap.Logger
}

// WorkspaceMessage is the alert for one workspace, split into payloads.
type WorkspaceMessage struct {
	Workspace string
	Runs      int
	Payloads  []Payload
}

// Formatter turns enriched runs into webhook payloads.
type Formatter struct {
	cfg FormatterConfig
}

// NewFormatter creates a Formatter.
func NewFormatter(cfg FormatterConfig) *Formatter {
	if cfg.Unspecified == "" {
		cfg.Unspecified = jobrun.Unspecified
	}
	if cfg.MaxBlocks <= 0 || cfg.MaxBlocks > MaxBlocksPerPayload {
		cfg.MaxBlocks = MaxBlocksPerPayload
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Formatter{cfg: cfg}
}

// WorkspacePayloads builds one message per workspace.
//
// Messages follow order; workspaces in set but not in order are appended in
// sorted order. By default the header is its own payload followed by one
// payload per run. In compact mode runs are packed after the header without
// splitting a run. Either way no payload exceeds the block cap unless a
// single run does, which is logged.
func (f *Formatter) WorkspacePayloads(set map[string][]jobrun.Record, order []string, thresholdHours float64) []WorkspaceMessage {
	var out []WorkspaceMessage
	for _, ws := range orderedKeys(set, order) {
		runs := set[ws]
		if len(runs) == 0 && !f.cfg.PostEmpty {
			continue
		}
		out = append(out, WorkspaceMessage{
			Workspace: ws,
			Runs:      len(runs),
			Payloads:  f.payloads(ws, runs, thresholdHours),
		})
	}
	return out
}

func (f *Formatter) payloads(ws string, runs []jobrun.Record, thresholdHours float64) []Payload {
	header := HeaderBlocks(ws, thresholdHours)
	if !f.cfg.Compact {
		payloads := []Payload{{Blocks: header}}
		for _, rec := range runs {
			blocks := RunBlocks(rec, f.cfg.Unspecified)
			f.checkSize(rec, blocks)
			payloads = append(payloads, Payload{Blocks: blocks})
		}
		return payloads
	}

	var payloads []Payload
	current := append([]Block(nil), header...)
	for _, rec := range runs {
		blocks := RunBlocks(rec, f.cfg.Unspecified)
		f.checkSize(rec, blocks)
		if len(current) > 0 && len(current)+len(blocks) > f.cfg.MaxBlocks {
			payloads = append(payloads, Payload{Blocks: current})
			current = nil
		}
		current = append(current, blocks...)
	}
	if len(current) > 0 {
		payloads = append(payloads, Payload{Blocks: current})
	}
	return payloads
}

func (f *Formatter) checkSize(rec jobrun.Record, blocks []Block) {
	if len(blocks) > f.cfg.MaxBlocks {
		f.cfg.Logger.Warn("Run exceeds the per-payload block limit; posting will likely fail",
			zap.String("run_id", rec.String(jobrun.FieldRunID)),
			zap.Int("blocks", len(blocks)),
			zap.Int("max_blocks", f.cfg.MaxBlocks))
	}
}

func orderedKeys(set map[string][]jobrun.Record, order []string) []string {
	seen := make(map[string]bool, len(set))
	keys := make([]string, 0, len(set))
	for _, ws := range order {
		if _, ok := set[ws]; ok && !seen[ws] {
			seen[ws] = true
			keys = append(keys, ws)
		}
	}
	var rest []string
	for ws := range set {
		if !seen[ws] {
			rest = append(rest, ws)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
