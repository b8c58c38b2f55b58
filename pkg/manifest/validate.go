package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/runwatch/internal/assets/schemas"
	"github.com/3leaps/runwatch/pkg/workspace"
)

// ErrInvalid marks a manifest rejected by the schema or by a cross-field rule.
var ErrInvalid = errors.New("invalid manifest")

// Issue is one problem found in a manifest.
type Issue struct {
	// Pointer is the JSON pointer of the offending field, e.g. "/workspaces/1/url".
	Pointer string
	Message string
}

func (i Issue) String() string {
	if i.Pointer == "" {
		return i.Message
	}
	return i.Pointer + ": " + i.Message
}

// Issues is returned when a manifest has one or more problems.
type Issues []Issue

func (is Issues) Error() string {
	switch len(is) {
	case 0:
		return ErrInvalid.Error()
	case 1:
		return ErrInvalid.Error() + ": " + is[0].String()
	}
	lines := make([]string, len(is))
	for i, issue := range is {
		lines[i] = "  - " + issue.String()
	}
	return fmt.Sprintf("%s (%d issues):\n%s", ErrInvalid, len(is), strings.Join(lines, "\n"))
}

func (is Issues) Unwrap() error {
	return ErrInvalid
}

var (
	compileOnce sync.Once
	compiled    *schema.Validator
	compileErr  error
)

func alertSchema() (*schema.Validator, error) {
	compileOnce.Do(func() {
		if len(schemasassets.AlertManifestSchema) == 0 {
			compileErr = errors.New("embedded alert-manifest schema is empty")
			return
		}
		compiled, compileErr = schema.NewValidator(schemasassets.AlertManifestSchema)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile alert-manifest schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// ValidateRaw checks JSON against the embedded alert-manifest schema.
//
// Unknown properties are rejected, so call it on the original input rather
// than on a re-encoded Manifest when strictness matters.
func ValidateRaw(jsonData []byte) error {
	v, err := alertSchema()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	var issues Issues
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			issues = append(issues, Issue{Pointer: d.Pointer, Message: d.Message})
		}
	}
	if len(issues) == 0 {
		return nil
	}
	return issues
}

// Validate checks m against the schema and the cross-field rules.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := ValidateRaw(data); err != nil {
		return err
	}
	return checkRules(m)
}

// checkRules enforces what the schema cannot express: every workspace is
// polled once, and run-name globs compile.
func checkRules(m *Manifest) error {
	var issues Issues

	seen := make(map[string]int, len(m.Workspaces))
	for i, ws := range m.Workspaces {
		u, ok := workspace.Normalize(ws.URL)
		if !ok {
			continue
		}
		u = strings.ToLower(u)
		if first, dup := seen[u]; dup {
			issues = append(issues, Issue{
				Pointer: fmt.Sprintf("/workspaces/%d/url", i),
				Message: fmt.Sprintf("same workspace as /workspaces/%d/url", first),
			})
			continue
		}
		seen[u] = i
	}

	if rn := m.Check.RunNames; rn != nil {
		issues = append(issues, badGlobs("/check/run_names/includes", rn.Includes)...)
		issues = append(issues, badGlobs("/check/run_names/excludes", rn.Excludes)...)
	}

	if len(issues) == 0 {
		return nil
	}
	return issues
}

func badGlobs(pointer string, patterns []string) []Issue {
	var out []Issue
	for i, p := range patterns {
		if p = strings.TrimSpace(p); p != "" && !doublestar.ValidatePattern(p) {
			out = append(out, Issue{
				Pointer: fmt.Sprintf("%s/%d", pointer, i),
				Message: fmt.Sprintf("invalid glob pattern %q", p),
			})
		}
	}
	return out
}
