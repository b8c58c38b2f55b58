package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alerts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestManifestValidate(t *testing.T) {
	path := writeManifest(t, `version: "1.0"
workspaces:
  - url: https://a.cloud.example.com
    token: {env: WS_A_TOKEN}
check:
  older_than_hours: 6
archive:
  uri: file:///tmp/runwatch-reports
`)

	var out bytes.Buffer
	manifestValidateCmd.SetOut(&out)
	t.Cleanup(func() { manifestValidateCmd.SetOut(nil) })

	require.NoError(t, runManifestValidate(manifestValidateCmd, []string{path}))
	assert.Contains(t, out.String(), "is valid")
	assert.Contains(t, out.String(), "workspaces:       1")
	assert.Contains(t, out.String(), "older than hours: 6")
	assert.Contains(t, out.String(), "file:///tmp/runwatch-reports")
}

func TestManifestValidate_Invalid(t *testing.T) {
	path := writeManifest(t, `version: "1.0"
workspaces: []
unknown: true
`)

	err := runManifestValidate(manifestValidateCmd, []string{path})
	require.Error(t, err)
	assert.Equal(t, int(foundry.ExitInvalidArgument), exitCode(err))
}
