package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atomledger/internal/harness"
)

const scenariosDir = "../harness/testdata/scenarios"

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := execute(t, "", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentDir(t *testing.T) {
	_, err := execute(t, "", "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios not found")
}

func TestTestCommandRunsScenarios(t *testing.T) {
	out, err := execute(t, "", "test", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ late_arrival")
	assert.Contains(t, out, "✓ split_lineage")
	assert.Contains(t, out, "2 passed, 0 failed, 2 total")
}

func TestTestCommandFilter(t *testing.T) {
	out, err := execute(t, "", "test", scenariosDir, "--filter", "split_*", "--format", "json")
	require.NoError(t, err)

	var res harness.SuiteResult
	decodeData(t, out, &res)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, []string{"split_lineage"}, res.Scenarios)

	_, err = execute(t, "", "test", scenariosDir, "--filter", "[")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := execute(t, "", "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandFailureExitCode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
name: expects_rejection
description: "a valid created event expected to be rejected"
flow:
  - op: append
    event:
      atom_uid: `+uidA+`
      atom_key: acme/deploy/v1/build/all/001
      event_type: created
    expect: { outcome: rejected }
assertions:
  - type: watermark
`), 0o644))

	out, err := execute(t, "", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ expects_rejection")
	assert.Contains(t, out, "expected outcome rejected, got inserted")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}
