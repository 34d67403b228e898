package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/atomledger/internal/validate"
)

func TestValidateValidDefinitions(t *testing.T) {
	out, err := execute(t, "", "validate", writeDefs(t), "--db", tempDB(t))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All definitions valid (2 atoms)")
}

func TestValidateValidDefinitionsJSON(t *testing.T) {
	out, err := execute(t, "", "validate", writeDefs(t), "--offline", "--format", "json")
	require.NoError(t, err)

	var data map[string]any
	decodeData(t, out, &data)
	assert.Equal(t, true, data["valid"])
	assert.EqualValues(t, 2, data["definitions"])
}

func TestValidateReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cycle.yaml"), []byte(`
atoms:
  - atom_uid: `+uidA+`
    atom_key: acme/deploy/v1/build/all/001
    title: Build
    role: builder
    deps: [`+uidB+`]
  - atom_uid: `+uidB+`
    atom_key: acme/deploy/v1/build/all/001
    title: Test
    role: tester
    deps: [`+uidA+`]
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("atoms: [\n"), 0o644))

	out, err := execute(t, "", "validate", dir, "--offline", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Details []validate.ValidationError `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)

	codes := map[string]bool{}
	for _, e := range resp.Error.Details {
		codes[e.Code] = true
	}
	assert.True(t, codes[validate.ErrLoadFailed], "unreadable file: %v", resp.Error.Details)
	assert.True(t, codes[validate.ErrKeyCollision], "key collision: %v", resp.Error.Details)
	assert.True(t, codes[validate.ErrCycle], "cycle: %v", resp.Error.Details)
}

func TestValidateAgainstLedger(t *testing.T) {
	db := tempDB(t)
	defs := writeDefs(t)
	_, err := execute(t, "", "register", defs, "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "", "validate", defs, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "[E210]")

	_, err = execute(t, "", "validate", defs, "--db", db, "--allow-existing")
	require.NoError(t, err)

	_, err = execute(t, "", "validate", defs, "--db", db, "--offline")
	require.NoError(t, err)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	_, err := execute(t, "", "validate", filepath.Join(t.TempDir(), "missing"), "--offline")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "definitions directory not found")
}
