package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uidA = "01HZY3K8Q2M4N6P8R0T2V4X6ZA"
	uidB = "01HZY3K8Q2M4N6P8R0T2V4X6ZB"
	uidC = "01HZY3K8Q2M4N6P8R0T2V4X6ZC"
)

// execute runs the root command with args and returns stdout and the error.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, diag bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&diag)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// decodeData unmarshals the data field of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "ledger.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "atomledger", cmd.Use)
	assert.Contains(t, cmd.Long, "atom_uid")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"append"}, {"validate"}, {"register"}, {"build-index"}, {"export-index"},
		{"state"}, {"history"}, {"deps"}, {"verify"}, {"watch"}, {"new-id"},
		{"key", "build"}, {"key", "parse"}, {"test"},
	}

	for _, path := range commands {
		name := strings.Join(path, " ")
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %s should exist", name)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "", "new-id", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestUnknownFlagIsCommandError(t *testing.T) {
	_, err := execute(t, "", "new-id", "--no-such-flag")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigFileSetsDatabase(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-config.db")
	cfgFile := filepath.Join(dir, "atomledger.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("db: "+db+"\nbatch_size: 7\n"), 0o644))

	out, err := execute(t, "", "build-index", "--config", cfgFile, "--format", "json")
	require.NoError(t, err)

	var data map[string]any
	decodeData(t, out, &data)
	assert.Equal(t, "incremental", data["mode"])
	assert.FileExists(t, db)
}

func TestInvalidConfigIsCommandError(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "atomledger.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("verify_cron: \"not a cron\"\n"), 0o644))

	_, err := execute(t, "", "new-id", "--config", cfgFile)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "verify_cron")
}

func TestNewID(t *testing.T) {
	out, err := execute(t, "", "new-id", "-n", "3")
	require.NoError(t, err)

	ids := strings.Fields(out)
	require.Len(t, ids, 3)
	assert.NotEqual(t, ids[0], ids[1])
	for _, id := range ids {
		assert.Len(t, id, 26)
	}

	_, err = execute(t, "", "new-id", "-n", "0")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestKeyBuildAndParse(t *testing.T) {
	out, err := execute(t, "", "key", "build",
		"--ns", "acme", "--workflow", "onboard", "--version", "2",
		"--phase", "intake", "--lane", "ops", "--seq", "10", "--revision", "3")
	require.NoError(t, err)
	assert.Equal(t, "acme/onboard/v2/intake/ops/010-r3\n", out)

	out, err = execute(t, "", "key", "parse", "acme/onboard/v2/intake/ops/010-r3", "--format", "json")
	require.NoError(t, err)
	var parts map[string]any
	decodeData(t, out, &parts)
	assert.Equal(t, "acme/onboard/v2", parts["scope"])
	assert.EqualValues(t, 10, parts["seq"])
	assert.EqualValues(t, 3, parts["revision"])

	_, err = execute(t, "", "key", "parse", "Acme/onboard")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
