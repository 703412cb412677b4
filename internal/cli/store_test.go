package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and captures its output.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "liftgate.db")
}

func TestStoreSetAndGet(t *testing.T) {
	db := testDBPath(t)

	out, _, err := executeCommand(t, "store", "set", "--db", db, "training_program", `{"id":"p1","weeks":4}`)
	require.NoError(t, err)
	assert.Contains(t, out, `✓ stored "training_program"`)

	out, _, err = executeCommand(t, "store", "get", "--db", db, "training_program")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p1","weeks":4}`, out)
}

func TestStoreGet_MissingKey(t *testing.T) {
	db := testDBPath(t)

	out, _, err := executeCommand(t, "store", "get", "--db", db, "training_program")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
	assert.Contains(t, out, "key not found")
}

func TestStoreGet_JSONFormat(t *testing.T) {
	db := testDBPath(t)

	_, _, err := executeCommand(t, "store", "set", "--db", db, "workout_logs", `[{"date":"2025-03-01"}]`)
	require.NoError(t, err)

	out, _, err := executeCommand(t, "--format", "json", "store", "get", "--db", db, "workout_logs")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   storeDocument `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "workout_logs", resp.Data.Key)
	assert.JSONEq(t, `[{"date":"2025-03-01"}]`, string(resp.Data.Value))
}

func TestStoreSet_InvalidJSON(t *testing.T) {
	db := testDBPath(t)

	out, _, err := executeCommand(t, "store", "set", "--db", db, "training_program", `{broken`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]")
	assert.Contains(t, out, "not valid JSON")
}

func TestStoreSet_NormalizesKey(t *testing.T) {
	db := testDBPath(t)

	// "cafe" + combining acute accent; the store folds it to the composed form.
	_, _, err := executeCommand(t, "store", "set", "--db", db, "café", `{"v":1}`)
	require.NoError(t, err)

	out, _, err := executeCommand(t, "store", "get", "--db", db, "café")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, out)
}

func TestStoreRemove(t *testing.T) {
	db := testDBPath(t)

	_, _, err := executeCommand(t, "store", "set", "--db", db, "draft", `{"dirty":true}`)
	require.NoError(t, err)

	out, _, err := executeCommand(t, "store", "remove", "--db", db, "draft")
	require.NoError(t, err)
	assert.Contains(t, out, `✓ removed "draft"`)

	_, _, err = executeCommand(t, "store", "get", "--db", db, "draft")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestStoreRemove_AbsentKeyIsNoop(t *testing.T) {
	db := testDBPath(t)

	_, _, err := executeCommand(t, "store", "remove", "--db", db, "never_written")
	require.NoError(t, err)
}

func TestStoreKeys(t *testing.T) {
	db := testDBPath(t)

	_, _, err := executeCommand(t, "store", "set", "--db", db, "workout_logs", `[]`)
	require.NoError(t, err)
	_, _, err = executeCommand(t, "store", "set", "--db", db, "training_program", `{"id":"p1"}`)
	require.NoError(t, err)

	out, _, err := executeCommand(t, "store", "keys", "--db", db)
	require.NoError(t, err)
	// Lexical order
	assert.Equal(t, "training_program\nworkout_logs\n", out)
}

func TestStoreKeys_Empty(t *testing.T) {
	db := testDBPath(t)

	out, _, err := executeCommand(t, "store", "keys", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "(no keys)")
}

func TestStoreKeys_JSONFormat(t *testing.T) {
	db := testDBPath(t)

	out, _, err := executeCommand(t, "--format", "json", "store", "keys", "--db", db)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   storeKeyList `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Data.Count)
	assert.NotNil(t, resp.Data.Keys)
}

func TestStore_RequiresDBFlag(t *testing.T) {
	_, _, err := executeCommand(t, "store", "keys")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"db"`)
}
