package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"church-assistant/internal/knowledge"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedCountSearch(t *testing.T) {
	db := filepath.Join(t.TempDir(), "kb.db")

	out, err := run(t, "--db", db, "seed")
	require.NoError(t, err)
	var res knowledge.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, 40, res.Added)
	require.False(t, res.Skipped)

	out, err = run(t, "--db", db, "seed")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.Skipped)
	require.Equal(t, 40, res.Existing)

	out, err = run(t, "--db", db, "count")
	require.NoError(t, err)
	require.Equal(t, "40", strings.TrimSpace(out))

	out, err = run(t, "--db", db, "search", "Je", "cherche", "la", "paix")
	require.NoError(t, err)
	var results []searchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	require.LessOrEqual(t, len(results), 3)
	for i := 1; i < len(results); i++ {
		require.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSeed_FileAndForce(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "kb.db")
	seed := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte("entries:\n  - id: a\n    title: Espérance\n    content: L'espérance ne déçoit pas.\n"), 0o600))

	_, err := run(t, "--db", db, "seed")
	require.NoError(t, err)

	out, err := run(t, "--db", db, "seed", "--file", seed, "--force")
	require.NoError(t, err)
	var res knowledge.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, 1, res.Added)

	out, err = run(t, "--db", db, "count")
	require.NoError(t, err)
	require.Equal(t, "41", strings.TrimSpace(out))
}

func TestSearch_EmptyStorePrintsEmptyList(t *testing.T) {
	out, err := run(t, "--db", filepath.Join(t.TempDir(), "kb.db"), "search", "paix")
	require.NoError(t, err)
	require.Equal(t, "[]", strings.TrimSpace(out))
}

func TestUnknownStore(t *testing.T) {
	_, err := run(t, "--store", "mongo", "count")
	require.ErrorContains(t, err, "unknown store")
}

func TestSeed_BadFile(t *testing.T) {
	_, err := run(t, "--db", filepath.Join(t.TempDir(), "kb.db"), "seed", "--file", "missing.yaml")
	require.Error(t, err)
}
