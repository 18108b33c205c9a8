package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesImportDryRun(t *testing.T) {
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"rules", "import", "--dry-run", filepath.Join("..", "..", "internal", "rules", "testdata", "rules.yaml")})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "(not imported)")
}

func TestRulesImportRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: r1\n    team: ghost\n"), 0o600))

	root := NewRootCmd()
	root.SetArgs([]string{"rules", "import", "--dry-run", path})
	assert.ErrorContains(t, root.Execute(), "unknown team")
}

func TestReadReviewers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "u1", "name": "Carol"}, {"id": "u2", "name": "Bob", "active": false}]`), 0o600))

	reviewers, err := readReviewers(path)
	require.NoError(t, err)
	require.Len(t, reviewers, 2)
	assert.True(t, reviewers[0].Active)
	assert.False(t, reviewers[1].Active)
}

func TestRouteRequiresCaseID(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"route"})
	assert.Error(t, root.Execute())
}
