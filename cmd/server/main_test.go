package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScenariosCommandListsEmbeddedCatalog(t *testing.T) {
	out, err := execute(t, "scenarios")
	require.NoError(t, err)
	assert.Contains(t, out, "Restaurant Ordering")
	assert.Contains(t, out, "FREE 3, STANDARD 15, PREMIUM ∞")
}

func TestScenariosCommandRejectsInvalidCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenarios: []\n"), 0o644))

	_, err := execute(t, "scenarios", "--catalog", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "aexy version dev\n", out)
}
