package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand(&out)
	root.SetArgs(args)
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCreateThenValidate(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, "create", "--dir", dir, "add", "goal", "tags")
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.True(t, strings.HasSuffix(path, "_add_goal_tags.sql"))
	_, err = os.Stat(path)
	require.NoError(t, err)

	out, err = run(t, "validate", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "migrations valid")
}

func TestValidateEmbeddedByDefault(t *testing.T) {
	_, err := run(t, "validate")
	assert.NoError(t, err)
}

func TestValidateFailsOnBadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oops.sql"), []byte("-- +goose Up\n"), 0o644))

	_, err := run(t, "validate", "--dir", dir)
	assert.Error(t, err)
}

func TestToRequiresVersionArgument(t *testing.T) {
	_, err := run(t, "to")
	assert.Error(t, err)
}
