package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShippedMigrationsValidate(t *testing.T) {
	require.NoError(t, Validate(Embedded()))
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	embeddedFiles, err := fs.Glob(Embedded(), "*.sql")
	require.NoError(t, err)

	onDisk, err := fs.Glob(Source("migrations"), "*.sql")
	require.NoError(t, err)
	assert.Equal(t, onDisk, embeddedFiles)
}

func TestValidateRejects(t *testing.T) {
	valid := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	cases := []struct {
		name  string
		files fstest.MapFS
		want  string
	}{
		{"unversioned name", fstest.MapFS{"create_things.sql": {Data: []byte(valid)}}, "name must look like"},
		{"impossible timestamp", fstest.MapFS{"20261399000000_things.sql": {Data: []byte(valid)}}, "timestamp"},
		{"duplicate version", fstest.MapFS{
			"20260101000000_a.sql": {Data: []byte(valid)},
			"20260101000000_b.sql": {Data: []byte(valid)},
		}, "share version"},
		{"missing down", fstest.MapFS{"20260101000000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}}, "+goose Down"},
		{"down first", fstest.MapFS{"20260101000000_a.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")}}, "precedes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.files)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
	assert.NoError(t, Validate(fstest.MapFS{"README.md": {Data: []byte("notes")}}))
}

func TestCreateWritesValidSkeleton(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	path, err := Create(dir, "Add Partnership Notes!", now)
	require.NoError(t, err)
	assert.Equal(t, "20260304050607_add_partnership_notes.sql", filepath.Base(path))
	require.NoError(t, Validate(os.DirFS(dir)))

	_, err = Create(dir, "add partnership notes", now)
	assert.Error(t, err, "same version and name must not overwrite")

	_, err = Create(dir, "!!!", now)
	assert.Error(t, err)
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("20260105090200")
	require.NoError(t, err)
	assert.EqualValues(t, 20260105090200, v)

	_, err = ParseVersion("2026")
	assert.Error(t, err)
}

func TestPartnershipMigrationGuardsOpenPairs(t *testing.T) {
	sql := readMigration(t, "create_partnerships")

	assert.Contains(t, sql, "LEAST(user1_id, user2_id), GREATEST(user1_id, user2_id)")
	assert.Contains(t, sql, "WHERE status <> 'ended'")
	assert.Contains(t, sql, "CHECK (user1_id <> user2_id)")
}

func TestGoalMigrationLimitsActiveGoals(t *testing.T) {
	sql := readMigration(t, "create_goals_and_check_ins")

	assert.Contains(t, sql, "idx_goals_one_active")
	assert.Contains(t, sql, "WHERE status = 'active'")
	assert.Contains(t, sql, "duration_minutes BETWEEN 5 AND 240")
}

func TestEnumMigrationIsRerunnable(t *testing.T) {
	sql := readMigration(t, "create_enum_types")

	assert.Equal(t, strings.Count(sql, "CREATE TYPE"), strings.Count(sql, "EXCEPTION WHEN duplicate_object"))
	assert.Contains(t, sql, "'pending', 'trial', 'active', 'ended'")
}

func readMigration(t *testing.T, suffix string) string {
	t.Helper()

	matches, err := fs.Glob(Embedded(), "*_"+suffix+".sql")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	b, err := fs.ReadFile(Embedded(), matches[0])
	require.NoError(t, err)
	return string(b)
}
