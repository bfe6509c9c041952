package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "  Add Stock Index! ")
	require.NoError(t, err)
	assert.Regexp(t, `^\d{14}_add_stock_index\.sql$`, filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), upMarker)
	assert.Contains(t, string(data), "-- rollback add_stock_index")
	require.NoError(t, ValidateDir(dir))
}

func TestCreateRejectsUnusableName(t *testing.T) {
	_, err := CreateSQLMigration(t.TempDir(), "!!!")
	assert.Error(t, err)
}

func TestCreateRejectsVersionNotAfterLatest(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	_, err := createAt(dir, "first", at)
	require.NoError(t, err)
	_, err = createAt(dir, "second", at)
	assert.ErrorContains(t, err, "not after latest")

	_, err = createAt(dir, "second", at.Add(time.Second))
	assert.NoError(t, err)
}

func TestValidateFS(t *testing.T) {
	good := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	tests := []struct {
		name    string
		files   fstest.MapFS
		wantErr string
	}{
		{"valid", fstest.MapFS{"20260105090000_a.sql": {Data: []byte(good)}, "README.md": {Data: []byte("x")}}, ""},
		{"empty", fstest.MapFS{}, "no migrations"},
		{"bad name", fstest.MapFS{"bad-name.sql": {Data: []byte(good)}}, "invalid migration filename"},
		{"duplicate version", fstest.MapFS{
			"20260105090000_a.sql": {Data: []byte(good)},
			"20260105090000_b.sql": {Data: []byte(good)},
		}, "duplicate migration version"},
		{"missing down", fstest.MapFS{"20260105090000_a.sql": {Data: []byte("-- +goose Up\n")}}, "missing"},
		{"down first", fstest.MapFS{"20260105090000_a.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")}}, "Down before Up"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFS(tt.files)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSourceUsesEmbeddedSetForDefaultDir(t *testing.T) {
	for _, dir := range []string{"", DefaultDir, DefaultDir + "/"} {
		fsys, err := Source(dir)
		require.NoError(t, err)
		files, err := listMigrations(fsys)
		require.NoError(t, err)
		assert.NotEmpty(t, files, dir)
	}

	_, err := Source(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
