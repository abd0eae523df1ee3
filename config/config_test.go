package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with no LIBRARY_* variables set.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, k := range []string{
		"LIBRARY_DB",
		"LIBRARY_EXPORT_FILE",
		"LIBRARY_AUTOSAVE_FILE",
		"LIBRARY_AUTOSAVE_INTERVAL",
		"LIBRARY_LOG_LEVEL",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 10*time.Second, cfg.AutoSaveInterval)
	assert.NotEqual(t, cfg.ExportFile, cfg.AutoSaveFile)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database: catalog.db
autosave_file: snapshots/auto.json
autosave_interval: 2m30s
log_level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "catalog.db", cfg.DatabasePath)
	assert.Equal(t, "snapshots/auto.json", cfg.AutoSaveFile)
	assert.Equal(t, 150*time.Second, cfg.AutoSaveInterval)
	assert.Equal(t, "books.json", cfg.ExportFile)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: from-file.db\n"), 0o600))

	t.Setenv("LIBRARY_DB", "from-env.db")
	t.Setenv("LIBRARY_AUTOSAVE_INTERVAL", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DatabasePath)
	assert.Equal(t, 250*time.Millisecond, cfg.AutoSaveInterval)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LIBRARY_EXPORT_FILE=out.json\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "out.json", cfg.ExportFile)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "zero interval", yaml: "autosave_interval: 0s\n"},
		{name: "negative interval", env: map[string]string{"LIBRARY_AUTOSAVE_INTERVAL": "-1s"}},
		{name: "bad interval", env: map[string]string{"LIBRARY_AUTOSAVE_INTERVAL": "soon"}},
		{name: "same files", yaml: "export_file: books.json\nautosave_file: ./books.json\n"},
		{name: "bad level", yaml: "log_level: loud\n"},
		{name: "empty database", yaml: "database: \"  \"\n"},
		{name: "malformed yaml", yaml: "database: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := ""
			if tt.yaml != "" {
				path = filepath.Join(dir, "library.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
