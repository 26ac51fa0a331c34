package traceconfig

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remram44/reprozip-go/pkg/tracelog"
)

func resolve(t *testing.T, args []string) Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	f := RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	cfg, err := f.Resolve()
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := resolve(t, nil)
	assert.Equal(t, "trace.sqlite3", cfg.DatabasePath)
	assert.Equal(t, tracelog.Warn, cfg.Verbosity)
	assert.Empty(t, cfg.Arg0)
}

func TestVerbosityFlags(t *testing.T) {
	assert.Equal(t, tracelog.Warn, resolve(t, nil).Verbosity)
	assert.Equal(t, tracelog.Info, resolve(t, []string{"-v"}).Verbosity)
	assert.Equal(t, tracelog.Debug, resolve(t, []string{"-v", "-v"}).Verbosity)
	assert.Equal(t, tracelog.Trace, resolve(t, []string{"-v", "-v", "-v"}).Verbosity)
}

func TestFlagOutputOverridesFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "reprozip.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`database_path = "from-file.sqlite3"`+"\n"), 0644))

	cfg := resolve(t, []string{"-config", configPath})
	assert.Equal(t, "from-file.sqlite3", cfg.DatabasePath)

	cfg = resolve(t, []string{"-config", configPath, "-output", "from-flag.sqlite3"})
	assert.Equal(t, "from-flag.sqlite3", cfg.DatabasePath)
}
