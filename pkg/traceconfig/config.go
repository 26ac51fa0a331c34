// Package traceconfig holds the settings the reprozip CLI gathers from
// flags and an optional TOML file before starting a trace, following
// the teacher's flag-registration-then-struct-population convention
// (runsc/config/flags.go).
package traceconfig

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/remram44/reprozip-go/pkg/tracelog"
)

// Config is the fully-resolved set of knobs a trace run needs.
type Config struct {
	// DatabasePath is where the sqlitedb.Recorder writes the trace.
	DatabasePath string
	// Verbosity controls tracelog's log level.
	Verbosity tracelog.Verbosity
	// Arg0 overrides argv[0] as seen by the traced program, if non-empty.
	Arg0 string
}

// fileOverlay is the shape of an optional TOML config file; any field
// left unset (zero value) does not override a flag-provided value.
type fileOverlay struct {
	DatabasePath string `toml:"database_path"`
	Verbosity    int    `toml:"verbosity"`
}

// verbosityCounter implements flag.Value so that "-v" can be repeated on
// the command line, each occurrence raising the verbosity by one level
// (spec §6: 0=warnings, 1=info, 2=debug, 3+=trace), the same counter-flag
// idiom runsc uses for its own repeated debug flags.
type verbosityCounter int

func (c *verbosityCounter) String() string { return fmt.Sprintf("%d", int(*c)) }

// Set is called once per occurrence of the flag; a bare "-v" (no value)
// increments the counter, while "-v=N" sets it directly.
func (c *verbosityCounter) Set(s string) error {
	if s == "" || s == "true" {
		*c++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid verbosity %q: %w", s, err)
	}
	*c = verbosityCounter(n)
	return nil
}

// IsBoolFlag tells the flag package that "-v" alone (without "=value") is
// valid, so repeating it doesn't require "-v=true -v=true".
func (c *verbosityCounter) IsBoolFlag() bool { return true }

// RegisterFlags installs reprozip's flags onto fs, mirroring the
// teacher's RegisterFlags(flagSet) shape of "register everything, let
// the caller parse, then read values back out."
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Output, "output", "trace.sqlite3", "path to the trace database to create.")
	fs.StringVar(&f.Arg0, "arg0", "", "override argv[0] as seen by the traced program.")
	fs.StringVar(&f.ConfigFile, "config", "", "optional TOML file overlaying these flags.")
	fs.Var(&f.Verbosity, "v", "raise verbosity; repeatable (0=warnings, 1=info, 2=debug, 3+=trace).")
	return f
}

// Flags is the destination RegisterFlags populates; call Resolve after
// fs.Parse to get a Config.
type Flags struct {
	Output     string
	Arg0       string
	ConfigFile string
	Verbosity  verbosityCounter
}

// Resolve turns parsed flags (and an optional TOML overlay) into a
// Config. A TOML file's database_path/verbosity only apply when the
// corresponding flag was left at its default, so an explicit
// command-line flag always wins.
func (f *Flags) Resolve() (Config, error) {
	cfg := Config{
		DatabasePath: f.Output,
		Arg0:         f.Arg0,
		Verbosity:    tracelog.Verbosity(f.Verbosity),
	}

	if f.ConfigFile == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(f.ConfigFile)
	if err != nil {
		return Config{}, fmt.Errorf("traceconfig: reading %s: %w", f.ConfigFile, err)
	}
	var overlay fileOverlay
	if err := toml.Unmarshal(data, &overlay); err != nil {
		return Config{}, fmt.Errorf("traceconfig: parsing %s: %w", f.ConfigFile, err)
	}

	if f.Output == "trace.sqlite3" && overlay.DatabasePath != "" {
		cfg.DatabasePath = overlay.DatabasePath
	}
	if f.Verbosity == 0 && overlay.Verbosity > 0 {
		cfg.Verbosity = tracelog.Verbosity(overlay.Verbosity)
	}

	return cfg, nil
}
