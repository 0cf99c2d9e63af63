// Package formatter formats meson.build files with `meson format`.
package formatter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mesonbuild/vscode-meson-sub000/task"
	"github.com/mesonbuild/vscode-meson-sub000/version"
)

var (
	// MinimumVersion is the first Meson release with a format command.
	MinimumVersion = version.MustNew(1, 5, 0)
	// StdinVersion is the first Meson release that formats stdin ("-").
	StdinVersion = version.MustNew(1, 7, 0)
)

// ErrUnsupported is returned when the Meson in use cannot format.
var ErrUnsupported = errors.New("meson format requires meson 1.5.0 or newer")

// ConfigName is the formatter configuration Meson looks for.
const ConfigName = "meson.format"

// Meson runs `meson format` through a task runner.
type Meson struct {
	Meson   string
	Runner  task.Runner
	Version version.Version
	// ConfigFile is passed with -c when set.
	ConfigFile string
	Logger     *zap.SugaredLogger
}

// New returns a formatter for the given meson executable and version. A
// meson.format file in workspace is used as configuration when present.
func New(meson string, v version.Version, runner task.Runner, workspace string, logger *zap.SugaredLogger) *Meson {
	if meson == "" {
		meson = "meson"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	f := &Meson{Meson: meson, Runner: runner, Version: v, Logger: logger}
	if workspace != "" {
		cfg := filepath.Join(workspace, ConfigName)
		if info, err := os.Stat(cfg); err == nil && !info.IsDir() {
			f.ConfigFile = cfg
		}
	}
	return f
}

// UsesStdin reports whether content is piped rather than read from disk.
func (f *Meson) UsesStdin() bool {
	return f.Version.AtLeast(StdinVersion)
}

// Format returns the formatted text of path. On Meson versions that read
// stdin, content is formatted; older versions format the file on disk.
func (f *Meson) Format(ctx context.Context, path, content string) (string, error) {
	if !f.Version.AtLeast(MinimumVersion) {
		return "", fmt.Errorf("%w (found %s)", ErrUnsupported, f.Version)
	}
	args := []string{"format"}
	if f.ConfigFile != "" {
		args = append(args, "-c", f.ConfigFile)
	}
	cmd := task.Command{Program: f.Meson, Dir: filepath.Dir(path)}
	if f.UsesStdin() {
		cmd.Args = append(args, "-")
		cmd.Input = content
	} else {
		cmd.Args = append(args, path)
	}
	f.Logger.Debugw("formatting", "file", path, "command", cmd.String(), "stdin", f.UsesStdin())
	res, err := f.Runner.Run(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("format %s: %w", filepath.Base(path), err)
	}
	return res.Stdout, nil
}
