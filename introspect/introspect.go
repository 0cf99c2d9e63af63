// Package introspect reads Meson's introspection data for a build
// directory, preferring the cached meson-info snapshot and falling back to
// running `meson introspect`.
package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesonbuild/vscode-meson-sub000/task"
	"github.com/mesonbuild/vscode-meson-sub000/version"
)

// InfoDir is the snapshot directory Meson writes inside a build directory.
const InfoDir = "meson-info"

// TargetSource is one compilation group of a target.
type TargetSource struct {
	Language         string   `json:"language"`
	Compiler         []string `json:"compiler"`
	Parameters       []string `json:"parameters"`
	Sources          []string `json:"sources"`
	GeneratedSources []string `json:"generated_sources"`
}

// Target is a build target.
type Target struct {
	Name           string         `json:"name"`
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	DefinedIn      string         `json:"defined_in"`
	Filename       []string       `json:"filename"`
	BuildByDefault bool           `json:"build_by_default"`
	TargetSources  []TargetSource `json:"target_sources"`
	ExtraFiles     []string       `json:"extra_files"`
	Subproject     *string        `json:"subproject"`
	Installed      bool           `json:"installed"`
}

// Test is a registered test or benchmark.
type Test struct {
	Name       string            `json:"name"`
	Suite      []string          `json:"suite"`
	Cmd        []string          `json:"cmd"`
	Env        map[string]string `json:"env"`
	IsParallel bool              `json:"is_parallel"`
	Protocol   string            `json:"protocol"`
	Timeout    int               `json:"timeout"`
	Workdir    *string           `json:"workdir"`
	Depends    []string          `json:"depends"`
}

// BuildOption is a configurable project or builtin option.
type BuildOption struct {
	Name        string          `json:"name"`
	Value       json.RawMessage `json:"value"`
	Section     string          `json:"section"`
	Machine     string          `json:"machine"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Choices     []string        `json:"choices,omitempty"`
}

// Snapshot is everything loaded in one pass.
type Snapshot struct {
	Targets      []Target
	Tests        []Test
	BuildOptions []BuildOption
}

// Introspector loads introspection data. Runner is only used when the
// snapshot file for a query is missing.
type Introspector struct {
	Meson  string
	Runner task.Runner
	Logger *zap.SugaredLogger
}

// New returns an introspector that invokes meson through runner.
func New(meson string, runner task.Runner, logger *zap.SugaredLogger) *Introspector {
	if meson == "" {
		meson = "meson"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Introspector{Meson: meson, Runner: runner, Logger: logger}
}

// Targets lists build targets.
func (i *Introspector) Targets(ctx context.Context, buildDir string) ([]Target, error) {
	var out []Target
	err := i.load(ctx, buildDir, "intro-targets.json", "--targets", &out)
	return out, err
}

// Tests lists tests.
func (i *Introspector) Tests(ctx context.Context, buildDir string) ([]Test, error) {
	var out []Test
	err := i.load(ctx, buildDir, "intro-tests.json", "--tests", &out)
	return out, err
}

// Benchmarks lists benchmarks.
func (i *Introspector) Benchmarks(ctx context.Context, buildDir string) ([]Test, error) {
	var out []Test
	err := i.load(ctx, buildDir, "intro-benchmarks.json", "--benchmarks", &out)
	return out, err
}

// BuildOptions lists build options.
func (i *Introspector) BuildOptions(ctx context.Context, buildDir string) ([]BuildOption, error) {
	var out []BuildOption
	err := i.load(ctx, buildDir, "intro-buildoptions.json", "--buildoptions", &out)
	return out, err
}

// Snapshot loads targets, tests and build options concurrently.
func (i *Introspector) Snapshot(ctx context.Context, buildDir string) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		targets, err := i.Targets(gctx, buildDir)
		snap.Targets = targets
		return err
	})
	g.Go(func() error {
		tests, err := i.Tests(gctx, buildDir)
		snap.Tests = tests
		return err
	})
	g.Go(func() error {
		opts, err := i.BuildOptions(gctx, buildDir)
		snap.BuildOptions = opts
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// IsConfigured reports whether buildDir holds a Meson snapshot.
func IsConfigured(buildDir string) bool {
	info, err := os.Stat(filepath.Join(buildDir, InfoDir, "meson-info.json"))
	return err == nil && !info.IsDir()
}

// MesonVersion returns the Meson version that configured buildDir, or the
// installed meson's version when the directory is not configured.
func (i *Introspector) MesonVersion(ctx context.Context, buildDir string) (version.Version, error) {
	if buildDir != "" {
		data, err := os.ReadFile(filepath.Join(buildDir, InfoDir, "meson-info.json"))
		if err == nil {
			return versionFromInfo(data)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return version.Version{}, err
		}
	}
	if i.Runner == nil {
		return version.Version{}, errors.New("meson-info.json missing and no runner configured")
	}
	res, err := i.Runner.Run(ctx, task.Command{Program: i.Meson, Args: []string{"--version"}})
	if err != nil {
		return version.Version{}, err
	}
	return version.ParseRelease(res.Stdout)
}

func versionFromInfo(data []byte) (version.Version, error) {
	if !gjson.ValidBytes(data) {
		return version.Version{}, errors.New("meson-info.json is not valid JSON")
	}
	mv := gjson.GetBytes(data, "meson_version")
	if v, err := version.ParseRelease(mv.Get("full").String()); err == nil {
		return v, nil
	}
	if !mv.Get("major").Exists() {
		return version.Version{}, errors.New("meson-info.json has no meson_version")
	}
	return version.New(int(mv.Get("major").Int()), int(mv.Get("minor").Int()), int(mv.Get("patch").Int()))
}

func (i *Introspector) load(ctx context.Context, buildDir, file, flag string, out any) error {
	path := filepath.Join(buildDir, InfoDir, file)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		i.Logger.Debugw("reading introspection snapshot", "file", path)
	case errors.Is(err, os.ErrNotExist):
		if i.Runner == nil {
			return fmt.Errorf("%s missing and no runner configured", path)
		}
		res, runErr := i.Runner.Run(ctx, task.Command{
			Program: i.Meson,
			Args:    []string{"introspect", flag, buildDir},
		})
		if runErr != nil {
			return fmt.Errorf("meson introspect %s: %w", flag, runErr)
		}
		data = []byte(res.Stdout)
	default:
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}
	return nil
}
