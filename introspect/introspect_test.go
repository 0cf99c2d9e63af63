package introspect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesonbuild/vscode-meson-sub000/task"
	"github.com/mesonbuild/vscode-meson-sub000/version"
)

type fakeRunner struct {
	mu      sync.Mutex
	outputs map[string]string
	err     error
	calls   []task.Command
}

func (r *fakeRunner) Run(_ context.Context, cmd task.Command) (task.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd)
	if r.err != nil {
		return task.Result{ExitCode: 1}, r.err
	}
	return task.Result{Stdout: r.outputs[cmd.String()]}, nil
}

func writeInfo(t *testing.T, buildDir, name, content string) {
	t.Helper()
	dir := filepath.Join(buildDir, InfoDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const targetsJSON = `[
  {
    "name": "app",
    "id": "app@exe",
    "type": "executable",
    "defined_in": "/src/meson.build",
    "filename": ["/src/builddir/app"],
    "build_by_default": true,
    "target_sources": [
      {"language": "c", "compiler": ["cc"], "parameters": ["-O2"], "sources": ["/src/main.c"], "generated_sources": []}
    ],
    "extra_files": [],
    "subproject": null,
    "installed": false
  }
]`

const testsJSON = `[
  {"name": "unit", "suite": ["demo"], "cmd": ["/src/builddir/unit"], "env": {"A": "1"},
   "is_parallel": true, "protocol": "exitcode", "timeout": 30, "workdir": null, "depends": ["unit@exe"]}
]`

const optionsJSON = `[
  {"name": "buildtype", "value": "debug", "section": "core", "machine": "any", "type": "combo",
   "description": "Build type", "choices": ["plain", "debug", "release"]},
  {"name": "werror", "value": false, "section": "core", "machine": "any", "type": "boolean", "description": "Warnings are errors"}
]`

func TestSnapshotFromInfoFiles(t *testing.T) {
	build := t.TempDir()
	writeInfo(t, build, "intro-targets.json", targetsJSON)
	writeInfo(t, build, "intro-tests.json", testsJSON)
	writeInfo(t, build, "intro-buildoptions.json", optionsJSON)

	runner := &fakeRunner{err: errors.New("should not run")}
	in := New("", runner, zaptest.NewLogger(t).Sugar())
	snap, err := in.Snapshot(context.Background(), build)
	require.NoError(t, err)
	require.Empty(t, runner.calls)

	want := Target{
		Name:           "app",
		ID:             "app@exe",
		Type:           "executable",
		DefinedIn:      "/src/meson.build",
		Filename:       []string{"/src/builddir/app"},
		BuildByDefault: true,
		TargetSources: []TargetSource{{
			Language:         "c",
			Compiler:         []string{"cc"},
			Parameters:       []string{"-O2"},
			Sources:          []string{"/src/main.c"},
			GeneratedSources: []string{},
		}},
		ExtraFiles: []string{},
	}
	require.Len(t, snap.Targets, 1)
	if diff := cmp.Diff(want, snap.Targets[0]); diff != "" {
		t.Fatalf("target mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"demo"}, snap.Tests[0].Suite)
	require.Nil(t, snap.Tests[0].Workdir)
	require.Len(t, snap.BuildOptions, 2)
	require.JSONEq(t, `"debug"`, string(snap.BuildOptions[0].Value))
	require.JSONEq(t, `false`, string(snap.BuildOptions[1].Value))
}

func TestMissingSnapshotRunsMeson(t *testing.T) {
	build := t.TempDir()
	runner := &fakeRunner{outputs: map[string]string{
		"meson introspect --tests " + build: testsJSON,
	}}
	in := New("meson", runner, nil)

	tests, err := in.Tests(context.Background(), build)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	require.Equal(t, "unit", tests[0].Name)
	require.Len(t, runner.calls, 1)
	require.Equal(t, []string{"introspect", "--tests", build}, runner.calls[0].Args)
}

func TestMesonFailureSurfaces(t *testing.T) {
	runner := &fakeRunner{err: errors.New("meson: not a build directory")}
	in := New("meson", runner, nil)
	_, err := in.Targets(context.Background(), t.TempDir())
	require.ErrorContains(t, err, "not a build directory")
}

func TestMalformedSnapshot(t *testing.T) {
	build := t.TempDir()
	writeInfo(t, build, "intro-buildoptions.json", `{"not": "a list"}`)
	_, err := New("meson", nil, nil).BuildOptions(context.Background(), build)
	require.Error(t, err)
}

func TestMesonVersion(t *testing.T) {
	build := t.TempDir()
	writeInfo(t, build, "meson-info.json", `{"meson_version": {"full": "1.7.2", "major": 1, "minor": 7, "patch": 2}}`)
	in := New("meson", &fakeRunner{err: errors.New("unused")}, nil)
	require.True(t, IsConfigured(build))

	v, err := in.MesonVersion(context.Background(), build)
	require.NoError(t, err)
	require.Equal(t, version.MustNew(1, 7, 2), v)

	writeInfo(t, build, "meson-info.json", `{"meson_version": {"full": "1.8.0.rc1", "major": 1, "minor": 8, "patch": 0}}`)
	v, err = in.MesonVersion(context.Background(), build)
	require.NoError(t, err)
	require.Equal(t, version.MustNew(1, 8, 0), v)

	empty := t.TempDir()
	require.False(t, IsConfigured(empty))
	runner := &fakeRunner{outputs: map[string]string{"meson --version": "1.6.1\n"}}
	v, err = New("meson", runner, nil).MesonVersion(context.Background(), empty)
	require.NoError(t, err)
	require.Equal(t, version.MustNew(1, 6, 1), v)
}

func TestMesonVersionAcceptsReleaseCandidates(t *testing.T) {
	build := t.TempDir()
	writeInfo(t, build, "meson-info.json", `{"meson_version": {"full": "1.8.0rc2", "major": 1, "minor": 8, "patch": 0}}`)
	v, err := New("meson", &fakeRunner{err: errors.New("unused")}, nil).MesonVersion(context.Background(), build)
	require.NoError(t, err)
	require.Equal(t, version.MustNew(1, 8, 0), v)

	runner := &fakeRunner{outputs: map[string]string{"meson --version": "1.7.0rc1\n"}}
	v, err = New("meson", runner, nil).MesonVersion(context.Background(), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, version.MustNew(1, 7, 0), v)
}
