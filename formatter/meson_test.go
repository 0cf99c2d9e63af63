package formatter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesonbuild/vscode-meson-sub000/task"
	"github.com/mesonbuild/vscode-meson-sub000/version"
)

type recordingRunner struct {
	last   task.Command
	stdout string
	err    error
}

func (r *recordingRunner) Run(_ context.Context, cmd task.Command) (task.Result, error) {
	r.last = cmd
	return task.Result{Stdout: r.stdout}, r.err
}

func TestFormatPipesStdinOnNewMeson(t *testing.T) {
	runner := &recordingRunner{stdout: "project('x')\n"}
	f := New("meson", version.MustNew(1, 7, 0), runner, "", nil)
	require.True(t, f.UsesStdin())

	out, err := f.Format(context.Background(), "/src/meson.build", "project( 'x' )")
	require.NoError(t, err)
	require.Equal(t, "project('x')\n", out)
	require.Equal(t, []string{"format", "-"}, runner.last.Args)
	require.Equal(t, "project( 'x' )", runner.last.Input)
	require.Equal(t, "/src", runner.last.Dir)
}

func TestFormatUsesPathOnOlderMeson(t *testing.T) {
	runner := &recordingRunner{stdout: "formatted"}
	f := New("meson", version.MustNew(1, 6, 1), runner, "", nil)
	require.False(t, f.UsesStdin())

	_, err := f.Format(context.Background(), "/src/meson.build", "ignored")
	require.NoError(t, err)
	require.Equal(t, []string{"format", "/src/meson.build"}, runner.last.Args)
	require.Empty(t, runner.last.Input)
}

func TestFormatRejectsMesonWithoutFormatter(t *testing.T) {
	runner := &recordingRunner{}
	f := New("meson", version.MustNew(1, 4, 9), runner, "", nil)
	_, err := f.Format(context.Background(), "/src/meson.build", "")
	require.ErrorIs(t, err, ErrUnsupported)
	require.Empty(t, runner.last.Program)
}

func TestFormatPicksUpWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	cfg := filepath.Join(ws, ConfigName)
	require.NoError(t, os.WriteFile(cfg, []byte("indent_by = '  '\n"), 0o644))
	runner := &recordingRunner{}
	f := New("", version.MustNew(1, 8, 0), runner, ws, nil)

	_, err := f.Format(context.Background(), filepath.Join(ws, "meson.build"), "")
	require.NoError(t, err)
	require.Equal(t, "meson", runner.last.Program)
	require.Equal(t, []string{"format", "-c", cfg, "-"}, runner.last.Args)
}

func TestFormatSurfacesRunnerError(t *testing.T) {
	runner := &recordingRunner{err: errors.New("syntax error")}
	f := New("meson", version.MustNew(1, 7, 0), runner, "", nil)
	_, err := f.Format(context.Background(), "/src/meson.build", "project(")
	require.ErrorContains(t, err, "syntax error")
}
