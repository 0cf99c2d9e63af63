package task

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	requireShell(t)
	r := &ExecRunner{}
	res, err := r.Run(context.Background(), Command{
		Program: "sh",
		Args:    []string{"-c", "cat; echo err >&2"},
		Input:   "hello",
	})
	require.NoError(t, err)
	require.True(t, res.Success())
	require.Equal(t, "hello", res.Stdout)
	require.Equal(t, "err\n", res.Stderr)
}

func TestExecRunnerReportsExitCode(t *testing.T) {
	requireShell(t)
	r := &ExecRunner{}
	res, err := r.Run(context.Background(), Command{Program: "sh", Args: []string{"-c", "echo nope >&2; exit 3"}})
	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 3, res.ExitCode)
	require.False(t, res.Success())
	require.Contains(t, exitErr.Error(), "nope")
}

func TestExecRunnerPassesEnv(t *testing.T) {
	requireShell(t)
	r := &ExecRunner{Env: []string{"MESONLS_A=1"}}
	res, err := r.Run(context.Background(), Command{
		Program: "sh",
		Args:    []string{"-c", `printf "%s%s" "$MESONLS_A" "$MESONLS_B"`},
		Env:     []string{"MESONLS_B=2"},
	})
	require.NoError(t, err)
	require.Equal(t, "12", res.Stdout)
}

func TestExecRunnerRequiresProgram(t *testing.T) {
	_, err := (&ExecRunner{}).Run(context.Background(), Command{})
	require.Error(t, err)
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := (&ExecRunner{}).Run(context.Background(), Command{Program: "/definitely/not/here"})
	require.Error(t, err)
	var exitErr *ExitError
	require.False(t, errors.As(err, &exitErr))
}
