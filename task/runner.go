// Package task runs external commands and captures their output.
package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Command captures process execution metadata.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
	Input   string
	Timeout time.Duration
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	return strings.TrimSpace(c.Program + " " + strings.Join(c.Args, " "))
}

// Result is the captured outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports whether the command exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command Command
	Result  Result
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Result.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Result.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Result.ExitCode, msg)
}

// ExecRunner launches commands on the host with os/exec.
type ExecRunner struct {
	// Env is appended to every command's environment when non-empty.
	Env []string
}

// Run executes the command. A non-zero exit returns the captured Result
// together with an *ExitError.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if c.Program == "" {
		return Result{}, errors.New("command program required")
	}
	execCtx := ctx
	cancel := func() {}
	if c.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, c.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(execCtx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	if env := append(append([]string(nil), r.Env...), c.Env...); len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if c.Input != "" {
		cmd.Stdin = strings.NewReader(c.Input)
	}

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Command: c, Result: res}
		}
		return res, fmt.Errorf("run %s: %w", c, err)
	}
	return res, nil
}
