package langserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// RunSpec describes how to start a server process.
type RunSpec struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// String renders the command line for logs.
func (s RunSpec) String() string {
	return strings.TrimSpace(s.Path + " " + strings.Join(s.Args, " "))
}

// Process is a started server speaking the protocol over its stdio.
type Process interface {
	io.ReadWriteCloser
	// Wait blocks until the process exits.
	Wait() error
	// Kill terminates the process immediately.
	Kill() error
}

// Launcher starts server processes.
type Launcher interface {
	Launch(ctx context.Context, spec RunSpec) (Process, error)
}

// ExecLauncher starts servers as child processes. Server stderr is
// forwarded line by line to Logger.
type ExecLauncher struct {
	Logger *zap.SugaredLogger
}

// Launch implements Launcher. The process outlives ctx; use Kill or Close
// followed by Wait to end it.
func (l ExecLauncher) Launch(ctx context.Context, spec RunSpec) (Process, error) {
	if spec.Path == "" {
		return nil, errors.New("server command required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	stderrDone := make(chan struct{})
	go forwardStderr(stderr, logger.With("server", filepath.Base(spec.Path), "pid", cmd.Process.Pid), stderrDone)
	return &execProcess{cmd: cmd, reader: stdout, writer: stdin, stderrDone: stderrDone}, nil
}

// forwardStderr logs r line by line and closes done at EOF.
func forwardStderr(r io.Reader, logger *zap.SugaredLogger, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logger.Debugw("server stderr", "line", scanner.Text())
	}
}

type execProcess struct {
	cmd        *exec.Cmd
	reader     io.ReadCloser
	writer     io.WriteCloser
	stderrDone <-chan struct{}
}

func (p *execProcess) Read(b []byte) (int, error)  { return p.reader.Read(b) }
func (p *execProcess) Write(b []byte) (int, error) { return p.writer.Write(b) }
func (p *execProcess) Close() error {
	_ = p.reader.Close()
	return p.writer.Close()
}
// Wait drains stderr before reaping; exec.Cmd.Wait closes the pipe.
func (p *execProcess) Wait() error {
	<-p.stderrDone
	return p.cmd.Wait()
}
func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

func pathToURI(path string) string {
	path = filepath.Clean(path)
	if runtime.GOOS == "windows" {
		path = strings.ReplaceAll(path, "\\", "/")
		return "file:///" + strings.ReplaceAll(path, ":", "%3A")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "file://" + path
}
