package langserver

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/shlex"
)

// Source records where a resolved binary came from.
type Source string

const (
	SourceExplicit Source = "explicit"
	SourceManaged  Source = "managed"
	SourcePath     Source = "path"
)

// ResolvedBinary is a usable server executable plus any inline arguments
// taken from the explicit command.
type ResolvedBinary struct {
	Path      string
	ExtraArgs []string
	Source    Source
}

// Resolver locates server executables. It only probes the filesystem and
// PATH; it never downloads.
type Resolver struct {
	// Root is the managed storage root holding one directory per server.
	Root     string
	Platform Platform

	lookPath func(string) (string, error)
}

// NewResolver returns a resolver over the managed storage root.
func NewResolver(root string, platform Platform) *Resolver {
	return &Resolver{Root: root, Platform: platform, lookPath: exec.LookPath}
}

// ManagedDir returns the directory owned by desc under the storage root.
func (r *Resolver) ManagedDir(desc Descriptor) string {
	return filepath.Join(r.Root, desc.Name)
}

// Resolve tries the explicit command, then the managed directory, then PATH.
// A failing step falls through to the next; false means nothing was found.
func (r *Resolver) Resolve(desc Descriptor, explicit string) (ResolvedBinary, bool) {
	if bin, ok := r.resolveExplicit(explicit); ok {
		return bin, true
	}
	managed := filepath.Join(r.ManagedDir(desc), desc.ExecutableName(r.Platform))
	if isExecutableFile(managed) {
		return ResolvedBinary{Path: managed, Source: SourceManaged}, true
	}
	if path, err := r.look(desc.Binary); err == nil {
		return ResolvedBinary{Path: path, Source: SourcePath}, true
	}
	return ResolvedBinary{}, false
}

func (r *Resolver) resolveExplicit(command string) (ResolvedBinary, bool) {
	command = strings.TrimSpace(command)
	if command == "" {
		return ResolvedBinary{}, false
	}
	fields, err := shlex.Split(command)
	if err != nil || len(fields) == 0 {
		return ResolvedBinary{}, false
	}
	program, args := fields[0], fields[1:]
	if filepath.IsAbs(program) {
		if !isExecutableFile(program) {
			return ResolvedBinary{}, false
		}
		return ResolvedBinary{Path: program, ExtraArgs: args, Source: SourceExplicit}, true
	}
	path, err := r.look(program)
	if err != nil {
		return ResolvedBinary{}, false
	}
	return ResolvedBinary{Path: path, ExtraArgs: args, Source: SourceExplicit}, true
}

func (r *Resolver) look(name string) (string, error) {
	if r.lookPath == nil {
		return exec.LookPath(name)
	}
	return r.lookPath(name)
}

// isExecutableFile reports whether path is a regular file the host can
// execute. Windows has no execute bit, so any file counts there.
func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return runtime.GOOS == "windows" || info.Mode()&0o111 != 0
}
