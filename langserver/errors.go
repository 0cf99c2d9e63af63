package langserver

import (
	"errors"
	"fmt"
)

// Standard errors returned by the language-server subsystem.
var (
	// ErrUnsupportedSystem indicates no server build runs on this platform.
	ErrUnsupportedSystem = errors.New("language server not supported on this system")

	// ErrNoArtifact indicates the platform is supported but no prebuilt
	// package is published for it.
	ErrNoArtifact = errors.New("no prebuilt language server for this system")

	// ErrNotFound indicates resolution found no binary and none was installed.
	ErrNotFound = errors.New("language server binary not found")

	// ErrIntegrity indicates a downloaded artifact failed hash verification.
	ErrIntegrity = errors.New("artifact integrity check failed")

	// ErrTooManyRedirects indicates the download exceeded the redirect cap.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrNotRunning indicates an operation that requires a live server was
	// called while the session is stopped.
	ErrNotRunning = errors.New("language server not running")

	// ErrUnknownServer indicates a configured server name is not known.
	ErrUnknownServer = errors.New("unknown language server")

	// ErrDisposed indicates the client was disposed and cannot be restarted.
	ErrDisposed = errors.New("language client disposed")
)

// IntegrityError reports the expected and actual artifact digests.
type IntegrityError struct {
	URL      string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// Unwrap returns ErrIntegrity so callers can use errors.Is.
func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// ServerError attaches the server name to a lifecycle error.
type ServerError struct {
	Server string
	Err    error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Server, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Err
}
