package langserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mesonbuild/vscode-meson-sub000/persistence"
	"github.com/mesonbuild/vscode-meson-sub000/prompt"
	"github.com/mesonbuild/vscode-meson-sub000/version"
)

// VersionFile is the name of the installed-version record inside each
// managed server directory.
const VersionFile = "version"

const lockRetryDelay = 100 * time.Millisecond

// Recorder persists install attempts.
type Recorder interface {
	Record(ctx context.Context, rec persistence.InstallRecord) error
}

// InstallerOptions configures an Installer.
type InstallerOptions struct {
	// Root is the managed storage root; each server gets Root/<name>.
	Root     string
	Platform Platform
	// TempDir receives downloads; empty uses the system temp directory.
	TempDir    string
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
	Metrics    *Metrics
	Ledger     Recorder
	Prompter   prompt.Prompter
	Progress   ProgressFunc
}

// Installer downloads, verifies and unpacks server artifacts into managed
// storage. Installs of the same server are serialized within the process
// and across processes.
type Installer struct {
	opts   InstallerOptions
	logger *zap.SugaredLogger
	group  singleflight.Group
	now    func() time.Time
}

// NewInstaller builds an installer, filling defaults for unset options.
func NewInstaller(opts InstallerOptions) *Installer {
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Installer{opts: opts, logger: logger, now: time.Now}
}

// Dir returns the managed directory for desc.
func (i *Installer) Dir(desc Descriptor) string {
	return filepath.Join(i.opts.Root, desc.Name)
}

// InstalledVersion reads the version record for desc. It reports false
// when no record exists, meaning the binary in use is externally managed.
func (i *Installer) InstalledVersion(desc Descriptor) (version.Version, bool, error) {
	data, err := os.ReadFile(filepath.Join(i.Dir(desc), VersionFile))
	if errors.Is(err, os.ErrNotExist) {
		return version.Version{}, false, nil
	}
	if err != nil {
		return version.Version{}, false, err
	}
	v, err := version.Parse(string(data))
	if err != nil {
		return version.Version{}, false, fmt.Errorf("read %s version record: %w", desc.Name, err)
	}
	return v, true, nil
}

// Install fetches the artifact for the current platform, verifies its
// digest, unpacks it into the cleared managed directory and records v.
// It returns the path of the installed executable.
//
// Concurrent calls for the same server and version share one download.
// A caller that joined an install cancelled by another caller's context
// starts a fresh one under its own.
func (i *Installer) Install(ctx context.Context, desc Descriptor, v version.Version) (string, error) {
	key := desc.Name + "@" + v.String()
	for {
		ch := i.group.DoChan(key, func() (any, error) {
			return i.lockedInstall(ctx, desc, v)
		})
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(string), nil
			}
			if res.Shared && ctx.Err() == nil && isCancellation(res.Err) {
				i.logger.Debugw("joined install was cancelled, retrying", "server", desc.Name, "version", v.String())
				continue
			}
			return "", res.Err
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (i *Installer) lockedInstall(ctx context.Context, desc Descriptor, v version.Version) (string, error) {
	if err := os.MkdirAll(i.opts.Root, 0o755); err != nil {
		return "", fmt.Errorf("create storage root: %w", err)
	}
	lock := flock.New(filepath.Join(i.opts.Root, "."+desc.Name+".lock"))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return "", fmt.Errorf("lock %s install: %w", desc.Name, err)
	}
	if !locked {
		return "", fmt.Errorf("lock %s install: held by another process", desc.Name)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			i.logger.Warnw("release install lock", "server", desc.Name, "error", err)
		}
	}()

	started := i.now()
	rec := persistence.InstallRecord{
		Server:    desc.Name,
		Version:   v.String(),
		Platform:  i.opts.Platform.String(),
		StartedAt: started,
	}
	path, err := i.install(ctx, desc, v, &rec)
	rec.Duration = i.now().Sub(started)
	i.finish(ctx, desc, rec, err)
	return path, err
}

func (i *Installer) install(ctx context.Context, desc Descriptor, v version.Version, rec *persistence.InstallRecord) (string, error) {
	if err := desc.Validate(); err != nil {
		return "", err
	}
	artifact, err := i.artifact(desc)
	if err != nil {
		return "", err
	}
	rec.URL = artifact.URL
	rec.SHA256 = artifact.SHA256

	dir := i.Dir(desc)
	if err := clearDir(dir); err != nil {
		return "", err
	}

	i.logger.Infow("downloading language server", "server", desc.Name, "version", v.String(), "url", artifact.URL)
	dl, err := fetch(ctx, i.opts.HTTPClient, artifact.URL, i.opts.TempDir, i.opts.Progress)
	if err != nil {
		return "", err
	}
	defer os.Remove(dl.path)
	i.opts.Metrics.downloaded(desc.Name, dl.size)

	if !strings.EqualFold(strings.TrimSpace(artifact.SHA256), dl.digest) {
		return "", &IntegrityError{URL: artifact.URL, Expected: strings.ToLower(artifact.SHA256), Actual: dl.digest}
	}

	if err := unzip(dl.path, dir); err != nil {
		_ = clearDir(dir)
		return "", err
	}
	exe := filepath.Join(dir, desc.ExecutableName(i.opts.Platform))
	if info, err := os.Stat(exe); err != nil || !info.Mode().IsRegular() {
		_ = clearDir(dir)
		return "", fmt.Errorf("archive for %s has no %s", desc.Name, filepath.Base(exe))
	}
	if !i.opts.Platform.IsWindows() {
		if err := os.Chmod(exe, 0o755); err != nil {
			_ = clearDir(dir)
			return "", fmt.Errorf("mark executable: %w", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, VersionFile), []byte(v.String()), 0o644); err != nil {
		_ = clearDir(dir)
		return "", fmt.Errorf("write version record: %w", err)
	}
	return exe, nil
}

func (i *Installer) artifact(desc Descriptor) (Artifact, error) {
	switch desc.Availability(i.opts.Platform) {
	case Unsupported:
		return Artifact{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedSystem, desc.Name, i.opts.Platform)
	case Unpublished:
		return Artifact{}, fmt.Errorf("%w: %s on %s, see %s", ErrNoArtifact, desc.Name, i.opts.Platform, desc.SetupURL)
	}
	a, _ := desc.Artifact(i.opts.Platform)
	return a, nil
}

func (i *Installer) finish(ctx context.Context, desc Descriptor, rec persistence.InstallRecord, err error) {
	rec.Outcome = persistence.InstallSucceeded
	switch {
	case errors.Is(err, ErrIntegrity):
		rec.Outcome = persistence.InstallRejected
	case err != nil:
		rec.Outcome = persistence.InstallFailed
	}
	if err != nil {
		rec.Error = err.Error()
		i.logger.Errorw("language server install failed", "server", desc.Name, "version", rec.Version, "error", err)
		i.notify(ctx, prompt.SeverityError, fmt.Sprintf("Failed to install %s: %v", desc.Name, err))
	} else {
		i.logger.Infow("installed language server", "server", desc.Name, "version", rec.Version, "duration", rec.Duration)
		i.notify(ctx, prompt.SeverityInfo, fmt.Sprintf("%s %s installed", desc.Name, rec.Version))
	}
	i.opts.Metrics.install(desc.Name, string(rec.Outcome))
	if i.opts.Ledger != nil {
		if lerr := i.opts.Ledger.Record(context.WithoutCancel(ctx), rec); lerr != nil {
			i.logger.Warnw("record install", "server", desc.Name, "error", lerr)
		}
	}
}

func (i *Installer) notify(ctx context.Context, severity prompt.Severity, msg string) {
	if i.opts.Prompter != nil {
		i.opts.Prompter.Notify(ctx, severity, msg)
	}
}

// clearDir removes dir and recreates it empty.
func clearDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
