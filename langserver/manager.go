package langserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesonbuild/vscode-meson-sub000/prompt"
	"github.com/mesonbuild/vscode-meson-sub000/settings"
)

// Download prompt choices.
const (
	ChoiceYes   = "Yes"
	ChoiceLater = "Not this time"
	ChoiceNever = "Never"
)

// Options is everything a Manager needs; it replaces process-wide state.
type Options struct {
	Platform    Platform
	StorageRoot string
	TempDir     string
	Workspace   string
	Settings    Settings
	Prompter    prompt.Prompter
	Logger      *zap.SugaredLogger
	Metrics     *Metrics
	Ledger      Recorder
	HTTPClient  *http.Client
	Launcher    Launcher
	Progress    ProgressFunc
	// Catalog maps configured names to descriptors; nil uses Lookup.
	Catalog         func(name string) (Descriptor, bool)
	ShutdownTimeout time.Duration
}

// Manager is created at startup, hands out clients and is torn down with
// Close.
type Manager struct {
	opts      Options
	logger    *zap.SugaredLogger
	resolver  *Resolver
	installer *Installer
}

// NewManager wires a resolver and installer over the storage root.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Catalog == nil {
		opts.Catalog = Lookup
	}
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{Logger: opts.Logger}
	}
	if opts.Prompter == nil {
		opts.Prompter = &prompt.Static{}
	}
	return &Manager{
		opts:     opts,
		logger:   opts.Logger,
		resolver: NewResolver(opts.StorageRoot, opts.Platform),
		installer: NewInstaller(InstallerOptions{
			Root:       opts.StorageRoot,
			Platform:   opts.Platform,
			TempDir:    opts.TempDir,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
			Metrics:    opts.Metrics,
			Ledger:     opts.Ledger,
			Prompter:   opts.Prompter,
			Progress:   opts.Progress,
		}),
	}
}

// Platform returns the platform artifacts are selected for.
func (m *Manager) Platform() Platform { return m.opts.Platform }

// Resolver returns the manager's binary resolver.
func (m *Manager) Resolver() *Resolver { return m.resolver }

// Installer returns the manager's installer.
func (m *Manager) Installer() *Installer { return m.installer }

// Descriptor looks up a configured server name.
func (m *Manager) Descriptor(name string) (Descriptor, error) {
	desc, ok := m.opts.Catalog(strings.TrimSpace(name))
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	return desc, nil
}

// Resolve locates the binary for desc using the configured explicit path.
func (m *Manager) Resolve(desc Descriptor) (ResolvedBinary, bool) {
	return m.resolver.Resolve(desc, m.explicitPath())
}

// CreateClient returns a stopped client for serverName, downloading the
// server when nothing resolves and a download is permitted. Empty, "none"
// and unknown names mean no language server and return (nil, nil). Every
// error has already been shown to the user.
func (m *Manager) CreateClient(ctx context.Context, serverName string, allowDownload bool) (*Client, error) {
	desc, ok := m.opts.Catalog(strings.TrimSpace(serverName))
	if !ok {
		if kind, known := ParseKind(serverName); !known || kind != KindNone {
			m.logger.Warnw("unknown language server, none started", "server", serverName)
		}
		return nil, nil
	}

	platform := m.opts.Platform
	if desc.Availability(platform) == Unsupported {
		m.opts.Prompter.Notify(ctx, prompt.SeverityError,
			fmt.Sprintf("%s is not supported on %s.", desc.Name, platform))
		return nil, &ServerError{Server: desc.Name, Err: ErrUnsupportedSystem}
	}

	bin, found := m.Resolve(desc)
	if !found {
		var err error
		bin, err = m.acquire(ctx, desc, allowDownload)
		if err != nil {
			return nil, err
		}
	}
	m.logger.Infow("language server resolved", "server", desc.Name, "path", bin.Path, "source", string(bin.Source))

	return NewClient(ClientOptions{
		Descriptor:      desc,
		Binary:          bin,
		Workspace:       m.opts.Workspace,
		Resolver:        m.resolver,
		Installer:       m.installer,
		Launcher:        m.opts.Launcher,
		Settings:        m.opts.Settings,
		Prompter:        m.opts.Prompter,
		Logger:          m.logger,
		Metrics:         m.opts.Metrics,
		ShutdownTimeout: m.opts.ShutdownTimeout,
	}), nil
}

func (m *Manager) acquire(ctx context.Context, desc Descriptor, allowDownload bool) (ResolvedBinary, error) {
	if desc.Availability(m.opts.Platform) == Unpublished {
		m.opts.Prompter.Notify(ctx, prompt.SeverityError,
			fmt.Sprintf("No prebuilt %s is published for %s. See %s to set it up.", desc.Name, m.opts.Platform, desc.SetupURL))
		return ResolvedBinary{}, &ServerError{Server: desc.Name, Err: ErrNoArtifact}
	}
	if !allowDownload {
		allowed, err := m.DownloadAllowed(ctx, desc)
		if err != nil {
			return ResolvedBinary{}, err
		}
		if !allowed {
			m.opts.Prompter.Notify(ctx, prompt.SeverityError,
				fmt.Sprintf("%s binary not found. Install it or set %s.", desc.Name, settings.KeyLanguageServerPath))
			return ResolvedBinary{}, &ServerError{Server: desc.Name, Err: ErrNotFound}
		}
	}
	path, err := m.installer.Install(ctx, desc, desc.Version)
	if err != nil {
		return ResolvedBinary{}, &ServerError{Server: desc.Name, Err: err}
	}
	return ResolvedBinary{Path: path, Source: SourceManaged}, nil
}

// DownloadAllowed consults the download setting and, when it is "ask",
// prompts the user. "Yes" and "Never" are remembered globally.
func (m *Manager) DownloadAllowed(ctx context.Context, desc Descriptor) (bool, error) {
	if m.opts.Settings != nil {
		if v, ok := m.opts.Settings.Get(settings.KeyDownloadLanguageServer); ok {
			switch val := v.(type) {
			case bool:
				return val, nil
			case string:
				switch strings.ToLower(strings.TrimSpace(val)) {
				case "true":
					return true, nil
				case "false":
					return false, nil
				}
			}
		}
	}

	question := fmt.Sprintf("%s %s was not found. Download it from %s?", desc.Name, desc.Version, desc.RepositoryURL)
	answer, err := m.opts.Prompter.Ask(ctx, question, ChoiceYes, ChoiceLater, ChoiceNever)
	if err != nil {
		return false, err
	}
	switch answer {
	case ChoiceYes:
		m.remember(true)
		return true, nil
	case ChoiceNever:
		m.remember(false)
	}
	return false, nil
}

func (m *Manager) remember(allow bool) {
	if m.opts.Settings == nil {
		return
	}
	if err := m.opts.Settings.Set(settings.KeyDownloadLanguageServer, allow, settings.ScopeGlobal); err != nil {
		m.logger.Warnw("persist download choice", "error", err)
	}
}

func (m *Manager) explicitPath() string {
	if m.opts.Settings == nil {
		return ""
	}
	return m.opts.Settings.String(settings.KeyLanguageServerPath)
}

// Close releases the install ledger when the manager owns one.
func (m *Manager) Close() error {
	if closer, ok := m.opts.Ledger.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
