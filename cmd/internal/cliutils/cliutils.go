package cliutils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adrg/xdg"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mesonbuild/vscode-meson-sub000/introspect"
	"github.com/mesonbuild/vscode-meson-sub000/langserver"
	"github.com/mesonbuild/vscode-meson-sub000/persistence"
	"github.com/mesonbuild/vscode-meson-sub000/prompt"
	"github.com/mesonbuild/vscode-meson-sub000/settings"
	"github.com/mesonbuild/vscode-meson-sub000/task"
)

// AppName namespaces every xdg path.
const AppName = "mesonls"

var serverAliases = map[string]string{}

func init() {
	addAliases("mesonlsp", "mesonlsp", "meson-lsp", "meson")
	addAliases("Swift-MesonLSP", "Swift-MesonLSP", "swift", "swift-meson-lsp")
	addAliases("none", "none", "off")
}

func addAliases(name string, keys ...string) {
	for _, key := range keys {
		serverAliases[strings.ToLower(key)] = name
	}
}

// CanonicalServerName maps a user-typed alias to a configured server name.
func CanonicalServerName(alias string) (string, bool) {
	name, ok := serverAliases[strings.ToLower(strings.TrimSpace(alias))]
	return name, ok
}

// ServerAliases lists known aliases in sorted order.
func ServerAliases() []string {
	keys := make([]string, 0, len(serverAliases))
	for key := range serverAliases {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Paths holds every file location a CLI run touches.
type Paths struct {
	Workspace         string
	GlobalSettings    string
	WorkspaceSettings string
	Storage           string
	Ledger            string
}

// ResolvePaths fills defaults from the xdg base directories. Empty
// overrides select the defaults.
func ResolvePaths(workspace, storage, config string) (Paths, error) {
	if workspace == "" {
		workspace = "."
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return Paths{}, err
	}
	p := Paths{
		Workspace:         abs,
		GlobalSettings:    config,
		WorkspaceSettings: filepath.Join(abs, "."+AppName, "settings.yaml"),
		Storage:           storage,
	}
	if p.GlobalSettings == "" {
		if p.GlobalSettings, err = xdg.ConfigFile(filepath.Join(AppName, "settings.yaml")); err != nil {
			return Paths{}, fmt.Errorf("resolve settings path: %w", err)
		}
	}
	if p.Storage == "" {
		p.Storage = filepath.Join(xdg.DataHome, AppName, "servers")
	}
	if p.Ledger, err = xdg.DataFile(filepath.Join(AppName, "installs.db")); err != nil {
		return Paths{}, fmt.Errorf("resolve ledger path: %w", err)
	}
	return p, nil
}

// NewLogger returns a development logger when verbose, otherwise a
// production logger that only reports warnings. Both write to stderr.
func NewLogger(verbose bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		cfg.Encoding = "console"
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// NewPrompter picks an interactive chooser when in is a terminal. With
// assumeYes every question is answered "Yes"; without a terminal every
// question is dismissed. Notifications always reach out.
func NewPrompter(in *os.File, out io.Writer, assumeYes bool) prompt.Prompter {
	if assumeYes {
		return &prompt.Static{Answer: langserver.ChoiceYes, Out: out}
	}
	if in != nil && (isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd())) {
		return prompt.NewTerminal(in, out)
	}
	return &prompt.Static{Out: out}
}

// Config is what the root command's flags provide.
type Config struct {
	Workspace  string
	Storage    string
	ConfigFile string
	Verbose    bool
	AssumeYes  bool
	In         *os.File
	Out        io.Writer
	Progress   langserver.ProgressFunc
}

// Env is the per-invocation context shared by every command.
type Env struct {
	Paths    Paths
	Logger   *zap.SugaredLogger
	Settings *settings.Store
	Ledger   *persistence.InstallLedger
	Registry *prometheus.Registry
	Metrics  *langserver.Metrics
	Prompter prompt.Prompter
	Runner   task.Runner
	Manager  *langserver.Manager
}

// Open builds an Env. Callers must Close it.
func Open(cfg Config) (*Env, error) {
	paths, err := ResolvePaths(cfg.Workspace, cfg.Storage, cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.Verbose)
	if err != nil {
		return nil, err
	}
	store, err := settings.Open(paths.GlobalSettings, paths.WorkspaceSettings)
	if err != nil {
		return nil, err
	}
	ledger, err := persistence.NewInstallLedger(paths.Ledger)
	if err != nil {
		return nil, fmt.Errorf("open install ledger: %w", err)
	}
	registry := prometheus.NewRegistry()
	metrics, err := langserver.NewMetrics(registry)
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	prompter := NewPrompter(cfg.In, out, cfg.AssumeYes)

	env := &Env{
		Paths:    paths,
		Logger:   logger,
		Settings: store,
		Ledger:   ledger,
		Registry: registry,
		Metrics:  metrics,
		Prompter: prompter,
		Runner:   &task.ExecRunner{},
	}
	env.Manager = langserver.NewManager(langserver.Options{
		Platform:    langserver.CurrentPlatform(),
		StorageRoot: paths.Storage,
		Workspace:   paths.Workspace,
		Settings:    store,
		Prompter:    prompter,
		Logger:      logger,
		Metrics:     metrics,
		Ledger:      ledger,
		Launcher:    langserver.ExecLauncher{Logger: logger},
		Progress:    cfg.Progress,
	})
	return env, nil
}

// Close releases the ledger and flushes the logger.
func (e *Env) Close() error {
	if e == nil {
		return nil
	}
	err := e.Manager.Close()
	_ = e.Logger.Sync()
	return err
}

// ServerName returns the canonical server to operate on: override when
// given, otherwise the configured language server.
func (e *Env) ServerName(override string) (string, error) {
	raw := override
	if raw == "" {
		raw = e.Settings.String(settings.KeyLanguageServer)
	}
	if raw == "" {
		return "none", nil
	}
	name, ok := CanonicalServerName(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q (known: %s)", langserver.ErrUnknownServer, raw, strings.Join(ServerAliases(), ", "))
	}
	return name, nil
}

// Descriptor resolves ServerName to a descriptor. "none" is an error here.
func (e *Env) Descriptor(override string) (langserver.Descriptor, error) {
	name, err := e.ServerName(override)
	if err != nil {
		return langserver.Descriptor{}, err
	}
	if name == "none" {
		return langserver.Descriptor{}, errors.New("no language server configured")
	}
	return e.Manager.Descriptor(name)
}

// BuildDir resolves the build directory: override, else the configured
// build folder, relative to the workspace.
func (e *Env) BuildDir(override string) string {
	dir := override
	if dir == "" {
		dir = e.Settings.String(settings.KeyBuildFolder)
	}
	if dir == "" {
		dir = "builddir"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.Paths.Workspace, dir)
	}
	return dir
}

// MesonPath returns the configured meson executable.
func (e *Env) MesonPath() string {
	if p := e.Settings.String(settings.KeyMesonPath); p != "" {
		return p
	}
	return "meson"
}

// Introspector returns an introspector that runs the configured meson.
func (e *Env) Introspector() *introspect.Introspector {
	return introspect.New(e.MesonPath(), e.Runner, e.Logger)
}
