package langserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/mesonbuild/vscode-meson-sub000/prompt"
	"github.com/mesonbuild/vscode-meson-sub000/settings"
)

// State is the lifecycle state of a server session.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// DefaultShutdownTimeout bounds the shutdown handshake and the wait for the
// process to exit before it is killed.
const DefaultShutdownTimeout = 5 * time.Second

// Settings is the configuration store a client reads and writes.
type Settings interface {
	Get(key string) (any, bool)
	String(key string) string
	Section(prefix string) map[string]any
	Set(key string, value any, scope settings.Scope) error
}

// ClientOptions wires a Client to its collaborators.
type ClientOptions struct {
	Descriptor Descriptor
	Binary     ResolvedBinary
	// Workspace is the root directory handed to the server.
	Workspace       string
	Resolver        *Resolver
	Installer       *Installer
	Launcher        Launcher
	Settings        Settings
	Prompter        prompt.Prompter
	Logger          *zap.SugaredLogger
	Metrics         *Metrics
	ShutdownTimeout time.Duration
}

// Client owns the single server session for a workspace. Every state
// transition happens under one mutex, so Start, Stop, Restart, Update and
// Dispose never interleave.
type Client struct {
	opts   ClientOptions
	id     string
	logger *zap.SugaredLogger

	mu         sync.Mutex
	state      State
	binary     ResolvedBinary
	proc       Process
	conn       *jsonrpc2.Conn
	cancel     context.CancelFunc
	serverInfo *protocol.ServerInfo
	disposed   bool
}

// NewClient returns a stopped client for the resolved binary.
func NewClient(opts ClientOptions) *Client {
	if opts.Launcher == nil {
		opts.Launcher = ExecLauncher{Logger: opts.Logger}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	id := uuid.NewString()
	return &Client{
		opts:   opts,
		id:     id,
		logger: logger.With("server", opts.Descriptor.Name, "session", id),
		binary: opts.Binary,
	}
}

// ID identifies this client in logs.
func (c *Client) ID() string { return c.id }

// Descriptor returns the server kind this client runs.
func (c *Client) Descriptor() Descriptor { return c.opts.Descriptor }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Binary returns the executable the next start will use.
func (c *Client) Binary() ResolvedBinary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binary
}

// ServerInfo returns what the server reported during initialize, if anything.
func (c *Client) ServerInfo() (protocol.ServerInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverInfo == nil {
		return protocol.ServerInfo{}, false
	}
	return *c.serverInfo, true
}

// Start launches the server and completes the initialize handshake.
// Starting a running client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.state == StateRunning {
		return nil
	}
	return c.startLocked(ctx)
}

// Stop shuts the server down. Stopping a stopped client is a no-op.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx)
}

// Restart stops the server, resolves the binary again from the current
// configuration and starts it. When nothing resolves the client stays
// stopped and ErrNotFound is returned.
func (c *Client) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	return c.restartLocked(ctx)
}

// ReloadConfig pushes the server's settings section to the live process.
// It returns ErrNotRunning when the session is not running.
func (c *Client) ReloadConfig(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return ErrNotRunning
	}
	return c.pushConfigLocked(ctx)
}

// Update reinstalls the reference version when the managed install records
// a different one, restarting a running session around the install. It
// reports whether an install happened. A missing version record means the
// binary is managed elsewhere and nothing is done.
func (c *Client) Update(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return false, ErrDisposed
	}
	if c.opts.Installer == nil {
		return false, nil
	}
	desc := c.opts.Descriptor
	installed, ok, err := c.opts.Installer.InstalledVersion(desc)
	if err != nil {
		return false, err
	}
	if !ok || installed.Compare(desc.Version) == 0 {
		return false, nil
	}

	c.logger.Infow("updating language server", "installed", installed.String(), "reference", desc.Version.String())
	wasRunning := c.state != StateStopped
	if err := c.stopLocked(ctx); err != nil {
		return false, err
	}
	path, err := c.opts.Installer.Install(ctx, desc, desc.Version)
	if err != nil {
		return false, err
	}
	if c.binary.Source == SourceManaged || c.binary.Path == "" {
		c.binary = ResolvedBinary{Path: path, Source: SourceManaged}
	}
	if !wasRunning {
		return true, nil
	}
	return true, c.restartLocked(ctx)
}

// Dispose stops the server and prevents further starts.
func (c *Client) Dispose(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.stopLocked(ctx)
	c.disposed = true
	return err
}

func (c *Client) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debugw("session state", "from", c.state.String(), "to", s.String())
	c.state = s
	c.opts.Metrics.transition(c.opts.Descriptor.Name, s)
}

func (c *Client) restartLocked(ctx context.Context) error {
	if err := c.stopLocked(ctx); err != nil {
		c.logger.Warnw("stop before restart", "error", err)
	}
	if c.opts.Resolver != nil {
		explicit := ""
		if c.opts.Settings != nil {
			explicit = c.opts.Settings.String(settings.KeyLanguageServerPath)
		}
		bin, ok := c.opts.Resolver.Resolve(c.opts.Descriptor, explicit)
		if !ok {
			c.notify(ctx, prompt.SeverityError, fmt.Sprintf("%s binary not found; it can be installed with `mesonls install`.", c.opts.Descriptor.Name))
			return &ServerError{Server: c.opts.Descriptor.Name, Err: ErrNotFound}
		}
		c.binary = bin
	}
	return c.startLocked(ctx)
}

func (c *Client) startLocked(ctx context.Context) error {
	if c.binary.Path == "" {
		return &ServerError{Server: c.opts.Descriptor.Name, Err: ErrNotFound}
	}
	c.setState(StateStarting)
	spec := RunSpec{
		Path: c.binary.Path,
		Args: c.opts.Descriptor.RunArgs(c.binary.ExtraArgs...),
		Dir:  c.opts.Workspace,
	}
	c.logger.Infow("starting language server", "command", spec.String())
	proc, err := c.opts.Launcher.Launch(ctx, spec)
	if err != nil {
		c.setState(StateStopped)
		c.notify(ctx, prompt.SeverityError, fmt.Sprintf("Failed to start %s: %v", c.opts.Descriptor.Name, err))
		return err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	stream := jsonrpc2.NewBufferedStream(proc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(connCtx, stream, jsonrpc2.HandlerWithError(c.handle))
	c.proc, c.conn, c.cancel = proc, conn, cancel

	if err := c.initialize(ctx); err != nil {
		c.teardownLocked()
		c.notify(ctx, prompt.SeverityError, fmt.Sprintf("%s failed to initialize: %v", c.opts.Descriptor.Name, err))
		return fmt.Errorf("initialize %s: %w", c.opts.Descriptor.Name, err)
	}
	c.setState(StateRunning)
	go c.watchExit(conn)
	if len(c.serverSection()) > 0 {
		if err := c.pushConfigLocked(ctx); err != nil {
			c.logger.Warnw("push initial configuration", "error", err)
		}
	}
	return nil
}

// watchExit returns the session to Stopped when the server goes away
// without being asked to. Connections that were already replaced or torn
// down are ignored.
func (c *Client) watchExit(conn *jsonrpc2.Conn) {
	<-conn.DisconnectNotify()
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.logger.Warnw("language server exited unexpectedly")
	c.teardownLocked()
	c.mu.Unlock()
	c.notify(context.Background(), prompt.SeverityError,
		fmt.Sprintf("%s exited unexpectedly. Start or restart it to continue.", c.opts.Descriptor.Name))
}

func (c *Client) initialize(ctx context.Context) error {
	root := c.opts.Workspace
	if root == "" {
		root = "."
	}
	params := &protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		RootURI:   protocol.DocumentURI(pathToURI(root)),
		ClientInfo: &protocol.ClientInfo{
			Name:    "mesonls",
			Version: "0.1",
		},
		InitializationOptions: c.serverSection(),
		Capabilities: protocol.ClientCapabilities{
			Workspace: &protocol.WorkspaceClientCapabilities{
				Configuration: true,
			},
			TextDocument: &protocol.TextDocumentClientCapabilities{
				Formatting:         &protocol.DocumentFormattingClientCapabilities{},
				PublishDiagnostics: &protocol.PublishDiagnosticsClientCapabilities{},
			},
		},
	}
	var result protocol.InitializeResult
	if err := c.conn.Call(ctx, "initialize", params, &result); err != nil {
		return err
	}
	c.serverInfo = result.ServerInfo
	return c.conn.Notify(ctx, "initialized", &protocol.InitializedParams{})
}

func (c *Client) stopLocked(ctx context.Context) error {
	if c.state == StateStopped {
		return nil
	}
	if c.conn != nil {
		sctx, cancel := context.WithTimeout(ctx, c.opts.ShutdownTimeout)
		if err := c.conn.Call(sctx, "shutdown", nil, nil); err != nil {
			c.logger.Warnw("shutdown request failed", "error", err)
		} else if err := c.conn.Notify(sctx, "exit", nil); err != nil {
			c.logger.Warnw("exit notification failed", "error", err)
		}
		cancel()
	}
	c.teardownLocked()
	c.logger.Infow("language server stopped")
	return nil
}

// teardownLocked closes the connection and reaps the process, killing it
// if it does not exit within the shutdown timeout.
func (c *Client) teardownLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.proc != nil {
		_ = c.proc.Close()
		done := make(chan error, 1)
		proc := c.proc
		go func() { done <- proc.Wait() }()
		select {
		case <-done:
		case <-time.After(c.opts.ShutdownTimeout):
			c.logger.Warnw("language server did not exit, killing")
			_ = proc.Kill()
			<-done
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.proc, c.conn, c.cancel, c.serverInfo = nil, nil, nil, nil
	c.setState(StateStopped)
}

func (c *Client) pushConfigLocked(ctx context.Context) error {
	params := &protocol.DidChangeConfigurationParams{Settings: c.serverSection()}
	if err := c.conn.Notify(ctx, "workspace/didChangeConfiguration", params); err != nil {
		return fmt.Errorf("push configuration: %w", err)
	}
	return nil
}

func (c *Client) sectionName() string {
	return settings.Section + "." + c.opts.Descriptor.Name
}

func (c *Client) serverSection() map[string]any {
	if c.opts.Settings == nil {
		return map[string]any{}
	}
	return c.opts.Settings.Section(c.sectionName())
}

// handle serves requests and notifications initiated by the server. It
// runs on the connection's read loop and must not take c.mu.
func (c *Client) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "window/logMessage":
		var params protocol.LogMessageParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		c.logMessage(params.Type, params.Message)
		return nil, nil
	case "window/showMessage":
		var params protocol.ShowMessageParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		c.logMessage(params.Type, params.Message)
		c.notify(ctx, severityFor(params.Type), params.Message)
		return nil, nil
	case "workspace/configuration":
		var params protocol.ConfigurationParams
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
		results := make([]interface{}, len(params.Items))
		for i, item := range params.Items {
			results[i] = c.configurationItem(item.Section)
		}
		return results, nil
	}
	if req.Notif {
		return nil, nil
	}
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not handled: " + req.Method}
}

func (c *Client) configurationItem(section string) interface{} {
	if section == "" {
		return c.serverSection()
	}
	if c.opts.Settings == nil {
		return nil
	}
	if sec := c.opts.Settings.Section(section); len(sec) > 0 {
		return sec
	}
	v, _ := c.opts.Settings.Get(section)
	return v
}

func (c *Client) logMessage(kind protocol.MessageType, message string) {
	switch kind {
	case protocol.MessageTypeError:
		c.logger.Errorw("server message", "message", message)
	case protocol.MessageTypeWarning:
		c.logger.Warnw("server message", "message", message)
	case protocol.MessageTypeInfo:
		c.logger.Infow("server message", "message", message)
	default:
		c.logger.Debugw("server message", "message", message)
	}
}

func severityFor(kind protocol.MessageType) prompt.Severity {
	switch kind {
	case protocol.MessageTypeError:
		return prompt.SeverityError
	case protocol.MessageTypeWarning:
		return prompt.SeverityWarning
	default:
		return prompt.SeverityInfo
	}
}

func (c *Client) notify(ctx context.Context, severity prompt.Severity, msg string) {
	if c.opts.Prompter != nil {
		c.opts.Prompter.Notify(ctx, severity, msg)
	}
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return errors.New("missing params for " + req.Method)
	}
	return json.Unmarshal(*req.Params, v)
}
