package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mesonbuild/vscode-meson-sub000/cmd/internal/cliutils"
	"github.com/mesonbuild/vscode-meson-sub000/langserver"
	"github.com/mesonbuild/vscode-meson-sub000/settings"
)

// settingsAction is what a batch of changed settings requires of the
// running session.
type settingsAction int

const (
	actionNone settingsAction = iota
	actionReload
	actionRestart
	actionSwitch
)

// classifyChanges picks the strongest action required by changed keys.
// A different server wins over a restart, which wins over a reload of the
// server's own section.
func classifyChanges(changed []string, server string) settingsAction {
	section := settings.Section + "." + server
	action := actionNone
	for _, key := range changed {
		switch {
		case key == settings.KeyLanguageServer:
			return actionSwitch
		case key == settings.KeyLanguageServerPath:
			action = max(action, actionRestart)
		case server != "" && (key == section || strings.HasPrefix(key, section+".")):
			action = max(action, actionReload)
		}
	}
	return action
}

func newServeCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the configured language server and follow settings changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()

			if metricsAddr != "" {
				srv := startMetricsServer(env, metricsAddr)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			sess := &session{env: env}
			if err := sess.open(ctx); err != nil {
				return err
			}
			defer sess.close()

			changes := make(chan []string, 1)
			if err := env.Settings.Watch(ctx, settings.DefaultDebounce, env.Logger, func(changed []string) {
				select {
				case changes <- changed:
				case <-ctx.Done():
				}
			}); err != nil {
				return err
			}
			env.Logger.Infow("serving", "workspace", env.Paths.Workspace, "server", sess.name)
			for {
				select {
				case <-ctx.Done():
					return nil
				case changed := <-changes:
					if err := sess.apply(ctx, changed); err != nil {
						env.Logger.Errorw("apply settings change", "error", err)
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	return cmd
}

func startMetricsServer(env *cliutils.Env, addr string) *http.Server {
	env.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{Registry: prometheus.Registerer(env.Registry)}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			env.Logger.Errorw("metrics server", "addr", addr, "error", err)
		}
	}()
	env.Logger.Infow("metrics listening", "addr", addr)
	return srv
}

// session owns the client serve keeps alive.
type session struct {
	env    *cliutils.Env
	name   string
	client *langserver.Client
}

func (s *session) open(ctx context.Context) error {
	name, err := s.env.ServerName("")
	if err != nil {
		return err
	}
	s.name = name
	client, err := s.env.Manager.CreateClient(ctx, name, false)
	if err != nil {
		return err
	}
	s.client = client
	if client == nil {
		s.env.Logger.Infow("no language server configured", "server", name)
		return nil
	}
	return client.Start(ctx)
}

func (s *session) close() {
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*langserver.DefaultShutdownTimeout)
	defer cancel()
	if err := s.client.Dispose(ctx); err != nil {
		s.env.Logger.Warnw("stop language server", "error", err)
	}
	s.client = nil
}

func (s *session) apply(ctx context.Context, changed []string) error {
	switch classifyChanges(changed, s.name) {
	case actionSwitch:
		s.close()
		return s.open(ctx)
	case actionRestart:
		if s.client == nil {
			return nil
		}
		return s.client.Restart(ctx)
	case actionReload:
		if s.client == nil {
			return nil
		}
		if err := s.client.ReloadConfig(ctx); err != nil && !errors.Is(err, langserver.ErrNotRunning) {
			return fmt.Errorf("reload %s configuration: %w", s.name, err)
		}
	}
	return nil
}
