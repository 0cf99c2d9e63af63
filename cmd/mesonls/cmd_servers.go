package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/mesonbuild/vscode-meson-sub000/cmd/internal/cliutils"
	"github.com/mesonbuild/vscode-meson-sub000/langserver"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boldStyle = lipgloss.NewStyle().Bold(true)
)

func newServersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List known language servers and their status on this system",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			return printServers(cmd.OutOrStdout(), env)
		},
	}
}

func printServers(out io.Writer, env *cliutils.Env) error {
	platform := env.Manager.Platform()
	configured, _ := env.ServerName("")
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tAVAILABILITY\tINSTALLED\tACTIVE")
	for _, kind := range langserver.Kinds() {
		desc, _ := kind.Descriptor()
		installed := "-"
		v, ok, err := env.Manager.Installer().InstalledVersion(desc)
		if err != nil {
			return err
		}
		if ok {
			installed = v.String()
		}
		active := ""
		if desc.Name == configured {
			active = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", desc.Name, desc.Version, desc.Availability(platform), installed, active)
	}
	return w.Flush()
}

func newResolveCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which executable would be launched",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			desc, err := env.Descriptor(server)
			if err != nil {
				return err
			}
			bin, ok := env.Manager.Resolve(desc)
			if !ok {
				return &langserver.ServerError{Server: desc.Name, Err: langserver.ErrNotFound}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", boldStyle.Render(desc.Name), bin.Path)
			fmt.Fprintf(out, "  source: %s\n", bin.Source)
			if len(bin.ExtraArgs) > 0 {
				fmt.Fprintf(out, "  args:   %s\n", strings.Join(bin.ExtraArgs, " "))
			}
			fmt.Fprintf(out, "  run:    %s\n", strings.Join(desc.RunArgs(bin.ExtraArgs...), " "))
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server name (default: configured language server)")
	return cmd
}

func newInstallCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download and verify the managed copy of a language server",
		RunE: func(cmd *cobra.Command, args []string) error {
			bar := newProgressPrinter(cmd.ErrOrStderr())
			env, err := openEnv(cmd, bar.Update)
			if err != nil {
				return err
			}
			defer env.Close()
			desc, err := env.Descriptor(server)
			if err != nil {
				return err
			}
			path, err := env.Manager.Installer().Install(cmd.Context(), desc, desc.Version)
			bar.Done()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s -> %s\n", okStyle.Render("installed"), desc.Name, desc.Version, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server name (default: configured language server)")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Replace an outdated managed server with the pinned version",
		RunE: func(cmd *cobra.Command, args []string) error {
			bar := newProgressPrinter(cmd.ErrOrStderr())
			env, err := openEnv(cmd, bar.Update)
			if err != nil {
				return err
			}
			defer env.Close()
			name, err := env.ServerName("")
			if err != nil {
				return err
			}
			client, err := env.Manager.CreateClient(cmd.Context(), name, false)
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("no language server configured")
			}
			defer client.Dispose(cmd.Context())
			updated, err := client.Update(cmd.Context())
			bar.Done()
			if err != nil {
				return err
			}
			desc := client.Descriptor()
			if updated {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s to %s\n", okStyle.Render("updated"), desc.Name, desc.Version)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", desc.Name)
			}
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Start the configured server, complete the handshake and stop it",
		RunE: func(cmd *cobra.Command, args []string) error {
			bar := newProgressPrinter(cmd.ErrOrStderr())
			env, err := openEnv(cmd, bar.Update)
			if err != nil {
				return err
			}
			defer env.Close()
			name, err := env.ServerName("")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client, err := env.Manager.CreateClient(ctx, name, false)
			bar.Done()
			if err != nil {
				return err
			}
			if client == nil {
				fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("no language server configured"))
				return nil
			}
			defer client.Dispose(ctx)
			if err := client.Start(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			bin := client.Binary()
			fmt.Fprintf(out, "%s %s (%s)\n", okStyle.Render("running"), bin.Path, bin.Source)
			if info, ok := client.ServerInfo(); ok {
				fmt.Fprintf(out, "  server: %s %s\n", info.Name, info.Version)
			}
			return client.Stop(ctx)
		},
	}
}

// progressPrinter renders download progress as a single redrawn line.
type progressPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	bar    progress.Model
	active bool
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40))}
}

func (p *progressPrinter) Update(written, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	if total <= 0 {
		fmt.Fprintf(p.out, "\rdownloading %s", humanBytes(written))
		return
	}
	pct := float64(written) / float64(total)
	fmt.Fprintf(p.out, "\r%s %s/%s", p.bar.ViewAs(pct), humanBytes(written), humanBytes(total))
}

// Done ends the progress line if one was drawn.
func (p *progressPrinter) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		fmt.Fprintln(p.out)
		p.active = false
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
