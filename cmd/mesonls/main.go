package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesonbuild/vscode-meson-sub000/cmd/internal/cliutils"
	"github.com/mesonbuild/vscode-meson-sub000/langserver"
)

var (
	flagWorkspace string
	flagStorage   string
	flagConfig    string
	flagVerbose   bool
	flagYes       bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mesonls",
		Short:         "Manage Meson language servers for a workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", envOrDefault("MESONLS_WORKSPACE", "."), "Workspace root")
	root.PersistentFlags().StringVar(&flagStorage, "storage", envOrDefault("MESONLS_STORAGE", ""), "Directory for downloaded servers (default under XDG data home)")
	root.PersistentFlags().StringVar(&flagConfig, "config", envOrDefault("MESONLS_CONFIG", ""), "Global settings file (default under XDG config home)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log debug output to stderr")
	root.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false, "Answer Yes to every prompt")

	root.AddCommand(
		newServersCmd(),
		newResolveCmd(),
		newInstallCmd(),
		newUpdateCmd(),
		newCheckCmd(),
		newServeCmd(),
		newHistoryCmd(),
		newConfigCmd(),
		newIntrospectCmd(),
		newFormatCmd(),
	)
	return root
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// openEnv builds the shared context from the persistent flags. progress may
// be nil.
func openEnv(cmd *cobra.Command, progress langserver.ProgressFunc) (*cliutils.Env, error) {
	return cliutils.Open(cliutils.Config{
		Workspace:  flagWorkspace,
		Storage:    flagStorage,
		ConfigFile: flagConfig,
		Verbose:    flagVerbose,
		AssumeYes:  flagYes,
		In:         os.Stdin,
		Out:        cmd.ErrOrStderr(),
		Progress:   progress,
	})
}
