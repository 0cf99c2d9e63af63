package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesonbuild/vscode-meson-sub000/formatter"
	"github.com/mesonbuild/vscode-meson-sub000/introspect"
	"github.com/mesonbuild/vscode-meson-sub000/settings"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var server string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded install attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			records, err := env.Ledger.List(cmd.Context(), server, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSERVER\tVERSION\tPLATFORM\tOUTCOME\tDURATION\tERROR")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					rec.StartedAt.Local().Format(time.DateTime), rec.Server, rec.Version, rec.Platform,
					rec.Outcome, rec.Duration.Round(time.Millisecond), rec.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show (0 for all)")
	cmd.Flags().StringVar(&server, "server", "", "Only show this server")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			v, ok := env.Settings.Get(args[0])
			if !ok {
				return fmt.Errorf("setting %s is not set", args[0])
			}
			return printValue(cmd.OutOrStdout(), v)
		},
	})

	var global bool
	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a setting to the workspace or global file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			scope := settings.ScopeWorkspace
			if global {
				scope = settings.ScopeGlobal
			}
			if err := env.Settings.Set(args[0], settings.ParseValue(args[1]), scope); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (%s, %s)\n", args[0], args[1], scope, env.Settings.Path(scope))
			return nil
		},
	}
	set.Flags().BoolVar(&global, "global", false, "Write to the global settings file")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every effective setting",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			flat := env.Settings.Flatten()
			keys := make([]string, 0, len(flat))
			for k := range flat {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, flat[k])
			}
			return nil
		},
	})
	return cmd
}

func printValue(out io.Writer, v any) error {
	switch v.(type) {
	case map[string]any, []any:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		_, err := fmt.Fprintln(out, v)
		return err
	}
}

func newIntrospectCmd() *cobra.Command {
	var buildDir string
	var asJSON bool
	cmd := &cobra.Command{
		Use:       "introspect <targets|tests|benchmarks|options>",
		Short:     "Show what a configured build directory contains",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"targets", "tests", "benchmarks", "options"},
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			dir := env.BuildDir(buildDir)
			intro := env.Introspector()
			ctx := cmd.Context()

			var data any
			switch args[0] {
			case "targets":
				data, err = intro.Targets(ctx, dir)
			case "tests":
				data, err = intro.Tests(ctx, dir)
			case "benchmarks":
				data, err = intro.Benchmarks(ctx, dir)
			case "options":
				data, err = intro.BuildOptions(ctx, dir)
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(data)
			}
			return printIntrospection(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().StringVar(&buildDir, "builddir", "", "Build directory (default: configured build folder)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func printIntrospection(out io.Writer, data any) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	switch items := data.(type) {
	case []introspect.Target:
		fmt.Fprintln(w, "NAME\tTYPE\tDEFINED IN")
		for _, t := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Type, t.DefinedIn)
		}
	case []introspect.Test:
		fmt.Fprintln(w, "NAME\tSUITES\tPROTOCOL\tTIMEOUT")
		for _, t := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%ds\n", t.Name, strings.Join(t.Suite, ","), t.Protocol, t.Timeout)
		}
	case []introspect.BuildOption:
		fmt.Fprintln(w, "NAME\tSECTION\tTYPE\tVALUE")
		for _, o := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.Name, o.Section, o.Type, string(o.Value))
		}
	}
	return w.Flush()
}

func newFormatCmd() *cobra.Command {
	var write bool
	var buildDir string
	cmd := &cobra.Command{
		Use:   "format <file>",
		Short: "Format a meson.build file with meson format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(cmd, nil)
			if err != nil {
				return err
			}
			defer env.Close()
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			v, err := env.Introspector().MesonVersion(ctx, env.BuildDir(buildDir))
			if err != nil {
				return fmt.Errorf("detect meson version: %w", err)
			}
			f := formatter.New(env.MesonPath(), v, env.Runner, env.Paths.Workspace, env.Logger)
			formatted, err := f.Format(ctx, path, string(content))
			if err != nil {
				return err
			}
			if !write {
				_, err = io.WriteString(cmd.OutOrStdout(), formatted)
				return err
			}
			if formatted == string(content) {
				return nil
			}
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			return os.WriteFile(path, []byte(formatted), info.Mode().Perm())
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "Rewrite the file instead of printing")
	cmd.Flags().StringVar(&buildDir, "builddir", "", "Build directory used to detect the meson version")
	return cmd
}
