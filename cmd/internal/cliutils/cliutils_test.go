package cliutils

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/require"

	"github.com/mesonbuild/vscode-meson-sub000/langserver"
	"github.com/mesonbuild/vscode-meson-sub000/prompt"
	"github.com/mesonbuild/vscode-meson-sub000/settings"
)

func TestCanonicalServerName(t *testing.T) {
	for alias, want := range map[string]string{
		"mesonlsp":        "mesonlsp",
		"MESON":           "mesonlsp",
		"swift":           "Swift-MesonLSP",
		"Swift-MesonLSP":  "Swift-MesonLSP",
		" off ":           "none",
		"swift-meson-lsp": "Swift-MesonLSP",
	} {
		got, ok := CanonicalServerName(alias)
		require.True(t, ok, alias)
		require.Equal(t, want, got, alias)
	}
	_, ok := CanonicalServerName("clangd")
	require.False(t, ok)
	require.Contains(t, ServerAliases(), "meson-lsp")
}

func TestNewPrompterWithoutTerminal(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(nil, &out, true)
	static, ok := p.(*prompt.Static)
	require.True(t, ok)
	require.Equal(t, langserver.ChoiceYes, static.Answer)

	p = NewPrompter(nil, &out, false)
	static, ok = p.(*prompt.Static)
	require.True(t, ok)
	require.Empty(t, static.Answer)
}

func openEnv(t *testing.T) *Env {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	xdg.Reload()
	t.Cleanup(xdg.Reload)
	env, err := Open(Config{
		Workspace:  filepath.Join(dir, "ws"),
		Storage:    filepath.Join(dir, "servers"),
		ConfigFile: filepath.Join(dir, "config", "settings.yaml"),
		Out:        &bytes.Buffer{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestOpenWiresManagerAndPaths(t *testing.T) {
	env := openEnv(t)
	require.Equal(t, filepath.Join(env.Paths.Workspace, ".mesonls", "settings.yaml"), env.Paths.WorkspaceSettings)
	require.Equal(t, filepath.Join(xdg.DataHome, AppName, "installs.db"), env.Paths.Ledger)
	require.Equal(t, langserver.CurrentPlatform(), env.Manager.Platform())

	name, err := env.ServerName("")
	require.NoError(t, err)
	require.Equal(t, "mesonlsp", name)

	desc, err := env.Descriptor("swift")
	require.NoError(t, err)
	require.Equal(t, "Swift-MesonLSP", desc.Name)

	_, err = env.ServerName("clangd")
	require.True(t, errors.Is(err, langserver.ErrUnknownServer))

	require.NoError(t, env.Settings.Set(settings.KeyLanguageServer, "none", settings.ScopeWorkspace))
	_, err = env.Descriptor("")
	require.Error(t, err)
}

func TestBuildDirAndMesonPath(t *testing.T) {
	env := openEnv(t)
	require.Equal(t, filepath.Join(env.Paths.Workspace, "builddir"), env.BuildDir(""))
	require.Equal(t, filepath.Join(env.Paths.Workspace, "out"), env.BuildDir("out"))

	abs := filepath.Join(t.TempDir(), "b")
	require.Equal(t, abs, env.BuildDir(abs))

	require.NoError(t, env.Settings.Set(settings.KeyBuildFolder, "_build", settings.ScopeWorkspace))
	require.Equal(t, filepath.Join(env.Paths.Workspace, "_build"), env.BuildDir(""))

	require.Equal(t, "meson", env.MesonPath())
	require.NoError(t, env.Settings.Set(settings.KeyMesonPath, "/opt/meson/bin/meson", settings.ScopeGlobal))
	require.Equal(t, "/opt/meson/bin/meson", env.MesonPath())
	require.Equal(t, "/opt/meson/bin/meson", env.Introspector().Meson)
}
