package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTemp(t *testing.T) (*Store, string, string) {
	t.Helper()
	dir := t.TempDir()
	global := filepath.Join(dir, "global", "settings.yaml")
	workspace := filepath.Join(dir, "ws", ".mesonls", "settings.yaml")
	s, err := Open(global, workspace)
	require.NoError(t, err)
	return s, global, workspace
}

func TestDefaultsApplyWhenFilesMissing(t *testing.T) {
	s, _, _ := openTemp(t)
	require.Equal(t, "mesonlsp", s.String(KeyLanguageServer))
	require.Equal(t, "ask", s.String(KeyDownloadLanguageServer))
	require.Equal(t, "", s.String(KeyLanguageServerPath))
	_, ok := s.Get("mesonbuild.unknown")
	require.False(t, ok)
}

func TestWorkspaceOverridesGlobal(t *testing.T) {
	s, global, workspace := openTemp(t)
	require.NoError(t, s.Set(KeyLanguageServer, "Swift-MesonLSP", ScopeGlobal))
	require.Equal(t, "Swift-MesonLSP", s.String(KeyLanguageServer))

	require.NoError(t, s.Set(KeyLanguageServer, "mesonlsp", ScopeWorkspace))
	require.Equal(t, "mesonlsp", s.String(KeyLanguageServer))

	globalRaw, err := os.ReadFile(global)
	require.NoError(t, err)
	require.Contains(t, string(globalRaw), "Swift-MesonLSP")
	wsRaw, err := os.ReadFile(workspace)
	require.NoError(t, err)
	require.NotContains(t, string(wsRaw), "Swift-MesonLSP")

	reopened, err := Open(global, workspace)
	require.NoError(t, err)
	require.Equal(t, "mesonlsp", reopened.String(KeyLanguageServer))
}

func TestSetBoolPersistsTyped(t *testing.T) {
	s, global, workspace := openTemp(t)
	require.NoError(t, s.Set(KeyDownloadLanguageServer, true, ScopeGlobal))
	reopened, err := Open(global, workspace)
	require.NoError(t, err)
	v, ok := reopened.Get(KeyDownloadLanguageServer)
	require.True(t, ok)
	require.Equal(t, true, v)
}

func TestWorkspaceScopeDisabled(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.yaml"), "")
	require.NoError(t, err)
	require.Error(t, s.Set(KeyLanguageServer, "x", ScopeWorkspace))
}

func TestSectionMergesLayers(t *testing.T) {
	s, _, _ := openTemp(t)
	require.NoError(t, s.Set("mesonbuild.mesonlsp.linting.disableAll", true, ScopeGlobal))
	require.NoError(t, s.Set("mesonbuild.mesonlsp.others.neverDownloadAutomatically", true, ScopeWorkspace))
	sec := s.Section("mesonbuild.mesonlsp")
	require.Equal(t, map[string]any{
		"linting": map[string]any{"disableAll": true},
		"others":  map[string]any{"neverDownloadAutomatically": true},
	}, sec)

	sec["linting"] = "mutated"
	require.Equal(t, map[string]any{"disableAll": true}, s.Section("mesonbuild.mesonlsp")["linting"])
}

func TestChangedKeys(t *testing.T) {
	before := map[string]any{"a": 1, "b": "x", "c": true}
	after := map[string]any{"a": 1, "b": "y", "d": false}
	require.Equal(t, []string{"b", "c", "d"}, ChangedKeys(before, after))
	require.Empty(t, ChangedKeys(before, before))
}

func TestParseValue(t *testing.T) {
	require.Equal(t, true, ParseValue("true"))
	require.Equal(t, int64(4), ParseValue("4"))
	require.Equal(t, 1.5, ParseValue("1.5"))
	require.Equal(t, "ask", ParseValue("ask"))
}

func TestInvalidYAMLFailsOpen(t *testing.T) {
	dir := t.TempDir()
	global := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(global, []byte("mesonbuild: [unterminated"), 0o644))
	_, err := Open(global, "")
	require.Error(t, err)
}

func TestWatchReportsChangedKeys(t *testing.T) {
	s, global, workspace := openTemp(t)
	require.NoError(t, s.Set(KeyLanguageServer, "mesonlsp", ScopeWorkspace))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan []string, 4)
	require.NoError(t, s.Watch(ctx, 20*time.Millisecond, zaptest.NewLogger(t).Sugar(), func(changed []string) {
		changes <- changed
	}))

	other, err := Open(global, workspace)
	require.NoError(t, err)
	require.NoError(t, other.Set(KeyLanguageServerPath, "/opt/mesonlsp", ScopeWorkspace))

	select {
	case changed := <-changes:
		require.Contains(t, changed, KeyLanguageServerPath)
		require.Equal(t, "/opt/mesonlsp", s.String(KeyLanguageServerPath))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for settings change")
	}
}
