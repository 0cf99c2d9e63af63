// Package settings is a hierarchical key-value store with a workspace scope
// layered over a global scope, both persisted as YAML.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Scope selects which file a Set writes to.
type Scope int

const (
	// ScopeWorkspace applies to the current workspace only.
	ScopeWorkspace Scope = iota
	// ScopeGlobal applies everywhere.
	ScopeGlobal
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case ScopeWorkspace:
		return "workspace"
	case ScopeGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Well-known keys.
const (
	Section                   = "mesonbuild"
	KeyLanguageServer         = "mesonbuild.languageServer"
	KeyLanguageServerPath     = "mesonbuild.languageServerPath"
	KeyDownloadLanguageServer = "mesonbuild.downloadLanguageServer"
	KeyMesonPath              = "mesonbuild.mesonPath"
	KeyBuildFolder            = "mesonbuild.buildFolder"
)

// Defaults returns the built-in values consulted after both scopes.
func Defaults() map[string]any {
	return map[string]any{
		Section: map[string]any{
			"languageServer":         "mesonlsp",
			"languageServerPath":     "",
			"downloadLanguageServer": "ask",
			"mesonPath":              "meson",
			"buildFolder":            "builddir",
		},
	}
}

// Store reads workspace, then global, then default values.
type Store struct {
	mu       sync.RWMutex
	paths    map[Scope]string
	data     map[Scope]map[string]any
	defaults map[string]any
}

// Open loads both scope files. Missing files are treated as empty and an
// empty workspacePath disables the workspace scope.
func Open(globalPath, workspacePath string) (*Store, error) {
	if globalPath == "" {
		return nil, errors.New("global settings path required")
	}
	s := &Store{
		paths: map[Scope]string{
			ScopeGlobal:    globalPath,
			ScopeWorkspace: workspacePath,
		},
		data:     map[Scope]map[string]any{},
		defaults: Defaults(),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file backing scope, or "" when the scope is disabled.
func (s *Store) Path(scope Scope) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paths[scope]
}

// Reload re-reads both scope files from disk.
func (s *Store) Reload() error {
	global, err := readConfigMap(s.Path(ScopeGlobal))
	if err != nil {
		return fmt.Errorf("read global settings: %w", err)
	}
	workspace, err := readConfigMap(s.Path(ScopeWorkspace))
	if err != nil {
		return fmt.Errorf("read workspace settings: %w", err)
	}
	s.mu.Lock()
	s.data[ScopeGlobal] = global
	s.data[ScopeWorkspace] = workspace
	s.mu.Unlock()
	return nil
}

// Get resolves key across workspace, global and default values.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, layer := range []map[string]any{s.data[ScopeWorkspace], s.data[ScopeGlobal], s.defaults} {
		if v, ok := getConfigValue(layer, key); ok {
			return v, true
		}
	}
	return nil, false
}

// String returns the value for key rendered as a string, or "".
func (s *Store) String(key string) string {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Section returns the merged nested map under prefix. The result is a
// copy; mutating it does not affect the store.
func (s *Store) Section(prefix string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]any{}
	for _, layer := range []map[string]any{s.defaults, s.data[ScopeGlobal], s.data[ScopeWorkspace]} {
		v, ok := getConfigValue(layer, prefix)
		if !ok {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			mergeInto(out, m)
		}
	}
	return out
}

// Set writes key into the given scope's file.
func (s *Store) Set(key string, value any, scope Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.paths[scope]
	if path == "" {
		return fmt.Errorf("%s settings scope is not available", scope)
	}
	data, err := readConfigMap(path)
	if err != nil {
		return err
	}
	if err := setConfigValue(data, key, value); err != nil {
		return err
	}
	if err := writeConfigMap(path, data); err != nil {
		return err
	}
	s.data[scope] = data
	return nil
}

// Flatten returns every effective key under Section as dotted paths.
func (s *Store) Flatten() map[string]any {
	out := map[string]any{}
	flatten(Section, s.Section(Section), out)
	return out
}

// ChangedKeys lists dotted keys whose effective value differs between the
// two snapshots produced by Flatten.
func ChangedKeys(before, after map[string]any) []string {
	seen := map[string]struct{}{}
	var changed []string
	for k, v := range before {
		seen[k] = struct{}{}
		if w, ok := after[k]; !ok || !reflect.DeepEqual(v, w) {
			changed = append(changed, k)
		}
	}
	for k := range after {
		if _, ok := seen[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// ParseValue coerces CLI input into bool/int/float before storing.
func ParseValue(input string) any {
	if b, err := strconv.ParseBool(input); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(input, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(input, 64); err == nil {
		return f
	}
	return input
}

func readConfigMap(path string) (map[string]any, error) {
	data := map[string]any{}
	if path == "" {
		return data, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func writeConfigMap(path string, data map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func getConfigValue(data map[string]any, key string) (any, bool) {
	var current any = data
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok := m[part]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}

func setConfigValue(data map[string]any, key string, value any) error {
	if key == "" {
		return errors.New("settings key required")
	}
	parts := strings.Split(key, ".")
	current := data
	for i, part := range parts {
		if part == "" {
			return fmt.Errorf("invalid settings key %q", key)
		}
		if i == len(parts)-1 {
			current[part] = value
			return nil
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	return nil
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			dm, ok := dst[k].(map[string]any)
			if !ok {
				dm = map[string]any{}
				dst[k] = dm
			}
			mergeInto(dm, sm)
			continue
		}
		dst[k] = v
	}
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := prefix + "." + k
		if sub, ok := v.(map[string]any); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}
