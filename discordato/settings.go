package discordato

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/lmittmann/tint"
)

const settingsDirName = "settings"

var ErrUnknownSettingKey = errors.New("unknown setting key")

// SettingsManager owns the JSON settings document for a single feature
// module, stored at `<data_dir>/settings/<module>.json`. The on-disk
// document is deep-merged over the module's defaults at load, so new
// default keys appear without clobbering operator changes. All writes go
// through an atomic temp-file-and-rename.
type SettingsManager struct {
	moduleName string
	defaults   map[string]any
	settings   map[string]any
	path       string
	logger     *slog.Logger
	mu         sync.Mutex
}

// NewSettingsManager loads (or creates) the settings document for the
// given module under dir.
func NewSettingsManager(
	dir string,
	moduleName string,
	defaults map[string]any,
	logger *slog.Logger,
) (*SettingsManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults == nil {
		defaults = map[string]any{}
	}
	m := &SettingsManager{
		moduleName: moduleName,
		defaults:   defaults,
		path: filepath.Join(
			dir,
			fmt.Sprintf("%s.json", strings.ToLower(moduleName)),
		),
		logger: logger.With(
			loggerNameKey, "settings",
			"module", moduleName,
		),
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Path returns the settings file path.
func (m *SettingsManager) Path() string {
	return m.path
}

// ModuleName returns the module this manager belongs to.
func (m *SettingsManager) ModuleName() string {
	return m.moduleName
}

// Load reads the settings document from disk, merging it over the
// defaults. If no file exists yet, the defaults are written out to
// create it.
func (m *SettingsManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		m.logger.Info("no settings file found, using defaults", "path", m.path)
		m.settings = deepCopyMap(m.defaults)
		return m.unsafeSave()
	case err != nil:
		return fmt.Errorf("error reading settings for %s: %w", m.moduleName, err)
	}

	var loaded map[string]any
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("error parsing settings for %s: %w", m.moduleName, err)
	}
	m.settings = deepMerge(m.defaults, loaded)
	m.logger.Info("loaded settings", "path", m.path)
	return nil
}

// Save writes the current settings to disk.
func (m *SettingsManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsafeSave()
}

// unsafeSave writes the document without taking the mutex. The write goes
// to a temp file in the same directory first, then renames over the
// target, so a crash mid-write never leaves a truncated document.
func (m *SettingsManager) unsafeSave() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("error creating settings directory: %w", err)
	}

	data, err := json.MarshalIndent(m.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding settings for %s: %w", m.moduleName, err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("error writing settings for %s: %w", m.moduleName, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("error replacing settings for %s: %w", m.moduleName, err)
	}
	m.logger.Debug("saved settings", "path", m.path)
	return nil
}

// Get returns the value for the given key, which may use dot notation for
// nested lookups (e.g. "filters.scam_links.enabled"), and a boolean
// indicating whether the key was found. Map and slice values are returned
// as deep copies, so the caller may mutate the result freely and persist
// the change with [SettingsManager.Set].
func (m *SettingsManager) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := lookupKey(m.settings, key)
	if !ok {
		return nil, false
	}
	return deepCopyValue(v), true
}

// Bool returns the boolean value at key, or fallback if the key is
// missing or not a boolean.
func (m *SettingsManager) Bool(key string, fallback bool) bool {
	v, ok := m.Get(key)
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

// Int64 returns the integer value at key, coercing JSON numbers and
// numeric strings, or fallback.
func (m *SettingsManager) Int64(key string, fallback int64) int64 {
	v, ok := m.Get(key)
	if !ok {
		return fallback
	}
	n, ok := asInt64(v)
	if !ok {
		return fallback
	}
	return n
}

// String returns the string value at key, coercing JSON numbers (settings
// documents written by other tooling sometimes store snowflakes as
// numbers), or fallback.
func (m *SettingsManager) String(key string, fallback string) string {
	v, ok := m.Get(key)
	if !ok {
		return fallback
	}
	s, ok := asString(v)
	if !ok {
		return fallback
	}
	return s
}

// StringSlice returns the list at key with each element coerced to a
// string. Missing keys and non-list values return nil.
func (m *SettingsManager) StringSlice(key string) []string {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, sOK := asString(item); sOK {
			out = append(out, s)
		}
	}
	return out
}

// Int64Slice returns the list at key with each element coerced to int64.
func (m *SettingsManager) Int64Slice(key string) []int64 {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		if n, nOK := asInt64(item); nOK {
			out = append(out, n)
		}
	}
	return out
}

// StringMap returns the nested object at key, or nil.
func (m *SettingsManager) StringMap(key string) map[string]any {
	v, ok := m.Get(key)
	if !ok {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return obj
}

// Document returns a deep copy of the full settings document.
func (m *SettingsManager) Document() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return deepCopyMap(m.settings)
}

// Set stores a value for the given (possibly dotted) key, creating
// intermediate objects as needed, and saves to disk when save is true.
func (m *SettingsManager) Set(key string, value any, save bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.Split(key, ".")
	target := m.settings
	for _, part := range parts[:len(parts)-1] {
		next, ok := target[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			target[part] = next
		}
		target = next
	}
	target[parts[len(parts)-1]] = deepCopyValue(value)

	if save {
		return m.unsafeSave()
	}
	return nil
}

// Update applies multiple top-level settings at once.
func (m *SettingsManager) Update(values map[string]any, save bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range values {
		m.settings[k] = deepCopyValue(v)
	}
	if save {
		return m.unsafeSave()
	}
	return nil
}

// Reset restores all settings to the module defaults.
func (m *SettingsManager) Reset(save bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = deepCopyMap(m.defaults)
	if save {
		return m.unsafeSave()
	}
	return nil
}

// ResetKey restores a single (possibly dotted) key to its default value.
// Returns ErrUnknownSettingKey if the key has no default.
func (m *SettingsManager) ResetKey(key string, save bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	defaultValue, ok := lookupKey(m.defaults, key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSettingKey, key)
	}

	parts := strings.Split(key, ".")
	target := m.settings
	for _, part := range parts[:len(parts)-1] {
		next, nextOK := target[part].(map[string]any)
		if !nextOK {
			return fmt.Errorf("%w: %s", ErrUnknownSettingKey, key)
		}
		target = next
	}
	target[parts[len(parts)-1]] = deepCopyValue(defaultValue)

	if save {
		return m.unsafeSave()
	}
	return nil
}

func lookupKey(doc map[string]any, key string) (any, bool) {
	if !strings.Contains(key, ".") {
		v, ok := doc[key]
		return v, ok
	}
	var value any = doc
	for _, part := range strings.Split(key, ".") {
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

// deepMerge merges override over defaults, recursing into nested objects
// so that every default key exists in the result.
func deepMerge(defaults, override map[string]any) map[string]any {
	result := deepCopyMap(defaults)
	for key, value := range override {
		existing, ok := result[key].(map[string]any)
		if ok {
			if overrideMap, isMap := value.(map[string]any); isMap {
				result[key] = deepMerge(existing, overrideMap)
				continue
			}
		}
		result[key] = deepCopyValue(value)
	}
	return result
}

func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopyMap(tv)
	case []any:
		items := make([]any, len(tv))
		for i, item := range tv {
			items[i] = deepCopyValue(item)
		}
		return items
	default:
		return v
	}
}

func asInt64(v any) (int64, bool) {
	switch tv := v.(type) {
	case int64:
		return tv, true
	case int:
		return int64(tv), true
	case float64:
		return int64(tv), true
	case json.Number:
		n, err := tv.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(tv, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	switch tv := v.(type) {
	case string:
		return tv, true
	case float64:
		return strconv.FormatInt(int64(tv), 10), true
	case int64:
		return strconv.FormatInt(tv, 10), true
	case int:
		return strconv.Itoa(tv), true
	case json.Number:
		return tv.String(), true
	default:
		return "", false
	}
}

// SettingsRegistry hands out one SettingsManager per module name,
// creating managers on first use.
type SettingsRegistry struct {
	dir      string
	logger   *slog.Logger
	mu       sync.Mutex
	managers map[string]*SettingsManager
}

// NewSettingsRegistry creates a registry rooted at
// `<dataDir>/settings/`.
func NewSettingsRegistry(dataDir string, logger *slog.Logger) *SettingsRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsRegistry{
		dir:      filepath.Join(dataDir, settingsDirName),
		logger:   logger,
		managers: map[string]*SettingsManager{},
	}
}

// Manager returns the settings manager for the given module, creating it
// with the given defaults if one doesn't exist yet.
func (r *SettingsRegistry) Manager(
	moduleName string,
	defaults map[string]any,
) (*SettingsManager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(moduleName)
	if m, ok := r.managers[key]; ok {
		return m, nil
	}
	m, err := NewSettingsManager(r.dir, moduleName, defaults, r.logger)
	if err != nil {
		r.logger.Error(
			"error creating settings manager",
			tint.Err(err),
			"module", moduleName,
		)
		return nil, err
	}
	r.managers[key] = m
	return m, nil
}
