package discordato

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsManagerWritesDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	m, err := NewSettingsManager(
		dir, "Pinger", pingerDefaults(), testLogger(),
	)
	require.NoError(t, err)

	// file name is lowercased
	assert.Equal(t, filepath.Join(dir, "pinger.json"), m.Path())
	data, err := os.ReadFile(m.Path())
	require.NoError(t, err)

	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, true, onDisk["enabled"])
	assert.Equal(t, true, onDisk["monitor_everyone"])
	assert.Equal(t, false, onDisk["monitor_roles"])
}

func TestSettingsManagerMergesOverDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	onDisk := map[string]any{
		"enabled": false,
		"filters": map[string]any{
			"scam": map[string]any{
				"patterns": []any{"free nitro"},
				"action":   "delete",
			},
		},
	}
	data, err := json.Marshal(onDisk)
	require.NoError(t, err)
	require.NoError(
		t, os.WriteFile(filepath.Join(dir, "keyword_filter.json"), data, 0644),
	)

	m, err := NewSettingsManager(
		dir, ModuleNameKeywordFilter, keywordFilterDefaults(), testLogger(),
	)
	require.NoError(t, err)

	// operator value wins
	assert.False(t, m.Bool("enabled", true))
	// default keys absent from the file still appear
	assert.True(t, m.Bool("notify_filtered", false))
	// nested objects survive the merge
	assert.Equal(t, "delete", m.String("filters.scam.action", ""))
}

func TestSettingsManagerDottedSet(t *testing.T) {
	t.Parallel()
	m, err := NewSettingsManager(
		t.TempDir(), "link_reaction", linkReactionDefaults(), testLogger(),
	)
	require.NoError(t, err)

	require.NoError(
		t, m.Set("stores.lvr.detection.type", storeDetectionURLContains, true),
	)
	assert.Equal(
		t, storeDetectionURLContains, m.String("stores.lvr.detection.type", ""),
	)

	// intermediate objects were created on demand
	stores := m.StringMap("stores")
	require.Contains(t, stores, "lvr")

	// persisted across reloads
	require.NoError(t, m.Load())
	assert.Equal(
		t, storeDetectionURLContains, m.String("stores.lvr.detection.type", ""),
	)
}

func TestSettingsManagerResetKey(t *testing.T) {
	t.Parallel()
	m, err := NewSettingsManager(
		t.TempDir(), ModuleNamePinger, pingerDefaults(), testLogger(),
	)
	require.NoError(t, err)

	require.NoError(t, m.Set("monitor_everyone", false, false))
	require.False(t, m.Bool("monitor_everyone", true))

	require.NoError(t, m.ResetKey("monitor_everyone", false))
	assert.True(t, m.Bool("monitor_everyone", false))

	err = m.ResetKey("no_such_key", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownSettingKey)
}

func TestSettingsManagerReset(t *testing.T) {
	t.Parallel()
	m, err := NewSettingsManager(
		t.TempDir(), ModuleNamePinger, pingerDefaults(), testLogger(),
	)
	require.NoError(t, err)

	require.NoError(t, m.Update(map[string]any{
		"enabled":            false,
		"notification_title": "custom",
	}, false))
	require.NoError(t, m.Reset(false))

	assert.True(t, m.Bool("enabled", false))
	assert.Equal(
		t,
		defaultPingNotificationTitle,
		m.String("notification_title", ""),
	)
}

func TestSettingsManagerDocumentIsACopy(t *testing.T) {
	t.Parallel()
	m, err := NewSettingsManager(
		t.TempDir(), ModuleNameRedeye, redeyeDefaults(), testLogger(),
	)
	require.NoError(t, err)

	doc := m.Document()
	doc["enabled"] = false
	doc["profiles_path"] = "/tmp/hacked.csv"

	assert.True(t, m.Bool("enabled", false))
	assert.Equal(t, "", m.String("profiles_path", ""))
}

func TestSettingsManagerGetReturnsCopies(t *testing.T) {
	t.Parallel()
	m, err := NewSettingsManager(
		t.TempDir(), ModuleNameKeywordFilter, keywordFilterDefaults(), testLogger(),
	)
	require.NoError(t, err)

	require.NoError(t, m.Set(
		"filters.scam",
		map[string]any{"enabled": true, "patterns": []any{"free nitro"}},
		false,
	))

	// deleting from the returned map doesn't touch the stored document
	// until the caller writes it back
	filters := m.StringMap("filters")
	require.Contains(t, filters, "scam")
	delete(filters, "scam")
	assert.Contains(t, m.StringMap("filters"), "scam")

	require.NoError(t, m.Set("filters", filters, false))
	assert.NotContains(t, m.StringMap("filters"), "scam")

	// slices handed out are copies too
	require.NoError(t, m.Set("category_ids", []any{"cat-1"}, false))
	ids, _ := m.Get("category_ids")
	ids.([]any)[0] = "cat-mangled"
	assert.Equal(t, []string{"cat-1"}, m.StringSlice("category_ids"))

	// values passed to Set are copied in, not aliased
	entry := map[string]any{"enabled": true}
	require.NoError(t, m.Set("filters.spam", entry, false))
	entry["enabled"] = false
	assert.True(t, m.Bool("filters.spam.enabled", false))
}

func TestSettingsManagerConcurrentReadersAndRemovals(t *testing.T) {
	t.Parallel()
	m, err := NewSettingsManager(
		t.TempDir(), ModuleNameKeywordFilter, keywordFilterDefaults(), testLogger(),
	)
	require.NoError(t, err)

	for n := 0; n < 25; n++ {
		require.NoError(t, m.Set(
			fmt.Sprintf("filters.filter_%d", n),
			map[string]any{"enabled": true, "patterns": []any{"x"}},
			false,
		))
	}

	// readers range the filters map the way message handlers do, while a
	// writer removes entries the way the config command does
	done := make(chan struct{})
	go func() {
		defer close(done)
		for n := 0; n < 25; n++ {
			filters := m.StringMap("filters")
			delete(filters, fmt.Sprintf("filter_%d", n))
			if setErr := m.Set("filters", filters, false); setErr != nil {
				return
			}
		}
	}()
	for {
		select {
		case <-done:
			assert.Empty(t, m.StringMap("filters"))
			return
		default:
			for name, raw := range m.StringMap("filters") {
				entry, entryOK := raw.(map[string]any)
				require.True(t, entryOK, name)
				_ = entry["patterns"]
			}
		}
	}
}

func TestSettingsManagerCoercions(t *testing.T) {
	t.Parallel()
	m, err := NewSettingsManager(
		t.TempDir(), "coercion", map[string]any{}, testLogger(),
	)
	require.NoError(t, err)

	// snowflakes stored as JSON numbers come back as strings
	require.NoError(t, m.Set("channel_id", float64(123456789), false))
	assert.Equal(t, "123456789", m.String("channel_id", ""))

	require.NoError(t, m.Set("ids", []any{"1", float64(2)}, false))
	assert.Equal(t, []string{"1", "2"}, m.StringSlice("ids"))

	require.NoError(t, m.Set("limit", "42", false))
	assert.Equal(t, int64(42), m.Int64("limit", 0))
	assert.Equal(t, []int64{7, 8}, func() []int64 {
		require.NoError(t, m.Set("counts", []any{float64(7), "8"}, false))
		return m.Int64Slice("counts")
	}())
}

func TestSettingsRegistryReusesManagers(t *testing.T) {
	t.Parallel()
	registry := NewSettingsRegistry(t.TempDir(), testLogger())

	first, err := registry.Manager("Pinger", pingerDefaults())
	require.NoError(t, err)
	second, err := registry.Manager("pinger", nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestDeepMergeDoesNotMutateDefaults(t *testing.T) {
	t.Parallel()
	defaults := map[string]any{
		"nested": map[string]any{"a": 1, "b": 2},
	}
	override := map[string]any{
		"nested": map[string]any{"b": 3},
	}
	merged := deepMerge(defaults, override)

	nested := merged["nested"].(map[string]any)
	assert.Equal(t, 1, nested["a"])
	assert.Equal(t, 3, nested["b"])
	assert.Equal(t, 2, defaults["nested"].(map[string]any)["b"])
}
