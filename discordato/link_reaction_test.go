package discordato

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductIDFromURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{
			name:     "product slug",
			url:      "https://www.luisaviaroma.com/en-us/p/shoes/75I-ABC123",
			expected: "75I-ABC123",
		},
		{
			name:     "trailing slash",
			url:      "https://example.com/p/75I-ABC123/",
			expected: "75I-ABC123",
		},
		{
			name:     "no hyphen in last segment",
			url:      "https://example.com/p/plain",
			expected: "",
		},
		{name: "empty path", url: "https://example.com", expected: ""},
		{name: "unparseable", url: "://bad", expected: ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, productIDFromURL(tc.url))
		})
	}
}

func TestStripCodeFences(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "PID123", stripCodeFences("`PID123`"))
	assert.Equal(t, "PID123", stripCodeFences("```PID123```"))
	assert.Equal(t, "PID123", stripCodeFences("  `PID123`  "))
	assert.Equal(t, "PID123", stripCodeFences("PID123"))
	assert.Equal(t, "", stripCodeFences("``"))
}

func TestExtractProductID(t *testing.T) {
	t.Parallel()
	store := storeConfig{name: "lvr"}

	t.Run("url takes precedence", func(t *testing.T) {
		t.Parallel()
		m := &discordgo.Message{
			Embeds: []*discordgo.MessageEmbed{
				{
					URL: "https://example.com/p/75I-ABC123",
					Fields: []*discordgo.MessageEmbedField{
						{Name: "PID", Value: "`OTHER-1`"},
					},
				},
			},
		}
		assert.Equal(t, "75I-ABC123", extractProductID(store, m))
	})

	t.Run("pid field fallback", func(t *testing.T) {
		t.Parallel()
		m := &discordgo.Message{
			Embeds: []*discordgo.MessageEmbed{
				{
					URL: "https://example.com/p/plain",
					Fields: []*discordgo.MessageEmbedField{
						nil,
						{Name: " pid ", Value: "```PID-42```"},
					},
				},
			},
		}
		assert.Equal(t, "PID-42", extractProductID(store, m))
	})

	t.Run("nothing found", func(t *testing.T) {
		t.Parallel()
		m := &discordgo.Message{
			Embeds: []*discordgo.MessageEmbed{
				nil,
				{Fields: []*discordgo.MessageEmbedField{{Name: "Size", Value: "42"}}},
			},
		}
		assert.Equal(t, "", extractProductID(store, m))
	})
}

func TestAppendProductID(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "stores", "lvr.txt")

	added, err := appendProductID(path, "PID-1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = appendProductID(path, "PID-2")
	require.NoError(t, err)
	assert.True(t, added)

	// duplicates are not re-added
	added, err = appendProductID(path, "PID-1")
	require.NoError(t, err)
	assert.False(t, added)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PID-1\nPID-2\n", string(data))

	_, err = appendProductID("", "PID-1")
	assert.Error(t, err)
}

func TestDecodeStoreConfig(t *testing.T) {
	t.Parallel()

	store, ok := decodeStoreConfig("lvr", map[string]any{
		"name":        "LuisaViaRoma",
		"file_path":   "/data/lvr.txt",
		"channel_ids": []any{"chan-1", float64(2)},
		"detection": map[string]any{
			"type":  storeDetectionAuthorName,
			"value": "luisaviaroma",
		},
	})
	require.True(t, ok)
	assert.Equal(t, "lvr", store.key)
	assert.Equal(t, "LuisaViaRoma", store.name)
	assert.Equal(t, "/data/lvr.txt", store.filePath)
	assert.Equal(t, []string{"chan-1", "2"}, store.channelIDs)
	assert.Equal(t, storeDetectionAuthorName, store.detectionType)
	assert.Equal(t, "luisaviaroma", store.detectionValue)
	assert.True(t, store.enabled)

	// name defaults to the key, enabled defaults to true
	store, ok = decodeStoreConfig("bare", map[string]any{})
	require.True(t, ok)
	assert.Equal(t, "bare", store.name)
	assert.True(t, store.enabled)

	store, ok = decodeStoreConfig("off", map[string]any{"enabled": false})
	require.True(t, ok)
	assert.False(t, store.enabled)

	_, ok = decodeStoreConfig("bad", "not a map")
	assert.False(t, ok)
}

func TestMatchesDetection(t *testing.T) {
	t.Parallel()
	message := &discordgo.Message{
		Embeds: []*discordgo.MessageEmbed{
			nil,
			{
				Title:  "New Drop: Sneaker X",
				URL:    "https://www.luisaviaroma.com/p/75I-ABC",
				Author: &discordgo.MessageEmbedAuthor{Name: "LuisaViaRoma Monitor"},
			},
		},
	}
	tests := []struct {
		name     string
		store    storeConfig
		expected bool
	}{
		{
			name: "author name",
			store: storeConfig{
				detectionType:  storeDetectionAuthorName,
				detectionValue: "luisaviaroma",
			},
			expected: true,
		},
		{
			name: "title contains",
			store: storeConfig{
				detectionType:  storeDetectionTitleContains,
				detectionValue: "sneaker",
			},
			expected: true,
		},
		{
			name: "url contains",
			store: storeConfig{
				detectionType:  storeDetectionURLContains,
				detectionValue: "luisaviaroma.com",
			},
			expected: true,
		},
		{
			name: "no match",
			store: storeConfig{
				detectionType:  storeDetectionTitleContains,
				detectionValue: "hoodie",
			},
			expected: false,
		},
		{
			name:     "empty value never matches",
			store:    storeConfig{detectionType: storeDetectionTitleContains},
			expected: false,
		},
		{
			name: "unknown type",
			store: storeConfig{
				detectionType:  "color",
				detectionValue: "red",
			},
			expected: false,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, matchesDetection(tc.store, message))
		})
	}
}

func TestStoreForMessage(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	l := linkReactionModule(t, d)

	require.NoError(t, l.settings.Set("stores", map[string]any{
		"lvr": map[string]any{
			"name":        "LuisaViaRoma",
			"file_path":   "/data/lvr.txt",
			"channel_ids": []any{"chan-lvr"},
			"detection": map[string]any{
				"type":  storeDetectionTitleContains,
				"value": "lvr",
			},
		},
		"category_store": map[string]any{
			"name":      "CategoryStore",
			"file_path": "/data/cat.txt",
			"detection": map[string]any{
				"type":  storeDetectionTitleContains,
				"value": "catdrop",
			},
		},
		"disabled": map[string]any{
			"enabled":     false,
			"channel_ids": []any{"chan-lvr"},
			"detection": map[string]any{
				"type":  storeDetectionTitleContains,
				"value": "lvr",
			},
		},
	}, false))
	require.NoError(t, l.settings.Set("category_ids", []any{"cat-1"}, false))
	require.NoError(
		t, l.settings.Set("blacklist_channel_ids", []any{"chan-blocked"}, false),
	)
	session.setChannel(&discordgo.Channel{ID: "chan-cat", ParentID: "cat-1"})
	session.setChannel(&discordgo.Channel{ID: "chan-other", ParentID: "cat-2"})

	t.Run("store channel match", func(t *testing.T) {
		m := &discordgo.Message{
			ChannelID: "chan-lvr",
			Embeds:    []*discordgo.MessageEmbed{{Title: "LVR restock"}},
		}
		store, ok := l.storeForMessage(m)
		require.True(t, ok)
		assert.Equal(t, "LuisaViaRoma", store.name)
	})

	t.Run("category fallback", func(t *testing.T) {
		m := &discordgo.Message{
			ChannelID: "chan-cat",
			Embeds:    []*discordgo.MessageEmbed{{Title: "CATDROP now"}},
		}
		store, ok := l.storeForMessage(m)
		require.True(t, ok)
		assert.Equal(t, "CategoryStore", store.name)
	})

	t.Run("outside monitored category", func(t *testing.T) {
		m := &discordgo.Message{
			ChannelID: "chan-other",
			Embeds:    []*discordgo.MessageEmbed{{Title: "CATDROP now"}},
		}
		_, ok := l.storeForMessage(m)
		assert.False(t, ok)
	})

	t.Run("blacklisted channel", func(t *testing.T) {
		m := &discordgo.Message{
			ChannelID: "chan-blocked",
			Embeds:    []*discordgo.MessageEmbed{{Title: "LVR restock"}},
		}
		_, ok := l.storeForMessage(m)
		assert.False(t, ok)
	})

	t.Run("detection mismatch", func(t *testing.T) {
		m := &discordgo.Message{
			ChannelID: "chan-lvr",
			Embeds:    []*discordgo.MessageEmbed{{Title: "unrelated"}},
		}
		_, ok := l.storeForMessage(m)
		assert.False(t, ok)
	})
}

func TestLinkReactionHandleMessageCreate(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	l := linkReactionModule(t, d)
	// forwarding disabled so the reaction lands without the delay
	forward := reactionForwardModule(t, d)
	require.NoError(t, forward.settings.Set("enabled", false, false))

	require.NoError(t, l.settings.Set("stores", map[string]any{
		"lvr": map[string]any{
			"channel_ids": []any{"chan-1"},
			"detection": map[string]any{
				"type":  storeDetectionTitleContains,
				"value": "lvr",
			},
		},
	}, false))

	noEmbeds := &discordgo.MessageCreate{
		Message: &discordgo.Message{ID: "msg-0", ChannelID: "chan-1"},
	}
	require.NoError(t, l.HandleMessageCreate(context.Background(), noEmbeds))
	assert.Empty(t, session.reactionsAdded)

	m := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "msg-1",
			ChannelID: "chan-1",
			Embeds:    []*discordgo.MessageEmbed{{Title: "LVR drop"}},
		},
	}
	require.NoError(t, l.HandleMessageCreate(context.Background(), m))
	require.Len(t, session.reactionsAdded, 1)
	assert.Equal(t, defaultLinkEmoji, session.reactionsAdded[0].emoji)
	assert.Equal(t, "msg-1", session.reactionsAdded[0].messageID)
}

func TestLinkReactionHandleReactionAdd(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	l := linkReactionModule(t, d)

	trackingFile := filepath.Join(t.TempDir(), "lvr.txt")
	require.NoError(t, l.settings.Set("stores", map[string]any{
		"lvr": map[string]any{
			"name":        "LuisaViaRoma",
			"file_path":   trackingFile,
			"channel_ids": []any{"chan-1"},
			"detection": map[string]any{
				"type":  storeDetectionURLContains,
				"value": "luisaviaroma",
			},
		},
	}, false))
	require.NoError(
		t, l.settings.Set("whitelist_role_ids", []any{"role-1"}, false),
	)

	session.setMessage(&discordgo.Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		Embeds: []*discordgo.MessageEmbed{
			{URL: "https://www.luisaviaroma.com/p/75I-ABC123"},
		},
	})

	reaction := &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			MessageID: "msg-1",
			ChannelID: "chan-1",
			GuildID:   "guild-1",
			UserID:    "user-1",
			Emoji:     discordgo.Emoji{Name: defaultLinkEmoji},
		},
		Member: &discordgo.Member{Roles: []string{"role-1"}},
	}
	require.NoError(t, l.HandleReactionAdd(context.Background(), reaction))

	data, err := os.ReadFile(trackingFile)
	require.NoError(t, err)
	assert.Equal(t, "75I-ABC123\n", string(data))

	require.Len(t, session.sentMessages, 1)
	assert.Contains(t, session.sentMessages[0].content, "75I-ABC123")
	assert.Contains(t, session.sentMessages[0].content, "✅")

	var records []ProductIDRecord
	require.NoError(t, d.db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, "LuisaViaRoma", records[0].StoreName)
	assert.Equal(t, "75I-ABC123", records[0].ProductID)
	assert.False(t, records[0].Duplicate)

	// a second click records a duplicate without re-appending
	require.NoError(t, l.HandleReactionAdd(context.Background(), reaction))
	data, err = os.ReadFile(trackingFile)
	require.NoError(t, err)
	assert.Equal(t, "75I-ABC123\n", string(data))

	records = nil
	require.NoError(t, d.db.Find(&records).Error)
	require.Len(t, records, 2)
	assert.True(t, records[1].Duplicate)
}

func TestLinkReactionIgnoresIrrelevantReactions(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	l := linkReactionModule(t, d)
	require.NoError(
		t, l.settings.Set("whitelist_role_ids", []any{"role-1"}, false),
	)

	base := discordgo.MessageReaction{
		MessageID: "msg-1",
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		UserID:    "user-1",
		Emoji:     discordgo.Emoji{Name: defaultLinkEmoji},
	}

	wrongEmoji := base
	wrongEmoji.Emoji = discordgo.Emoji{Name: "🎉"}
	require.NoError(t, l.HandleReactionAdd(
		context.Background(),
		&discordgo.MessageReactionAdd{MessageReaction: &wrongEmoji},
	))

	ownReaction := base
	ownReaction.UserID = d.discord.botUserID()
	require.NoError(t, l.HandleReactionAdd(
		context.Background(),
		&discordgo.MessageReactionAdd{MessageReaction: &ownReaction},
	))

	notWhitelisted := base
	require.NoError(t, l.HandleReactionAdd(
		context.Background(),
		&discordgo.MessageReactionAdd{
			MessageReaction: &notWhitelisted,
			Member:          &discordgo.Member{Roles: []string{"role-2"}},
		},
	))

	assert.Empty(t, session.sentMessages)
}

func TestLinkReactionUserWhitelistClosedByDefault(t *testing.T) {
	t.Parallel()
	d, _ := newTestBot(t)
	l := linkReactionModule(t, d)

	// unlike the pinger, an empty whitelist allows nobody
	member := &discordgo.Member{Roles: []string{"role-1"}}
	assert.False(t, l.userWhitelisted("guild-1", "user-1", member))
}

func TestMigrateLegacyStores(t *testing.T) {
	t.Parallel()
	registry := NewSettingsRegistry(t.TempDir(), testLogger())
	lite := &Discordato{logger: testLogger(), settingsRegistry: registry}

	manager, err := registry.Manager(ModuleNameLinkReaction, linkReactionDefaults())
	require.NoError(t, err)
	require.NoError(t, manager.Set("stores", []any{
		map[string]any{
			"name":      "LuisaViaRoma",
			"file_path": "/data/lvr.txt",
		},
		map[string]any{"file_path": "/data/other.txt"},
	}, true))

	l, err := NewLinkReaction(lite, nil)
	require.NoError(t, err)

	stores := l.settings.StringMap("stores")
	require.Len(t, stores, 2)
	// keys are lowercased store names, or positional for unnamed entries
	require.Contains(t, stores, "luisaviaroma")
	require.Contains(t, stores, "store_2")
}
