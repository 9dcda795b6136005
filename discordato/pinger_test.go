package discordato

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings map[string]any
		message  *discordgo.Message
		pingType string
		roleID   string
		ok       bool
	}{
		{
			name: "everyone mention",
			message: &discordgo.Message{
				Content:         "@everyone big news",
				MentionEveryone: true,
			},
			pingType: pingTypeEveryone,
			ok:       true,
		},
		{
			name: "here mention sets the everyone flag",
			message: &discordgo.Message{
				Content:         "@here quick",
				MentionEveryone: true,
			},
			pingType: pingTypeHere,
			ok:       true,
		},
		{
			name: "here disambiguation respects monitor_here",
			settings: map[string]any{
				"monitor_here": false,
			},
			message: &discordgo.Message{
				Content:         "@here quick",
				MentionEveryone: true,
			},
			pingType: pingTypeHere,
			ok:       false,
		},
		{
			name: "both mentions with here unmonitored",
			settings: map[string]any{
				"monitor_here": false,
			},
			message: &discordgo.Message{
				Content:         "@everyone @here drop now",
				MentionEveryone: true,
			},
			pingType: pingTypeEveryone,
			ok:       true,
		},
		{
			name: "both mentions prefer here",
			message: &discordgo.Message{
				Content:         "@everyone @here drop now",
				MentionEveryone: true,
			},
			pingType: pingTypeHere,
			ok:       true,
		},
		{
			name: "everyone disabled",
			settings: map[string]any{
				"monitor_everyone": false,
				"monitor_here":     false,
			},
			message: &discordgo.Message{
				Content:         "@everyone big news",
				MentionEveryone: true,
			},
			ok: false,
		},
		{
			name: "role mention with monitored list",
			settings: map[string]any{
				"monitor_roles":      true,
				"monitored_role_ids": []any{"role-1"},
			},
			message: &discordgo.Message{
				Content:      "<@&role-1> heads up",
				MentionRoles: []string{"role-1"},
			},
			pingType: pingTypeRole,
			roleID:   "role-1",
			ok:       true,
		},
		{
			name: "role mention outside monitored list",
			settings: map[string]any{
				"monitor_roles":      true,
				"monitored_role_ids": []any{"role-1"},
			},
			message: &discordgo.Message{
				MentionRoles: []string{"role-2"},
			},
			ok: false,
		},
		{
			name: "empty monitored list matches any role",
			settings: map[string]any{
				"monitor_roles": true,
			},
			message: &discordgo.Message{
				MentionRoles: []string{"role-9"},
			},
			pingType: pingTypeRole,
			roleID:   "role-9",
			ok:       true,
		},
		{
			name: "roles disabled by default",
			message: &discordgo.Message{
				MentionRoles: []string{"role-9"},
			},
			ok: false,
		},
		{
			name:     "plain message",
			message:  &discordgo.Message{Content: "nothing to see"},
			ok:       false,
			pingType: "",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d, _ := newTestBot(t)
			p := pingerModule(t, d)
			for key, value := range tc.settings {
				require.NoError(t, p.settings.Set(key, value, false))
			}

			pingType, roleID, ok := p.detectPing(tc.message)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.pingType, pingType)
				assert.Equal(t, tc.roleID, roleID)
			}
		})
	}
}

func TestAuthorWhitelisted(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	p := pingerModule(t, d)

	m := &discordgo.Message{
		GuildID: "guild-1",
		Author:  &discordgo.User{ID: "user-1"},
	}

	// empty whitelist allows everyone
	assert.True(t, p.authorWhitelisted(m))

	require.NoError(
		t, p.settings.Set("whitelist_role_ids", []any{"role-1"}, false),
	)

	// roles on the message member are used directly
	m.Member = &discordgo.Member{Roles: []string{"role-1"}}
	assert.True(t, p.authorWhitelisted(m))
	m.Member = &discordgo.Member{Roles: []string{"role-2"}}
	assert.False(t, p.authorWhitelisted(m))

	// without an inline member the guild member is fetched
	m.Member = nil
	session.setMember("guild-1", &discordgo.Member{
		User:  &discordgo.User{ID: "user-1"},
		Roles: []string{"role-1"},
	})
	assert.True(t, p.authorWhitelisted(m))

	// fetch failure denies
	unknown := &discordgo.Message{
		GuildID: "guild-1",
		Author:  &discordgo.User{ID: "user-unknown"},
	}
	assert.False(t, p.authorWhitelisted(unknown))
}

func TestPingerHandleMessageCreate(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	p := pingerModule(t, d)
	require.NoError(
		t, p.settings.Set("notification_channel_id", "notify-1", false),
	)

	m := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:              "msg-1",
			ChannelID:       "chan-1",
			GuildID:         "guild-1",
			Content:         "@everyone drop incoming",
			MentionEveryone: true,
			Author:          &discordgo.User{ID: "user-1", Username: "hypeman"},
		},
	}
	require.NoError(t, p.HandleMessageCreate(context.Background(), m))

	require.Len(t, session.sentComplex, 1)
	sent := session.sentComplex[0]
	assert.Equal(t, "notify-1", sent.channelID)
	require.Len(t, sent.data.Embeds, 1)
	assert.Equal(t, defaultPingNotificationTitle, sent.data.Embeds[0].Title)
	require.Len(t, sent.data.Components, 1)

	var events []PingEvent
	require.NoError(t, d.db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, pingTypeEveryone, events[0].PingType)
	assert.Equal(t, "user-1", events[0].UserID)
}

func TestPingerSkipsBotAuthorsAndOwnChannel(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	p := pingerModule(t, d)
	require.NoError(
		t, p.settings.Set("notification_channel_id", "notify-1", false),
	)

	bot := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:              "msg-1",
			ChannelID:       "chan-1",
			Content:         "@everyone",
			MentionEveryone: true,
			Author:          &discordgo.User{ID: "bot-2", Bot: true},
		},
	}
	require.NoError(t, p.HandleMessageCreate(context.Background(), bot))

	inNotifyChannel := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:              "msg-2",
			ChannelID:       "notify-1",
			Content:         "@everyone",
			MentionEveryone: true,
			Author:          &discordgo.User{ID: "user-1"},
		},
	}
	require.NoError(t, p.HandleMessageCreate(context.Background(), inNotifyChannel))

	assert.Empty(t, session.sentComplex)
}

func TestPingerRequiresNotificationChannel(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	p := pingerModule(t, d)

	m := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:              "msg-1",
			ChannelID:       "chan-1",
			Content:         "@everyone",
			MentionEveryone: true,
			Author:          &discordgo.User{ID: "user-1"},
		},
	}
	require.NoError(t, p.HandleMessageCreate(context.Background(), m))
	assert.Empty(t, session.sentComplex)
}
