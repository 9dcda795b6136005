package discordato

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forwardFixture(t testing.TB) (*Discordato, *mockDiscordSession, *ReactionForward) {
	t.Helper()
	d, session := newTestBot(t)
	r := reactionForwardModule(t, d)
	require.NoError(t, r.settings.Set("category_ids", []any{"cat-1"}, false))
	require.NoError(
		t, r.settings.Set("notification_channel_id", "notify-1", false),
	)
	require.NoError(
		t, r.settings.Set("whitelist_role_ids", []any{"role-mod"}, false),
	)
	session.setChannel(&discordgo.Channel{ID: "chan-1", ParentID: "cat-1"})
	session.setChannel(&discordgo.Channel{ID: "chan-outside", ParentID: "cat-2"})
	return d, session, r
}

func TestEligibleMessage(t *testing.T) {
	t.Parallel()
	_, _, r := forwardFixture(t)

	webhookMessage := func(channelID string) *discordgo.Message {
		return &discordgo.Message{
			ID:        "msg-1",
			ChannelID: channelID,
			WebhookID: "wh-1",
			Author:    &discordgo.User{ID: "wh-user", Username: "Store Monitor"},
		}
	}

	t.Run("webhook message in monitored category", func(t *testing.T) {
		assert.True(t, r.eligibleMessage(webhookMessage("chan-1")))
	})

	t.Run("notification channel excluded", func(t *testing.T) {
		assert.False(t, r.eligibleMessage(webhookMessage("notify-1")))
	})

	t.Run("outside monitored categories", func(t *testing.T) {
		assert.False(t, r.eligibleMessage(webhookMessage("chan-outside")))
	})

	t.Run("blacklisted channel", func(t *testing.T) {
		require.NoError(
			t, r.settings.Set("blacklist_channel_ids", []any{"chan-1"}, false),
		)
		assert.False(t, r.eligibleMessage(webhookMessage("chan-1")))
		require.NoError(
			t, r.settings.Set("blacklist_channel_ids", []any{}, false),
		)
	})

	t.Run("own forward webhook skipped", func(t *testing.T) {
		m := webhookMessage("chan-1")
		m.Author = &discordgo.User{Username: forwardWebhookName}
		assert.False(t, r.eligibleMessage(m))
	})

	t.Run("bot author allowed", func(t *testing.T) {
		m := &discordgo.Message{
			ID:        "msg-2",
			ChannelID: "chan-1",
			Author:    &discordgo.User{ID: "bot-9", Bot: true},
		}
		assert.True(t, r.eligibleMessage(m))
	})

	t.Run("human author requires whitelist role", func(t *testing.T) {
		m := &discordgo.Message{
			ID:        "msg-3",
			ChannelID: "chan-1",
			Author:    &discordgo.User{ID: "user-1"},
			Member:    &discordgo.Member{Roles: []string{"role-mod"}},
		}
		assert.True(t, r.eligibleMessage(m))

		m.Member = &discordgo.Member{Roles: []string{"role-random"}}
		assert.False(t, r.eligibleMessage(m))
	})

	t.Run("no categories configured", func(t *testing.T) {
		require.NoError(t, r.settings.Set("category_ids", []any{}, false))
		assert.False(t, r.eligibleMessage(webhookMessage("chan-1")))
		require.NoError(t, r.settings.Set("category_ids", []any{"cat-1"}, false))
	})
}

func TestForwardUserWhitelistClosedByDefault(t *testing.T) {
	t.Parallel()
	d, _ := newTestBot(t)
	r := reactionForwardModule(t, d)

	member := &discordgo.Member{Roles: []string{"role-1"}}
	assert.False(t, r.userWhitelisted("guild-1", "user-1", member))
}

func TestForwardHandleMessageCreateAddsEmoji(t *testing.T) {
	t.Parallel()
	_, session, r := forwardFixture(t)

	m := &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        "msg-1",
			ChannelID: "chan-1",
			WebhookID: "wh-1",
			Author:    &discordgo.User{Username: "Store Monitor"},
		},
	}
	require.NoError(t, r.HandleMessageCreate(context.Background(), m))
	require.Len(t, session.reactionsAdded, 1)
	assert.Equal(t, defaultForwardEmoji, session.reactionsAdded[0].emoji)
}

func TestForwardHandleReactionAdd(t *testing.T) {
	t.Parallel()
	d, session, r := forwardFixture(t)

	original := &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		WebhookID: "wh-1",
		Content:   "Sneaker X restocked",
		Author:    &discordgo.User{ID: "wh-user", Username: "Store Monitor"},
		Embeds:    []*discordgo.MessageEmbed{{Title: "Sneaker X"}},
	}
	session.setMessage(original)

	reaction := &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			MessageID: "msg-1",
			ChannelID: "chan-1",
			GuildID:   "guild-1",
			UserID:    "mod-1",
			Emoji:     discordgo.Emoji{Name: defaultForwardEmoji},
		},
		Member: &discordgo.Member{Roles: []string{"role-mod"}},
	}
	require.NoError(t, r.HandleReactionAdd(context.Background(), reaction))

	// the MessageForwarder webhook was created and executed with the
	// original author's identity
	require.Len(t, session.createdWebhooks, 1)
	assert.Equal(t, forwardWebhookName, session.createdWebhooks[0])
	require.Len(t, session.webhookExecutions, 1)
	executed := session.webhookExecutions[0]
	assert.Equal(t, "Store Monitor", executed.params.Username)
	assert.Equal(t, "Sneaker X restocked", executed.params.Content)
	require.Len(t, executed.params.Embeds, 1)

	// attribution embed follows the forwarded content
	require.Len(t, session.sentComplex, 1)
	attribution := session.sentComplex[0]
	assert.Equal(t, "notify-1", attribution.channelID)
	require.Len(t, attribution.data.Embeds, 1)
	assert.Contains(t, attribution.data.Embeds[0].Description, "<@mod-1>")
	assert.Contains(t, attribution.data.Embeds[0].Description, "<#chan-1>")

	var records []ForwardedMessage
	require.NoError(t, d.db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, "msg-1", records[0].MessageID)
	assert.Equal(t, "mod-1", records[0].ForwardedBy)
	assert.Equal(t, "notify-1", records[0].ForwardChannelID)
	assert.False(t, records[0].Fallback)

	// a second forward reuses the existing webhook
	require.NoError(t, r.HandleReactionAdd(context.Background(), reaction))
	assert.Len(t, session.createdWebhooks, 1)
	assert.Len(t, session.webhookExecutions, 2)
}

func TestForwardFallsBackWhenWebhookFails(t *testing.T) {
	t.Parallel()
	d, session, r := forwardFixture(t)
	session.webhookErr = errors.New("missing permissions")

	original := &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		WebhookID: "wh-1",
		Content:   "Sneaker X restocked",
		Author:    &discordgo.User{ID: "wh-user", Username: "Store Monitor"},
	}
	session.setMessage(original)

	reaction := &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			MessageID: "msg-1",
			ChannelID: "chan-1",
			GuildID:   "guild-1",
			UserID:    "mod-1",
			Emoji:     discordgo.Emoji{Name: defaultForwardEmoji},
		},
		Member: &discordgo.Member{Roles: []string{"role-mod"}},
	}
	require.NoError(t, r.HandleReactionAdd(context.Background(), reaction))

	// fallback embed plus attribution
	require.Len(t, session.sentComplex, 2)
	fallback := session.sentComplex[0]
	require.Len(t, fallback.data.Embeds, 1)
	assert.Equal(t, "Forwarded Message", fallback.data.Embeds[0].Title)
	assert.Equal(t, "Sneaker X restocked", fallback.data.Embeds[0].Description)

	var records []ForwardedMessage
	require.NoError(t, d.db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.True(t, records[0].Fallback)
}

func TestForwardIgnoresIrrelevantReactions(t *testing.T) {
	t.Parallel()
	d, session, r := forwardFixture(t)

	base := discordgo.MessageReaction{
		MessageID: "msg-1",
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		UserID:    "mod-1",
		Emoji:     discordgo.Emoji{Name: defaultForwardEmoji},
	}

	// forwarding disabled
	require.NoError(t, r.settings.Set("enable_forwarding", false, false))
	disabled := base
	require.NoError(t, r.HandleReactionAdd(
		context.Background(),
		&discordgo.MessageReactionAdd{
			MessageReaction: &disabled,
			Member:          &discordgo.Member{Roles: []string{"role-mod"}},
		},
	))
	require.NoError(t, r.settings.Set("enable_forwarding", true, false))

	// wrong emoji
	wrongEmoji := base
	wrongEmoji.Emoji = discordgo.Emoji{Name: "🎉"}
	require.NoError(t, r.HandleReactionAdd(
		context.Background(),
		&discordgo.MessageReactionAdd{MessageReaction: &wrongEmoji},
	))

	// own reaction
	own := base
	own.UserID = d.discord.botUserID()
	require.NoError(t, r.HandleReactionAdd(
		context.Background(),
		&discordgo.MessageReactionAdd{MessageReaction: &own},
	))

	// non-whitelisted user
	outsider := base
	require.NoError(t, r.HandleReactionAdd(
		context.Background(),
		&discordgo.MessageReactionAdd{
			MessageReaction: &outsider,
			Member:          &discordgo.Member{Roles: []string{"role-random"}},
		},
	))

	assert.Empty(t, session.webhookExecutions)
	assert.Empty(t, session.sentComplex)
}
