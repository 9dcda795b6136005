package discordato

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleCommandPing(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)

	i := memberInteraction(DiscordSlashCommandPing)
	require.NoError(t, d.handleCommand(context.Background(), i, DiscordSlashCommandPing))
	assert.Equal(t, "Pong!", session.lastResponseContent(t))
}

func TestHandleCommandPausedRepliesBusy(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	setRuntimeConfig(d, func(cfg *RuntimeConfig) {
		cfg.Paused = true
	})

	i := memberInteraction(DiscordSlashCommandPing)
	require.NoError(t, d.handleCommand(context.Background(), i, DiscordSlashCommandPing))
	assert.Equal(
		t,
		"I'm paused right now, try again later!",
		session.lastResponseContent(t),
	)
}

func TestHandleCommandUnknown(t *testing.T) {
	t.Parallel()
	d, _ := newTestBot(t)

	i := memberInteraction("bogus")
	err := d.handleCommand(context.Background(), i, "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestHandleCommandDisabledModule(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	r := redeyeModule(t, d)
	require.NoError(t, r.settings.Set("enabled", false, false))

	i := memberInteraction(DiscordSlashCommandRedeyeProfiles)
	require.NoError(
		t,
		d.handleCommand(context.Background(), i, DiscordSlashCommandRedeyeProfiles),
	)
	assert.Contains(t, session.lastResponseContent(t), "currently disabled")
}

func TestCommandPurgeRequiresModerator(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)

	i := memberInteraction(DiscordSlashCommandPurge)
	require.NoError(t, d.commandPurge(context.Background(), i))
	assert.Contains(t, session.lastResponseContent(t), "permission")
	assert.Empty(t, session.bulkDeleted)
}

func TestCommandPurgeDeletesMessages(t *testing.T) {
	t.Parallel()
	d, session := newTestBot(t)
	setRuntimeConfig(d, func(cfg *RuntimeConfig) {
		cfg.ModWhitelistRoleIDs = "role-mod"
	})
	for n := 0; n < 3; n++ {
		session.channelMessageList = append(
			session.channelMessageList,
			&discordgo.Message{ID: fmt.Sprintf("msg-%d", n)},
		)
	}

	i := memberInteraction(DiscordSlashCommandPurge, "role-mod")
	require.NoError(t, d.commandPurge(context.Background(), i))

	deleted := session.bulkDeleted[i.ChannelID]
	assert.Equal(t, []string{"msg-0", "msg-1", "msg-2"}, deleted)

	require.Len(t, session.responseEdits, 1)
	require.NotNil(t, session.responseEdits[0].Content)
	assert.Equal(t, "Deleted 3 messages.", *session.responseEdits[0].Content)
}

func TestNewInteractionLog(t *testing.T) {
	t.Parallel()
	i := memberInteraction(DiscordSlashCommandPing, "role-1")
	rec := NewInteractionLog(i)
	assert.Equal(t, "interaction-1", rec.InteractionID)
	assert.Equal(t, DiscordSlashCommandPing, rec.CommandName)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "somebody", rec.Username)
	assert.Equal(t, "guild-1", rec.GuildID)
	assert.NotEmpty(t, rec.Payload)
}
