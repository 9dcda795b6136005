package discordato

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityColor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, embedColorInfo, severityColor(filterSeverityLow))
	assert.Equal(t, embedColorWarning, severityColor(filterSeverityMedium))
	assert.Equal(t, embedColorDanger, severityColor(filterSeverityHigh))
	assert.Equal(t, embedColorInfo, severityColor("apocalyptic"))
}

func TestJumpLinkButton(t *testing.T) {
	t.Parallel()
	row := jumpLinkButton("Jump to message", "guild-1", "chan-1", "msg-1")
	require.Len(t, row.Components, 1)
	button, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, "Jump to message", button.Label)
	assert.Equal(t, discordgo.LinkButton, button.Style)
	assert.Equal(
		t,
		"https://discord.com/channels/guild-1/chan-1/msg-1",
		button.URL,
	)
}

func TestEmbedField(t *testing.T) {
	t.Parallel()
	e := notificationEmbed("Title", "desc", embedColorInfo)
	embedField(e, "first", "value", true)
	embedField(e, "empty", "", false)
	embedField(e, "long", strings.Repeat("x", 5000), false)

	require.Len(t, e.Fields, 3)
	assert.Equal(t, "value", e.Fields[0].Value)
	assert.True(t, e.Fields[0].Inline)
	assert.Equal(t, "-", e.Fields[1].Value)
	assert.LessOrEqual(t, len(e.Fields[2].Value), discordMaxEmbedFieldLength)
	assert.True(t, strings.HasSuffix(e.Fields[2].Value, "..."))
}

func TestEmbedAuthorForUser(t *testing.T) {
	t.Parallel()
	assert.Nil(t, embedAuthorForUser(nil))

	author := embedAuthorForUser(&discordgo.User{ID: "user-1", Username: "somebody"})
	require.NotNil(t, author)
	assert.Equal(t, "somebody", author.Name)
}

func TestMentions(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "<#chan-1>", channelMention("chan-1"))
	assert.Equal(t, "<@user-1>", userMention("user-1"))
	assert.Equal(t, "<@&role-1>", roleMention("role-1"))
}
