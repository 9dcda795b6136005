package discordato

import (
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuntimeConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultRuntimeConfig()
	assert.False(t, cfg.Paused)
	assert.True(t, cfg.DiscordGatewayEnabled)
	assert.Equal(t, DefaultDiscordCustomStatus, cfg.DiscordCustomStatus)
	assert.Equal(t, DefaultDiscordErrorMessage, cfg.DiscordErrorMessage)
	assert.Equal(t, DefaultReactionRateLimit, cfg.ReactionRateLimit)
	assert.Equal(t, DBLogLevel(slog.LevelInfo.String()), cfg.LogLevel)
	assert.Empty(t, cfg.ModWhitelistRoleIDs)
}

func TestModWhitelist(t *testing.T) {
	t.Parallel()
	cfg := RuntimeConfig{}
	assert.Empty(t, cfg.modWhitelist())

	cfg.ModWhitelistRoleIDs = "role-1, role-2,,role-3 "
	assert.Equal(t, []string{"role-1", "role-2", "role-3"}, cfg.modWhitelist())
}

func TestGetDiscordPresenceStatusUpdate(t *testing.T) {
	t.Parallel()

	paused := getDiscordPresenceStatusUpdate(RuntimeConfig{Paused: true})
	assert.True(t, paused.AFK)
	assert.Equal(t, string(discordgo.StatusDoNotDisturb), paused.Status)

	running := getDiscordPresenceStatusUpdate(
		RuntimeConfig{DiscordCustomStatus: "watching the drops"},
	)
	assert.False(t, running.AFK)
	assert.Equal(t, "watching the drops", running.Status)
}

func TestRuntimeConfigUpdateValidate(t *testing.T) {
	t.Parallel()

	level := DBLogLevel("WARN")
	good := RuntimeConfigUpdate{LogLevel: &level}
	require.NoError(t, good.validate())

	bad := DBLogLevel("LOUD")
	invalid := RuntimeConfigUpdate{LogLevel: &bad}
	assert.Error(t, invalid.validate())

	tooMany := 500
	assert.Error(t, RuntimeConfigUpdate{ReactionRateLimit: &tooMany}.validate())
}
