package discordato

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModule is a minimal module for registry tests. It counts event
// deliveries so dispatch behavior can be asserted without Discord.
type fakeModule struct {
	name      string
	enabled   bool
	settings  *SettingsManager
	commands  []*discordgo.ApplicationCommand
	messages  atomic.Int64
	reactions atomic.Int64
	handled   atomic.Int64
}

func newFakeModule(t testing.TB, name string) *fakeModule {
	t.Helper()
	settings, err := NewSettingsManager(
		t.TempDir(), name, map[string]any{"enabled": true}, testLogger(),
	)
	require.NoError(t, err)
	return &fakeModule{name: name, enabled: true, settings: settings}
}

func (f *fakeModule) Name() string               { return f.name }
func (f *fakeModule) Settings() *SettingsManager { return f.settings }
func (f *fakeModule) Enabled() bool              { return f.enabled }

func (f *fakeModule) Commands() []*discordgo.ApplicationCommand {
	return f.commands
}

func (f *fakeModule) HandleMessageCreate(
	context.Context,
	*discordgo.MessageCreate,
) error {
	f.messages.Add(1)
	return nil
}

func (f *fakeModule) HandleReactionAdd(
	context.Context,
	*discordgo.MessageReactionAdd,
) error {
	f.reactions.Add(1)
	return nil
}

func (f *fakeModule) HandleCommand(
	context.Context,
	*discordgo.InteractionCreate,
) error {
	f.handled.Add(1)
	return nil
}

// commandlessModule declares commands without implementing CommandHandler.
type commandlessModule struct {
	settings *SettingsManager
}

func (*commandlessModule) Name() string                 { return "commandless" }
func (c *commandlessModule) Settings() *SettingsManager { return c.settings }
func (*commandlessModule) Enabled() bool                { return true }

func (*commandlessModule) Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{{Name: "orphaned"}}
}

func TestModuleRegistryRegister(t *testing.T) {
	t.Parallel()
	registry := NewModuleRegistry(testLogger())

	a := newFakeModule(t, "alpha")
	a.commands = []*discordgo.ApplicationCommand{{Name: "alpha-config"}}
	require.NoError(t, registry.Register(a))

	t.Run("duplicate module name", func(t *testing.T) {
		err := registry.Register(newFakeModule(t, "alpha"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "module already registered")
	})

	t.Run("duplicate command name", func(t *testing.T) {
		b := newFakeModule(t, "beta")
		b.commands = []*discordgo.ApplicationCommand{{Name: "alpha-config"}}
		err := registry.Register(b)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate command name")
	})

	t.Run("commands without a handler", func(t *testing.T) {
		err := registry.Register(&commandlessModule{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not handle commands")
	})

	t.Run("lookup", func(t *testing.T) {
		m, ok := registry.Module("alpha")
		require.True(t, ok)
		assert.Equal(t, "alpha", m.Name())

		_, ok = registry.Module("missing")
		assert.False(t, ok)

		handler, ok := registry.CommandHandlerFor("alpha-config")
		require.True(t, ok)
		assert.Equal(t, "alpha", handler.Name())
	})
}

func TestModuleRegistryModuleNamesSorted(t *testing.T) {
	t.Parallel()
	registry := NewModuleRegistry(testLogger())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, registry.Register(newFakeModule(t, name)))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, registry.ModuleNames())
}

func TestModuleRegistryDispatchSkipsDisabled(t *testing.T) {
	t.Parallel()
	registry := NewModuleRegistry(testLogger())
	active := newFakeModule(t, "active")
	idle := newFakeModule(t, "idle")
	idle.enabled = false
	require.NoError(t, registry.Register(active))
	require.NoError(t, registry.Register(idle))

	ctx := context.Background()
	registry.DispatchMessageCreate(ctx, &discordgo.MessageCreate{
		Message: &discordgo.Message{ID: "msg-1"},
	})
	registry.DispatchReactionAdd(ctx, &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{MessageID: "msg-1"},
	})

	assert.Equal(t, int64(1), active.messages.Load())
	assert.Equal(t, int64(1), active.reactions.Load())
	assert.Zero(t, idle.messages.Load())
	assert.Zero(t, idle.reactions.Load())
}

func TestModuleRegistryCommandsAggregated(t *testing.T) {
	t.Parallel()
	registry := NewModuleRegistry(testLogger())
	a := newFakeModule(t, "alpha")
	a.commands = []*discordgo.ApplicationCommand{{Name: "alpha-config"}}
	b := newFakeModule(t, "beta")
	b.commands = []*discordgo.ApplicationCommand{
		{Name: "beta-config"},
		{Name: "beta-status"},
	}
	require.NoError(t, registry.Register(a))
	require.NoError(t, registry.Register(b))

	commands := registry.Commands()
	names := make([]string, 0, len(commands))
	for _, cmd := range commands {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"alpha-config", "beta-config", "beta-status"}, names)
}

func TestModuleRegistryReloadSettings(t *testing.T) {
	t.Parallel()
	registry := NewModuleRegistry(testLogger())
	m := newFakeModule(t, "alpha")
	require.NoError(t, registry.Register(m))

	require.NoError(t, registry.ReloadSettings("alpha"))
	require.NoError(t, registry.ReloadSettings(""))

	err := registry.ReloadSettings("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown module")
}
