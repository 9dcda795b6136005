package discordato

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Module is a self-contained feature (keyword filter, pinger, reaction
// forward, link reaction, redeye). Each module owns a settings document
// and may contribute slash commands and gateway event handlers.
type Module interface {
	// Name is the module identifier, used for the settings document
	// filename and the per-module API routes.
	Name() string

	// Settings returns the module's settings manager.
	Settings() *SettingsManager

	// Enabled reports whether the module should receive events. Modules
	// normally read this from their settings document.
	Enabled() bool

	// Commands returns the slash commands this module contributes, to be
	// included in the bulk overwrite at startup.
	Commands() []*discordgo.ApplicationCommand
}

// MessageMonitor is implemented by modules that inspect incoming
// messages (keyword filter, pinger, reaction forward).
type MessageMonitor interface {
	Module
	HandleMessageCreate(ctx context.Context, m *discordgo.MessageCreate) error
}

// ReactionMonitor is implemented by modules that act on reactions added
// to messages (reaction forward, link reaction).
type ReactionMonitor interface {
	Module
	HandleReactionAdd(ctx context.Context, r *discordgo.MessageReactionAdd) error
}

// CommandHandler is implemented by modules that respond to application
// command interactions. Handlers receive only interactions whose
// top-level command name matches one of the module's Commands.
type CommandHandler interface {
	Module
	HandleCommand(ctx context.Context, i *discordgo.InteractionCreate) error
}

// ModuleRegistry holds the registered feature modules and dispatches
// gateway events to them in registration order.
type ModuleRegistry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	modules  []Module
	byName   map[string]Module
	commands map[string]CommandHandler
}

func NewModuleRegistry(logger *slog.Logger) *ModuleRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModuleRegistry{
		logger:   logger.With(loggerNameKey, "modules"),
		byName:   map[string]Module{},
		commands: map[string]CommandHandler{},
	}
}

// Register adds a module to the registry. Returns an error if a module
// with the same name or an overlapping command name is already present.
func (r *ModuleRegistry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[m.Name()]; ok {
		return fmt.Errorf("module already registered: %s", m.Name())
	}
	handler, isCommandHandler := m.(CommandHandler)
	for _, cmd := range m.Commands() {
		if !isCommandHandler {
			return fmt.Errorf(
				"module %s declares command %s but does not handle commands",
				m.Name(), cmd.Name,
			)
		}
		if _, ok := r.commands[cmd.Name]; ok {
			return fmt.Errorf("duplicate command name: %s", cmd.Name)
		}
		r.commands[cmd.Name] = handler
	}
	r.byName[m.Name()] = m
	r.modules = append(r.modules, m)
	r.logger.Info("registered module", "module", m.Name())
	return nil
}

// Module returns the registered module with the given name.
func (r *ModuleRegistry) Module(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// Modules returns the registered modules in registration order.
func (r *ModuleRegistry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// ModuleNames returns the sorted names of all registered modules.
func (r *ModuleRegistry) ModuleNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Commands collects the slash commands from every registered module.
func (r *ModuleRegistry) Commands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var commands []*discordgo.ApplicationCommand
	for _, m := range r.modules {
		commands = append(commands, m.Commands()...)
	}
	return commands
}

// CommandHandlerFor returns the module handling the given top-level
// command name.
func (r *ModuleRegistry) CommandHandlerFor(name string) (CommandHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.commands[name]
	return h, ok
}

// DispatchMessageCreate fans a message event out to every enabled
// message monitor. A failing module logs its error and does not block
// the others.
func (r *ModuleRegistry) DispatchMessageCreate(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	log, ok := ContextLogger(ctx)
	if !ok || log == nil {
		log = r.logger
	}
	for _, mod := range r.Modules() {
		monitor, isMonitor := mod.(MessageMonitor)
		if !isMonitor || !mod.Enabled() {
			continue
		}
		if err := monitor.HandleMessageCreate(ctx, m); err != nil {
			log.ErrorContext(
				ctx,
				"error handling message",
				tint.Err(err),
				"module", mod.Name(),
			)
		}
	}
}

// DispatchReactionAdd fans a reaction event out to every enabled
// reaction monitor.
func (r *ModuleRegistry) DispatchReactionAdd(
	ctx context.Context,
	reaction *discordgo.MessageReactionAdd,
) {
	log, ok := ContextLogger(ctx)
	if !ok || log == nil {
		log = r.logger
	}
	for _, mod := range r.Modules() {
		monitor, isMonitor := mod.(ReactionMonitor)
		if !isMonitor || !mod.Enabled() {
			continue
		}
		if err := monitor.HandleReactionAdd(ctx, reaction); err != nil {
			log.ErrorContext(
				ctx,
				"error handling reaction",
				tint.Err(err),
				"module", mod.Name(),
			)
		}
	}
}

// ReloadSettings reloads the settings document for the named module, or
// for every module when name is empty.
func (r *ModuleRegistry) ReloadSettings(name string) error {
	if name != "" {
		m, ok := r.Module(name)
		if !ok {
			return fmt.Errorf("unknown module: %s", name)
		}
		return m.Settings().Load()
	}
	var errs []error
	for _, m := range r.Modules() {
		if err := m.Settings().Load(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("error reloading settings: %v", errs)
	}
	return nil
}
