package discordato

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// permissionChecker gates slash commands on role whitelists. The bot-wide
// moderator whitelist comes from the runtime config; individual modules
// may layer their own whitelist from their settings document on top.
type permissionChecker struct {
	d      *Discordato
	logger *slog.Logger
}

func newPermissionChecker(d *Discordato) *permissionChecker {
	return &permissionChecker{
		d:      d,
		logger: d.logger.With(loggerNameKey, "permissions"),
	}
}

// isModerator reports whether the interaction's member holds one of the
// bot-wide moderator whitelist roles. An empty whitelist allows nobody,
// so a fresh install can't be configured from Discord until the
// whitelist is set via the API.
func (p *permissionChecker) isModerator(i *discordgo.InteractionCreate) bool {
	allowed := p.d.RuntimeConfig().modWhitelist()
	if len(allowed) == 0 {
		return false
	}
	return anyRoleMatch(allowed, memberRoleIDs(i))
}

// allowedByWhitelist reports whether the interaction's member holds one
// of the given roles. An empty whitelist allows everyone; modules that
// want a closed-by-default gate should combine this with isModerator.
func (p *permissionChecker) allowedByWhitelist(
	i *discordgo.InteractionCreate,
	allowed []string,
) bool {
	if len(allowed) == 0 {
		return true
	}
	return anyRoleMatch(allowed, memberRoleIDs(i))
}

// canConfigure reports whether the member may use a module's config
// subcommands: moderators always can, and a module may extend access to
// extra roles via a whitelist in its own settings.
func (p *permissionChecker) canConfigure(
	i *discordgo.InteractionCreate,
	moduleWhitelist []string,
) bool {
	if p.isModerator(i) {
		return true
	}
	if len(moduleWhitelist) == 0 {
		return false
	}
	return anyRoleMatch(moduleWhitelist, memberRoleIDs(i))
}
