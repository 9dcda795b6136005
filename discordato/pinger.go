package discordato

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	ModuleNamePinger = "pinger"

	DiscordSlashCommandPingerConfig = "pinger-config"

	pingTypeEveryone = "@everyone"
	pingTypeHere     = "@here"
	pingTypeRole     = "role"

	defaultPingNotificationTitle = "IMPORTANT PING DETECTED"
)

// PingEvent records a monitored mention that triggered a notification.
type PingEvent struct {
	ModelUintID
	ModelUnixTime
	MessageID string `json:"message_id" gorm:"index"`
	ChannelID string `json:"channel_id" gorm:"index"`
	GuildID   string `json:"guild_id"`
	UserID    string `json:"user_id" gorm:"index"`
	Username  string `json:"username"`
	PingType  string `json:"ping_type"`
	RoleID    string `json:"role_id"`
}

func pingerDefaults() map[string]any {
	return map[string]any{
		"enabled":                 true,
		"notification_channel_id": "",
		"whitelist_role_ids":      []any{},
		"monitor_everyone":        true,
		"monitor_here":            true,
		"monitor_roles":           false,
		"monitored_role_ids":      []any{},
		"notification_title":      defaultPingNotificationTitle,
	}
}

// Pinger watches for @everyone, @here, and role mentions from users
// holding a whitelisted role, and mirrors them into a notification
// channel with a jump link.
type Pinger struct {
	d        *Discordato
	settings *SettingsManager
	logger   *slog.Logger
}

func NewPinger(d *Discordato) (*Pinger, error) {
	settings, err := d.settingsRegistry.Manager(ModuleNamePinger, pingerDefaults())
	if err != nil {
		return nil, err
	}
	return &Pinger{
		d:        d,
		settings: settings,
		logger:   d.logger.With(loggerNameKey, ModuleNamePinger),
	}, nil
}

func (*Pinger) Name() string {
	return ModuleNamePinger
}

func (p *Pinger) Settings() *SettingsManager {
	return p.settings
}

func (p *Pinger) Enabled() bool {
	return p.settings.Bool("enabled", true)
}

// detectPing classifies the message's mention, if any kind being
// monitored is present. @here arrives without a gateway mention flag of
// its own, so it's detected from the raw content.
func (p *Pinger) detectPing(m *discordgo.Message) (pingType string, roleID string, ok bool) {
	hasHere := strings.Contains(m.Content, pingTypeHere)
	if p.settings.Bool("monitor_everyone", true) && messageMentionsEveryone(m) {
		if hasHere && p.settings.Bool("monitor_here", true) {
			return pingTypeHere, "", true
		}
		// the gateway flag covers @here too, so a message that only
		// contains @here doesn't count as an everyone-ping
		if !hasHere || strings.Contains(m.Content, pingTypeEveryone) {
			return pingTypeEveryone, "", true
		}
	}
	if hasHere && p.settings.Bool("monitor_here", true) {
		return pingTypeHere, "", true
	}
	if p.settings.Bool("monitor_roles", false) {
		monitored := p.settings.StringSlice("monitored_role_ids")
		if len(monitored) == 0 {
			// no specific roles configured: any role mention counts
			if len(m.MentionRoles) > 0 {
				return pingTypeRole, m.MentionRoles[0], true
			}
			return "", "", false
		}
		if matched, found := messageMentionsRole(m, monitored); found {
			return pingTypeRole, matched, true
		}
	}
	return "", "", false
}

// authorWhitelisted reports whether the message author may trigger ping
// notifications. An empty whitelist allows every author.
func (p *Pinger) authorWhitelisted(m *discordgo.Message) bool {
	allowed := p.settings.StringSlice("whitelist_role_ids")
	if len(allowed) == 0 {
		return true
	}
	if m.Member != nil {
		return anyRoleMatch(allowed, m.Member.Roles)
	}
	if m.Author == nil || m.GuildID == "" {
		return false
	}
	member, err := p.d.discord.session.GuildMember(m.GuildID, m.Author.ID)
	if err != nil {
		p.logger.Warn(
			"error fetching member for whitelist check",
			tint.Err(err),
			"user_id", m.Author.ID,
		)
		return false
	}
	return anyRoleMatch(allowed, member.Roles)
}

func (p *Pinger) HandleMessageCreate(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	if m.Author != nil && m.Author.Bot {
		return nil
	}
	notificationChannelID := p.d.notificationChannelFor(p.settings)
	if notificationChannelID == "" || m.ChannelID == notificationChannelID {
		return nil
	}

	pingType, roleID, ok := p.detectPing(m.Message)
	if !ok {
		return nil
	}
	if !p.authorWhitelisted(m.Message) {
		p.logger.DebugContext(
			ctx,
			"ping from non-whitelisted author ignored",
			messageLogAttrs(m.Message)...,
		)
		return nil
	}

	log := p.logger.With(messageLogAttrs(m.Message)...)
	log.InfoContext(ctx, "detected monitored ping", "ping_type", pingType)

	pingLabel := pingType
	if pingType == pingTypeRole {
		pingLabel = roleMention(roleID)
	}
	e := notificationEmbed(
		p.settings.String("notification_title", defaultPingNotificationTitle),
		fmt.Sprintf("%s pinged %s in %s", authorLabel(m.Message), pingLabel, channelMention(m.ChannelID)),
		embedColorWarning,
	)
	e.Author = embedAuthorForUser(m.Author)
	if m.Content != "" {
		embedField(e, "Message", excerpt(m.Content, filterContentExcerptLength), false)
	}

	sendErr := p.d.sendNotification(
		ctx,
		notificationChannelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{e},
			Components: []discordgo.MessageComponent{
				jumpLinkButton("Jump to Ping", m.GuildID, m.ChannelID, m.ID),
			},
		},
	)
	if sendErr != nil {
		return fmt.Errorf("error sending ping notification: %w", sendErr)
	}

	event := PingEvent{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		PingType:  pingType,
		RoleID:    roleID,
	}
	if m.Author != nil {
		event.UserID = m.Author.ID
		event.Username = m.Author.Username
	}
	if _, err := p.d.writeDB.Create(ctx, &event); err != nil {
		return fmt.Errorf("error recording ping event: %w", err)
	}
	return nil
}

// authorLabel renders the message author as a mention, tolerating nil.
func authorLabel(m *discordgo.Message) string {
	if m.Author == nil {
		return "someone"
	}
	return userMention(m.Author.ID)
}

func (*Pinger) Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandPingerConfig,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Configure mention monitoring",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Enable mention monitoring",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Disable mention monitoring",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "channel",
					Description: "Set the notification channel",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Channel for ping notifications",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "whitelist",
					Description: "Manage roles allowed to trigger notifications",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "action",
							Description: "add, remove or list",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "add", Value: "add"},
								{Name: "remove", Value: "remove"},
								{Name: "list", Value: "list"},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "Role to add or remove",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "monitor",
					Description: "Toggle which mention types are monitored",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "type",
							Description: "Mention type",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "everyone", Value: "everyone"},
								{Name: "here", Value: "here"},
								{Name: "roles", Value: "roles"},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "enabled",
							Description: "Whether this mention type is monitored",
							Required:    true,
						},
					},
				},
			},
		},
	}
}

func (p *Pinger) HandleCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if !p.d.permissions.canConfigure(i, nil) {
		return p.d.respondEphemeral(i, "You don't have permission to use this command.")
	}
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return fmt.Errorf("missing subcommand")
	}
	sub := options[0]

	switch sub.Name {
	case "enable":
		if err := p.settings.Set("enabled", true, true); err != nil {
			return err
		}
		return p.confirmAndNotify(ctx, i, "Mention monitoring enabled.")
	case "disable":
		if err := p.settings.Set("enabled", false, true); err != nil {
			return err
		}
		return p.confirmAndNotify(ctx, i, "Mention monitoring disabled.")
	case "channel":
		channelID := subcommandOptions(sub)["channel"].Value.(string)
		if err := p.settings.Set("notification_channel_id", channelID, true); err != nil {
			return err
		}
		return p.confirmAndNotify(
			ctx, i,
			fmt.Sprintf("Notification channel set to %s.", channelMention(channelID)),
		)
	case "whitelist":
		return p.commandWhitelist(ctx, i, sub)
	case "monitor":
		opts := subcommandOptions(sub)
		mentionType := opts["type"].StringValue()
		enabled := opts["enabled"].BoolValue()
		key := map[string]string{
			"everyone": "monitor_everyone",
			"here":     "monitor_here",
			"roles":    "monitor_roles",
		}[mentionType]
		if key == "" {
			return fmt.Errorf("unknown mention type: %s", mentionType)
		}
		if err := p.settings.Set(key, enabled, true); err != nil {
			return err
		}
		return p.confirmAndNotify(
			ctx, i,
			fmt.Sprintf("Monitoring for %s mentions set to %t.", mentionType, enabled),
		)
	default:
		return fmt.Errorf("unknown subcommand: %s", sub.Name)
	}
}

func (p *Pinger) commandWhitelist(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) error {
	opts := subcommandOptions(sub)
	action := opts["action"].StringValue()
	current := p.settings.StringSlice("whitelist_role_ids")

	if action == "list" {
		if len(current) == 0 {
			return p.d.respondEphemeral(
				i, "The whitelist is empty: all members may trigger notifications.",
			)
		}
		mentions := make([]string, len(current))
		for n, id := range current {
			mentions[n] = roleMention(id)
		}
		return p.d.respondEphemeral(
			i, fmt.Sprintf("Whitelisted roles: %s", strings.Join(mentions, ", ")),
		)
	}

	roleOpt, ok := opts["role"]
	if !ok {
		return p.d.respondEphemeral(i, "A role is required for add and remove.")
	}
	roleID := roleOpt.Value.(string)

	switch action {
	case "add":
		if containsString(current, roleID) {
			return p.d.respondEphemeral(i, "That role is already whitelisted.")
		}
		current = append(current, roleID)
	case "remove":
		if !containsString(current, roleID) {
			return p.d.respondEphemeral(i, "That role is not on the whitelist.")
		}
		next := make([]string, 0, len(current)-1)
		for _, existing := range current {
			if existing != roleID {
				next = append(next, existing)
			}
		}
		current = next
	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	values := make([]any, len(current))
	for n, v := range current {
		values[n] = v
	}
	if err := p.settings.Set("whitelist_role_ids", values, true); err != nil {
		return err
	}
	return p.confirmAndNotify(
		ctx, i,
		fmt.Sprintf("Whitelist updated (%d roles).", len(current)),
	)
}

func (p *Pinger) confirmAndNotify(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	message string,
) error {
	p.d.dbNotifier.SettingsUpdated(ctx, ModuleNamePinger)
	return p.d.respondEphemeral(i, message)
}
