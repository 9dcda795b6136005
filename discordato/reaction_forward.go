package discordato

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	ModuleNameReactionForward = "reaction_forward"

	DiscordSlashCommandReactionForwardConfig = "reaction-forward-config"

	defaultForwardEmoji = "➡️"

	// forwardWebhookName is the webhook reused for re-posting forwarded
	// messages under the original author's name and avatar.
	forwardWebhookName = "MessageForwarder"
)

// ForwardedMessage records a message forwarded to the notification
// channel.
type ForwardedMessage struct {
	ModelUintID
	ModelUnixTime
	MessageID        string `json:"message_id" gorm:"index"`
	ChannelID        string `json:"channel_id" gorm:"index"`
	GuildID          string `json:"guild_id"`
	ForwardedBy      string `json:"forwarded_by" gorm:"index"`
	ForwardChannelID string `json:"forward_channel_id"`
	AuthorName       string `json:"author_name"`
	Fallback         bool   `json:"fallback"`
}

func reactionForwardDefaults() map[string]any {
	return map[string]any{
		"enabled":                 true,
		"enable_forwarding":       true,
		"notification_channel_id": "",
		"category_ids":            []any{},
		"blacklist_channel_ids":   []any{},
		"whitelist_role_ids":      []any{},
		"forward_emoji":           defaultForwardEmoji,
	}
}

// ReactionForward marks webhook/app messages in monitored categories
// with a forward emoji; when a whitelisted user clicks it, the message
// is re-posted into the notification channel through a webhook that
// mimics the original author.
type ReactionForward struct {
	d        *Discordato
	settings *SettingsManager
	logger   *slog.Logger
}

func NewReactionForward(d *Discordato) (*ReactionForward, error) {
	settings, err := d.settingsRegistry.Manager(
		ModuleNameReactionForward,
		reactionForwardDefaults(),
	)
	if err != nil {
		return nil, err
	}
	return &ReactionForward{
		d:        d,
		settings: settings,
		logger:   d.logger.With(loggerNameKey, ModuleNameReactionForward),
	}, nil
}

func (*ReactionForward) Name() string {
	return ModuleNameReactionForward
}

func (r *ReactionForward) Settings() *SettingsManager {
	return r.settings
}

func (r *ReactionForward) Enabled() bool {
	return r.settings.Bool("enabled", true)
}

func (r *ReactionForward) forwardEmoji() string {
	return r.settings.String("forward_emoji", defaultForwardEmoji)
}

// eligibleMessage reports whether a message should receive the forward
// emoji: it sits in a monitored category, outside the notification
// channel and blacklist, comes from a webhook/app or a whitelisted
// author, and isn't one of our own re-posts.
func (r *ReactionForward) eligibleMessage(m *discordgo.Message) bool {
	if m.ChannelID == r.d.notificationChannelFor(r.settings) {
		return false
	}
	if containsString(r.settings.StringSlice("blacklist_channel_ids"), m.ChannelID) {
		return false
	}

	categoryIDs := r.settings.StringSlice("category_ids")
	if len(categoryIDs) == 0 {
		return false
	}
	channel, err := r.d.discord.session.Channel(m.ChannelID)
	if err != nil {
		r.logger.Warn("error fetching channel", tint.Err(err), "channel_id", m.ChannelID)
		return false
	}
	if !containsString(categoryIDs, channel.ParentID) {
		return false
	}

	// our own forwarding webhook re-posts under the original author's
	// name; skip those so forwards don't cascade
	if m.WebhookID != "" {
		if m.Author != nil && m.Author.Username == forwardWebhookName {
			return false
		}
		return true
	}
	if m.Author == nil {
		return false
	}
	if m.Author.Bot {
		return true
	}

	allowed := r.settings.StringSlice("whitelist_role_ids")
	if len(allowed) == 0 {
		return false
	}
	if m.Member != nil {
		return anyRoleMatch(allowed, m.Member.Roles)
	}
	member, err := r.d.discord.session.GuildMember(m.GuildID, m.Author.ID)
	if err != nil {
		return false
	}
	return anyRoleMatch(allowed, member.Roles)
}

func (r *ReactionForward) HandleMessageCreate(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	if !r.eligibleMessage(m.Message) {
		return nil
	}
	if err := r.d.reactionLimiter.Wait(ctx); err != nil {
		return err
	}
	if err := r.d.discord.session.MessageReactionAdd(
		m.ChannelID, m.ID, r.forwardEmoji(),
	); err != nil {
		return fmt.Errorf("error adding forward reaction: %w", err)
	}
	r.logger.DebugContext(ctx, "added forward reaction", messageLogAttrs(m.Message)...)
	return nil
}

// userWhitelisted reports whether the reacting user holds a whitelisted
// role. Forwarding is deliberate moderator action, so an empty
// whitelist allows nobody.
func (r *ReactionForward) userWhitelisted(
	guildID string,
	userID string,
	member *discordgo.Member,
) bool {
	allowed := r.settings.StringSlice("whitelist_role_ids")
	if len(allowed) == 0 {
		return false
	}
	if member != nil {
		return anyRoleMatch(allowed, member.Roles)
	}
	fetched, err := r.d.discord.session.GuildMember(guildID, userID)
	if err != nil {
		r.logger.Warn(
			"error fetching member for whitelist check",
			tint.Err(err),
			"user_id", userID,
		)
		return false
	}
	return anyRoleMatch(allowed, fetched.Roles)
}

func (r *ReactionForward) HandleReactionAdd(
	ctx context.Context,
	reaction *discordgo.MessageReactionAdd,
) error {
	if !r.settings.Bool("enable_forwarding", true) {
		return nil
	}
	if reaction.Emoji.Name != r.forwardEmoji() {
		return nil
	}
	if reaction.UserID == r.d.discord.botUserID() {
		return nil
	}
	if !r.userWhitelisted(reaction.GuildID, reaction.UserID, reaction.Member) {
		return nil
	}

	message, err := r.d.discord.session.ChannelMessage(
		reaction.ChannelID, reaction.MessageID,
	)
	if err != nil {
		return fmt.Errorf("error fetching message to forward: %w", err)
	}
	return r.forward(ctx, message, reaction.UserID)
}

// forward re-posts the message into the notification channel. The happy
// path goes through the MessageForwarder webhook so the post keeps the
// original author's name and avatar; if webhook execution fails, a
// fallback embed carrying the content is posted instead.
func (r *ReactionForward) forward(
	ctx context.Context,
	m *discordgo.Message,
	forwardedBy string,
) error {
	notificationChannelID := r.d.notificationChannelFor(r.settings)
	if notificationChannelID == "" {
		return fmt.Errorf("no notification channel configured")
	}
	if err := r.d.reactionLimiter.Wait(ctx); err != nil {
		return err
	}

	log := r.logger.With(messageLogAttrs(m)...)
	fallback := false

	webhookErr := r.executeForwardWebhook(notificationChannelID, m)
	if webhookErr != nil {
		log.ErrorContext(
			ctx,
			"webhook forward failed, posting fallback embed",
			tint.Err(webhookErr),
		)
		fallback = true
		e := notificationEmbed(
			"Forwarded Message",
			excerpt(m.Content, discordMaxEmbedFieldLength),
			embedColorInfo,
		)
		e.Author = embedAuthorForUser(m.Author)
		if _, err := r.d.discord.session.ChannelMessageSendComplex(
			notificationChannelID,
			&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{e}},
		); err != nil {
			return fmt.Errorf("error sending fallback embed: %w", err)
		}
	}

	// attribution follows the forwarded content
	attribution := notificationEmbed(
		"",
		fmt.Sprintf(
			"Forwarded from %s by %s",
			channelMention(m.ChannelID), userMention(forwardedBy),
		),
		embedColorInfo,
	)
	if _, err := r.d.discord.session.ChannelMessageSendComplex(
		notificationChannelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{attribution},
			Components: []discordgo.MessageComponent{
				jumpLinkButton("Jump to Original", m.GuildID, m.ChannelID, m.ID),
			},
		},
	); err != nil {
		log.ErrorContext(ctx, "error sending attribution embed", tint.Err(err))
	}

	record := ForwardedMessage{
		MessageID:        m.ID,
		ChannelID:        m.ChannelID,
		GuildID:          m.GuildID,
		ForwardedBy:      forwardedBy,
		ForwardChannelID: notificationChannelID,
		Fallback:         fallback,
	}
	if m.Author != nil {
		record.AuthorName = m.Author.Username
	}
	if _, err := r.d.writeDB.Create(ctx, &record); err != nil {
		return fmt.Errorf("error recording forwarded message: %w", err)
	}
	log.InfoContext(ctx, "forwarded message", "fallback", fallback)
	return nil
}

// executeForwardWebhook finds or creates the MessageForwarder webhook in
// the target channel and executes it with the original author's
// identity.
func (r *ReactionForward) executeForwardWebhook(
	channelID string,
	m *discordgo.Message,
) error {
	webhooks, err := r.d.discord.session.ChannelWebhooks(channelID)
	if err != nil {
		return fmt.Errorf("error listing webhooks: %w", err)
	}
	var webhook *discordgo.Webhook
	for _, wh := range webhooks {
		if wh.Name == forwardWebhookName {
			webhook = wh
			break
		}
	}
	if webhook == nil {
		webhook, err = r.d.discord.session.WebhookCreate(
			channelID, forwardWebhookName, "",
		)
		if err != nil {
			return fmt.Errorf("error creating forward webhook: %w", err)
		}
	}

	params := &discordgo.WebhookParams{
		Content: m.Content,
		Embeds:  m.Embeds,
	}
	if m.Author != nil {
		params.Username = m.Author.Username
		params.AvatarURL = m.Author.AvatarURL("")
	}
	_, err = r.d.discord.session.WebhookExecute(
		webhook.ID, webhook.Token, true, params,
	)
	return err
}

func (*ReactionForward) Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandReactionForwardConfig,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Configure reaction forwarding",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Enable the reaction forward module",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Disable the reaction forward module",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "forwarding",
					Description: "Toggle whether reactions trigger forwarding",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "enabled",
							Description: "Whether forwarding is active",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "channel",
					Description: "Set the forward destination channel",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Channel forwarded messages are sent to",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "category",
					Description: "Add or remove a monitored category",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "action",
							Description: "add or remove",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "add", Value: "add"},
								{Name: "remove", Value: "remove"},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "category_id",
							Description: "Category ID",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "blacklist",
					Description: "Add or remove a blacklisted channel",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "action",
							Description: "add or remove",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "add", Value: "add"},
								{Name: "remove", Value: "remove"},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Channel to blacklist",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "whitelist",
					Description: "Add or remove a whitelisted role",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "action",
							Description: "add or remove",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "add", Value: "add"},
								{Name: "remove", Value: "remove"},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "Role allowed to trigger forwards",
							Required:    true,
						},
					},
				},
			},
		},
	}
}

func (r *ReactionForward) HandleCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if !r.d.permissions.canConfigure(i, nil) {
		return r.d.respondEphemeral(i, "You don't have permission to use this command.")
	}
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return fmt.Errorf("missing subcommand")
	}
	sub := options[0]

	switch sub.Name {
	case "enable":
		if err := r.settings.Set("enabled", true, true); err != nil {
			return err
		}
		return r.confirmAndNotify(ctx, i, "Reaction forward module enabled.")
	case "disable":
		if err := r.settings.Set("enabled", false, true); err != nil {
			return err
		}
		return r.confirmAndNotify(ctx, i, "Reaction forward module disabled.")
	case "forwarding":
		enabled := subcommandOptions(sub)["enabled"].BoolValue()
		if err := r.settings.Set("enable_forwarding", enabled, true); err != nil {
			return err
		}
		return r.confirmAndNotify(
			ctx, i, fmt.Sprintf("Forwarding set to %t.", enabled),
		)
	case "channel":
		channelID := subcommandOptions(sub)["channel"].Value.(string)
		if err := r.settings.Set("notification_channel_id", channelID, true); err != nil {
			return err
		}
		return r.confirmAndNotify(
			ctx, i,
			fmt.Sprintf("Forward destination set to %s.", channelMention(channelID)),
		)
	case "category":
		opts := subcommandOptions(sub)
		return r.updateIDList(
			ctx, i, "category_ids",
			opts["action"].StringValue(),
			opts["category_id"].StringValue(),
			"monitored categories",
		)
	case "blacklist":
		opts := subcommandOptions(sub)
		return r.updateIDList(
			ctx, i, "blacklist_channel_ids",
			opts["action"].StringValue(),
			opts["channel"].Value.(string),
			"channel blacklist",
		)
	case "whitelist":
		opts := subcommandOptions(sub)
		return r.updateIDList(
			ctx, i, "whitelist_role_ids",
			opts["action"].StringValue(),
			opts["role"].Value.(string),
			"role whitelist",
		)
	default:
		return fmt.Errorf("unknown subcommand: %s", sub.Name)
	}
}

func (r *ReactionForward) updateIDList(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	key string,
	action string,
	id string,
	label string,
) error {
	current := r.settings.StringSlice(key)
	switch action {
	case "add":
		if containsString(current, id) {
			return r.d.respondEphemeral(
				i, fmt.Sprintf("`%s` is already in the %s.", id, label),
			)
		}
		current = append(current, id)
	case "remove":
		if !containsString(current, id) {
			return r.d.respondEphemeral(
				i, fmt.Sprintf("`%s` is not in the %s.", id, label),
			)
		}
		next := make([]string, 0, len(current)-1)
		for _, existing := range current {
			if existing != id {
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
	if err := r.settings.Set(key, values, true); err != nil {
		return err
	}
	return r.confirmAndNotify(
		ctx, i,
		fmt.Sprintf("Updated %s (%d entries).", label, len(current)),
	)
}

func (r *ReactionForward) confirmAndNotify(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	message string,
) error {
	r.d.dbNotifier.SettingsUpdated(ctx, ModuleNameReactionForward)
	return r.d.respondEphemeral(i, message)
}
