package discordato

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	ModuleNameKeywordFilter = "keyword_filter"

	DiscordSlashCommandKeywordFilterConfig = "keyword-filter-config"

	filterActionLog    = "log"
	filterActionNotify = "notify"
	filterActionDelete = "delete"

	filterSeverityLow    = "low"
	filterSeverityMedium = "medium"
	filterSeverityHigh   = "high"

	filterContentExcerptLength = 500
)

// filterActionPriority orders filter actions so the strictest matching
// filter wins when a message trips several.
var filterActionPriority = map[string]int{
	filterActionLog:    0,
	filterActionNotify: 1,
	filterActionDelete: 2,
}

// KeywordFilterEvent records a message that matched a keyword filter.
type KeywordFilterEvent struct {
	ModelUintID
	ModelUnixTime
	MessageID      string `json:"message_id" gorm:"index"`
	ChannelID      string `json:"channel_id" gorm:"index"`
	GuildID        string `json:"guild_id"`
	UserID         string `json:"user_id" gorm:"index"`
	Username       string `json:"username"`
	FilterName     string `json:"filter_name" gorm:"index"`
	Patterns       string `json:"patterns"`
	Action         string `json:"action"`
	Severity       string `json:"severity"`
	ContentExcerpt string `json:"content_excerpt"`
	DryRun         bool   `json:"dry_run"`
}

// keywordFilterDefaults is the default settings document for the module.
func keywordFilterDefaults() map[string]any {
	return map[string]any{
		"enabled":                 true,
		"dry_run":                 false,
		"notify_filtered":         true,
		"notification_channel_id": "",
		"category_ids":            []any{},
		"blacklist_channel_ids":   []any{},
		"filters":                 map[string]any{},
	}
}

// KeywordFilter scans messages in monitored categories against named
// regex filters and logs, notifies, or deletes on a match.
type KeywordFilter struct {
	d        *Discordato
	settings *SettingsManager
	logger   *slog.Logger

	regexMu    sync.Mutex
	regexCache map[string]*regexp.Regexp
}

func NewKeywordFilter(d *Discordato) (*KeywordFilter, error) {
	settings, err := d.settingsRegistry.Manager(
		ModuleNameKeywordFilter,
		keywordFilterDefaults(),
	)
	if err != nil {
		return nil, err
	}
	k := &KeywordFilter{
		d:          d,
		settings:   settings,
		logger:     d.logger.With(loggerNameKey, ModuleNameKeywordFilter),
		regexCache: map[string]*regexp.Regexp{},
	}
	if migrateErr := k.migrateLegacyFilters(); migrateErr != nil {
		return nil, migrateErr
	}
	return k, nil
}

func (*KeywordFilter) Name() string {
	return ModuleNameKeywordFilter
}

func (k *KeywordFilter) Settings() *SettingsManager {
	return k.settings
}

func (k *KeywordFilter) Enabled() bool {
	return k.settings.Bool("enabled", true)
}

// migrateLegacyFilters converts a filters document stored as a list
// (older settings format) into the named-map form. List entries carry
// their key in a "name" field; entries without one are keyed
// positionally.
func (k *KeywordFilter) migrateLegacyFilters() error {
	raw, ok := k.settings.Get("filters")
	if !ok {
		return nil
	}
	legacy, isList := raw.([]any)
	if !isList {
		return nil
	}
	migrated := map[string]any{}
	for n, item := range legacy {
		entry, isMap := item.(map[string]any)
		if !isMap {
			continue
		}
		name, _ := asString(entry["name"])
		if name == "" {
			name = fmt.Sprintf("filter_%d", n+1)
		}
		delete(entry, "name")
		migrated[name] = entry
	}
	k.logger.Info(
		"migrated legacy filter list to named map",
		"filters", len(migrated),
	)
	return k.settings.Set("filters", migrated, true)
}

// filterRegex compiles (and caches) a case-insensitive regex for the
// given pattern. Invalid patterns are cached as nil so they only log
// once.
func (k *KeywordFilter) filterRegex(pattern string) *regexp.Regexp {
	k.regexMu.Lock()
	defer k.regexMu.Unlock()
	re, ok := k.regexCache[pattern]
	if ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		k.logger.Warn("invalid filter pattern", tint.Err(err), "pattern", pattern)
		re = nil
	}
	k.regexCache[pattern] = re
	return re
}

// messageSearchText collects the searchable text of a message: content
// plus embed title, description, fields, footer and author name.
func messageSearchText(m *discordgo.Message) []string {
	parts := []string{m.Content}
	for _, embed := range m.Embeds {
		if embed == nil {
			continue
		}
		parts = append(parts, embed.Title, embed.Description)
		for _, field := range embed.Fields {
			if field != nil {
				parts = append(parts, field.Name, field.Value)
			}
		}
		if embed.Footer != nil {
			parts = append(parts, embed.Footer.Text)
		}
		if embed.Author != nil {
			parts = append(parts, embed.Author.Name)
		}
	}
	return parts
}

type filterMatch struct {
	name     string
	action   string
	severity string
	patterns []string
}

// matchFilters returns the matches for every enabled filter whose
// patterns hit the message text.
func (k *KeywordFilter) matchFilters(m *discordgo.Message) []filterMatch {
	filters := k.settings.StringMap("filters")
	if len(filters) == 0 {
		return nil
	}
	searchText := messageSearchText(m)

	var matches []filterMatch
	for name, raw := range filters {
		filter, isMap := raw.(map[string]any)
		if !isMap {
			continue
		}
		if enabled, isBool := filter["enabled"].(bool); isBool && !enabled {
			continue
		}
		patterns, _ := filter["patterns"].([]any)
		var matched []string
		for _, rawPattern := range patterns {
			pattern, patternOK := asString(rawPattern)
			if !patternOK {
				continue
			}
			re := k.filterRegex(pattern)
			if re == nil {
				continue
			}
			for _, text := range searchText {
				if text != "" && re.MatchString(text) {
					matched = append(matched, pattern)
					break
				}
			}
		}
		if len(matched) == 0 {
			continue
		}
		action, _ := asString(filter["action"])
		if _, known := filterActionPriority[action]; !known {
			action = filterActionLog
		}
		severity, _ := asString(filter["severity"])
		if severity == "" {
			severity = filterSeverityLow
		}
		matches = append(
			matches, filterMatch{
				name:     name,
				action:   action,
				severity: severity,
				patterns: matched,
			},
		)
	}
	return matches
}

// channelMonitored reports whether the message's channel sits in a
// monitored category and is not blacklisted.
func (k *KeywordFilter) channelMonitored(channelID string) bool {
	if containsString(k.settings.StringSlice("blacklist_channel_ids"), channelID) {
		return false
	}
	categoryIDs := k.settings.StringSlice("category_ids")
	if len(categoryIDs) == 0 {
		return false
	}
	channel, err := k.d.discord.session.Channel(channelID)
	if err != nil {
		k.logger.Warn("error fetching channel", tint.Err(err), "channel_id", channelID)
		return false
	}
	return containsString(categoryIDs, channel.ParentID)
}

func (k *KeywordFilter) HandleMessageCreate(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	if m.Author != nil && m.Author.ID == k.d.discord.botUserID() {
		return nil
	}
	if !k.channelMonitored(m.ChannelID) {
		return nil
	}
	matches := k.matchFilters(m.Message)
	if len(matches) == 0 {
		return nil
	}

	// strictest action across all matched filters
	final := matches[0]
	for _, match := range matches[1:] {
		if filterActionPriority[match.action] > filterActionPriority[final.action] {
			final = match
		}
	}

	dryRun := k.settings.Bool("dry_run", false)
	log := k.logger.With(messageLogAttrs(m.Message)...)
	log.InfoContext(
		ctx,
		"message matched filter",
		"filter", final.name,
		"action", final.action,
		"severity", final.severity,
		"patterns", final.patterns,
		"dry_run", dryRun,
	)

	deleted := false
	if final.action == filterActionDelete && !dryRun {
		if err := k.d.discord.session.ChannelMessageDelete(
			m.ChannelID, m.ID,
		); err != nil {
			log.ErrorContext(ctx, "error deleting filtered message", tint.Err(err))
		} else {
			deleted = true
		}
	}

	if final.action != filterActionLog && k.settings.Bool("notify_filtered", true) {
		k.notifyFiltered(ctx, m.Message, final, deleted, dryRun)
	}

	event := KeywordFilterEvent{
		MessageID:      m.ID,
		ChannelID:      m.ChannelID,
		GuildID:        m.GuildID,
		FilterName:     final.name,
		Patterns:       strings.Join(final.patterns, ", "),
		Action:         final.action,
		Severity:       final.severity,
		ContentExcerpt: excerpt(m.Content, filterContentExcerptLength),
		DryRun:         dryRun,
	}
	if m.Author != nil {
		event.UserID = m.Author.ID
		event.Username = m.Author.Username
	}
	if _, err := k.d.writeDB.Create(ctx, &event); err != nil {
		return fmt.Errorf("error recording filter event: %w", err)
	}
	return nil
}

// notifyFiltered posts the styled notification embed to the module's
// notification channel (falling back to the bot-wide one).
func (k *KeywordFilter) notifyFiltered(
	ctx context.Context,
	m *discordgo.Message,
	match filterMatch,
	deleted bool,
	dryRun bool,
) {
	channelID := k.d.notificationChannelFor(k.settings)
	if channelID == "" {
		k.logger.WarnContext(ctx, "no notification channel configured")
		return
	}

	actionTaken := match.action
	if match.action == filterActionDelete {
		switch {
		case deleted:
			actionTaken = "deleted"
		case dryRun:
			actionTaken = "delete (dry run)"
		default:
			actionTaken = "delete failed"
		}
	}

	e := notificationEmbed(
		"Keyword Filter Match",
		fmt.Sprintf("Filter `%s` matched a message in %s", match.name, channelMention(m.ChannelID)),
		severityColor(match.severity),
	)
	e.Author = embedAuthorForUser(m.Author)
	embedField(e, "Patterns", strings.Join(match.patterns, ", "), true)
	embedField(e, "Severity", match.severity, true)
	embedField(e, "Action", actionTaken, true)
	if m.Content != "" {
		embedField(e, "Content", excerpt(m.Content, filterContentExcerptLength), false)
	}

	data := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{e}}
	if !deleted {
		data.Components = []discordgo.MessageComponent{
			jumpLinkButton("Jump to Message", m.GuildID, m.ChannelID, m.ID),
		}
	}
	if err := k.d.sendNotification(ctx, channelID, data); err != nil {
		k.logger.ErrorContext(ctx, "error sending filter notification", tint.Err(err))
	}
}

func (*KeywordFilter) Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandKeywordFilterConfig,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Configure the keyword filter",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Enable the keyword filter",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Disable the keyword filter",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "dry-run",
					Description: "Toggle dry-run mode (matches are logged but never deleted)",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        "enabled",
							Description: "Whether dry-run mode is enabled",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "channel",
					Description: "Set the notification channel",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Channel for filter notifications",
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
					Name:        "filter-add",
					Description: "Add or replace a named filter",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Filter name",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "pattern",
							Description: "Regex pattern (case-insensitive)",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "action",
							Description: "Action on match",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: filterActionLog, Value: filterActionLog},
								{Name: filterActionNotify, Value: filterActionNotify},
								{Name: filterActionDelete, Value: filterActionDelete},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "severity",
							Description: "Match severity",
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: filterSeverityLow, Value: filterSeverityLow},
								{Name: filterSeverityMedium, Value: filterSeverityMedium},
								{Name: filterSeverityHigh, Value: filterSeverityHigh},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "description",
							Description: "What this filter catches",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "filter-remove",
					Description: "Remove a named filter",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Filter name",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "Show the current keyword filter configuration",
				},
			},
		},
	}
}

func (k *KeywordFilter) HandleCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if !k.d.permissions.canConfigure(i, nil) {
		return k.d.respondEphemeral(i, "You don't have permission to use this command.")
	}
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return fmt.Errorf("missing subcommand")
	}
	sub := options[0]

	switch sub.Name {
	case "enable":
		if err := k.settings.Set("enabled", true, true); err != nil {
			return err
		}
		return k.confirmAndNotify(ctx, i, "Keyword filter enabled.")
	case "disable":
		if err := k.settings.Set("enabled", false, true); err != nil {
			return err
		}
		return k.confirmAndNotify(ctx, i, "Keyword filter disabled.")
	case "dry-run":
		enabled := subcommandOptions(sub)["enabled"].BoolValue()
		if err := k.settings.Set("dry_run", enabled, true); err != nil {
			return err
		}
		return k.confirmAndNotify(
			ctx, i, fmt.Sprintf("Dry-run mode set to %t.", enabled),
		)
	case "channel":
		channelID := subcommandOptions(sub)["channel"].Value.(string)
		if err := k.settings.Set("notification_channel_id", channelID, true); err != nil {
			return err
		}
		return k.confirmAndNotify(
			ctx, i,
			fmt.Sprintf("Notification channel set to %s.", channelMention(channelID)),
		)
	case "category":
		opts := subcommandOptions(sub)
		return k.updateIDList(
			ctx, i, "category_ids",
			opts["action"].StringValue(),
			opts["category_id"].StringValue(),
			"monitored categories",
		)
	case "blacklist":
		opts := subcommandOptions(sub)
		return k.updateIDList(
			ctx, i, "blacklist_channel_ids",
			opts["action"].StringValue(),
			opts["channel"].Value.(string),
			"channel blacklist",
		)
	case "filter-add":
		return k.commandFilterAdd(ctx, i, sub)
	case "filter-remove":
		return k.commandFilterRemove(ctx, i, sub)
	case "list":
		return k.commandList(i)
	default:
		return fmt.Errorf("unknown subcommand: %s", sub.Name)
	}
}

// updateIDList adds or removes an ID in one of the module's list
// settings.
func (k *KeywordFilter) updateIDList(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	key string,
	action string,
	id string,
	label string,
) error {
	current := k.settings.StringSlice(key)
	switch action {
	case "add":
		if containsString(current, id) {
			return k.d.respondEphemeral(
				i, fmt.Sprintf("`%s` is already in the %s.", id, label),
			)
		}
		current = append(current, id)
	case "remove":
		if !containsString(current, id) {
			return k.d.respondEphemeral(
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
	if err := k.settings.Set(key, values, true); err != nil {
		return err
	}
	return k.confirmAndNotify(
		ctx, i,
		fmt.Sprintf("Updated %s (%d entries).", label, len(current)),
	)
}

func (k *KeywordFilter) commandFilterAdd(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) error {
	opts := subcommandOptions(sub)
	name := opts["name"].StringValue()
	pattern := opts["pattern"].StringValue()

	if _, err := regexp.Compile("(?i)" + pattern); err != nil {
		return k.d.respondEphemeral(
			i, fmt.Sprintf("Invalid pattern: %s", err.Error()),
		)
	}

	action := opts["action"].StringValue()
	severity := filterSeverityLow
	if opt, ok := opts["severity"]; ok {
		severity = opt.StringValue()
	}
	description := ""
	if opt, ok := opts["description"]; ok {
		description = opt.StringValue()
	}

	filters := k.settings.StringMap("filters")
	var patterns []any
	if existing, ok := filters[name].(map[string]any); ok {
		patterns, _ = existing["patterns"].([]any)
	}
	patterns = append(patterns, pattern)

	err := k.settings.Set(
		fmt.Sprintf("filters.%s", name),
		map[string]any{
			"enabled":     true,
			"patterns":    patterns,
			"description": description,
			"action":      action,
			"severity":    severity,
		},
		true,
	)
	if err != nil {
		return err
	}
	return k.confirmAndNotify(
		ctx, i,
		fmt.Sprintf("Filter `%s` saved (%d patterns, action: %s).", name, len(patterns), action),
	)
}

func (k *KeywordFilter) commandFilterRemove(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) error {
	name := subcommandOptions(sub)["name"].StringValue()
	filters := k.settings.StringMap("filters")
	if _, ok := filters[name]; !ok {
		return k.d.respondEphemeral(i, fmt.Sprintf("No filter named `%s`.", name))
	}
	delete(filters, name)
	if err := k.settings.Set("filters", filters, true); err != nil {
		return err
	}
	return k.confirmAndNotify(ctx, i, fmt.Sprintf("Filter `%s` removed.", name))
}

func (k *KeywordFilter) commandList(i *discordgo.InteractionCreate) error {
	e := notificationEmbed("Keyword Filter Configuration", "", embedColorInfo)
	embedField(e, "Enabled", fmt.Sprintf("%t", k.Enabled()), true)
	embedField(e, "Dry Run", fmt.Sprintf("%t", k.settings.Bool("dry_run", false)), true)
	embedField(
		e, "Notification Channel",
		k.settings.String("notification_channel_id", "-"), true,
	)
	embedField(
		e, "Categories",
		strings.Join(k.settings.StringSlice("category_ids"), ", "), false,
	)
	embedField(
		e, "Blacklisted Channels",
		strings.Join(k.settings.StringSlice("blacklist_channel_ids"), ", "), false,
	)

	filters := k.settings.StringMap("filters")
	for name, raw := range filters {
		filter, isMap := raw.(map[string]any)
		if !isMap {
			continue
		}
		patterns, _ := filter["patterns"].([]any)
		action, _ := asString(filter["action"])
		severity, _ := asString(filter["severity"])
		enabled, _ := filter["enabled"].(bool)
		embedField(
			e, fmt.Sprintf("Filter: %s", name),
			fmt.Sprintf(
				"enabled: %t | action: %s | severity: %s | patterns: %d",
				enabled, action, severity, len(patterns),
			),
			false,
		)
	}
	return k.d.respondEphemeralEmbed(i, e)
}

// confirmAndNotify confirms the config change to the user and signals
// other bot instances to reload this module's settings.
func (k *KeywordFilter) confirmAndNotify(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	message string,
) error {
	k.d.dbNotifier.SettingsUpdated(ctx, ModuleNameKeywordFilter)
	return k.d.respondEphemeral(i, message)
}
