package discordato

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	ModuleNameLinkReaction = "link_reaction"

	DiscordSlashCommandLinkReactionConfig = "link-reaction-config"

	defaultLinkEmoji = "🔗"

	storeDetectionAuthorName    = "author_name"
	storeDetectionTitleContains = "title_contains"
	storeDetectionURLContains   = "url_contains"

	// linkReactionDelay defers the link emoji when the forward module is
	// also reacting, so the forward emoji lands first.
	linkReactionDelay = 3 * time.Second

	pidEmbedFieldName = "pid"
)

// ProductIDRecord records a product ID extracted from an embed and
// appended to a store's tracking file.
type ProductIDRecord struct {
	ModelUintID
	ModelUnixTime
	StoreName string `json:"store_name" gorm:"index"`
	ProductID string `json:"product_id" gorm:"index"`
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	FilePath  string `json:"file_path"`
	Duplicate bool   `json:"duplicate"`
}

func linkReactionDefaults() map[string]any {
	return map[string]any{
		"enabled":               true,
		"link_emoji":            defaultLinkEmoji,
		"category_ids":          []any{},
		"blacklist_channel_ids": []any{},
		"whitelist_role_ids":    []any{},
		"stores":                map[string]any{},
	}
}

// LinkReaction marks product embeds in store channels with a link emoji
// and, when a whitelisted user clicks it, extracts the product ID into
// the store's tracking file.
type LinkReaction struct {
	d        *Discordato
	settings *SettingsManager
	logger   *slog.Logger
	forward  *ReactionForward
}

func NewLinkReaction(d *Discordato, forward *ReactionForward) (*LinkReaction, error) {
	settings, err := d.settingsRegistry.Manager(
		ModuleNameLinkReaction,
		linkReactionDefaults(),
	)
	if err != nil {
		return nil, err
	}
	l := &LinkReaction{
		d:        d,
		settings: settings,
		logger:   d.logger.With(loggerNameKey, ModuleNameLinkReaction),
		forward:  forward,
	}
	if migrateErr := l.migrateLegacyStores(); migrateErr != nil {
		return nil, migrateErr
	}
	return l, nil
}

func (*LinkReaction) Name() string {
	return ModuleNameLinkReaction
}

func (l *LinkReaction) Settings() *SettingsManager {
	return l.settings
}

func (l *LinkReaction) Enabled() bool {
	return l.settings.Bool("enabled", true)
}

func (l *LinkReaction) linkEmoji() string {
	return l.settings.String("link_emoji", defaultLinkEmoji)
}

// migrateLegacyStores converts a stores document stored as a list
// (older settings format) into the named-map form, keyed by each
// entry's "name" field.
func (l *LinkReaction) migrateLegacyStores() error {
	raw, ok := l.settings.Get("stores")
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
			name = fmt.Sprintf("store_%d", n+1)
		}
		migrated[strings.ToLower(name)] = entry
	}
	l.logger.Info(
		"migrated legacy store list to named map",
		"stores", len(migrated),
	)
	return l.settings.Set("stores", migrated, true)
}

// storeConfig is the decoded form of one entry in the stores map.
type storeConfig struct {
	key            string
	name           string
	filePath       string
	channelIDs     []string
	detectionType  string
	detectionValue string
	enabled        bool
}

func decodeStoreConfig(key string, raw any) (storeConfig, bool) {
	entry, isMap := raw.(map[string]any)
	if !isMap {
		return storeConfig{}, false
	}
	store := storeConfig{key: key, enabled: true}
	if enabled, isBool := entry["enabled"].(bool); isBool {
		store.enabled = enabled
	}
	store.name, _ = asString(entry["name"])
	if store.name == "" {
		store.name = key
	}
	store.filePath, _ = asString(entry["file_path"])
	if channels, isList := entry["channel_ids"].([]any); isList {
		for _, id := range channels {
			if s, sOK := asString(id); sOK {
				store.channelIDs = append(store.channelIDs, s)
			}
		}
	}
	if detection, isMap2 := entry["detection"].(map[string]any); isMap2 {
		store.detectionType, _ = asString(detection["type"])
		store.detectionValue, _ = asString(detection["value"])
	}
	return store, true
}

func (l *LinkReaction) stores() []storeConfig {
	raw := l.settings.StringMap("stores")
	out := make([]storeConfig, 0, len(raw))
	for key, entry := range raw {
		if store, ok := decodeStoreConfig(key, entry); ok {
			out = append(out, store)
		}
	}
	return out
}

// matchesDetection applies a store's detection rule against the
// message's embeds.
func matchesDetection(store storeConfig, m *discordgo.Message) bool {
	value := strings.ToLower(store.detectionValue)
	if value == "" {
		return false
	}
	for _, embed := range m.Embeds {
		if embed == nil {
			continue
		}
		switch store.detectionType {
		case storeDetectionAuthorName:
			if embed.Author != nil &&
				strings.Contains(strings.ToLower(embed.Author.Name), value) {
				return true
			}
		case storeDetectionTitleContains:
			if strings.Contains(strings.ToLower(embed.Title), value) {
				return true
			}
		case storeDetectionURLContains:
			if strings.Contains(strings.ToLower(embed.URL), value) {
				return true
			}
		}
	}
	return false
}

// storeForMessage finds the enabled store whose channels or detection
// rule match the message.
func (l *LinkReaction) storeForMessage(m *discordgo.Message) (storeConfig, bool) {
	if containsString(l.settings.StringSlice("blacklist_channel_ids"), m.ChannelID) {
		return storeConfig{}, false
	}
	inMonitoredCategory := func() bool {
		categoryIDs := l.settings.StringSlice("category_ids")
		if len(categoryIDs) == 0 {
			return false
		}
		channel, err := l.d.discord.session.Channel(m.ChannelID)
		if err != nil {
			return false
		}
		return containsString(categoryIDs, channel.ParentID)
	}

	var categoryMonitored *bool
	for _, store := range l.stores() {
		if !store.enabled {
			continue
		}
		if len(store.channelIDs) > 0 {
			if !containsString(store.channelIDs, m.ChannelID) {
				continue
			}
		} else {
			if categoryMonitored == nil {
				monitored := inMonitoredCategory()
				categoryMonitored = &monitored
			}
			if !*categoryMonitored {
				continue
			}
		}
		if matchesDetection(store, m) {
			return store, true
		}
	}
	return storeConfig{}, false
}

func (l *LinkReaction) HandleMessageCreate(
	ctx context.Context,
	m *discordgo.MessageCreate,
) error {
	if len(m.Embeds) == 0 {
		return nil
	}
	if _, ok := l.storeForMessage(m.Message); !ok {
		return nil
	}

	// let the forward emoji land first when both modules react
	if l.forward != nil && l.forward.Enabled() && l.forward.eligibleMessage(m.Message) {
		time.Sleep(linkReactionDelay)
	}

	if err := l.d.reactionLimiter.Wait(ctx); err != nil {
		return err
	}
	if err := l.d.discord.session.MessageReactionAdd(
		m.ChannelID, m.ID, l.linkEmoji(),
	); err != nil {
		return fmt.Errorf("error adding link reaction: %w", err)
	}
	l.logger.DebugContext(ctx, "added link reaction", messageLogAttrs(m.Message)...)
	return nil
}

func (l *LinkReaction) userWhitelisted(
	guildID string,
	userID string,
	member *discordgo.Member,
) bool {
	allowed := l.settings.StringSlice("whitelist_role_ids")
	if len(allowed) == 0 {
		return false
	}
	if member != nil {
		return anyRoleMatch(allowed, member.Roles)
	}
	fetched, err := l.d.discord.session.GuildMember(guildID, userID)
	if err != nil {
		return false
	}
	return anyRoleMatch(allowed, fetched.Roles)
}

func (l *LinkReaction) HandleReactionAdd(
	ctx context.Context,
	reaction *discordgo.MessageReactionAdd,
) error {
	if reaction.Emoji.Name != l.linkEmoji() {
		return nil
	}
	if reaction.UserID == l.d.discord.botUserID() {
		return nil
	}
	if !l.userWhitelisted(reaction.GuildID, reaction.UserID, reaction.Member) {
		return nil
	}

	message, err := l.d.discord.session.ChannelMessage(
		reaction.ChannelID, reaction.MessageID,
	)
	if err != nil {
		return fmt.Errorf("error fetching message: %w", err)
	}
	if len(message.Embeds) == 0 {
		return nil
	}
	store, ok := l.storeForMessage(message)
	if !ok {
		return nil
	}

	log := l.logger.With("store", store.name, "message_id", message.ID)
	productID := extractProductID(store, message)
	if productID == "" {
		log.WarnContext(ctx, "no product ID found in message")
		return l.sendResult(
			ctx, reaction.ChannelID,
			fmt.Sprintf("❌ No product ID found for %s.", store.name),
		)
	}

	added, appendErr := appendProductID(store.filePath, productID)
	record := ProductIDRecord{
		StoreName: store.name,
		ProductID: productID,
		MessageID: message.ID,
		ChannelID: reaction.ChannelID,
		UserID:    reaction.UserID,
		FilePath:  store.filePath,
		Duplicate: appendErr == nil && !added,
	}

	var result string
	switch {
	case appendErr != nil:
		log.ErrorContext(ctx, "error appending product ID", tint.Err(appendErr))
		result = fmt.Sprintf("❌ Error saving product ID `%s`: %s", productID, appendErr)
	case !added:
		log.InfoContext(ctx, "product ID already tracked", "product_id", productID)
		result = fmt.Sprintf("ℹ️ Product ID `%s` is already tracked for %s.", productID, store.name)
	default:
		log.InfoContext(ctx, "saved product ID", "product_id", productID)
		result = fmt.Sprintf("✅ Added product ID `%s` to %s.", productID, store.name)
	}

	if appendErr == nil {
		if _, dbErr := l.d.writeDB.Create(ctx, &record); dbErr != nil {
			log.ErrorContext(ctx, "error recording product ID", tint.Err(dbErr))
		}
	}
	if sendErr := l.sendResult(ctx, reaction.ChannelID, result); sendErr != nil {
		return sendErr
	}
	return appendErr
}

func (l *LinkReaction) sendResult(
	ctx context.Context,
	channelID string,
	content string,
) error {
	_, err := l.d.discord.session.ChannelMessageSend(channelID, content)
	if err != nil {
		l.logger.ErrorContext(ctx, "error sending result message", tint.Err(err))
	}
	return err
}

// extractProductID pulls the product ID out of a message's embeds. For
// LuisaViaRoma-style embeds the ID is the last URL path segment when it
// contains a hyphen; otherwise a "PID" embed field is used, with any
// code fences stripped.
func extractProductID(store storeConfig, m *discordgo.Message) string {
	for _, embed := range m.Embeds {
		if embed == nil {
			continue
		}
		if embed.URL != "" {
			if pid := productIDFromURL(embed.URL); pid != "" {
				return pid
			}
		}
		for _, field := range embed.Fields {
			if field == nil {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(field.Name), pidEmbedFieldName) {
				if pid := stripCodeFences(field.Value); pid != "" {
					return pid
				}
			}
		}
	}
	return ""
}

// productIDFromURL returns the last path segment of the URL when it
// looks like a product slug (contains a hyphen).
func productIDFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	last := segments[len(segments)-1]
	if strings.Contains(last, "-") {
		return last
	}
	return ""
}

// stripCodeFences removes backtick fencing and whitespace from an embed
// field value.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`")
	return strings.TrimSpace(s)
}

// appendProductID appends the product ID to the store's tracking file,
// creating parent directories on demand. Returns false when the ID was
// already present.
func appendProductID(filePath string, productID string) (bool, error) {
	if filePath == "" {
		return false, fmt.Errorf("store has no file path configured")
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return false, fmt.Errorf("error creating tracking directory: %w", err)
	}

	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return false, fmt.Errorf("error opening tracking file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == productID {
			return false, nil
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return false, fmt.Errorf("error reading tracking file: %w", scanErr)
	}

	if _, err = f.WriteString(productID + "\n"); err != nil {
		return false, fmt.Errorf("error writing tracking file: %w", err)
	}
	return true, nil
}

func (*LinkReaction) Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandLinkReactionConfig,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Configure link reactions and product ID tracking",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Enable the link reaction module",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Disable the link reaction module",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "emoji",
					Description: "Set the link emoji",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "emoji",
							Description: "Emoji added to matching messages",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "store-add",
					Description: "Add or replace a store",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Store name",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "file_path",
							Description: "Tracking file path",
							Required:    true,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "detection_type",
							Description: "How messages for this store are detected",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: storeDetectionAuthorName, Value: storeDetectionAuthorName},
								{Name: storeDetectionTitleContains, Value: storeDetectionTitleContains},
								{Name: storeDetectionURLContains, Value: storeDetectionURLContains},
							},
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "detection_value",
							Description: "Value matched by the detection rule",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "store-remove",
					Description: "Remove a store",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Store name",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "store-channel",
					Description: "Add or remove a channel for a store",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "name",
							Description: "Store name",
							Required:    true,
						},
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
							Description: "Store channel",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "Show the configured stores",
				},
			},
		},
	}
}

func (l *LinkReaction) HandleCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if !l.d.permissions.canConfigure(i, nil) {
		return l.d.respondEphemeral(i, "You don't have permission to use this command.")
	}
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		return fmt.Errorf("missing subcommand")
	}
	sub := options[0]

	switch sub.Name {
	case "enable":
		if err := l.settings.Set("enabled", true, true); err != nil {
			return err
		}
		return l.confirmAndNotify(ctx, i, "Link reaction module enabled.")
	case "disable":
		if err := l.settings.Set("enabled", false, true); err != nil {
			return err
		}
		return l.confirmAndNotify(ctx, i, "Link reaction module disabled.")
	case "emoji":
		emoji := subcommandOptions(sub)["emoji"].StringValue()
		if err := l.settings.Set("link_emoji", emoji, true); err != nil {
			return err
		}
		return l.confirmAndNotify(ctx, i, fmt.Sprintf("Link emoji set to %s.", emoji))
	case "store-add":
		return l.commandStoreAdd(ctx, i, sub)
	case "store-remove":
		return l.commandStoreRemove(ctx, i, sub)
	case "store-channel":
		return l.commandStoreChannel(ctx, i, sub)
	case "list":
		return l.commandList(i)
	default:
		return fmt.Errorf("unknown subcommand: %s", sub.Name)
	}
}

func (l *LinkReaction) commandStoreAdd(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) error {
	opts := subcommandOptions(sub)
	name := opts["name"].StringValue()
	key := strings.ToLower(name)

	var channelIDs []any
	if existing, ok := l.settings.StringMap("stores")[key].(map[string]any); ok {
		channelIDs, _ = existing["channel_ids"].([]any)
	}

	err := l.settings.Set(
		fmt.Sprintf("stores.%s", key),
		map[string]any{
			"enabled":     true,
			"name":        name,
			"file_path":   opts["file_path"].StringValue(),
			"channel_ids": channelIDs,
			"detection": map[string]any{
				"type":  opts["detection_type"].StringValue(),
				"value": opts["detection_value"].StringValue(),
			},
		},
		true,
	)
	if err != nil {
		return err
	}
	return l.confirmAndNotify(ctx, i, fmt.Sprintf("Store `%s` saved.", name))
}

func (l *LinkReaction) commandStoreRemove(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) error {
	name := subcommandOptions(sub)["name"].StringValue()
	key := strings.ToLower(name)
	stores := l.settings.StringMap("stores")
	if _, ok := stores[key]; !ok {
		return l.d.respondEphemeral(i, fmt.Sprintf("No store named `%s`.", name))
	}
	delete(stores, key)
	if err := l.settings.Set("stores", stores, true); err != nil {
		return err
	}
	return l.confirmAndNotify(ctx, i, fmt.Sprintf("Store `%s` removed.", name))
}

func (l *LinkReaction) commandStoreChannel(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) error {
	opts := subcommandOptions(sub)
	name := opts["name"].StringValue()
	key := strings.ToLower(name)
	action := opts["action"].StringValue()
	channelID := opts["channel"].Value.(string)

	stores := l.settings.StringMap("stores")
	entry, ok := stores[key].(map[string]any)
	if !ok {
		return l.d.respondEphemeral(i, fmt.Sprintf("No store named `%s`.", name))
	}
	store, _ := decodeStoreConfig(key, entry)

	current := store.channelIDs
	switch action {
	case "add":
		if containsString(current, channelID) {
			return l.d.respondEphemeral(i, "That channel is already configured for this store.")
		}
		current = append(current, channelID)
	case "remove":
		if !containsString(current, channelID) {
			return l.d.respondEphemeral(i, "That channel is not configured for this store.")
		}
		next := make([]string, 0, len(current)-1)
		for _, existing := range current {
			if existing != channelID {
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
	entry["channel_ids"] = values
	if err := l.settings.Set(fmt.Sprintf("stores.%s", key), entry, true); err != nil {
		return err
	}
	return l.confirmAndNotify(
		ctx, i,
		fmt.Sprintf("Store `%s` channels updated (%d channels).", name, len(current)),
	)
}

func (l *LinkReaction) commandList(i *discordgo.InteractionCreate) error {
	e := notificationEmbed("Link Reaction Configuration", "", embedColorInfo)
	embedField(e, "Enabled", fmt.Sprintf("%t", l.Enabled()), true)
	embedField(e, "Emoji", l.linkEmoji(), true)
	for _, store := range l.stores() {
		embedField(
			e, fmt.Sprintf("Store: %s", store.name),
			fmt.Sprintf(
				"enabled: %t | file: %s | channels: %d | detection: %s=%s",
				store.enabled, store.filePath, len(store.channelIDs),
				store.detectionType, store.detectionValue,
			),
			false,
		)
	}
	return l.d.respondEphemeralEmbed(i, e)
}

func (l *LinkReaction) confirmAndNotify(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	message string,
) error {
	l.d.dbNotifier.SettingsUpdated(ctx, ModuleNameLinkReaction)
	return l.d.respondEphemeral(i, message)
}
