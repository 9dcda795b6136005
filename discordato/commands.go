package discordato

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	DiscordSlashCommandPing  = "ping"
	DiscordSlashCommandPurge = "purge"

	purgeCountOption   = "count"
	purgeCountMax      = 100
	purgeCountDefault  = 10
	interactionTimeout = 60 * time.Second
)

// InteractionLog records each application command interaction received
// from the gateway, along with the full interaction payload.
type InteractionLog struct {
	ModelUintID
	ModelUnixTime
	InteractionID string `json:"interaction_id" gorm:"index"`
	Type          string `json:"type"`
	CommandName   string `json:"command_name" gorm:"index"`
	UserID        string `json:"user_id" gorm:"index"`
	Username      string `json:"username"`
	ChannelID     string `json:"channel_id"`
	GuildID       string `json:"guild_id"`
	Handled       bool   `json:"handled"`
	Error         string `json:"error"`
	Payload       string `json:"payload"`
}

func NewInteractionLog(i *discordgo.InteractionCreate) InteractionLog {
	rec := InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		ChannelID:     i.ChannelID,
		GuildID:       i.GuildID,
	}
	if i.Type == discordgo.InteractionApplicationCommand {
		rec.CommandName = i.ApplicationCommandData().Name
	}
	if u := getDiscordUser(i); u != nil {
		rec.UserID = u.ID
		rec.Username = u.Username
	}
	data, err := json.Marshal(i.Interaction)
	if err != nil {
		slog.Default().Error("failed to marshal interaction", tint.Err(err))
	}
	rec.Payload = string(data)
	return rec
}

func appCommandPing() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandPing,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Check that the bot is alive",
	}
}

func appCommandPurge() *discordgo.ApplicationCommand {
	minCount := float64(1)
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandPurge,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Delete recent messages from this channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        purgeCountOption,
				Description: "How many messages to delete",
				MinValue:    &minCount,
				MaxValue:    purgeCountMax,
			},
		},
	}
}

// handlerInteractionCreate returns the gateway handler that routes
// application command interactions: core commands are handled inline,
// everything else goes to the module that registered the command.
func (d *Discordato) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
		defer cancel()

		logger := d.logger.With(loggerNameKey, "interactions")
		ctx = WithLogger(ctx, logger)

		rec := NewInteractionLog(i)
		commandName := i.ApplicationCommandData().Name
		logger.InfoContext(
			ctx,
			"received interaction",
			append(interactionLogAttrs(*i), "command", commandName)...,
		)

		handleErr := d.handleCommand(ctx, i, commandName)
		rec.Handled = handleErr == nil
		if handleErr != nil {
			rec.Error = handleErr.Error()
			logger.ErrorContext(
				ctx,
				"error handling command",
				tint.Err(handleErr),
				"command", commandName,
			)
			d.respondCommandError(ctx, i)
		}

		if _, err := d.writeDB.Create(ctx, &rec); err != nil {
			logger.ErrorContext(ctx, "error logging interaction", tint.Err(err))
		}
	}
}

func (d *Discordato) handleCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	commandName string,
) error {
	if d.RuntimeConfig().Paused {
		return d.respondEphemeral(i, "I'm paused right now, try again later!")
	}

	switch commandName {
	case DiscordSlashCommandPing:
		return d.commandPing(i)
	case DiscordSlashCommandPurge:
		return d.commandPurge(ctx, i)
	}

	handler, ok := d.modules.CommandHandlerFor(commandName)
	if !ok {
		return fmt.Errorf("unknown command: %s", commandName)
	}
	if !handler.Enabled() {
		return d.respondEphemeral(
			i,
			fmt.Sprintf("The %s module is currently disabled.", handler.Name()),
		)
	}
	return handler.HandleCommand(ctx, i)
}

func (d *Discordato) commandPing(i *discordgo.InteractionCreate) error {
	return d.respondEphemeral(i, "Pong!")
}

// commandPurge bulk-deletes the most recent messages in the channel the
// command was used in. Moderator-only.
func (d *Discordato) commandPurge(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if !d.permissions.isModerator(i) {
		return d.respondEphemeral(i, "You don't have permission to use this command.")
	}

	count := int64(purgeCountDefault)
	if opt, ok := discordInteractionOptions(i)[purgeCountOption]; ok {
		count = opt.IntValue()
	}
	if count < 1 || count > purgeCountMax {
		return d.respondEphemeral(
			i,
			fmt.Sprintf("Count must be between 1 and %d.", purgeCountMax),
		)
	}

	if err := d.discord.session.InteractionRespond(
		i.Interaction, d.discord.ackResponse(),
	); err != nil {
		return err
	}

	messages, err := d.discord.session.ChannelMessages(
		i.ChannelID, int(count), "", "", "",
	)
	if err != nil {
		return fmt.Errorf("error fetching messages: %w", err)
	}

	messageIDs := make([]string, 0, len(messages))
	for _, m := range messages {
		messageIDs = append(messageIDs, m.ID)
	}
	if len(messageIDs) > 0 {
		if err = d.discord.session.ChannelMessagesBulkDelete(
			i.ChannelID, messageIDs,
		); err != nil {
			return fmt.Errorf("error deleting messages: %w", err)
		}
	}

	content := fmt.Sprintf("Deleted %d messages.", len(messageIDs))
	_, err = d.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &content},
	)
	if err == nil {
		log, _ := ContextLogger(ctx)
		if log != nil {
			log.InfoContext(
				ctx,
				"purged messages",
				"channel_id", i.ChannelID,
				"count", len(messageIDs),
			)
		}
	}
	return err
}

// respondEphemeral sends an immediate ephemeral text response to the
// interaction.
func (d *Discordato) respondEphemeral(
	i *discordgo.InteractionCreate,
	content string,
) error {
	return d.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: truncate(content, discordMaxMessageLength),
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

// respondEphemeralEmbed sends an immediate ephemeral embed response.
func (d *Discordato) respondEphemeralEmbed(
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
) error {
	return d.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

// respondCommandError sends the configured generic error message. If a
// response was already sent (e.g. a deferred ack), edits it instead.
func (d *Discordato) respondCommandError(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	log, ok := ContextLogger(ctx)
	if !ok || log == nil {
		log = d.logger
	}
	errorMessage := d.RuntimeConfig().DiscordErrorMessage
	if errorMessage == "" {
		errorMessage = DefaultDiscordErrorMessage
	}
	err := d.respondEphemeral(i, errorMessage)
	if err == nil {
		return
	}
	if _, editErr := d.discord.session.InteractionResponseEdit(
		i.Interaction,
		&discordgo.WebhookEdit{Content: &errorMessage},
	); editErr != nil {
		log.ErrorContext(
			ctx,
			"unable to send error response",
			tint.Err(editErr),
		)
	}
}
