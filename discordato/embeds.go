package discordato

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Embed colors for notifications, keyed loosely by urgency.
const (
	embedColorInfo    = 0x3498db
	embedColorSuccess = 0x2ecc71
	embedColorWarning = 0xf39c12
	embedColorDanger  = 0xe74c3c
)

// severityColor maps a keyword filter severity to an embed color.
// Unknown severities fall back to the info color.
func severityColor(severity string) int {
	switch severity {
	case "low":
		return embedColorInfo
	case "medium":
		return embedColorWarning
	case "high":
		return embedColorDanger
	default:
		return embedColorInfo
	}
}

// jumpLinkButton returns an action row containing a single link button
// pointing at the given message.
func jumpLinkButton(label, guildID, channelID, messageID string) discordgo.ActionsRow {
	return discordgo.ActionsRow{
		Components: []discordgo.MessageComponent{
			discordgo.Button{
				Label: label,
				Style: discordgo.LinkButton,
				URL:   messageJumpURL(guildID, channelID, messageID),
			},
		},
	}
}

// embedAuthorForUser builds an embed author block from a discord user,
// tolerating nil.
func embedAuthorForUser(u *discordgo.User) *discordgo.MessageEmbedAuthor {
	if u == nil {
		return nil
	}
	return &discordgo.MessageEmbedAuthor{
		Name:    u.Username,
		IconURL: u.AvatarURL(""),
	}
}

// notificationEmbed is the shared embed shape for the monitoring
// modules: a title, an optional description, fields appended by the
// caller, and a footer timestamp.
func notificationEmbed(title, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// embedField appends a field, truncating the value to discord's
// per-field limit.
func embedField(e *discordgo.MessageEmbed, name, value string, inline bool) {
	if value == "" {
		value = "-"
	}
	e.Fields = append(
		e.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  excerpt(value, discordMaxEmbedFieldLength-3),
			Inline: inline,
		},
	)
}

// channelMention formats a channel ID as a mention.
func channelMention(channelID string) string {
	return fmt.Sprintf("<#%s>", channelID)
}

// userMention formats a user ID as a mention.
func userMention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// roleMention formats a role ID as a mention.
func roleMention(roleID string) string {
	return fmt.Sprintf("<@&%s>", roleID)
}
