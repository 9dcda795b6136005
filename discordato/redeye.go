package discordato

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	ModuleNameRedeye = "redeye"

	DiscordSlashCommandRedeyeConfig   = "redeye-config"
	DiscordSlashCommandRedeyeProfiles = "redeye-profiles"
	DiscordSlashCommandRedeyeTasks    = "redeye-tasks"

	redeyeNameColumn     = "Name"
	redeyeMaxEmbedFields = 20
)

func redeyeDefaults() map[string]any {
	return map[string]any{
		"enabled":                 true,
		"profiles_path":           "",
		"tasks_path":              "",
		"notification_channel_id": "",
		"whitelist_role_ids":      []any{},
	}
}

// Redeye displays profile and task CSV files in Discord. Rows are read
// verbatim and header-mapped; profiles are grouped per owner by the
// Name column prefix (e.g. "alice_1", "alice_2" both belong to alice).
type Redeye struct {
	d        *Discordato
	settings *SettingsManager
	logger   *slog.Logger
}

func NewRedeye(d *Discordato) (*Redeye, error) {
	settings, err := d.settingsRegistry.Manager(ModuleNameRedeye, redeyeDefaults())
	if err != nil {
		return nil, err
	}
	return &Redeye{
		d:        d,
		settings: settings,
		logger:   d.logger.With(loggerNameKey, ModuleNameRedeye),
	}, nil
}

func (*Redeye) Name() string {
	return ModuleNameRedeye
}

func (r *Redeye) Settings() *SettingsManager {
	return r.settings
}

func (r *Redeye) Enabled() bool {
	return r.settings.Bool("enabled", true)
}

// csvRecord is one header-mapped CSV row.
type csvRecord map[string]string

// readCSV reads a CSV file into header-mapped rows. Short rows are
// padded with empty values.
func readCSV(path string) ([]csvRecord, error) {
	if path == "" {
		return nil, fmt.Errorf("no file path configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening csv: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	records := make([]csvRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(csvRecord, len(header))
		for n, column := range header {
			if n < len(row) {
				record[column] = row[n]
			} else {
				record[column] = ""
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// profileGroup is one owner's profiles, ordered by numeric suffix.
type profileGroup struct {
	owner    string
	profiles []csvRecord
}

// profileOwnerAndIndex splits a profile name like "alice_2" into its
// owner prefix and numeric suffix. Names without a numeric suffix get
// index 0.
func profileOwnerAndIndex(name string) (string, int) {
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return name, 0
	}
	n, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return name, 0
	}
	return name[:idx], n
}

// groupProfiles groups header-mapped profile rows by owner and sorts
// each group by the numeric suffix of the Name column.
func groupProfiles(records []csvRecord) []profileGroup {
	type indexed struct {
		record csvRecord
		index  int
	}
	byOwner := map[string][]indexed{}
	var owners []string
	for _, record := range records {
		owner, index := profileOwnerAndIndex(record[redeyeNameColumn])
		if _, seen := byOwner[owner]; !seen {
			owners = append(owners, owner)
		}
		byOwner[owner] = append(byOwner[owner], indexed{record: record, index: index})
	}
	sort.Strings(owners)

	groups := make([]profileGroup, 0, len(owners))
	for _, owner := range owners {
		entries := byOwner[owner]
		sort.SliceStable(
			entries, func(a, b int) bool {
				return entries[a].index < entries[b].index
			},
		)
		group := profileGroup{owner: owner}
		for _, entry := range entries {
			group.profiles = append(group.profiles, entry.record)
		}
		groups = append(groups, group)
	}
	return groups
}

func (r *Redeye) whitelisted(i *discordgo.InteractionCreate) bool {
	return r.d.permissions.allowedByWhitelist(
		i, r.settings.StringSlice("whitelist_role_ids"),
	)
}

func (*Redeye) Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        DiscordSlashCommandRedeyeProfiles,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Show configured redeye profiles",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Show only profiles for this owner",
				},
			},
		},
		{
			Name:        DiscordSlashCommandRedeyeTasks,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Show configured redeye tasks",
		},
		{
			Name:        DiscordSlashCommandRedeyeConfig,
			Type:        discordgo.ChatApplicationCommand,
			Description: "Configure the redeye module",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Enable the redeye module",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Disable the redeye module",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "paths",
					Description: "Set the profile and task CSV paths",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "profiles_path",
							Description: "Path to the profiles CSV",
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "tasks_path",
							Description: "Path to the tasks CSV",
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
							Description: "Role allowed to view profiles and tasks",
							Required:    true,
						},
					},
				},
			},
		},
	}
}

func (r *Redeye) HandleCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	switch i.ApplicationCommandData().Name {
	case DiscordSlashCommandRedeyeProfiles:
		return r.commandProfiles(i)
	case DiscordSlashCommandRedeyeTasks:
		return r.commandTasks(i)
	case DiscordSlashCommandRedeyeConfig:
		return r.commandConfig(ctx, i)
	default:
		return fmt.Errorf("unknown command")
	}
}

func (r *Redeye) commandProfiles(i *discordgo.InteractionCreate) error {
	if !r.whitelisted(i) {
		return r.d.respondEphemeral(i, "You don't have permission to view profiles.")
	}

	records, err := readCSV(r.settings.String("profiles_path", ""))
	if err != nil {
		return r.d.respondEphemeral(
			i, fmt.Sprintf("Couldn't read the profiles file: %s", err),
		)
	}

	var nameFilter string
	if opt, ok := discordInteractionOptions(i)["name"]; ok {
		nameFilter = strings.ToLower(opt.StringValue())
	}

	e := notificationEmbed("Redeye Profiles", "", embedColorInfo)
	shown := 0
	for _, group := range groupProfiles(records) {
		if nameFilter != "" && !strings.Contains(strings.ToLower(group.owner), nameFilter) {
			continue
		}
		if shown >= redeyeMaxEmbedFields {
			embedField(e, "…", "More profiles not shown.", false)
			break
		}
		names := make([]string, 0, len(group.profiles))
		for _, profile := range group.profiles {
			names = append(names, profile[redeyeNameColumn])
		}
		embedField(
			e, group.owner,
			fmt.Sprintf("%d profiles: %s", len(names), strings.Join(names, ", ")),
			false,
		)
		shown++
	}
	if shown == 0 {
		e.Description = "No matching profiles found."
	}
	return r.d.respondEphemeralEmbed(i, e)
}

func (r *Redeye) commandTasks(i *discordgo.InteractionCreate) error {
	if !r.whitelisted(i) {
		return r.d.respondEphemeral(i, "You don't have permission to view tasks.")
	}

	records, err := readCSV(r.settings.String("tasks_path", ""))
	if err != nil {
		return r.d.respondEphemeral(
			i, fmt.Sprintf("Couldn't read the tasks file: %s", err),
		)
	}

	e := notificationEmbed(
		"Redeye Tasks",
		fmt.Sprintf("%d tasks configured", len(records)),
		embedColorInfo,
	)
	for n, record := range records {
		if n >= redeyeMaxEmbedFields {
			embedField(e, "…", "More tasks not shown.", false)
			break
		}
		parts := make([]string, 0, len(record))
		keys := make([]string, 0, len(record))
		for key := range record {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if record[key] != "" {
				parts = append(parts, fmt.Sprintf("%s: %s", key, record[key]))
			}
		}
		embedField(
			e, fmt.Sprintf("Task %d", n+1),
			strings.Join(parts, " | "),
			false,
		)
	}
	return r.d.respondEphemeralEmbed(i, e)
}

func (r *Redeye) commandConfig(
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
		return r.confirmAndNotify(ctx, i, "Redeye module enabled.")
	case "disable":
		if err := r.settings.Set("enabled", false, true); err != nil {
			return err
		}
		return r.confirmAndNotify(ctx, i, "Redeye module disabled.")
	case "paths":
		opts := subcommandOptions(sub)
		updated := 0
		if opt, ok := opts["profiles_path"]; ok {
			if err := r.settings.Set("profiles_path", opt.StringValue(), true); err != nil {
				return err
			}
			updated++
		}
		if opt, ok := opts["tasks_path"]; ok {
			if err := r.settings.Set("tasks_path", opt.StringValue(), true); err != nil {
				return err
			}
			updated++
		}
		if updated == 0 {
			return r.d.respondEphemeral(i, "Provide at least one path to update.")
		}
		return r.confirmAndNotify(ctx, i, fmt.Sprintf("Updated %d paths.", updated))
	case "whitelist":
		opts := subcommandOptions(sub)
		action := opts["action"].StringValue()
		roleID := opts["role"].Value.(string)
		current := r.settings.StringSlice("whitelist_role_ids")

		switch action {
		case "add":
			if containsString(current, roleID) {
				return r.d.respondEphemeral(i, "That role is already whitelisted.")
			}
			current = append(current, roleID)
		case "remove":
			if !containsString(current, roleID) {
				return r.d.respondEphemeral(i, "That role is not on the whitelist.")
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
		if err := r.settings.Set("whitelist_role_ids", values, true); err != nil {
			return err
		}
		return r.confirmAndNotify(
			ctx, i,
			fmt.Sprintf("Whitelist updated (%d roles).", len(current)),
		)
	default:
		return fmt.Errorf("unknown subcommand: %s", sub.Name)
	}
}

func (r *Redeye) confirmAndNotify(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	message string,
) error {
	r.d.dbNotifier.SettingsUpdated(ctx, ModuleNameRedeye)
	return r.d.respondEphemeral(i, message)
}
