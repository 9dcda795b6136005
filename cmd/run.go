package cmd

import (
	"log"

	"github.com/giveme11us/discordato/discordato"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the Discordato bot and admin API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := discordato.New(cfg)
			if err != nil {
				log.Fatalf("error creating discordato: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running discordato: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
