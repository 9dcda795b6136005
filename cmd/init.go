package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/giveme11us/discordato/discordato"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set admin credentials",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable DISCORDATO_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable DISCORDATO_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}

		db, err := discordato.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		var runtimeConfig discordato.RuntimeConfig
		switch getErr := db.Last(&runtimeConfig).Error; {
		case errors.Is(getErr, gorm.ErrRecordNotFound):
			runtimeConfig = discordato.DefaultRuntimeConfig()
			if err = db.Create(&runtimeConfig).Error; err != nil {
				log.Fatalf("Error creating runtime config: %v", err)
			}
		case getErr != nil:
			log.Fatalf("Error retrieving runtime config: %s", getErr.Error())
		}

		if runtimeConfig.AdminUsername != "" && runtimeConfig.AdminPassword != "" {
			fmt.Fprintln(out, "Admin credentials are already set.")
		} else {
			fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")
			username, password := promptAdminCredentials(out)

			hashedPassword, hashErr := discordato.HashPassword(password)
			if hashErr != nil {
				log.Fatalf("Error hashing password: %v", hashErr)
			}
			if err = db.Model(&runtimeConfig).Updates(
				map[string]any{
					"admin_username": username,
					"admin_password": hashedPassword,
				},
			).Error; err != nil {
				log.Fatalf("Error updating admin credentials: %v", err)
			}
			fmt.Fprintln(out, "Admin credentials set successfully.")
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

// promptAdminCredentials reads a username from stdin and a password
// (with confirmation) from the terminal without echo.
func promptAdminCredentials(out io.Writer) (username, password string) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Fprint(out, "Enter admin username: ")
	username, _ = reader.ReadString('\n')
	username = strings.TrimSpace(username)

	readPassword := customPasswordReader
	if readPassword == nil {
		readPassword = func() ([]byte, error) {
			return term.ReadPassword(int(syscall.Stdin))
		}
	}
	for {
		fmt.Fprint(out, "Enter admin password: ")
		passwordBytes, _ := readPassword()
		password = string(passwordBytes)
		fmt.Fprintln(out)

		fmt.Fprint(out, "Confirm admin password: ")
		confirmBytes, _ := readPassword()
		fmt.Fprintln(out)

		if password == string(confirmBytes) {
			return username, password
		}
		fmt.Fprintln(out, "Passwords do not match. Please try again.")
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
}
