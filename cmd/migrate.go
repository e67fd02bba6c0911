package cmd

import (
	"fmt"
	"log"

	"github.com/lmaotrigine/Ayaka/ayaka"
	"github.com/spf13/cobra"
)

var migrateCheck bool

var migrateCmd = &cobra.Command{
	Use:   "migrate [flags]",
	Short: "Applies pending schema migrations and exits",
	Long: `Applies every pending schema migration in ascending version order,
stopping at the first failure. Exits zero on success (or when the schema
is already up to date), non-zero on failure - already-applied versions
stay committed, and re-running after a fix resumes from the failed
version.`,
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := ayaka.New(cfg)
		if err != nil {
			log.Fatalf("error creating ayaka: %s", err.Error())
		}

		if migrateCheck {
			pending, pendingErr := bot.PendingMigrations(ctx)
			if pendingErr != nil {
				log.Fatalf("error computing pending migrations: %s", pendingErr.Error())
			}
			if len(pending) == 0 {
				fmt.Println("schema is up to date")
				return
			}
			for _, script := range pending {
				fmt.Printf("pending: V%d (%s)\n", script.Version, script.Description)
			}
			return
		}

		report, err := bot.Migrate(ctx)
		if err != nil {
			if report != nil && len(report.Applied) > 0 {
				fmt.Printf("applied before failure: %v\n", report.Applied)
			}
			log.Fatalf("migration failed: %s", err.Error())
		}
		if len(report.Applied) == 0 {
			fmt.Println("schema is up to date")
			return
		}
		fmt.Printf("applied: %v\n", report.Applied)
	},
}

//nolint:gochecknoinits
func init() {
	migrateCmd.Flags().BoolVar(
		&migrateCheck,
		"check",
		false,
		"List pending migrations without applying them",
	)
	rootCmd.AddCommand(migrateCmd)
}
