package cmd

import (
	"log"

	"github.com/lmaotrigine/Ayaka/ayaka"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Migrates the schema, then starts the Ayaka bot and status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := ayaka.New(cfg)
		if err != nil {
			log.Fatalf("error creating ayaka: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running ayaka: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
