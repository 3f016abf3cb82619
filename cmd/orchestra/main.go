package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/deadmanoz/orchestra/internal/config"
	"github.com/deadmanoz/orchestra/internal/db"
	"github.com/deadmanoz/orchestra/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "orchestra",
	Short: "Multi-agent plan-review workflow runtime",
	Long: `Orchestra runs human-in-the-loop planning workflows: a planner agent
drafts a plan, reviewer agents critique it in parallel, and a human steers
between stages through checkpoints. Workflows are durable and survive
restarts.`,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logging.Initialize(cfg.Debug)

		database, err := db.New(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.Migrate(); err != nil {
			return err
		}

		fmt.Println("migrations applied")
		return nil
	},
}

func main() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
