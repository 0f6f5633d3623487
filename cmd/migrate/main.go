// Command migrate manages the embedded schema migrations.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/ariefcatur/agrimanager-orders/internal/config"
	"github.com/ariefcatur/agrimanager-orders/internal/postgres"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	var dsn string
	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "manage marketplace database migrations",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", config.Load().PostgresDSN, "postgres connection string")

	for _, c := range []struct{ name, short string }{
		{"up", "apply all pending migrations"},
		{"down", "roll back the latest migration"},
		{"status", "print applied and pending migrations"},
		{"reset", "roll back every migration"},
	} {
		rootCmd.AddCommand(migrateCommand(c.name, c.short, &dsn))
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrateCommand(name, short string, dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			db, err := postgres.Connect(ctx, *dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(ctx, db, name); err != nil {
				log.Error("migrate failed", "command", name, "error", err)
				return err
			}
			log.Info("migrate done", "command", name)
			return nil
		},
	}
}
