package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dokzlo13/installd/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconcile daemon until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		log.Info().Str("config", configPath).Str("version", version).Msg("Starting installd")

		ctx := app.SignalContext()
		application, err := app.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		return application.Run(ctx)
	},
}
