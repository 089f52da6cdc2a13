package main

import (
	"fmt"

	"github.com/aussiebroadwan/tokend/internal/tokend/app"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the token HTTP service",
		Long:  "Run the token HTTP service. Configuration is read from the environment.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.LoadConfig()
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			application, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return application.Run()
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "HTTP port. Overrides PORT.")
	return cmd
}
