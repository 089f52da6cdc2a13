package main

import (
	"github.com/aussiebroadwan/tokend/internal/tokend/app"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "tokend",
	Short:        "Token lifecycle service",
	Long:         "Issues, validates and revokes access and refresh tokens backed by a shared cache.",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the tokend version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", app.BuildVersion)
		},
	})
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
}
