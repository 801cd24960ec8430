package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "orders_service",
	Short: "Order approval workflow service for farm procurement",
	Long: `A service that moves farm purchase orders through the approval
workflow, from request through manager approval, supplier quotes,
payment and delivery, and exposes an API for the order data.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize()
}
