package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tempbottle/iot-edge-sdk-go/shadow"
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the shadow document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		return withClient(cmd.Context(), cfg, func(client *shadow.Client) error {
			return await(cmd.Context(), func(cb shadow.ActionCallback) error {
				return client.Delete(cmd.Context(), cb, time.Duration(cfg.Timeout))
			})
		})
	},
}
