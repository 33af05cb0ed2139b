package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tempbottle/iot-edge-sdk-go/shadow"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch the shadow document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		return withClient(cmd.Context(), cfg, func(client *shadow.Client) error {
			return await(cmd.Context(), func(cb shadow.ActionCallback) error {
				return client.Get(cmd.Context(), cb, time.Duration(cfg.Timeout))
			})
		})
	},
}
