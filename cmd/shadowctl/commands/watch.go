package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tempbottle/iot-edge-sdk-go/iso"
	"github.com/tempbottle/iot-edge-sdk-go/shadow"
)

var (
	watchKey   string
	watchUntil string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print desired-state deltas as they arrive",
	Long: `Print desired-state deltas as they arrive.

By default the whole desired document is printed for every delta. With --key
only the value of that property is printed, and deltas not touching it are
skipped. Runs until interrupted, or until the --until ISO 8601 date-time.

Example:
  shadowctl watch --key led --until 2026-08-24T18:00:00Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(
			cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if watchUntil != "" {
			var until iso.DateTime
			if err := until.UnmarshalText([]byte(watchUntil)); err != nil {
				return fmt.Errorf("invalid --until: %w", err)
			}
			if !time.Time(until).After(time.Now()) {
				return fmt.Errorf("--until %s is in the past", until)
			}
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, time.Time(until))
			defer cancel()
		}

		key := watchKey
		if key == "" {
			key = shadow.RootKey
		}

		return withClient(ctx, cfg, func(client *shadow.Client) error {
			err := client.RegisterDelta(key,
				func(key string, desired json.RawMessage) *shadow.UserError {
					fmt.Printf("%s\t%s\n", key, desired)
					return nil
				})
			if err != nil {
				return err
			}

			// Interrupt and deadline are both normal exits.
			<-ctx.Done()
			return nil
		})
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchKey, "key", "",
		"only watch this desired property")
	watchCmd.Flags().StringVar(&watchUntil, "until", "",
		"stop at this ISO 8601 date-time")
}
