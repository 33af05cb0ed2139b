package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/tempbottle/iot-edge-sdk-go/iso"
	"github.com/tempbottle/iot-edge-sdk-go/shadow"
)

// config mirrors the YAML config file. Durations are ISO 8601 (e.g. "PT30S").
type config struct {
	Broker    string       `yaml:"broker"`
	Device    string       `yaml:"device"`
	Username  string       `yaml:"username"`
	Password  string       `yaml:"password"`
	Timeout   iso.Duration `yaml:"timeout"`
	KeepAlive iso.Duration `yaml:"keepAlive"`
}

var (
	flagConfig   string
	flagBroker   string
	flagDevice   string
	flagUsername string
	flagPassword string
	flagTimeout  time.Duration
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "shadowctl",
	Short: "Interact with device shadows over MQTT",
	Long: `Interact with device shadows over MQTT.

A shadow is a server-persisted JSON document holding the last reported state
of a device and an optional desired target. shadowctl connects to the broker
as the device and fetches, updates, or deletes the document, or watches the
delta stream.

Example config file:

  broker: mqtt://localhost:1883
  device: pump-0017
  username: pump-0017
  password: hunter2
  timeout: PT10S`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "YAML config file")
	pf.StringVar(&flagBroker, "broker", "", "broker URL (e.g. mqtt://host:1883)")
	pf.StringVar(&flagDevice, "device", "", "device name")
	pf.StringVar(&flagUsername, "username", "", "MQTT username")
	pf.StringVar(&flagPassword, "password", "", "MQTT password")
	pf.DurationVar(&flagTimeout, "timeout", 0, "per-request timeout")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log client activity to stderr")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(watchCmd)
}

func loadConfig() (*config, error) {
	cfg := &config{Timeout: iso.Duration(shadow.DefaultTimeout)}

	if flagConfig != "" {
		data, err := os.ReadFile(flagConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if flagBroker != "" {
		cfg.Broker = flagBroker
	}
	if flagDevice != "" {
		cfg.Device = flagDevice
	}
	if flagUsername != "" {
		cfg.Username = flagUsername
	}
	if flagPassword != "" {
		cfg.Password = flagPassword
	}
	if flagTimeout > 0 {
		cfg.Timeout = iso.Duration(flagTimeout)
	}

	if cfg.Broker == "" {
		return nil, fmt.Errorf("broker is required (--broker or config file)")
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("device is required (--device or config file)")
	}
	return cfg, nil
}

// withClient connects a shadow client for the configured device, runs fn, and
// tears everything down again.
func withClient(
	ctx context.Context,
	cfg *config,
	fn func(*shadow.Client) error,
) error {
	var opts []shadow.ClientOption
	var initOpts []shadow.InitOption
	if flagVerbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		opts = append(opts, shadow.WithLogger(logger))
		initOpts = append(initOpts, shadow.WithLogger(logger))
	}
	if cfg.KeepAlive > 0 {
		opts = append(opts, shadow.WithKeepAlive(cfg.KeepAlive))
	}

	shadow.Init(initOpts...)
	defer shadow.Fini()

	client, err := shadow.NewClient(
		cfg.Broker,
		cfg.Device,
		cfg.Username,
		cfg.Password,
		opts...,
	)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}
	if err := awaitReady(ctx, client); err != nil {
		return err
	}
	return fn(client)
}

// awaitReady waits for the post-connect subscription to complete, which is
// when the client starts accepting sends.
func awaitReady(ctx context.Context, client *shadow.Client) error {
	deadline := time.Now().Add(10 * time.Second)
	for !client.IsConnected() {
		if time.Now().After(deadline) {
			if err := client.LastError(); err != nil {
				return err
			}
			return fmt.Errorf("timed out waiting for subscriptions")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

// await sends one request and blocks until its acknowledgement arrives. An
// accepted document, if any, is printed to stdout.
func await(
	ctx context.Context,
	send func(shadow.ActionCallback) error,
) error {
	done := make(chan error, 1)
	callback := func(_ shadow.Action, status shadow.AckStatus, ack *shadow.Ack) {
		switch status {
		case shadow.AckAccepted:
			if ack != nil && len(ack.Document) > 0 {
				fmt.Println(string(ack.Document))
			}
			done <- nil
		case shadow.AckRejected:
			done <- fmt.Errorf("rejected: %s: %s", ack.Code, ack.Message)
		default:
			done <- fmt.Errorf("timed out waiting for a reply")
		}
	}

	if err := send(callback); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
