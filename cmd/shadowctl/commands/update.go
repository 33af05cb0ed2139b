package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/tempbottle/iot-edge-sdk-go/shadow"
)

var updateFile string

var updateCmd = &cobra.Command{
	Use:   "update [document]",
	Short: "Report device state to the shadow",
	Long: `Report device state to the shadow.

The reported document is given inline as JSON or read from a YAML or JSON
file with -f.

Example:
  shadowctl update '{"led":"on","fan":3}'
  shadowctl update -f reported.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		reported, err := loadDocument(args)
		if err != nil {
			return err
		}

		return withClient(cmd.Context(), cfg, func(client *shadow.Client) error {
			return await(cmd.Context(), func(cb shadow.ActionCallback) error {
				return client.Update(
					cmd.Context(), reported, cb, time.Duration(cfg.Timeout))
			})
		})
	},
}

func init() {
	updateCmd.Flags().StringVarP(&updateFile, "file", "f", "",
		"YAML or JSON file holding the reported document")
}

func loadDocument(args []string) (json.RawMessage, error) {
	if updateFile == "" && len(args) == 0 {
		return nil, fmt.Errorf("a document is required, inline or via -f")
	}
	if updateFile != "" && len(args) > 0 {
		return nil, fmt.Errorf("give the document either inline or via -f, not both")
	}

	if len(args) > 0 {
		doc := []byte(args[0])
		if !json.Valid(doc) {
			return nil, fmt.Errorf("inline document is not valid JSON")
		}
		return doc, nil
	}

	data, err := os.ReadFile(updateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", updateFile, err)
	}

	ext := strings.ToLower(filepath.Ext(updateFile))
	if ext == ".yaml" || ext == ".yml" {
		doc, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		return doc, nil
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("file %s is not valid JSON", updateFile)
	}
	return data, nil
}
