// Package main provides the shadowctl CLI.
//
// Usage:
//
//	shadowctl [flags] <command>
//
// Commands:
//
//	get     - Fetch the shadow document
//	update  - Report device state to the shadow
//	delete  - Delete the shadow document
//	watch   - Print desired-state deltas as they arrive
//
// Connection settings come from a YAML config file (-c) or flags; flags win.
package main

import (
	"fmt"
	"os"

	"github.com/tempbottle/iot-edge-sdk-go/cmd/shadowctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
