package main

import (
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when neither --config nor MQTTLINK_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// newRootCmd builds the command tree. Commands are constructed per call so
// tests get fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mqttlink",
		Short: "MQTT client daemon with MQTT 5 to 3.1.1 protocol fallback",
		Long: `mqttlink keeps a session with an MQTT broker, preferring MQTT 5 and
falling back to MQTT 3.1.1 when the broker refuses or drops the preferred
protocol. State changes are journaled to SQLite, optionally written to
InfluxDB, and exposed through a read-only HTTP status API.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the error
	}

	root.PersistentFlags().String("config", "", "path to the YAML config file (env MQTTLINK_CONFIG)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newLocatorCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// configPath resolves the config file from the flag, the MQTTLINK_CONFIG
// environment variable, or the default, in that order.
func configPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	if path := os.Getenv("MQTTLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
