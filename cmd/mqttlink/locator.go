package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/mqttlink/internal/locator"
)

func newLocatorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "locator <uri>",
		Short: "Parse a broker locator and print its parts",
		Long: `Parse a broker locator such as mqtts://broker:8883 or wss://host/mqtt,
print the transport parameters it resolves to, and the canonical form the
client would rebuild from them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parts, err := locator.Parse(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				data, err := json.MarshalIndent(map[string]any{
					"scheme":    parts.Scheme.String(),
					"host":      parts.Host,
					"port":      parts.Port,
					"path":      parts.Path,
					"secure":    parts.Scheme.Secure(),
					"websocket": parts.Scheme.WebSocket(),
					"canonical": locator.Build(parts),
				}, "", "  ")
				if err != nil {
					return fmt.Errorf("encoding locator: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			fmt.Fprintf(out, "scheme:    %s\n", parts.Scheme)
			fmt.Fprintf(out, "host:      %s\n", parts.Host)
			fmt.Fprintf(out, "port:      %d\n", parts.Port)
			fmt.Fprintf(out, "path:      %s\n", parts.Path)
			fmt.Fprintf(out, "secure:    %t\n", parts.Scheme.Secure())
			fmt.Fprintf(out, "websocket: %t\n", parts.Scheme.WebSocket())
			fmt.Fprintf(out, "canonical: %s\n", locator.Build(parts))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the result as JSON")
	return cmd
}
