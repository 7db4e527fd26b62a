package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	toolsJSON bool

	toolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "List the provider's tools",
		Long:  longTools,
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Shutdown()

			discovery := adapter.ToolsOrFallback(context.Background(), 0)

			if toolsJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(discovery.Tools)
			}

			if discovery.FromFallback {
				fmt.Fprintln(os.Stderr, "provider unreachable; showing bundled descriptors")
			}
			for _, tool := range discovery.Tools {
				fmt.Printf("%-18s %s\n", tool.Name, tool.Description)
			}
			return nil
		},
	}

	schemaCmd = &cobra.Command{
		Use:   "schema <tool>",
		Short: "Print one tool's input schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Shutdown()

			discovery := adapter.ToolsOrFallback(context.Background(), 0)
			for _, tool := range discovery.Tools {
				if tool.Name == args[0] {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(tool.InputSchema)
				}
			}
			return fmt.Errorf("unknown tool %q", args[0])
		},
	}
)

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "emit the full descriptors as JSON")
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(schemaCmd)
}

var longTools = `
Lists the tools the provider advertises via tools/list. When the
provider cannot be reached the bundled descriptor set is shown instead,
with a note on stderr.
`
