package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/setlist-architect/mcp-console-host/pkg/provider"
)

var (
	chatModel string

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Converse with an assistant that drives the setlist tools",
		Long:  longChat,
		RunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv("ANTHROPIC_API_KEY") == "" {
				return fmt.Errorf("ANTHROPIC_API_KEY is not set")
			}

			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Shutdown()
			printBanner()

			assistant := provider.NewAnthropicProvider(adapter, provider.WithModel(chatModel))

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("you> ")
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "quit" || line == "exit" {
					return nil
				}
				if line != "" {
					reply, err := assistant.Send(context.Background(), line)
					if err != nil {
						fmt.Fprintln(os.Stderr, "error:", err)
					} else {
						fmt.Println(reply)
					}
				}
				fmt.Print("you> ")
			}
			return scanner.Err()
		},
	}
)

func init() {
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Anthropic model to use")
	rootCmd.AddCommand(chatCmd)
}

var longChat = `
An interactive chat whose assistant can call the provider's setlist
tools. Tool calls the assistant makes run through the same adapter as
the plain subcommands, workspace injection included. Requires
ANTHROPIC_API_KEY.
`
