package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the provider answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := newAdapter()
		if err != nil {
			return err
		}
		defer adapter.Shutdown()

		start := time.Now()
		if err := adapter.Client().Ping(context.Background()); err != nil {
			return err
		}
		fmt.Printf("pong in %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
