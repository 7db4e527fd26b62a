package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	exportFormat string
	clearYes     bool

	playlistsCmd = &cobra.Command{
		Use:   "playlists",
		Short: "List the workspace's playlists",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Shutdown()

			playlists, err := adapter.ListPlaylists(context.Background())
			if err != nil {
				return err
			}
			if len(playlists) == 0 {
				fmt.Println("no playlists")
				return nil
			}
			for _, pl := range playlists {
				fmt.Printf("%-24v %v songs\n", pl["name"], pl["song_count"])
			}
			return nil
		},
	}

	showCmd = &cobra.Command{
		Use:   "show <playlist>",
		Short: "Show a playlist's songs in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Shutdown()

			playlist, err := adapter.GetPlaylist(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%v\n", playlist["name"])
			if songs, ok := playlist["songs"].([]any); ok {
				for i, it := range songs {
					song, _ := it.(map[string]any)
					fmt.Printf("  %2d. %v - %v\n", i+1, song["title"], song["artists"])
				}
			}
			return nil
		},
	}

	exportCmd = &cobra.Command{
		Use:   "export <playlist>",
		Short: "Export a playlist through the provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Shutdown()

			path, err := adapter.ExportPlaylist(context.Background(), args[0], exportFormat)
			if err != nil {
				return err
			}
			fmt.Printf("exported to %s\n", path)
			return nil
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Wipe the workspace's library and playlists",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Shutdown()

			if !clearYes && !confirmPrompt(fmt.Sprintf("clear everything in workspace %s?", adapter.Workspace())) {
				fmt.Println("aborted")
				return nil
			}
			if err := adapter.ClearLibrary(context.Background()); err != nil {
				return err
			}
			fmt.Println("library cleared")
			return nil
		},
	}
)

func confirmPrompt(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "export format passed to the provider")
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "skip the interactive confirmation")
	rootCmd.AddCommand(playlistsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(clearCmd)
}
