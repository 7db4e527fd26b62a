package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	hosterr "github.com/setlist-architect/mcp-console-host/pkg/errors"
	"github.com/setlist-architect/mcp-console-host/pkg/mcp"
)

var (
	addArtists        []string
	addConfirm        bool
	addCandidateIndex int
	addCandidateID    string

	addCmd = &cobra.Command{
		Use:   "add <title>",
		Short: "Add a song to the library",
		Long:  longAdd,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Shutdown()
			printBanner()

			title := strings.Join(args, " ")
			opts := addSongOptions()

			outcome, err := adapter.AddSong(context.Background(), title, addArtists, opts)

			var confirm *hosterr.ConfirmationError
			if errors.As(err, &confirm) {
				printCandidates(confirm)
				adapter.Shutdown()
				os.Exit(ExitNeedsConfirmation)
			}
			if err != nil {
				return err
			}

			printAdded(outcome, title)
			return nil
		},
	}
)

var (
	confirmIndex   int
	confirmArtists []string

	confirmCmd = &cobra.Command{
		Use:   "confirm <title>",
		Short: "Settle a pending add by candidate position",
		Long:  longConfirm,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := newAdapter()
			if err != nil {
				return err
			}
			defer adapter.Shutdown()
			printBanner()

			title := strings.Join(args, " ")
			idx := confirmIndex
			outcome, err := adapter.AddSong(context.Background(), title, confirmArtists, mcp.AddSongOptions{
				CandidateIndex: &idx,
			})
			if err != nil {
				return err
			}
			printAdded(outcome, title)
			return nil
		},
	}
)

func printAdded(outcome *mcp.AddSongOutcome, title string) {
	if song := outcome.Song; song != nil {
		fmt.Printf("added: %v - %v\n", song["title"], song["artists"])
		return
	}
	fmt.Printf("added: %s\n", title)
}

func addSongOptions() (opts mcp.AddSongOptions) {
	opts.Confirm = addConfirm
	opts.CandidateID = addCandidateID
	if addCandidateIndex >= 0 {
		idx := addCandidateIndex
		opts.CandidateIndex = &idx
	}
	return opts
}

func printCandidates(confirm *hosterr.ConfirmationError) {
	fmt.Println(confirm.Message)
	for i, candidate := range mcp.ParseCandidates(confirm.Candidates) {
		fmt.Printf("  [%d] %s - %s", i, candidate.Title, candidate.Artists)
		if candidate.DurationSec != nil {
			fmt.Printf(" (%.0fs)", *candidate.DurationSec)
		}
		if candidate.ID != "" {
			fmt.Printf("  id=%s", candidate.ID)
		}
		fmt.Println()
	}
	fmt.Println("re-run with --candidate-index or --candidate-id to choose")
}

func init() {
	addCmd.Flags().StringSliceVarP(&addArtists, "artist", "a", nil, "artist name (repeatable)")
	addCmd.Flags().BoolVar(&addConfirm, "confirm", false, "accept the provider's top candidate without a confirmation round")
	addCmd.Flags().IntVar(&addCandidateIndex, "candidate-index", -1, "pick a candidate from a previous confirmation round by position")
	addCmd.Flags().StringVar(&addCandidateID, "candidate-id", "", "pick a candidate from a previous confirmation round by id")
	rootCmd.AddCommand(addCmd)

	confirmCmd.Flags().IntVarP(&confirmIndex, "index", "i", 0, "candidate position from the confirmation round")
	confirmCmd.Flags().StringSliceVarP(&confirmArtists, "artist", "a", nil, "artist name (repeatable)")
	rootCmd.AddCommand(confirmCmd)
}

var longConfirm = `
Shortcut for settling a confirmation round: re-resolves the song with
the same title (and artists) and picks the candidate at the given
position, exactly as "add --candidate-index" would.
`

var longAdd = `
Resolves a song by title (and optionally artists) through the provider
and stores it in the workspace library. When the provider returns
several plausible matches the candidates are printed and the process
exits with code 10; re-run with --candidate-index or --candidate-id to
settle the choice, or pass --confirm to accept the top match upfront.
`
