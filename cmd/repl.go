package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	hosterr "github.com/setlist-architect/mcp-console-host/pkg/errors"
	"github.com/setlist-architect/mcp-console-host/pkg/mcp"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive console against the provider",
	Long:  longRepl,
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := newAdapter()
		if err != nil {
			return err
		}
		defer adapter.Shutdown()
		printBanner()

		repl := &replSession{adapter: adapter}
		return repl.run()
	},
}

/*
replSession holds the one piece of cross-line state the console needs: a
pending confirmation, so a bare number on the next line picks the
candidate.
*/
type replSession struct {
	adapter      *mcp.Adapter
	pendingTitle string
	pending      *hosterr.ConfirmationError
}

func (r *replSession) run() error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			return nil
		}
		if line != "" {
			r.dispatch(line)
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func (r *replSession) dispatch(line string) {
	ctx := context.Background()

	if r.pending != nil {
		if idx, err := strconv.Atoi(line); err == nil {
			r.settle(ctx, idx)
			return
		}
		r.pending = nil
	}

	parts := strings.SplitN(line, " ", 2)
	command := parts[0]
	rest := ""
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}

	switch command {
	case "help":
		fmt.Println("commands: tools, add <title>, playlists, show <name>, export <name> [format], clear, quit")
	case "tools":
		discovery := r.adapter.ToolsOrFallback(ctx, 0)
		for _, tool := range discovery.Tools {
			fmt.Printf("  %-18s %s\n", tool.Name, tool.Description)
		}
	case "add":
		r.add(ctx, rest)
	case "playlists":
		playlists, err := r.adapter.ListPlaylists(ctx)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		for _, pl := range playlists {
			fmt.Printf("  %-24v %v songs\n", pl["name"], pl["song_count"])
		}
	case "show":
		playlist, err := r.adapter.GetPlaylist(ctx, rest)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if songs, ok := playlist["songs"].([]any); ok {
			for i, it := range songs {
				song, _ := it.(map[string]any)
				fmt.Printf("  %2d. %v - %v\n", i+1, song["title"], song["artists"])
			}
		}
	case "export":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			fmt.Println("usage: export <name> [format]")
			return
		}
		format := ""
		if len(fields) > 1 {
			format = fields[1]
		}
		path, err := r.adapter.ExportPlaylist(ctx, fields[0], format)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("exported to", path)
	case "clear":
		if err := r.adapter.ClearLibrary(ctx); err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("library cleared")
	default:
		fmt.Printf("unknown command %q (try help)\n", command)
	}
}

func (r *replSession) add(ctx context.Context, title string) {
	if title == "" {
		fmt.Println("usage: add <title>")
		return
	}
	outcome, err := r.adapter.AddSong(ctx, title, nil, mcp.AddSongOptions{})

	var confirm *hosterr.ConfirmationError
	if errors.As(err, &confirm) {
		r.pendingTitle = title
		r.pending = confirm
		printCandidates(confirm)
		fmt.Println("type a number to pick a candidate")
		return
	}
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if song := outcome.Song; song != nil {
		fmt.Printf("added: %v - %v\n", song["title"], song["artists"])
	}
}

func (r *replSession) settle(ctx context.Context, idx int) {
	pending := r.pending
	r.pending = nil
	if idx < 0 || idx >= len(pending.Candidates) {
		fmt.Println("no such candidate")
		return
	}
	outcome, err := r.adapter.AddSong(ctx, r.pendingTitle, nil, mcp.AddSongOptions{
		CandidateIndex: &idx,
	})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if song := outcome.Song; song != nil {
		fmt.Printf("added: %v - %v\n", song["title"], song["artists"])
	}
}

func init() {
	rootCmd.AddCommand(replCmd)
}

var longRepl = `
A line-oriented console against the tool provider. When an add stops at
candidate confirmation the console remembers the round; typing a bare
number on the next line picks that candidate.
`
