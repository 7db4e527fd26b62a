/*
Package cmd implements the command-line interface of the setlist console
host. It wires the configured transport, the RPC client, and the tool
adapter together and exposes the setlist operations as subcommands.
*/
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/setlist-architect/mcp-console-host/pkg/config"
	"github.com/setlist-architect/mcp-console-host/pkg/mcp"
	"github.com/setlist-architect/mcp-console-host/pkg/transport"
	"github.com/setlist-architect/mcp-console-host/pkg/wirelog"
)

// ExitNeedsConfirmation is the process exit code for an add that
// stopped at candidate confirmation.
const ExitNeedsConfirmation = 10

var (
	settings *config.Settings

	flagTransport string
	flagServerCmd string
	flagServerURL string
	flagWorkspace string
	flagTimeout   time.Duration
	flagRetries   int
	flagLogFile   string
	flagDebug     bool

	rootCmd = &cobra.Command{
		Use:   "setlist-host",
		Short: "Console host for the setlist tool provider",
		Long:  longRoot,
	}
)

/*
Execute runs the root command. A confirmation stop is not a failure in
the usual sense, so it maps to its own exit code after printing the
candidate list.
*/
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initSettings)

	rootCmd.PersistentFlags().StringVar(
		&flagTransport, "transport", "", "transport to use: stdio or sse",
	)
	rootCmd.PersistentFlags().StringVar(
		&flagServerCmd, "server-cmd", "", "command line that launches the tool provider",
	)
	rootCmd.PersistentFlags().StringVar(
		&flagServerURL, "url", "", "SSE endpoint of a remote tool provider",
	)
	rootCmd.PersistentFlags().StringVarP(
		&flagWorkspace, "workspace", "w", "", "workspace id (default derives from the current user)",
	)
	rootCmd.PersistentFlags().DurationVar(
		&flagTimeout, "timeout", 0, "per-request timeout",
	)
	rootCmd.PersistentFlags().IntVar(
		&flagRetries, "retries", -1, "max transport-level retries per call",
	)
	rootCmd.PersistentFlags().StringVar(
		&flagLogFile, "log-file", "", "wire log destination (JSONL)",
	)
	rootCmd.PersistentFlags().BoolVar(
		&flagDebug, "debug", false, "verbose logging",
	)
}

func initSettings() {
	var err error
	if settings, err = config.Load(); err != nil {
		log.Fatal("configuration error", "error", err)
	}

	if flagTransport != "" {
		settings.Transport = flagTransport
	}
	if flagServerCmd != "" {
		settings.ServerCommand = config.SplitCommand(flagServerCmd)
	}
	if flagServerURL != "" {
		settings.ServerURL = flagServerURL
		settings.Transport = config.TransportSSE
	}
	if flagWorkspace != "" {
		settings.Workspace = flagWorkspace
	}
	if flagTimeout > 0 {
		settings.RequestTimeout = flagTimeout
	}
	if flagRetries >= 0 {
		settings.MaxRetries = flagRetries
	}
	if flagLogFile != "" {
		settings.LogFile = flagLogFile
	}
	if flagDebug {
		settings.Debug = true
	}

	if settings.Debug {
		log.SetLevel(log.DebugLevel)
	}
}

/*
newAdapter assembles the transport, client, and adapter from the
resolved settings. The caller owns the returned adapter and must call
Shutdown when done.
*/
func newAdapter() (*mcp.Adapter, error) {
	recorder, err := wirelog.Open(settings.LogFile)
	if err != nil {
		log.Warn("wire log unavailable", "path", settings.LogFile, "error", err)
	}

	var trans transport.Transport
	switch settings.Transport {
	case config.TransportSSE:
		trans = transport.NewSSE(transport.SSEConfig{
			URL:            settings.ServerURL,
			StartupTimeout: settings.StartupTimeout,
			Recorder:       recorder,
		})
	case config.TransportStdio, "":
		if len(settings.ServerCommand) == 0 {
			return nil, fmt.Errorf("no server command configured; set MCP_SERVER_CMD")
		}
		trans = transport.NewStdio(transport.StdioConfig{
			Command:        settings.ServerCommand,
			StartupTimeout: settings.StartupTimeout,
			Recorder:       recorder,
			Debug:          settings.Debug,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", settings.Transport)
	}

	client := mcp.NewClient(trans, mcp.ClientConfig{
		RequestTimeout: settings.RequestTimeout,
		MaxRetries:     settings.MaxRetries,
		Recorder:       recorder,
		Debug:          settings.Debug,
	})

	return mcp.NewAdapter(client, settings.Workspace, mcp.WithValidation()), nil
}

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#7D56F4")).
	PaddingLeft(1)

// printBanner writes the session header unless suppressed via
// MCP_BANNER=0.
func printBanner() {
	if os.Getenv("MCP_BANNER") == "0" {
		return
	}
	fmt.Fprintln(os.Stderr, bannerStyle.Render("setlist-host"))
	fmt.Fprintf(os.Stderr, "  workspace: %s\n  transport: %s\n", settings.Workspace, settings.Transport)
}

var longRoot = `
setlist-host is a console host for a setlist tool provider. It speaks
JSON-RPC 2.0 to the provider over a subprocess stdio pipe or a remote
SSE stream, and exposes the provider's song and playlist tools as
subcommands, a REPL, and an assistant chat.
`
