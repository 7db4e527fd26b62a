/*
Package config resolves the host's settings from the environment, an
optional .env file and viper. Every knob mirrors an MCP_* variable:

	MCP_SERVER_CMD        full command line launching the stdio provider
	MCP_SERVER_BIN        interpreter/binary, combined with MCP_SERVER_PATH
	MCP_SERVER_PATH       provider entrypoint, combined with MCP_SERVER_BIN
	MCP_SERVER_URL        URL of a remote SSE provider
	MCP_SERVER_TRANSPORT  "stdio" or "sse"; defaults to sse iff a URL is set
	MCP_WORKSPACE         default workspace/session id
	MCP_REQ_TIMEOUT_SEC   per-request timeout (default 30)
	MCP_STARTUP_TIMEOUT   transport startup timeout in seconds (default 8)
	MCP_MAX_RETRIES       stdio transport retry budget (default 0)
	MCP_LOG_FILE          JSONL wire log path (default logs/mcp_host.jsonl)
	MCP_DEBUG             1/0, also persists provider stderr into the log
*/
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

/*
Settings is the fully resolved host configuration. Construct it with
Load; zero values are not meaningful.
*/
type Settings struct {
	ServerCommand  []string
	ServerURL      string
	Transport      string
	Workspace      string
	RequestTimeout time.Duration
	StartupTimeout time.Duration
	MaxRetries     int
	LogFile        string
	Debug          bool
}

/*
Load reads .env (best effort), binds the MCP_* environment into viper and
resolves the settings. It never fails on missing optional values; an
unlaunchable server command only surfaces when the transport starts.
*/
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug("no .env loaded", "error", err)
	}

	v := viper.GetViper()
	v.SetEnvPrefix("MCP")
	v.AutomaticEnv()

	v.SetDefault("req_timeout_sec", 30)
	v.SetDefault("startup_timeout", 8)
	v.SetDefault("max_retries", 0)
	v.SetDefault("log_file", filepath.Join("logs", "mcp_host.jsonl"))
	v.SetDefault("debug", false)

	serverURL := strings.TrimSpace(v.GetString("server_url"))

	transport := strings.ToLower(strings.TrimSpace(v.GetString("server_transport")))
	if transport == "" {
		if serverURL != "" {
			transport = TransportSSE
		} else {
			transport = TransportStdio
		}
	}
	if transport != TransportStdio && transport != TransportSSE {
		return nil, fmt.Errorf("unsupported MCP_SERVER_TRANSPORT %q", transport)
	}
	if transport == TransportSSE && serverURL == "" {
		return nil, fmt.Errorf("MCP_SERVER_TRANSPORT=sse requires MCP_SERVER_URL")
	}

	workspace := strings.TrimSpace(v.GetString("workspace"))
	if workspace == "" {
		workspace = DefaultWorkspace()
	}

	settings := &Settings{
		ServerCommand:  resolveServerCommand(v),
		ServerURL:      serverURL,
		Transport:      transport,
		Workspace:      workspace,
		RequestTimeout: time.Duration(v.GetFloat64("req_timeout_sec") * float64(time.Second)),
		StartupTimeout: time.Duration(v.GetFloat64("startup_timeout") * float64(time.Second)),
		MaxRetries:     v.GetInt("max_retries"),
		LogFile:        v.GetString("log_file"),
		Debug:          v.GetBool("debug"),
	}

	if dir := filepath.Dir(settings.LogFile); dir != "" && dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}

	return settings, nil
}

/*
resolveServerCommand picks the stdio provider command line.

Priority:
 1. MCP_SERVER_CMD (full command line)
 2. MCP_SERVER_BIN + MCP_SERVER_PATH
 3. heuristic: a sibling setlist-architect-mcp/server.py next to the cwd
*/
func resolveServerCommand(v *viper.Viper) []string {
	if cmd := strings.TrimSpace(v.GetString("server_cmd")); cmd != "" {
		return SplitCommand(cmd)
	}

	bin := strings.TrimSpace(v.GetString("server_bin"))
	path := strings.TrimSpace(v.GetString("server_path"))
	if bin != "" && path != "" {
		return []string{bin, path}
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	guess := filepath.Join(cwd, "..", "setlist-architect-mcp", "server.py")
	if _, err := os.Stat(guess); err == nil {
		return []string{pythonBinary(), guess}
	}
	local := filepath.Join(cwd, "server.py")
	if _, err := os.Stat(local); err == nil {
		return []string{pythonBinary(), local}
	}

	// Clearly invalid on purpose so the failure is explicit at spawn time.
	return []string{"python", "server.py"}
}

func pythonBinary() string {
	if py := os.Getenv("PYTHON"); py != "" {
		return py
	}
	return "python3"
}

/*
SplitCommand splits a command line into argv, honoring single and double
quotes so paths with spaces survive.
*/
func SplitCommand(cmdline string) []string {
	var (
		out     []string
		current strings.Builder
		quote   rune
		inArg   bool
	)
	for _, r := range cmdline {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				out = append(out, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteRune(r)
			inArg = true
		}
	}
	if inArg {
		out = append(out, current.String())
	}
	return out
}

var slugPattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)

/*
Slug reduces a string to a filesystem- and id-safe token, capped at 64
characters.
*/
func Slug(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Join(strings.Fields(s), "-")
	s = slugPattern.ReplaceAllString(s, "_")
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		return "default"
	}
	return s
}

/*
DefaultWorkspace derives the workspace id from the current user and the
repository directory name: user-<user>-<repo>.
*/
func DefaultWorkspace() string {
	name := "host"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	repo := "host"
	if cwd, err := os.Getwd(); err == nil {
		repo = filepath.Base(cwd)
	}
	return fmt.Sprintf("user-%s-%s", Slug(name), Slug(repo))
}
