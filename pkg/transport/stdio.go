package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	hosterr "github.com/setlist-architect/mcp-console-host/pkg/errors"
	"github.com/setlist-architect/mcp-console-host/pkg/wirelog"
)

const stderrTailLines = 200

/*
StdioConfig describes how to launch a local tool-provider process.
*/
type StdioConfig struct {
	// Command is the argv launching the provider.
	Command []string

	// Dir is the working directory (inherited when empty).
	Dir string

	// Env holds override variables merged over the current environment.
	// Search-path variables (PATH and friends) are prepended to the
	// inherited value rather than replacing it.
	Env map[string]string

	// StartupTimeout bounds how long Start waits for the process to
	// come up before declaring it dead on arrival.
	StartupTimeout time.Duration

	// Debug persists the provider's stderr into the wire log. The
	// stream is drained either way so the child never blocks on a full
	// pipe buffer.
	Debug bool

	// Recorder captures wire traffic; nil disables capture.
	Recorder *wirelog.Recorder
}

/*
Stdio runs a tool provider as a child process and frames newline-
delimited JSON over its stdin/stdout, draining stderr into a bounded
tail buffer for the crash path.
*/
type Stdio struct {
	cfg StdioConfig

	mu      sync.Mutex
	writeMu sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	msgCh   chan json.RawMessage
	done    chan struct{}
	exitErr error
	tail    *tailBuffer
	started bool
}

func NewStdio(cfg StdioConfig) *Stdio {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 8 * time.Second
	}
	return &Stdio{cfg: cfg}
}

func (t *Stdio) Kind() string { return KindStdio }

/*
Start spawns the provider process and begins draining its streams. It
fails with a TransportError carrying the stderr tail when the process
exits inside the startup window.
*/
func (t *Stdio) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}
	if len(t.cfg.Command) == 0 {
		return &hosterr.TransportError{Op: "start", Err: fmt.Errorf("no provider command configured")}
	}

	cmd := exec.Command(t.cfg.Command[0], t.cfg.Command[1:]...)
	cmd.Dir = t.cfg.Dir
	cmd.Env = mergeEnv(os.Environ(), t.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return t.startupError(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return t.startupError(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return t.startupError(err)
	}

	t.cfg.Recorder.Record(wirelog.KindSpawn, map[string]any{"cmd": t.cfg.Command, "dir": t.cfg.Dir})
	log.Debug("spawning provider", "cmd", strings.Join(t.cfg.Command, " "), "dir", t.cfg.Dir)

	if err := cmd.Start(); err != nil {
		return t.startupError(err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.msgCh = make(chan json.RawMessage, 64)
	t.done = make(chan struct{})
	t.tail = newTailBuffer(stderrTailLines)
	t.started = true

	stdoutDone := make(chan struct{})
	stderrDone := make(chan struct{})
	go t.drainStdout(stdout, stdoutDone)
	go t.drainStderr(stderr, stderrDone)
	go func() {
		<-stdoutDone
		<-stderrDone
		// exitErr is written before done closes; readers observe it
		// only after <-done, so no lock is needed.
		t.exitErr = cmd.Wait()
		close(t.done)
	}()

	// The process may die instantly (bad interpreter, missing script).
	// Give it the startup window to prove it can stay up.
	deadline := time.After(t.cfg.StartupTimeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			t.stopLocked()
			return ctx.Err()
		case <-t.done:
			err := t.fatalLocked("start", t.exitErr)
			t.resetLocked()
			return err
		case <-tick.C:
			// Survived at least one poll; the real verification is the
			// first request.
			return nil
		case <-deadline:
			return nil
		}
	}
}

/*
Send writes one framed message. The process's liveness is checked first
so a dead provider surfaces as a descriptive fatal error instead of a
bare timeout: "process died" and "process hung" require different
operator responses.
*/
func (t *Stdio) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return &hosterr.TransportError{Op: "send", Err: fmt.Errorf("transport not started")}
	}
	stdin := t.stdin
	done := t.done
	t.mu.Unlock()

	select {
	case <-done:
		t.mu.Lock()
		err := t.fatalLocked("send", t.exitErr)
		t.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		t.mu.Lock()
		werr := t.fatalLocked("send", err)
		t.mu.Unlock()
		return werr
	}
	return nil
}

func (t *Stdio) Messages() <-chan json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.msgCh
}

/*
Stop tears the process down: stdin closes first to give the provider a
chance to exit cleanly, then it is killed after a short grace period.
Idempotent.
*/
func (t *Stdio) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.resetLocked()
	return nil
}

func (t *Stdio) stopLocked() {
	if !t.started {
		return
	}
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	select {
	case <-t.done:
	case <-time.After(1500 * time.Millisecond):
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		<-t.done
	}
}

func (t *Stdio) resetLocked() {
	t.cmd = nil
	t.stdin = nil
	t.started = false
}

// StderrTail returns the captured tail of the provider's stderr.
func (t *Stdio) StderrTail() []string {
	t.mu.Lock()
	tail := t.tail
	t.mu.Unlock()
	if tail == nil {
		return nil
	}
	return tail.Tail()
}

func (t *Stdio) drainStdout(stdout io.Reader, done chan<- struct{}) {
	defer close(done)
	msgCh := t.msgCh
	defer close(msgCh)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			log.Debug("skipping unparsable provider output", "line", line)
			t.cfg.Recorder.Record(wirelog.KindStdoutNoise, map[string]any{"line": line})
			continue
		}
		msgCh <- json.RawMessage(line)
	}
	if err := scanner.Err(); err != nil {
		log.Debug("provider stdout closed", "error", err)
	}
}

func (t *Stdio) drainStderr(stderr io.Reader, done chan<- struct{}) {
	defer close(done)
	tail := t.tail
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.Add(line)
		if t.cfg.Debug {
			t.cfg.Recorder.Record(wirelog.KindStderr, map[string]any{"line": line})
		}
	}
}

func (t *Stdio) startupError(err error) error {
	return &hosterr.TransportError{
		Op:      "start",
		Command: strings.Join(t.cfg.Command, " "),
		Dir:     t.cfg.Dir,
		Err:     err,
	}
}

func (t *Stdio) fatalLocked(op string, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("provider process exited")
	}
	var tail []string
	if t.tail != nil {
		tail = t.tail.Tail()
	}
	return &hosterr.TransportError{
		Op:         op,
		Command:    strings.Join(t.cfg.Command, " "),
		Dir:        t.cfg.Dir,
		StderrTail: tail,
		Err:        cause,
	}
}

/*
mergeEnv overlays overrides on the inherited environment. For search-path
variables both sides may legitimately contribute, so the override is
prepended with the platform list separator instead of clobbering the
inherited value.
*/
func mergeEnv(inherited []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return inherited
	}
	out := make([]string, 0, len(inherited)+len(overrides))
	seen := make(map[string]bool, len(overrides))

	for _, kv := range inherited {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			out = append(out, kv)
			continue
		}
		override, has := overrides[key]
		if !has {
			out = append(out, kv)
			continue
		}
		seen[key] = true
		if isSearchPathVar(key) && val != "" {
			out = append(out, key+"="+override+string(os.PathListSeparator)+val)
		} else {
			out = append(out, key+"="+override)
		}
	}
	for key, val := range overrides {
		if !seen[key] {
			out = append(out, key+"="+val)
		}
	}
	return out
}

func isSearchPathVar(key string) bool {
	switch strings.ToUpper(key) {
	case "PATH", "PYTHONPATH", "LD_LIBRARY_PATH", "NODE_PATH":
		return true
	}
	return false
}
