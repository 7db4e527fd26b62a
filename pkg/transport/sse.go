package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	hosterr "github.com/setlist-architect/mcp-console-host/pkg/errors"
	"github.com/setlist-architect/mcp-console-host/pkg/wirelog"
)

/*
event is one parsed server-sent event: blocks of lines separated by a
blank line, comment lines (leading colon) ignored, multiple data lines
joined with a newline.
*/
type event struct {
	Type string
	Data string
}

/*
SSEConfig describes the remote stream endpoint.
*/
type SSEConfig struct {
	// URL is the GET endpoint producing the text/event-stream body.
	URL string

	// Headers are added to both the stream GET and every message POST.
	Headers map[string]string

	// StartupTimeout bounds how long Start waits for a session id to
	// appear on the stream.
	StartupTimeout time.Duration

	// Client is the HTTP client for POSTs; a default is used when nil.
	// The stream GET always uses an untimed client since it never ends.
	Client *http.Client

	// Recorder captures wire traffic; nil disables capture.
	Recorder *wirelog.Recorder
}

/*
SSE talks to a remote tool provider over a long-lived event stream.
Inbound responses arrive on the stream; outbound requests travel as
independent POSTs to a message endpoint keyed by the session id the
server announced when the stream opened. A POST acknowledges submission
only; the actual response arrives later on the stream.
*/
type SSE struct {
	cfg SSEConfig

	mu        sync.Mutex
	body      io.ReadCloser
	cancel    context.CancelFunc
	msgCh     chan json.RawMessage
	postURL   string
	connected chan struct{}
	announced bool
	started   bool
	stopped   bool
}

func NewSSE(cfg SSEConfig) *SSE {
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 8 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &SSE{cfg: cfg}
}

func (t *SSE) Kind() string { return KindSSE }

/*
Start opens the stream and blocks until the server announces a session
id, the startup timeout elapses, or the stream dies. A stream that opens
but never yields a session id is a fatal connection error: without the
id no outbound send can be addressed.
*/
func (t *SSE) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		cancel()
		t.mu.Unlock()
		return &hosterr.TransportError{Op: "start", Command: t.cfg.URL, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	// No client timeout here: the stream is expected to stay open for
	// the lifetime of the connection.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		cancel()
		t.mu.Unlock()
		return &hosterr.TransportError{Op: "start", Command: t.cfg.URL, Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		cancel()
		t.mu.Unlock()
		return &hosterr.TransportError{
			Op:      "start",
			Command: t.cfg.URL,
			Err:     fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	t.body = resp.Body
	t.cancel = cancel
	t.msgCh = make(chan json.RawMessage, 64)
	t.connected = make(chan struct{})
	t.postURL = ""
	t.announced = false
	t.started = true
	t.stopped = false
	connected := t.connected
	t.mu.Unlock()

	go t.readLoop(resp.Body)

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		_ = t.Stop()
		return ctx.Err()
	case <-time.After(t.cfg.StartupTimeout):
		_ = t.Stop()
		return &hosterr.TransportError{
			Op:      "start",
			Command: t.cfg.URL,
			Err:     fmt.Errorf("stream opened but no session id arrived within %s", t.cfg.StartupTimeout),
		}
	}
}

/*
Send POSTs one request to the message endpoint. An HTTP error fails the
pending call immediately rather than letting it ride out the timeout.
*/
func (t *SSE) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	postURL := t.postURL
	started := t.started
	t.mu.Unlock()

	if !started {
		return &hosterr.TransportError{Op: "send", Command: t.cfg.URL, Err: fmt.Errorf("transport not started")}
	}
	if postURL == "" {
		return &hosterr.TransportError{Op: "send", Command: t.cfg.URL, Err: fmt.Errorf("no session id negotiated")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return &hosterr.TransportError{Op: "send", Command: postURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &hosterr.TransportError{
			Op:      "send",
			Command: postURL,
			Err:     fmt.Errorf("message endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	// 2xx confirms submission only; the response arrives on the stream.
	return nil
}

func (t *SSE) Messages() <-chan json.RawMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.msgCh
}

// Stop closes the stream. The session id dies with it; a restarted
// stream always negotiates a fresh one.
func (t *SSE) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.stopped {
		return nil
	}
	t.stopped = true
	t.started = false
	t.postURL = ""
	if t.cancel != nil {
		t.cancel()
	}
	if t.body != nil {
		_ = t.body.Close()
		t.body = nil
	}
	return nil
}

/*
readLoop parses the wire format incrementally and hands each complete
event to handleEvent. It ends when the stream closes; a single malformed
payload only skips that event.
*/
func (t *SSE) readLoop(body io.Reader) {
	t.mu.Lock()
	msgCh := t.msgCh
	t.mu.Unlock()
	defer close(msgCh)

	reader := bufio.NewReader(body)
	var (
		eventType string
		data      strings.Builder
		inEvent   bool
	)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				log.Debug("event stream closed", "error", err)
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if inEvent {
				t.handleEvent(&event{Type: eventType, Data: data.String()}, msgCh)
				eventType = ""
				data.Reset()
				inEvent = false
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			// Comment / keep-alive line.
			continue
		}
		inEvent = true
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteString("\n")
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

var sessionPattern = regexp.MustCompile(`[?&]session_?[iI]d=([^&\s]+)`)

/*
handleEvent classifies one event. Session announcements release whatever
is waiting on "connected"; response payloads are routed to the message
channel, unwrapped from their envelope when necessary.
*/
func (t *SSE) handleEvent(ev *event, msgCh chan<- json.RawMessage) {
	switch ev.Type {
	case "endpoint":
		// Data is a message-endpoint path or URL carrying the session
		// id, e.g. "/messages?sessionId=abc123".
		t.setEndpoint(strings.TrimSpace(ev.Data))
		return
	case "connect", "session":
		var payload struct {
			SessionID  string `json:"sessionId"`
			SessionID2 string `json:"session_id"`
			Endpoint   string `json:"endpoint"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
			log.Debug("unparsable connect event", "data", ev.Data)
			return
		}
		switch {
		case payload.Endpoint != "":
			t.setEndpoint(payload.Endpoint)
		case payload.SessionID != "":
			t.setEndpoint("/messages?sessionId=" + url.QueryEscape(payload.SessionID))
		case payload.SessionID2 != "":
			t.setEndpoint("/messages?session_id=" + url.QueryEscape(payload.SessionID2))
		}
		return
	}

	raw := strings.TrimSpace(ev.Data)
	if raw == "" {
		return
	}
	if !json.Valid([]byte(raw)) {
		log.Debug("skipping unparsable stream payload", "data", raw)
		t.cfg.Recorder.Record(wirelog.KindStdoutNoise, map[string]any{"line": raw})
		return
	}

	// Direct JSON-RPC object, or a response wrapped in an envelope.
	var probe struct {
		JSONRPC  string          `json:"jsonrpc"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err == nil {
		if probe.JSONRPC == "" && len(probe.Response) > 0 {
			msgCh <- probe.Response
			return
		}
	}
	msgCh <- json.RawMessage(raw)
}

/*
setEndpoint resolves the message endpoint against the stream URL,
validates that it actually names a session, and releases Start's wait on
first success.
*/
func (t *SSE) setEndpoint(endpoint string) {
	if endpoint == "" {
		return
	}
	if !sessionPattern.MatchString(endpoint) {
		log.Debug("endpoint announcement without session id", "endpoint", endpoint)
		return
	}
	base, err := url.Parse(t.cfg.URL)
	if err != nil {
		return
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		log.Debug("unparsable endpoint announcement", "endpoint", endpoint)
		return
	}
	resolved := base.ResolveReference(ref).String()

	t.mu.Lock()
	first := !t.announced
	t.announced = true
	t.postURL = resolved
	connected := t.connected
	t.mu.Unlock()

	if first {
		log.Debug("session negotiated", "endpoint", resolved)
		close(connected)
	}
}

// SessionEndpoint exposes the negotiated message endpoint, mainly for
// diagnostics and tests.
func (t *SSE) SessionEndpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.postURL
}
