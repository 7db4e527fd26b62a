package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	hosterr "github.com/setlist-architect/mcp-console-host/pkg/errors"
	"github.com/setlist-architect/mcp-console-host/pkg/jsonrpc"
	"github.com/setlist-architect/mcp-console-host/pkg/transport"
	"github.com/setlist-architect/mcp-console-host/pkg/wirelog"
)

/*
ClientConfig tunes the request/response behavior of a Client.
*/
type ClientConfig struct {
	// RequestTimeout bounds how long Call waits for each response.
	RequestTimeout time.Duration

	// MaxRetries is the reconnect-and-retry budget for transient stdio
	// transport failures. A call makes at most MaxRetries+1 send
	// attempts. SSE failures are never retried here: a new stream means
	// a new session id, which silently changes call semantics.
	MaxRetries int

	// RetryBackoff is the pause between attempts.
	RetryBackoff time.Duration

	// Recorder captures wire traffic; nil disables capture.
	Recorder *wirelog.Recorder

	// Debug makes orphan traffic observable.
	Debug bool
}

/*
Client is the public request/response API over a Transport. It assigns
monotonic correlation ids, registers a wait slot per outstanding request
before sending, and blocks each caller until the dispatcher delivers the
matching response or the timeout elapses. Calls may be issued
concurrently from any number of goroutines; completions are ordered only
by id match, never by send order.
*/
type Client struct {
	cfg   ClientConfig
	trans transport.Transport

	mu          sync.Mutex
	nextID      int64
	running     bool
	initialized bool
	ready       chan struct{}
	disp        *dispatcher
}

func NewClient(trans transport.Transport, cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Client{cfg: cfg, trans: trans}
}

/*
Start brings the transport up and, for stdio, performs the initialize
handshake. Call does this lazily; Start exists for callers that want
startup failures early.
*/
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureRunningLocked(ctx)
}

/*
Stop tears the transport down. In-flight calls fail with a transport
error; the client may be restarted by the next Call.
*/
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teardownLocked()
}

/*
Call issues one request and blocks until its response, a timeout, or a
terminal transport failure. Transient stdio failures restart the
transport and retry the whole call, up to the configured budget.
*/
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (*jsonrpc.Response, error) {
	attempts := 1
	if c.trans.Kind() == transport.KindStdio {
		attempts = c.cfg.MaxRetries + 1
	}

	var res *jsonrpc.Response
	err := hosterr.RetryWithBackoff(
		&hosterr.RetryConfig{
			MaxAttempts:   attempts,
			InitialDelay:  c.cfg.RetryBackoff,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
		},
		c.retryable,
		func() error {
			var callErr error
			res, callErr = c.callOnce(ctx, method, params)
			if callErr != nil && c.retryable(callErr) {
				// Clean restart before the next attempt.
				_ = c.Stop()
			}
			return callErr
		},
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

/*
retryable reports whether an error is worth a reconnect-and-retry:
transport-level failures on the local subprocess only. Provider errors
are never transient, timeouts are surfaced to the caller, and SSE
failures propagate immediately.
*/
func (c *Client) retryable(err error) bool {
	if c.trans.Kind() != transport.KindStdio {
		return false
	}
	var terr *hosterr.TransportError
	return errors.As(err, &terr)
}

func (c *Client) callOnce(ctx context.Context, method string, params map[string]any) (*jsonrpc.Response, error) {
	c.mu.Lock()
	if err := c.ensureRunningLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	disp := c.disp
	c.mu.Unlock()

	return c.send(ctx, disp, method, params)
}

/*
send runs one request through the wire: allocate an id, register the
wait slot, transmit, await. The lock covers only id allocation and slot
bookkeeping, never the blocking wait.
*/
func (c *Client) send(ctx context.Context, disp *dispatcher, method string, params map[string]any) (*jsonrpc.Response, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	req := jsonrpc.NewRequest(id, method, params)
	payload, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	// Slot first, then send: a fast response must never find the table
	// empty.
	slot := disp.register(id)
	c.cfg.Recorder.Record(wirelog.KindRequest, req)
	log.Debug("-> request", "method", method, "id", id)

	if err := c.trans.Send(ctx, payload); err != nil {
		disp.cancel(id)
		return nil, err
	}

	start := time.Now()
	select {
	case out := <-slot:
		if out.err != nil {
			return nil, out.err
		}
		c.cfg.Recorder.Record(wirelog.KindResponse, out.res)
		log.Debug("<- response", "method", method, "id", id, "elapsed", time.Since(start))
		if out.res.Error != nil {
			return nil, out.res.Error
		}
		return out.res, nil
	case <-time.After(c.cfg.RequestTimeout):
		disp.cancel(id)
		return nil, &hosterr.TimeoutError{Method: method, ID: id, Elapsed: c.cfg.RequestTimeout}
	case <-ctx.Done():
		disp.cancel(id)
		return nil, ctx.Err()
	}
}

/*
Notify sends a fire-and-forget notification; nothing is ever awaited.
*/
func (c *Client) Notify(ctx context.Context, method string, params map[string]any) error {
	c.mu.Lock()
	if err := c.ensureRunningLocked(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	payload, err := jsonrpc.NewNotification(method, params).Marshal()
	if err != nil {
		return err
	}
	c.cfg.Recorder.Record(wirelog.KindRequest, map[string]any{"method": method, "params": params})
	return c.trans.Send(ctx, payload)
}

// Ping checks provider liveness end to end.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, MethodPing, nil)
	return err
}

// Orphans exposes responses that arrived with no registered waiter.
func (c *Client) Orphans() <-chan *jsonrpc.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disp == nil {
		return nil
	}
	return c.disp.Orphans()
}

/*
ensureRunningLocked (re)establishes the transport, starts the dispatcher
for the new connection, and runs the stdio initialize handshake. The
connection is not usable until initialize completes, so while the
handshake is in flight every other caller parks on the connection's
ready channel instead of reaching the wire. Caller holds c.mu.
*/
func (c *Client) ensureRunningLocked(ctx context.Context) error {
	for c.running {
		if c.ready == nil {
			return nil
		}
		// Another caller owns the handshake; wait it out off the lock.
		ready := c.ready
		c.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			c.mu.Lock()
			return ctx.Err()
		}
		c.mu.Lock()
	}

	if err := c.trans.Start(ctx); err != nil {
		return err
	}

	disp := newDispatcher(c.cfg.Debug, c.cfg.Recorder)
	trans := c.trans
	go disp.run(trans.Messages(), func() error {
		return connectionLost(trans)
	})

	c.disp = disp
	c.running = true

	if c.trans.Kind() == transport.KindStdio && !c.initialized {
		ready := make(chan struct{})
		c.ready = ready
		// Handshake bypasses Call so a failure here cannot recurse into
		// the retry path.
		c.mu.Unlock()
		err := c.handshake(ctx, disp)
		c.mu.Lock()
		c.ready = nil
		close(ready)
		if err != nil {
			c.running = false
			_ = c.trans.Stop()
			return fmt.Errorf("initialize handshake failed: %w", err)
		}
		c.initialized = true
	}
	return nil
}

/*
handshake performs the protocol-mandated initialize exchange: a request
that must complete before any other call, followed by the initialized
notification.
*/
func (c *Client) handshake(ctx context.Context, disp *dispatcher) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"clientInfo":      map[string]any{"name": clientName, "version": clientVersion},
	}
	if _, err := c.send(ctx, disp, MethodInitialize, params); err != nil {
		return err
	}

	payload, err := jsonrpc.NewNotification(MethodInitialized, map[string]any{}).Marshal()
	if err != nil {
		return err
	}
	return c.trans.Send(ctx, payload)
}

func (c *Client) teardownLocked() error {
	if !c.running {
		return nil
	}
	c.running = false
	c.initialized = false
	err := c.trans.Stop()
	c.disp = nil
	return err
}

/*
connectionLost builds the error delivered to all pending calls when the
inbound stream ends underneath them.
*/
func connectionLost(trans transport.Transport) error {
	if stdio, ok := trans.(*transport.Stdio); ok {
		return &hosterr.TransportError{
			Op:         "receive",
			StderrTail: stdio.StderrTail(),
			Err:        fmt.Errorf("provider process exited with calls in flight"),
		}
	}
	return &hosterr.TransportError{Op: "receive", Err: fmt.Errorf("event stream closed with calls in flight")}
}
