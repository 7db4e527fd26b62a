package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hosterr "github.com/setlist-architect/mcp-console-host/pkg/errors"
	"github.com/setlist-architect/mcp-console-host/pkg/transport"
)

/*
fakeTransport is an in-memory Transport whose behavior is scripted per
test through onSend. deliver injects inbound messages as if they arrived
on the wire; breakStream simulates the connection dying underneath the
client.
*/
type fakeTransport struct {
	kind   string
	onSend func(f *fakeTransport, req sentRequest) error

	mu      sync.Mutex
	msgCh   chan json.RawMessage
	closed  bool
	starts  int
	methods []string
}

type sentRequest struct {
	ID     *int64         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

func newFakeTransport(kind string, onSend func(f *fakeTransport, req sentRequest) error) *fakeTransport {
	return &fakeTransport{kind: kind, onSend: onSend}
}

func (f *fakeTransport) Kind() string { return f.kind }

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgCh = make(chan json.RawMessage, 64)
	f.closed = false
	f.starts++
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, payload []byte) error {
	var req sentRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	f.mu.Unlock()
	if f.onSend != nil {
		return f.onSend(f, req)
	}
	return nil
}

func (f *fakeTransport) Messages() <-chan json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgCh
}

func (f *fakeTransport) Stop() error {
	f.breakStream()
	return nil
}

func (f *fakeTransport) breakStream() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.msgCh != nil && !f.closed {
		close(f.msgCh)
		f.closed = true
	}
}

func (f *fakeTransport) deliver(line string) {
	f.mu.Lock()
	ch := f.msgCh
	closed := f.closed
	f.mu.Unlock()
	if ch != nil && !closed {
		ch <- json.RawMessage(line)
	}
}

func (f *fakeTransport) sentMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.methods))
	copy(out, f.methods)
	return out
}

func (f *fakeTransport) countMethod(method string) int {
	n := 0
	for _, m := range f.sentMethods() {
		if m == method {
			n++
		}
	}
	return n
}

// echoResult answers a request with a result that names its method.
func echoResult(f *fakeTransport, req sentRequest) error {
	if req.ID == nil {
		return nil
	}
	f.deliver(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"echo":%q}}`, *req.ID, req.Method))
	return nil
}

func newTestClient(trans transport.Transport, maxRetries int, timeout time.Duration) *Client {
	return NewClient(trans, ClientConfig{
		RequestTimeout: timeout,
		MaxRetries:     maxRetries,
		RetryBackoff:   time.Millisecond,
	})
}

func TestClientCallDeliversMatchingResponse(t *testing.T) {
	trans := newFakeTransport(transport.KindSSE, echoResult)
	client := newTestClient(trans, 0, time.Second)
	defer client.Stop()

	res, err := client.Call(context.Background(), "tools/list", map[string]any{})
	require.NoError(t, err)

	result, err := res.ResultMap()
	require.NoError(t, err)
	assert.Equal(t, "tools/list", result["echo"])
}

func TestClientCorrelatesOutOfOrderResponses(t *testing.T) {
	var (
		mu     sync.Mutex
		queued []sentRequest
	)
	trans := newFakeTransport(transport.KindSSE, nil)
	trans.onSend = func(f *fakeTransport, req sentRequest) error {
		mu.Lock()
		queued = append(queued, req)
		ready := len(queued) == 2
		pending := append([]sentRequest(nil), queued...)
		mu.Unlock()

		// Hold the first response until both calls are in flight, then
		// answer in reverse send order.
		if ready {
			for i := len(pending) - 1; i >= 0; i-- {
				r := pending[i]
				f.deliver(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"echo":%q}}`, *r.ID, r.Method))
			}
		}
		return nil
	}

	client := newTestClient(trans, 0, 5*time.Second)
	defer client.Stop()

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)
	for i, method := range []string{"alpha", "beta"} {
		wg.Add(1)
		go func(i int, method string) {
			defer wg.Done()
			res, err := client.Call(context.Background(), method, nil)
			if err != nil {
				errs[i] = err
				return
			}
			m, err := res.ResultMap()
			if err != nil {
				errs[i] = err
				return
			}
			results[i], _ = m["echo"].(string)
		}(i, method)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, "alpha", results[0], "each caller must get its own response")
	assert.Equal(t, "beta", results[1])
}

func TestClientStdioHandshakeOrder(t *testing.T) {
	trans := newFakeTransport(transport.KindStdio, echoResult)
	client := newTestClient(trans, 0, time.Second)
	defer client.Stop()

	_, err := client.Call(context.Background(), "tools/list", nil)
	require.NoError(t, err)

	methods := trans.sentMethods()
	require.Len(t, methods, 3)
	assert.Equal(t, []string{MethodInitialize, MethodInitialized, "tools/list"}, methods)
}

func TestClientHandshakeGatesConcurrentCalls(t *testing.T) {
	trans := newFakeTransport(transport.KindStdio, nil)
	trans.onSend = func(f *fakeTransport, req sentRequest) error {
		if req.Method == MethodInitialize {
			// A slow provider: the initialize response arrives well
			// after other callers have had the chance to race ahead.
			go func() {
				time.Sleep(200 * time.Millisecond)
				_ = echoResult(f, req)
			}()
			return nil
		}
		return echoResult(f, req)
	}

	client := newTestClient(trans, 0, 5*time.Second)
	defer client.Stop()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, method := range []string{"tools/list", "tools/call"} {
		wg.Add(1)
		go func(i int, method string) {
			defer wg.Done()
			_, errs[i] = client.Call(context.Background(), method, nil)
		}(i, method)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	methods := trans.sentMethods()
	require.Len(t, methods, 4)
	assert.Equal(t, MethodInitialize, methods[0])
	assert.Equal(t, MethodInitialized, methods[1],
		"no request may reach the wire before initialize completes")
}

func TestClientProviderErrorIsNeverRetried(t *testing.T) {
	trans := newFakeTransport(transport.KindStdio, func(f *fakeTransport, req sentRequest) error {
		if req.ID == nil {
			return nil
		}
		if req.Method == MethodInitialize {
			return echoResult(f, req)
		}
		f.deliver(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"Method not found"}}`, *req.ID))
		return nil
	})
	client := newTestClient(trans, 3, time.Second)
	defer client.Stop()

	_, err := client.Call(context.Background(), "no/such/method", nil)

	var rpcErr *hosterr.RpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
	assert.Equal(t, 1, trans.countMethod("no/such/method"), "provider errors must not burn retries")
}

func TestClientRetriesTransientStdioFailures(t *testing.T) {
	attempts := 0
	trans := newFakeTransport(transport.KindStdio, nil)
	trans.onSend = func(f *fakeTransport, req sentRequest) error {
		if req.Method == MethodInitialize {
			return echoResult(f, req)
		}
		if req.ID == nil {
			return nil
		}
		attempts++
		if attempts < 3 {
			return &hosterr.TransportError{Op: "send", Err: errors.New("broken pipe")}
		}
		return echoResult(f, req)
	}

	client := newTestClient(trans, 2, time.Second)
	defer client.Stop()

	res, err := client.Call(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, trans.starts, 3, "each retry must restart the transport")

	result, err := res.ResultMap()
	require.NoError(t, err)
	assert.Equal(t, "tools/list", result["echo"])
}

func TestClientRetryBudgetIsBounded(t *testing.T) {
	attempts := 0
	trans := newFakeTransport(transport.KindStdio, func(f *fakeTransport, req sentRequest) error {
		if req.Method == MethodInitialize {
			return echoResult(f, req)
		}
		if req.ID == nil {
			return nil
		}
		attempts++
		return &hosterr.TransportError{Op: "send", Err: errors.New("still down")}
	})

	client := newTestClient(trans, 2, time.Second)
	defer client.Stop()

	_, err := client.Call(context.Background(), "tools/list", nil)

	var terr *hosterr.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 3, attempts, "MaxRetries=2 means exactly three send attempts")
}

func TestClientSSEFailuresAreNotRetried(t *testing.T) {
	attempts := 0
	trans := newFakeTransport(transport.KindSSE, func(f *fakeTransport, req sentRequest) error {
		attempts++
		return &hosterr.TransportError{Op: "send", Err: errors.New("session gone")}
	})

	client := newTestClient(trans, 5, time.Second)
	defer client.Stop()

	_, err := client.Call(context.Background(), "tools/list", nil)

	var terr *hosterr.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 1, attempts, "a new stream means a new session; never auto-retry")
}

func TestClientTimeoutProducesOrphan(t *testing.T) {
	trans := newFakeTransport(transport.KindSSE, nil)
	client := newTestClient(trans, 0, 50*time.Millisecond)
	defer client.Stop()

	_, err := client.Call(context.Background(), "slow/op", nil)

	var timeout *hosterr.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "slow/op", timeout.Method)

	// The provider answers after the waiter gave up; the response must
	// land on the orphan queue, not be misdelivered.
	trans.deliver(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"late":true}}`, timeout.ID))

	select {
	case orphan := <-client.Orphans():
		id, ok := orphan.CorrelationID()
		assert.True(t, ok)
		assert.Equal(t, timeout.ID, id)
	case <-time.After(time.Second):
		t.Fatal("late response never reached the orphan queue")
	}
}

func TestClientConnectionLossFailsPendingCalls(t *testing.T) {
	trans := newFakeTransport(transport.KindSSE, nil)
	client := newTestClient(trans, 0, 10*time.Second)
	defer client.Stop()

	go func() {
		time.Sleep(50 * time.Millisecond)
		trans.breakStream()
	}()

	start := time.Now()
	_, err := client.Call(context.Background(), "doomed", nil)
	elapsed := time.Since(start)

	var terr *hosterr.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Less(t, elapsed, 5*time.Second, "pending calls must fail on stream close, not ride out the timeout")
	assert.Contains(t, err.Error(), "calls in flight")
}

func TestClientNotifyCarriesNoID(t *testing.T) {
	var captured sentRequest
	trans := newFakeTransport(transport.KindSSE, func(f *fakeTransport, req sentRequest) error {
		captured = req
		return nil
	})
	client := newTestClient(trans, 0, time.Second)
	defer client.Stop()

	require.NoError(t, client.Notify(context.Background(), "notifications/progress", map[string]any{"done": 1}))
	assert.Nil(t, captured.ID)
	assert.Equal(t, "notifications/progress", captured.Method)
}

func TestDispatcherOrphansUnknownAndNonResponses(t *testing.T) {
	trans := newFakeTransport(transport.KindSSE, echoResult)
	client := newTestClient(trans, 0, time.Second)
	defer client.Stop()

	require.NoError(t, client.Start(context.Background()))

	trans.deliver(`{"jsonrpc":"2.0","id":999,"result":{"stray":true}}`)
	trans.deliver(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"p":1}}`)

	received := 0
	deadline := time.After(time.Second)
	for received < 2 {
		select {
		case <-client.Orphans():
			received++
		case <-deadline:
			t.Fatalf("expected 2 orphans, got %d", received)
		}
	}
}

func TestDispatcherOrphanQueueDropsOldest(t *testing.T) {
	trans := newFakeTransport(transport.KindSSE, echoResult)
	client := newTestClient(trans, 0, time.Second)
	defer client.Stop()

	require.NoError(t, client.Start(context.Background()))

	const extra = 6
	for i := 1; i <= orphanCapacity+extra; i++ {
		trans.deliver(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, 1000+i))
	}

	orphans := client.Orphans()
	require.Eventually(t, func() bool {
		return len(orphans) == orphanCapacity
	}, time.Second, 10*time.Millisecond)
	// Let the dispatcher finish displacing the oldest entries.
	time.Sleep(50 * time.Millisecond)

	first := <-orphans
	id, ok := first.CorrelationID()
	require.True(t, ok)
	assert.Equal(t, int64(1000+extra+1), id, "the oldest orphans must be the ones displaced")
}
