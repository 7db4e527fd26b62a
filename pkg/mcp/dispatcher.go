package mcp

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/setlist-architect/mcp-console-host/pkg/jsonrpc"
	"github.com/setlist-architect/mcp-console-host/pkg/wirelog"
)

const orphanCapacity = 64

/*
outcome is what lands in a waiter's slot: a response, or the transport
error that made the response impossible.
*/
type outcome struct {
	res *jsonrpc.Response
	err error
}

/*
dispatcher is the single background reader for one transport connection.
It routes every inbound message to the waiter registered for its id, or
onto the bounded orphan queue when no one is waiting. Each wait slot is
buffered so delivery never blocks the read loop, and each slot is
delivered to at most once.
*/
type dispatcher struct {
	mu      sync.Mutex
	pending map[int64]chan outcome
	orphans chan *jsonrpc.Response
	debug   bool
	rec     *wirelog.Recorder
	done    chan struct{}
}

func newDispatcher(debug bool, rec *wirelog.Recorder) *dispatcher {
	return &dispatcher{
		pending: make(map[int64]chan outcome),
		orphans: make(chan *jsonrpc.Response, orphanCapacity),
		debug:   debug,
		rec:     rec,
		done:    make(chan struct{}),
	}
}

/*
register creates the wait slot for an id. It must be called before the
request bytes are sent so a fast response cannot arrive slotless.
*/
func (d *dispatcher) register(id int64) chan outcome {
	slot := make(chan outcome, 1)
	d.mu.Lock()
	d.pending[id] = slot
	d.mu.Unlock()
	return slot
}

/*
cancel removes a stale slot after a timeout or failed send, so a late
response is treated as an orphan instead of misdelivered.
*/
func (d *dispatcher) cancel(id int64) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

/*
run consumes the transport's message channel until it closes, then fails
every still-pending call with finalErr so waiters learn about a dead
connection immediately instead of riding out their timeouts.
*/
func (d *dispatcher) run(messages <-chan json.RawMessage, finalErr func() error) {
	for raw := range messages {
		d.route(raw)
	}

	err := finalErr()
	d.mu.Lock()
	for id, slot := range d.pending {
		delete(d.pending, id)
		slot <- outcome{err: err}
	}
	d.mu.Unlock()
	close(d.done)
}

func (d *dispatcher) route(raw json.RawMessage) {
	res, err := jsonrpc.Decode(raw)
	if err != nil {
		// Not valid JSON-RPC; the transport already filtered non-JSON
		// lines, so this is structured garbage. Log and move on.
		log.Debug("undecodable inbound message", "payload", string(raw))
		return
	}

	if !res.IsResponse() {
		d.orphan(res, "notification or malformed response")
		return
	}

	id, _ := res.CorrelationID()
	d.mu.Lock()
	slot, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
	}
	d.mu.Unlock()

	if !ok {
		d.orphan(res, "no waiter registered")
		return
	}
	slot <- outcome{res: res}
}

/*
orphan parks a message nobody is waiting for. The queue is bounded; when
full the oldest entry gives way, which is never silent in debug mode.
*/
func (d *dispatcher) orphan(res *jsonrpc.Response, reason string) {
	if d.debug {
		log.Debug("orphan message", "reason", reason, "id", res.ID)
		d.rec.Record(wirelog.KindOrphan, res)
	}
	for {
		select {
		case d.orphans <- res:
			return
		default:
			select {
			case dropped := <-d.orphans:
				if d.debug {
					log.Debug("orphan queue full, dropping oldest", "id", dropped.ID)
				}
			default:
			}
		}
	}
}

// Orphans exposes the overflow queue for inspection.
func (d *dispatcher) Orphans() <-chan *jsonrpc.Response { return d.orphans }
