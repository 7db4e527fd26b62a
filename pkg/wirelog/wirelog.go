/*
Package wirelog appends one JSON object per line to a capture file for
every request, response and lifecycle event the host exchanges with a
tool provider. The file is an operator artifact: it must never slow down
or fail the call path, so every write error is swallowed.
*/
package wirelog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds written to the capture file.
const (
	KindSpawn       = "spawn"
	KindRequest     = "req"
	KindResponse    = "resp"
	KindStderr      = "mcp_stderr"
	KindStdoutNoise = "stdout_noise"
	KindOrphan      = "orphan"
)

/*
Recorder writes JSONL entries to a single file. A nil *Recorder is a
valid no-op so callers never have to branch on whether capture is
enabled.
*/
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	session string
}

/*
Open creates (or appends to) the capture file, creating parent
directories as needed. Each Recorder gets a fresh session id so runs can
be separated after the fact.
*/
func Open(path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Recorder{file: file, session: uuid.NewString()}, nil
}

/*
Record appends one entry. The payload is merged under its own key to
keep the envelope (ts, session, kind) stable across kinds.
*/
func (r *Recorder) Record(kind string, payload any) {
	if r == nil {
		return
	}
	entry := map[string]any{
		"ts":      time.Now().UnixMilli(),
		"session": r.session,
		"kind":    kind,
		"payload": payload,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	_, _ = r.file.Write(append(line, '\n'))
}

// Session returns the recorder's run id.
func (r *Recorder) Session() string {
	if r == nil {
		return ""
	}
	return r.session
}

// Close releases the capture file (idempotent).
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
