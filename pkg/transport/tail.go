package transport

import "sync"

/*
tailBuffer keeps the last N lines written to it. The stdio transport
feeds it from the provider's stderr so a crash report can include what
the process said on its way down.
*/
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newTailBuffer(capacity int) *tailBuffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &tailBuffer{lines: make([]string, capacity)}
}

func (t *tailBuffer) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// Tail returns the buffered lines in arrival order.
func (t *tailBuffer) Tail() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		out := make([]string, t.next)
		copy(out, t.lines[:t.next])
		return out
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	out = append(out, t.lines[:t.next]...)
	return out
}
