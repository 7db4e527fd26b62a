package errors

import (
	"fmt"
	"strings"
	"time"
)

/*
TransportError is a fatal connection-level failure: the provider process
exited, the stream closed, or the connection was refused. It carries
enough diagnostic context (command line, working directory, captured
stderr tail) that an operator can act without re-instrumenting the host.
*/
type TransportError struct {
	Op         string
	Command    string
	Dir        string
	StderrTail []string
	Err        error
}

func (e *TransportError) Error() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "transport %s failed", e.Op)
	if e.Err != nil {
		fmt.Fprintf(b, ": %v", e.Err)
	}
	if e.Command != "" {
		fmt.Fprintf(b, " (cmd: %s", e.Command)
		if e.Dir != "" {
			fmt.Fprintf(b, ", dir: %s", e.Dir)
		}
		b.WriteString(")")
	}
	if len(e.StderrTail) > 0 {
		fmt.Fprintf(b, "\nstderr tail (%d lines):\n%s", len(e.StderrTail), strings.Join(e.StderrTail, "\n"))
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

/*
TimeoutError means the host gave up waiting for a response. It does not
imply the provider failed, only that the deadline elapsed; the provider
side may still complete and its late response is discarded as an orphan.
*/
type TimeoutError struct {
	Method  string
	ID      int64
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for response to %s (id %d)", e.Elapsed, e.Method, e.ID)
}

/*
ConfirmationError is not a failure: the provider answered with a
success-shaped result asking the caller to disambiguate among several
candidates. It surfaces as a distinct catchable error so callers branch
explicitly and can re-invoke with a chosen candidate index or id.
*/
type ConfirmationError struct {
	Message      string
	Candidates   []map[string]any
	OriginalArgs map[string]any
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("needs confirmation (%d candidates): %s", len(e.Candidates), e.Message)
}
