package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	hosterr "github.com/setlist-architect/mcp-console-host/pkg/errors"
)

/*
providerServer is an httptest stand-in for a remote tool provider: the
GET stream announces a message endpoint, and every POST to that endpoint
echoes a response back onto the stream.
*/
type providerServer struct {
	server *httptest.Server
	respCh chan string
}

func newProviderServer(announce func(w io.Writer)) *providerServer {
	ps := &providerServer{respCh: make(chan string, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		fmt.Fprint(w, ": keep-alive comment\n\n")
		if announce != nil {
			announce(w)
		}
		flusher.Flush()

		for {
			select {
			case payload := <-ps.respCh:
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("sessionId") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(body, &req); err == nil && req.ID != nil {
			ps.respCh <- fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"echo":%q}}`, *req.ID, req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
	})

	ps.server = httptest.NewServer(mux)
	return ps
}

func (ps *providerServer) Close() { ps.server.Close() }

func (ps *providerServer) transport(timeout time.Duration) *SSE {
	return NewSSE(SSEConfig{
		URL:            ps.server.URL + "/sse",
		StartupTimeout: timeout,
	})
}

func TestSSESessionNegotiation(t *testing.T) {
	Convey("Given a provider announcing its endpoint via an endpoint event", t, func() {
		ps := newProviderServer(func(w io.Writer) {
			fmt.Fprint(w, "event: endpoint\ndata: /messages?sessionId=sess-42\n\n")
		})
		defer ps.Close()

		trans := ps.transport(3 * time.Second)

		Convey("When the stream is started", func() {
			err := trans.Start(context.Background())
			defer trans.Stop()

			Convey("It should resolve the message endpoint with the session id", func() {
				So(err, ShouldBeNil)
				So(trans.SessionEndpoint(), ShouldContainSubstring, "/messages?sessionId=sess-42")
				So(trans.SessionEndpoint(), ShouldStartWith, ps.server.URL)
			})
		})
	})
}

func TestSSESessionViaConnectEvent(t *testing.T) {
	Convey("Given a provider announcing the session id in a connect payload", t, func() {
		ps := newProviderServer(func(w io.Writer) {
			fmt.Fprint(w, "event: connect\ndata: {\"sessionId\":\"abc123\"}\n\n")
		})
		defer ps.Close()

		trans := ps.transport(3 * time.Second)

		Convey("When the stream is started", func() {
			err := trans.Start(context.Background())
			defer trans.Stop()

			Convey("It should derive a message endpoint from the id", func() {
				So(err, ShouldBeNil)
				So(trans.SessionEndpoint(), ShouldContainSubstring, "sessionId=abc123")
			})
		})
	})
}

func TestSSEStartupWithoutSession(t *testing.T) {
	Convey("Given a provider that opens the stream but never announces a session", t, func() {
		ps := newProviderServer(nil)
		defer ps.Close()

		trans := ps.transport(300 * time.Millisecond)

		Convey("When the stream is started", func() {
			err := trans.Start(context.Background())

			Convey("It should fail with a descriptive transport error", func() {
				So(err, ShouldNotBeNil)
				var terr *hosterr.TransportError
				So(errors.As(err, &terr), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "no session id")
			})
		})
	})
}

func TestSSERoundTrip(t *testing.T) {
	Convey("Given a connected stream", t, func() {
		ps := newProviderServer(func(w io.Writer) {
			fmt.Fprint(w, "event: endpoint\ndata: /messages?sessionId=sess-rt\n\n")
		})
		defer ps.Close()

		trans := ps.transport(3 * time.Second)
		So(trans.Start(context.Background()), ShouldBeNil)
		defer trans.Stop()

		Convey("When a request is posted", func() {
			err := trans.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":5,"method":"tools/list"}`))

			Convey("The response should arrive on the stream", func() {
				So(err, ShouldBeNil)
				select {
				case raw := <-trans.Messages():
					var res map[string]any
					So(json.Unmarshal(raw, &res), ShouldBeNil)
					So(res["id"], ShouldEqual, 5)
				case <-time.After(3 * time.Second):
					t.Fatal("no response arrived on the stream")
				}
			})
		})
	})
}

func TestSSEEnvelopeUnwrap(t *testing.T) {
	Convey("Given a connected stream", t, func() {
		ps := newProviderServer(func(w io.Writer) {
			fmt.Fprint(w, "event: endpoint\ndata: /messages?sessionId=sess-env\n\n")
		})
		defer ps.Close()

		trans := ps.transport(3 * time.Second)
		So(trans.Start(context.Background()), ShouldBeNil)
		defer trans.Stop()

		Convey("When the provider wraps the response in an envelope", func() {
			ps.respCh <- `{"response": {"jsonrpc":"2.0","id":9,"result":{"ok":true}}}`

			Convey("The inner JSON-RPC object should be delivered", func() {
				select {
				case raw := <-trans.Messages():
					var res map[string]any
					So(json.Unmarshal(raw, &res), ShouldBeNil)
					So(res["id"], ShouldEqual, 9)
					So(res["jsonrpc"], ShouldEqual, "2.0")
				case <-time.After(3 * time.Second):
					t.Fatal("no message delivered")
				}
			})
		})
	})
}

func TestSSESendFailures(t *testing.T) {
	Convey("Given a transport that was never started", t, func() {
		trans := NewSSE(SSEConfig{URL: "http://localhost:0/sse"})

		Convey("Sending should fail with a transport error", func() {
			err := trans.Send(context.Background(), []byte(`{}`))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "not started")
		})
	})

	Convey("Given a provider whose message endpoint rejects posts", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "event: endpoint\ndata: /messages?sessionId=sess-err\n\n")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})
		mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "session expired", http.StatusGone)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		trans := NewSSE(SSEConfig{URL: server.URL + "/sse", StartupTimeout: 3 * time.Second})
		So(trans.Start(context.Background()), ShouldBeNil)
		defer trans.Stop()

		Convey("The send should fail immediately with the HTTP status", func() {
			err := trans.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "410")
		})
	})
}

func TestSSERejectsBadStatus(t *testing.T) {
	Convey("Given a URL that answers with a non-2xx status", t, func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "not here", http.StatusNotFound)
		}))
		defer server.Close()

		trans := NewSSE(SSEConfig{URL: server.URL, StartupTimeout: time.Second})

		Convey("Start should fail without waiting for the startup timeout", func() {
			err := trans.Start(context.Background())
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "404")
		})
	})
}
