package jsonrpc

import "encoding/json"

// Version is the only protocol revision this host speaks.
const Version = "2.0"

/*
Request is an outbound JSON-RPC 2.0 request. The ID is a pointer so a nil
value produces a notification: the id key is omitted entirely and no
response is ever awaited for it.
*/
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      *int64         `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

/*
NewRequest builds a request carrying a correlation id.
*/
func NewRequest(id int64, method string, params map[string]any) *Request {
	return &Request{JSONRPC: Version, ID: &id, Method: method, Params: params}
}

/*
NewNotification builds a fire-and-forget message without an id.
*/
func NewNotification(method string, params map[string]any) *Request {
	return &Request{JSONRPC: Version, Method: method, Params: params}
}

/*
Marshal serializes the request to a single line with no embedded newline,
ready for newline-delimited framing.
*/
func (req *Request) Marshal() ([]byte, error) {
	return json.Marshal(req)
}
