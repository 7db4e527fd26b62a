package jsonrpc

import (
	"encoding/json"

	"github.com/setlist-architect/mcp-console-host/pkg/errors"
)

/*
Response is an inbound JSON-RPC 2.0 response. Exactly one of Result and
Error is set on a well-formed response; responses must echo the id of the
request they answer.
*/
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      any              `json:"id,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *errors.RpcError `json:"error,omitempty"`
}

/*
CorrelationID extracts the response id as an int64. JSON numbers decode as
float64, so both representations are accepted. The second return reports
whether a usable integer id was present at all.
*/
func (res *Response) CorrelationID() (int64, bool) {
	switch id := res.ID.(type) {
	case float64:
		return int64(id), true
	case int64:
		return id, true
	case int:
		return int64(id), true
	case json.Number:
		n, err := id.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

/*
IsResponse reports whether the message can be delivered to a waiter: it
must carry an integer id and at least one of result or error. Anything
else is a notification or garbage and belongs on the orphan path.
*/
func (res *Response) IsResponse() bool {
	if _, ok := res.CorrelationID(); !ok {
		return false
	}
	return res.Result != nil || res.Error != nil
}

/*
Decode parses one framed line into a Response. A parse failure means the
line was not JSON at all; the caller logs and skips it.
*/
func Decode(line []byte) (*Response, error) {
	var res Response
	if err := json.Unmarshal(line, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

/*
ResultMap re-decodes the result payload as a generic object. Providers
return structured results for every method this host issues.
*/
func (res *Response) ResultMap() (map[string]any, error) {
	if res.Result == nil {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(res.Result, &out); err != nil {
		return nil, err
	}
	return out, nil
}
