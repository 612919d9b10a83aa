package websocket

import (
	"bytes"
	"encoding/json"
)

// Streamer commands.
const (
	cmdLogin  = "LOGIN"
	cmdSubs   = "SUBS"
	cmdUnsubs = "UNSUBS"
	cmdGet    = "GET"
)

const adminService = "ADMIN"

// loginDeniedCode is the distinguished fatal code carried in a response
// content; any response carrying it terminates the session.
const loginDeniedCode = 3

// streamRequest is one outbound subscription-style request. Request ids are
// integers on the wire; id 0 is reserved for the login frame, which uses its
// own envelope type below.
type streamRequest struct {
	Service    string            `json:"service"`
	RequestID  int               `json:"requestid"`
	Command    string            `json:"command"`
	Account    string            `json:"account"`
	Source     string            `json:"source"`
	Parameters map[string]string `json:"parameters"`
}

type requestEnvelope struct {
	Requests []streamRequest `json:"requests"`
}

// loginRequest is the login frame; unlike subscription requests its request
// id is the literal string "0".
type loginRequest struct {
	Service    string            `json:"service"`
	RequestID  string            `json:"requestid"`
	Command    string            `json:"command"`
	Account    string            `json:"account"`
	Source     string            `json:"source"`
	Parameters map[string]string `json:"parameters"`
}

type loginEnvelope struct {
	Requests []loginRequest `json:"requests"`
}

// inboundFrame is one decoded frame from the streamer. Exactly one of the
// fields is populated.
type inboundFrame struct {
	Response []serviceResult `json:"response"`
	Data     []serviceResult `json:"data"`
	Snapshot []serviceResult `json:"snapshot"`
	Notify   []notifyEvent   `json:"notify"`
}

// serviceResult is one feed's contribution within a frame.
type serviceResult struct {
	Service   string          `json:"service"`
	RequestID requestID       `json:"requestid"`
	Command   string          `json:"command"`
	Timestamp int64           `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

// requestID tolerates both string and number encodings, both of which occur
// on the wire.
type requestID string

func (r *requestID) UnmarshalJSON(data []byte) error {
	*r = requestID(bytes.Trim(data, `"`))
	return nil
}

// responseContent is the content of a "response" result.
type responseContent struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// notifyEvent carries server keepalive/idle notices, e.g.
// {"heartbeat":"1588216721929"}. It has no decodable content.
type notifyEvent map[string]string
