package rpc

import (
	"encoding/json"
	"fmt"
)

// HandshakeCommand is the only command every dispatcher answers regardless
// of how its whitelist was configured. Its reply carries the whitelist.
const HandshakeCommand = "getRpcInterface"

// HandshakeID is the request id reserved for the handshake. Regular call
// ids are always non-zero.
const HandshakeID uint64 = 0

type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "error"
)

// Request is the wire form of a single command invocation.
type Request struct {
	Command       string            `json:"command"`
	InterfaceName string            `json:"interfaceName"`
	Args          []json.RawMessage `json:"args"`
	ID            uint64            `json:"id"`
}

// Reply is the wire form of the answer to a Request. Result holds either
// the method's return value (StatusOK) or a marshalled ErrorPayload
// (StatusError).
type Reply struct {
	Status        Status          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	InterfaceName string          `json:"interfaceName"`
	ID            uint64          `json:"id"`
}

// NewRequest marshals args and builds a request envelope.
func NewRequest(interfaceName, command string, id uint64, args ...interface{}) (*Request, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("marshal argument %d of %q: %w", i, command, err)
		}
		raw = append(raw, data)
	}
	return &Request{
		Command:       command,
		InterfaceName: interfaceName,
		Args:          raw,
		ID:            id,
	}, nil
}

// NewOKReply answers req with result.
func NewOKReply(interfaceName string, id uint64, result interface{}) (*Reply, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Reply{Status: StatusOK, Result: raw, InterfaceName: interfaceName, ID: id}, nil
}

// NewErrorReply answers req with a structured error payload.
func NewErrorReply(interfaceName string, id uint64, payload *ErrorPayload) *Reply {
	raw, err := json.Marshal(payload)
	if err != nil {
		// ErrorPayload contains only plain fields, marshalling can fail only
		// on a broken payload value. Fall back to the bare message.
		raw, _ = json.Marshal(&ErrorPayload{Message: payload.Message})
	}
	return &Reply{Status: StatusError, Result: raw, InterfaceName: interfaceName, ID: id}
}

// ParseRequest decodes data as a request. The second return value is false
// when the message is not a request at all (no command field), which lets a
// dispatcher on a shared channel skip replies and unrelated traffic without
// treating them as protocol errors.
func ParseRequest(data []byte) (*Request, bool) {
	req := Request{}
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	if req.Command == "" {
		return nil, false
	}
	return &req, true
}

// ParseReply decodes data as a reply. False when no status field is present,
// so proxies ignore requests travelling on the same channel.
func ParseReply(data []byte) (*Reply, bool) {
	rep := Reply{}
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, false
	}
	if rep.Status == "" {
		return nil, false
	}
	return &rep, true
}

// Encode renders a wire envelope to bytes.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Whitelist decodes a handshake reply's result into the ordered method list.
func (r *Reply) Whitelist() ([]string, error) {
	var names []string
	if err := json.Unmarshal(r.Result, &names); err != nil {
		return nil, fmt.Errorf("decode interface whitelist: %w", err)
	}
	return names, nil
}

// RemoteError rebuilds the error a StatusError reply carries. Returns a
// generic error when the payload cannot be decoded.
func (r *Reply) RemoteError() error {
	payload := ErrorPayload{}
	if err := json.Unmarshal(r.Result, &payload); err != nil || payload.Message == "" {
		return &RemoteError{Payload: ErrorPayload{Message: string(r.Result)}}
	}
	return &RemoteError{Payload: payload}
}

// CallerIdentity is prepended to a call's arguments when a dispatcher runs
// with access control enabled. It identifies the requesting endpoint.
type CallerIdentity struct {
	CallingSource string `json:"callingSource"`
	CallingOrigin string `json:"callingOrigin"`
}
