package rpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorPayload is the structured error variant travelling inside a
// StatusError reply. Message is mandatory, stack and code are optional.
type ErrorPayload struct {
	Message string     `json:"message"`
	Stack   string     `json:"stack,omitempty"`
	Code    codes.Code `json:"code,omitempty"`
}

// RemoteError is the client-side reconstruction of a failure that happened
// on the dispatcher side of the channel.
type RemoteError struct {
	Payload ErrorPayload
}

func (e *RemoteError) Error() string {
	return e.Payload.Message
}

// GRPCStatus makes status.FromError recognize the remote code.
func (e *RemoteError) GRPCStatus() *status.Status {
	return status.New(e.Payload.Code, e.Payload.Message)
}

// PayloadFromError converts a service failure into a wire payload. Errors
// carrying a grpc status keep their code, everything else maps to Unknown.
func PayloadFromError(err error) *ErrorPayload {
	payload := &ErrorPayload{Message: err.Error(), Code: codes.Unknown}
	if st, ok := status.FromError(err); ok {
		payload.Code = st.Code()
		payload.Message = st.Message()
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		payload.Stack = remote.Payload.Stack
	}
	return payload
}
