package chat

import "fmt"

// UpstreamError means the gateway received the request and rejected it
// (non-2xx status or an explicit error payload).
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("chat gateway rejected request: status=%d body=%s", e.Status, e.Body)
}

// TransportError means the request never completed: network failure,
// timeout, or an unparseable response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chat transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
