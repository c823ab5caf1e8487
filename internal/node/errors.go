package node

import "fmt"

// TransportError wraps a network or TLS level failure talking to a node.
type TransportError struct {
	Node string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s during %s: %v", e.Node, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError indicates a malformed or unexpected listing response.
type ProtocolError struct {
	Node   string
	URL    string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error from %s: %s: %v", e.Node, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error from %s: %s", e.Node, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
