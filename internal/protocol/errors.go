package protocol

import "fmt"

// DecodeError reports bytes from the driver that are not valid JSON.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed message from driver process: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProtocolError reports well-formed JSON that is not a valid driver message.
type ProtocolError struct {
	Type   string
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid message from driver process: %s", e.Reason)
	}
	return fmt.Sprintf("unknown message type received from driver process: %q", e.Type)
}

// RemoteError carries a fault reported by the driver process itself.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }
