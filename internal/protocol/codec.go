package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const unspecifiedRemoteError = "unspecified error from driver process"

// envelope reads only the discriminator of a message.
type envelope struct {
	Type json.RawMessage `json:"type"`
}

// wire forms with fields in lexical order so encoded output has sorted keys.
type frameWire struct {
	Items []Item  `json:"items"`
	T     float64 `json:"t"`
	Type  string  `json:"type"`
}

type errorWire struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// DecodeMessage parses one line of driver output.
// Invalid JSON yields a *DecodeError. A missing "type" means "frame"; any other
// unrecognized or malformed message, including a null or non-string "type",
// yields a *ProtocolError.
func DecodeMessage(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if !json.Valid(line) {
		var v any
		err := json.Unmarshal(line, &v)
		if err == nil {
			err = fmt.Errorf("invalid JSON")
		}
		return nil, &DecodeError{Line: append([]byte(nil), line...), Err: err}
	}

	if len(line) == 0 || line[0] != '{' {
		return nil, &ProtocolError{Reason: "message is not a JSON object"}
	}

	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("bad message: %v", err)}
	}

	msgType := TypeFrame
	if env.Type != nil {
		// A present key must hold a string; json.Unmarshal would accept null.
		if env.Type[0] != '"' {
			return nil, &ProtocolError{Reason: fmt.Sprintf("message type must be a string, got %s", env.Type)}
		}
		if err := json.Unmarshal(env.Type, &msgType); err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("message type must be a string: %v", err)}
		}
	}

	switch msgType {
	case TypeFrame:
		var msg FrameMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, &ProtocolError{Type: msgType, Reason: fmt.Sprintf("bad frame: %v", err)}
		}
		if msg.Items == nil {
			msg.Items = []Item{}
		}
		return &msg, nil

	case TypeError:
		var raw struct {
			Error json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, &ProtocolError{Type: msgType, Reason: fmt.Sprintf("bad error message: %v", err)}
		}
		return &ErrorMessage{Error: remoteErrorText(raw.Error)}, nil

	default:
		return nil, &ProtocolError{Type: msgType}
	}
}

// remoteErrorText stringifies the error field, which drivers normally send as a string.
func remoteErrorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return unspecifiedRemoteError
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// EncodeMessage writes msg as one line of JSON with sorted keys.
func EncodeMessage(w io.Writer, msg Message) error {
	var v any
	switch m := msg.(type) {
	case *FrameMessage:
		items := m.Items
		if items == nil {
			items = []Item{}
		}
		v = frameWire{Items: items, T: m.T, Type: TypeFrame}
	case *ErrorMessage:
		v = errorWire{Error: m.Error, Type: TypeError}
	default:
		return fmt.Errorf("unsupported message %T", msg)
	}
	return Encode(w, v)
}

// Encode writes v as compact JSON followed by a newline. Map keys are sorted by
// encoding/json, so output is stable for the same input.
func Encode(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
