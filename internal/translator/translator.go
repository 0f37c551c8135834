// Package translator turns decoded driver messages into consumer frames.
package translator

import (
	"github.com/mattjoyce/lmcbridge/internal/protocol"
)

// Frame is the consumer's mutable frame. The translator only appends to it.
type Frame interface {
	AddItem(name string, position [3]float64, rotation *[4]float64)
}

// TimestampSetter is implemented by frames that want the driver's "t" value.
type TimestampSetter interface {
	SetTimestamp(t float64)
}

// Factory creates an empty frame.
type Factory func() Frame

// Sink accepts completed frames. Implementations must be safe for concurrent use.
type Sink interface {
	Enqueue(frame Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame)

// Enqueue calls f(frame).
func (f SinkFunc) Enqueue(frame Frame) { f(frame) }

// Translate converts msg into a frame created by newFrame.
// Error messages become *protocol.RemoteError; anything else that is not a frame
// becomes *protocol.ProtocolError. Items are added in wire order and a nil rotation
// stays nil.
func Translate(msg protocol.Message, newFrame Factory) (Frame, error) {
	switch m := msg.(type) {
	case *protocol.FrameMessage:
		frame := newFrame()
		if ts, ok := frame.(TimestampSetter); ok {
			ts.SetTimestamp(m.T)
		}
		for _, item := range m.Items {
			frame.AddItem(item.Name, item.Position, item.Rotation)
		}
		return frame, nil

	case *protocol.ErrorMessage:
		return nil, &protocol.RemoteError{Message: m.Error}

	case nil:
		return nil, &protocol.ProtocolError{Reason: "empty message"}

	default:
		return nil, &protocol.ProtocolError{Reason: "unsupported message kind"}
	}
}
