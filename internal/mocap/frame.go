// Package mocap holds the bridge's concrete frame type and the queue frames are
// delivered through.
package mocap

import (
	"time"

	"github.com/mattjoyce/lmcbridge/internal/translator"
)

// Item is one tracked rigid body or marker.
type Item struct {
	Name     string      `json:"name"`
	Position [3]float64  `json:"position"`
	Rotation *[4]float64 `json:"rotation"` // w, x, y, z; nil if the system has none
}

// Frame is one snapshot of all items seen by a connection.
type Frame struct {
	Connection string    `json:"connection"`
	Timestamp  float64   `json:"t"`
	ReceivedAt time.Time `json:"received_at"`
	Items      []Item    `json:"items"`
}

var (
	_ translator.Frame           = (*Frame)(nil)
	_ translator.TimestampSetter = (*Frame)(nil)
)

func (f *Frame) AddItem(name string, position [3]float64, rotation *[4]float64) {
	f.Items = append(f.Items, Item{Name: name, Position: position, Rotation: rotation})
}

func (f *Frame) SetTimestamp(t float64) { f.Timestamp = t }

// FactoryFor returns a translator.Factory stamping frames with connection id.
func FactoryFor(id string) translator.Factory {
	return func() translator.Frame {
		return &Frame{
			Connection: id,
			ReceivedAt: time.Now().UTC(),
			Items:      []Item{},
		}
	}
}
