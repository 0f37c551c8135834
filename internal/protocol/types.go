package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types carried in the "type" field of a driver message.
const (
	TypeFrame = "frame"
	TypeError = "error"
)

// Message is a decoded driver message. It is either a *FrameMessage or an *ErrorMessage.
type Message interface {
	messageType() string
}

// FrameMessage carries one snapshot of rigid bodies reported by the driver.
type FrameMessage struct {
	Items []Item  `json:"items"`
	T     float64 `json:"t"`
}

// ErrorMessage reports a terminal fault inside the driver process.
type ErrorMessage struct {
	Error string `json:"error"`
}

func (*FrameMessage) messageType() string { return TypeFrame }
func (*ErrorMessage) messageType() string { return TypeError }

// Item is one rigid body observation. On the wire it is the array
// [name, [x, y, z], [w, x, y, z] | null].
type Item struct {
	Name     string
	Position [3]float64
	// Rotation is a unit quaternion (w, x, y, z); nil means the body reported no rotation.
	Rotation *[4]float64
}

// MarshalJSON encodes the item in its positional wire form.
func (it Item) MarshalJSON() ([]byte, error) {
	var rot any
	if it.Rotation != nil {
		rot = it.Rotation[:]
	}
	return json.Marshal([]any{it.Name, it.Position[:], rot})
}

// UnmarshalJSON decodes the positional wire form.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("item must be an array: %w", err)
	}
	if len(raw) != 3 {
		return fmt.Errorf("item must have 3 elements, got %d", len(raw))
	}

	var out Item
	if err := json.Unmarshal(raw[0], &out.Name); err != nil {
		return fmt.Errorf("item name: %w", err)
	}

	var pos []float64
	if err := json.Unmarshal(raw[1], &pos); err != nil {
		return fmt.Errorf("item %q position: %w", out.Name, err)
	}
	if len(pos) != 3 {
		return fmt.Errorf("item %q position must have 3 components, got %d", out.Name, len(pos))
	}
	copy(out.Position[:], pos)

	var rot []float64
	if err := json.Unmarshal(raw[2], &rot); err != nil {
		return fmt.Errorf("item %q rotation: %w", out.Name, err)
	}
	if rot != nil {
		if len(rot) != 4 {
			return fmt.Errorf("item %q rotation must have 4 components, got %d", out.Name, len(rot))
		}
		var q [4]float64
		copy(q[:], rot)
		out.Rotation = &q
	}

	*it = out
	return nil
}
