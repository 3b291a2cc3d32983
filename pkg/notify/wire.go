package notify

import (
	"encoding/json"
	"fmt"
	"io"
)

// Frame is the websocket encoding of an event.
type Frame struct {
	Event Kind            `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

func NewFrame(e Event, subscriberID string) (Frame, error) {
	raw, err := json.Marshal(e.Payload(subscriberID))
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s payload: %w", e.Kind, err)
	}
	return Frame{Event: e.Kind, ID: e.Seq, Data: raw}, nil
}

// WriteSSE writes the event in text/event-stream framing.
func WriteSSE(w io.Writer, e Event, subscriberID string) error {
	f, err := NewFrame(e, subscriberID)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", f.Event); err != nil {
		return fmt.Errorf("write event type: %w", err)
	}
	if f.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", f.ID); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", f.Data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	return nil
}
