package rooms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"
)

var (
	ErrNotFound     = errors.New("room not found")
	ErrInvalidPatch = errors.New("invalid room update")
)

// MaxNotesLength is the longest note, in characters, that an update may carry.
const MaxNotesLength = 2000

const (
	CategoryGeneral = "general"
	CategorySpecial = "special"
)

// Room is one entry of the fixed roster.
type Room struct {
	ID           string    `json:"room_id"`
	DisplayOrder int       `json:"display_order"`
	Category     string    `json:"category"`
	IsActive     bool      `json:"is_active"`
	IsCheckout   bool      `json:"is_checkout"`
	Notes        string    `json:"notes"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	IsActive   *bool   `json:"is_active,omitempty"`
	IsCheckout *bool   `json:"is_checkout,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

func (p Patch) Empty() bool {
	return p.IsActive == nil && p.IsCheckout == nil && p.Notes == nil
}

// Apply returns the room with the patch applied and whether anything changed.
func (p Patch) Apply(r Room) (Room, bool) {
	changed := false
	if p.IsActive != nil && *p.IsActive != r.IsActive {
		r.IsActive = *p.IsActive
		changed = true
	}
	if p.IsCheckout != nil && *p.IsCheckout != r.IsCheckout {
		r.IsCheckout = *p.IsCheckout
		changed = true
	}
	if p.Notes != nil && *p.Notes != r.Notes {
		r.Notes = *p.Notes
		changed = true
	}
	return r, changed
}

func (p Patch) Validate() error {
	if p.Notes != nil && utf8.RuneCountInString(*p.Notes) > MaxNotesLength {
		return fmt.Errorf("%w: notes longer than %d characters", ErrInvalidPatch, MaxNotesLength)
	}
	return nil
}

// DecodePatch parses a JSON object holding any subset of is_active, is_checkout
// and notes. Unknown keys are ignored.
func DecodePatch(data []byte) (Patch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return Patch{}, fmt.Errorf("%w: body must be a json object", ErrInvalidPatch)
	}
	var p Patch
	for key, value := range raw {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			if key == "is_active" || key == "is_checkout" || key == "notes" {
				return Patch{}, fmt.Errorf("%w: %s must not be null", ErrInvalidPatch, key)
			}
			continue
		}
		var err error
		switch key {
		case "is_active":
			p.IsActive = new(bool)
			err = json.Unmarshal(value, p.IsActive)
		case "is_checkout":
			p.IsCheckout = new(bool)
			err = json.Unmarshal(value, p.IsCheckout)
		case "notes":
			p.Notes = new(string)
			err = json.Unmarshal(value, p.Notes)
		}
		if err != nil {
			return Patch{}, fmt.Errorf("%w: bad %s: %v", ErrInvalidPatch, key, err)
		}
	}
	if err := p.Validate(); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// Sort orders rooms by display order, breaking ties by id so reads are stable.
func Sort(rs []Room) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].DisplayOrder != rs[j].DisplayOrder {
			return rs[i].DisplayOrder < rs[j].DisplayOrder
		}
		return rs[i].ID < rs[j].ID
	})
}

// Cleared is the room as a reset leaves it.
func Cleared(r Room, at time.Time) Room {
	r.IsActive = false
	r.IsCheckout = false
	r.Notes = ""
	r.UpdatedAt = at
	return r
}

// NextStamp returns a stamp strictly after prev, preferring now.
func NextStamp(now, prev time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(prev) {
		return prev.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	}
	return now
}

// Latest returns the newest stamp among rs.
func Latest(rs []Room) time.Time {
	var latest time.Time
	for _, r := range rs {
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}
	return latest
}

func Bool(b bool) *bool       { return &b }
func String(s string) *string { return &s }
