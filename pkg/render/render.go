// Package render turns a reconciled view into text fragments. Board draws
// everything; Row draws a single room so an edit or push event can be
// patched in without redrawing the rest.
package render

import (
	"fmt"
	"strings"

	"github.com/astromechza/roomboard/pkg/reconcile"
	"github.com/astromechza/roomboard/pkg/rooms"
)

const (
	KeyHeader   = "header"
	KeyProgress = "progress"
)

// Fragment is one independently replaceable piece of the view. An empty
// Text means the fragment is hidden in the current mode.
type Fragment struct {
	Key  string
	Text string
}

func RowKey(id string) string {
	return "room:" + id
}

func Header(v reconcile.View) Fragment {
	parts := []string{"roomboard", string(v.Mode), string(v.Status)}
	if v.ReadOnly {
		parts = append(parts, "read-only")
	}
	return Fragment{Key: KeyHeader, Text: strings.Join(parts, " | ")}
}

func Progress(v reconcile.View) Fragment {
	checkedOut, active := v.Progress()
	if v.Mode == reconcile.ModeManagement {
		return Fragment{Key: KeyProgress, Text: fmt.Sprintf("checked out %d/%d", checkedOut, active)}
	}
	return Fragment{Key: KeyProgress, Text: fmt.Sprintf("selected %d/%d", active, len(v.Rooms))}
}

func Row(v reconcile.View, r rooms.Room) Fragment {
	f := Fragment{Key: RowKey(r.ID)}
	switch v.Mode {
	case reconcile.ModeManagement:
		if !r.IsActive {
			return f
		}
		state := "open"
		if r.IsCheckout {
			state = "done"
		}
		f.Text = fmt.Sprintf("%s %s %s", r.ID, r.Category, state)
		if r.Notes != "" {
			f.Text += " | " + oneLine(r.Notes)
		}
	default:
		mark := " "
		if r.IsActive {
			mark = "x"
		}
		f.Text = fmt.Sprintf("[%s] %s %s", mark, r.ID, r.Category)
	}
	return f
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Board is the full view in display order.
func Board(v reconcile.View) []Fragment {
	out := make([]Fragment, 0, len(v.Rooms)+2)
	out = append(out, Header(v))
	if !v.Loaded {
		return append(out, Fragment{Key: KeyProgress, Text: "loading"})
	}
	out = append(out, Progress(v))
	for _, r := range v.Rooms {
		out = append(out, Row(v, r))
	}
	return out
}

// Text joins the visible fragments, one per line.
func Text(fragments []Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		if f.Text == "" {
			continue
		}
		b.WriteString(f.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
