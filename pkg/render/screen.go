package render

import (
	"fmt"
	"io"
	"sync"

	"github.com/astromechza/roomboard/pkg/reconcile"
	"github.com/astromechza/roomboard/pkg/rooms"
)

// Screen writes renders to a terminal. While a room's note is being edited,
// neither a full redraw nor a row patch replaces that room's line; the latest
// version is drawn when editing ends.
type Screen struct {
	w io.Writer

	mu       sync.Mutex
	current  map[string]string
	editing  string
	deferred *Fragment
	last     reconcile.View
}

var _ reconcile.Renderer = (*Screen)(nil)

func NewScreen(w io.Writer) *Screen {
	return &Screen{w: w, current: make(map[string]string)}
}

func (s *Screen) Full(v reconcile.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = v
	frags := Board(v)
	for i, f := range frags {
		if s.editing != "" && f.Key == RowKey(s.editing) {
			held := f
			s.deferred = &held
			frags[i].Text = s.current[f.Key]
			continue
		}
		s.current[f.Key] = f.Text
	}
	s.printf("\n%s", Text(frags))
}

func (s *Screen) Row(v reconcile.View, r rooms.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = v
	f := Row(v, r)
	if r.ID == s.editing {
		s.deferred = &f
	} else {
		s.patch(f)
	}
	s.patch(Progress(v))
}

func (s *Screen) Header(v reconcile.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = v
	s.patch(Header(v))
}

func (s *Screen) Notice(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printf("! %s\n", text)
}

// BeginEdit holds the line of room id until EndEdit.
func (s *Screen) BeginEdit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = id
	s.deferred = nil
	if r, ok := s.last.Room(id); ok {
		s.printf("editing note for %s: %s\n", id, oneLine(r.Notes))
	}
}

func (s *Screen) EndEdit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = ""
	if s.deferred != nil {
		s.patch(*s.deferred)
		s.deferred = nil
	}
}

func (s *Screen) patch(f Fragment) {
	if s.current[f.Key] == f.Text {
		return
	}
	s.current[f.Key] = f.Text
	if f.Text == "" {
		s.printf("~ %s hidden\n", f.Key)
		return
	}
	s.printf("~ %s\n", f.Text)
}

func (s *Screen) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.w, format, args...)
}
