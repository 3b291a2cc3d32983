package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/roomboard/pkg/api"
	"github.com/astromechza/roomboard/pkg/config"
	"github.com/astromechza/roomboard/pkg/notify"
	"github.com/astromechza/roomboard/pkg/rooms"
)

type fakeBoard struct {
	calls []string
}

func (f *fakeBoard) ToggleActive(id string)   { f.calls = append(f.calls, "active "+id) }
func (f *fakeBoard) ToggleCheckout(id string) { f.calls = append(f.calls, "checkout "+id) }
func (f *fakeBoard) EditNote(id, text string) { f.calls = append(f.calls, "note "+id+" "+text) }
func (f *fakeBoard) ConfirmSelection()        { f.calls = append(f.calls, "confirm") }
func (f *fakeBoard) BackToSelection()         { f.calls = append(f.calls, "back") }
func (f *fakeBoard) Reset()                   { f.calls = append(f.calls, "reset") }
func (f *fakeBoard) Refresh()                 { f.calls = append(f.calls, "refresh") }
func (f *fakeBoard) BeginEdit(id string)      { f.calls = append(f.calls, "begin "+id) }
func (f *fakeBoard) EndEdit()                 { f.calls = append(f.calls, "end") }
func (f *fakeBoard) Notice(text string)       { f.calls = append(f.calls, "notice") }

func TestInterpreter(t *testing.T) {
	fb := &fakeBoard{}
	in := &interpreter{board: fb, editor: fb}
	for _, line := range []string{
		"a 201", "", "confirm", "c 201", "n 201  fresh towels ", "e 202", "call the guest", "back", "reset", "refresh", "bogus",
	} {
		assert.False(t, in.handle(line), line)
	}
	assert.True(t, in.handle("quit"))
	assert.Equal(t, []string{
		"active 201", "confirm", "checkout 201", "note 201 fresh towels",
		"begin 202", "note 202 call the guest", "end",
		"back", "reset", "refresh", "notice",
	}, fb.calls)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunAgainstServer(t *testing.T) {
	hub := notify.NewHub(16, nil)
	store := rooms.NewStore(rooms.NewMemoryBackend(), hub)
	require.NoError(t, store.Seed(testContext(t), []rooms.Room{
		{ID: "201", DisplayOrder: 1, Category: rooms.CategoryGeneral},
		{ID: "202", DisplayOrder: 2, Category: rooms.CategoryGeneral},
	}))
	srv := httptest.NewServer(api.NewServer(store, hub, api.Options{
		Gate:      api.NewGate("secret", "", ""),
		Heartbeat: time.Hour,
	}).Router())
	defer srv.Close()
	defer hub.Close()

	cfg := config.DefaultClientConfig()
	cfg.Server = srv.URL
	cfg.Password = "secret"
	cfg.PollInterval = time.Hour

	stdin, feed := io.Pipe()
	out := &syncBuffer{}
	errs := make(chan error, 1)
	go func() {
		errs <- run(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), stdin, out)
	}()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "selected 0/2") }, 2*time.Second, 5*time.Millisecond)
	_, err := io.WriteString(feed, "a 201\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r, err := store.Get(context.Background(), "201")
		return err == nil && r.IsActive
	}, 2*time.Second, 5*time.Millisecond)

	_, err = io.WriteString(feed, "quit\n")
	require.NoError(t, err)
	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "client did not exit")
	}
	assert.Contains(t, out.String(), "[x] 201 general")
}

func TestRunRequiresPassword(t *testing.T) {
	hub := notify.NewHub(16, nil)
	store := rooms.NewStore(rooms.NewMemoryBackend(), hub)
	srv := httptest.NewServer(api.NewServer(store, hub, api.Options{Gate: api.NewGate("secret", "", "")}).Router())
	defer srv.Close()

	cfg := config.DefaultClientConfig()
	cfg.Server = srv.URL
	err := run(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), strings.NewReader(""), io.Discard)
	assert.ErrorContains(t, err, "needs a password")
}
