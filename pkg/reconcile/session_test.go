package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/roomboard/pkg/api"
	"github.com/astromechza/roomboard/pkg/client"
	"github.com/astromechza/roomboard/pkg/notify"
	"github.com/astromechza/roomboard/pkg/rooms"
)

type recorder struct {
	mu      sync.Mutex
	full    int
	rows    []string
	notices []string
}

func (r *recorder) Full(View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.full++
}

func (r *recorder) Row(_ View, room rooms.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, room.ID)
}

func (r *recorder) Header(View) {}

func (r *recorder) Notice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
}

func (r *recorder) Notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

type countingPublisher struct {
	next    rooms.Publisher
	updates atomic.Int32
}

func (p *countingPublisher) PublishUpdate(r rooms.Room) {
	p.updates.Add(1)
	p.next.PublishUpdate(r)
}

func (p *countingPublisher) PublishReset(rs []rooms.Room) {
	p.next.PublishReset(rs)
}

type stack struct {
	store     *rooms.Store
	hub       *notify.Hub
	published *countingPublisher
	url       string
}

func newStack(t *testing.T, gate *api.Gate) *stack {
	t.Helper()
	hub := notify.NewHub(16, nil)
	published := &countingPublisher{next: hub}
	store := rooms.NewStore(rooms.NewMemoryBackend(), published)
	require.NoError(t, store.Seed(testContext(t), roster()))
	srv := httptest.NewServer(api.NewServer(store, hub, api.Options{Gate: gate, Heartbeat: time.Hour}).Router())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &stack{store: store, hub: hub, published: published, url: srv.URL}
}

func start(t *testing.T, c *client.Client, rec Renderer, cfg Config) *Session {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.Transport == "" {
		cfg.Transport = client.TransportSSE
	}
	s := NewSession(c, rec, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func TestSessionTogglesThroughServer(t *testing.T) {
	st := newStack(t, nil)
	rec := &recorder{}
	s := start(t, client.New(st.url, client.Options{}), rec, Config{})
	require.Eventually(t, func() bool { return s.View().Loaded }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, ModeSelection, s.View().Mode)

	s.ToggleActive("201")
	r, ok := s.View().Room("201")
	require.True(t, ok)
	assert.True(t, r.IsActive, "visible before the server answers")

	require.Eventually(t, func() bool {
		got, err := st.store.Get(context.Background(), "201")
		return err == nil && got.IsActive
	}, 2*time.Second, 5*time.Millisecond)
	rs, err := st.store.List(context.Background())
	require.NoError(t, err)
	assert.True(t, rs[0].IsActive)
	assert.False(t, rs[1].IsActive)

	require.Eventually(t, func() bool {
		r, _ := s.View().Room("201")
		return !r.UpdatedAt.Equal(t0)
	}, 2*time.Second, 5*time.Millisecond, "server stamp adopted")
}

func TestConcurrentCheckoutConverges(t *testing.T) {
	st := newStack(t, nil)
	_, err := st.store.Update(context.Background(), "201", rooms.Patch{IsActive: rooms.Bool(true)})
	require.NoError(t, err)
	before := st.published.updates.Load()

	var sessions []*Session
	for _, transport := range []string{client.TransportSSE, client.TransportWebsocket} {
		s := start(t, client.New(st.url, client.Options{}), &recorder{}, Config{Transport: transport})
		require.Eventually(t, func() bool { return s.View().Mode == ModeManagement }, 2*time.Second, 5*time.Millisecond)
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		go s.ToggleCheckout("201")
	}

	var final rooms.Room
	require.Eventually(t, func() bool {
		final, err = st.store.Get(context.Background(), "201")
		return err == nil && final.IsCheckout
	}, 2*time.Second, 5*time.Millisecond)

	for _, s := range sessions {
		require.Eventually(t, func() bool {
			r, _ := s.View().Room("201")
			return r.IsCheckout && r.UpdatedAt.Equal(final.UpdatedAt)
		}, 2*time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, before+1, st.published.updates.Load())
}

func TestSessionReadOnly(t *testing.T) {
	st := newStack(t, api.NewGate("secret", "peek", ""))
	_, err := st.store.Update(context.Background(), "202", rooms.Patch{IsActive: rooms.Bool(true)})
	require.NoError(t, err)

	rec := &recorder{}
	s := start(t, client.New(st.url, client.Options{Password: "peek"}), rec, Config{ReadOnly: true})
	require.Eventually(t, func() bool { return s.View().Loaded }, 2*time.Second, 5*time.Millisecond)

	s.ToggleCheckout("202")
	assert.Equal(t, []string{"this session is read-only"}, rec.Notices())
	r, _ := s.View().Room("202")
	assert.False(t, r.IsCheckout)
}

func TestSessionEscalatesUnauthorized(t *testing.T) {
	st := newStack(t, api.NewGate("secret", "", ""))
	var calls atomic.Int32
	start(t, client.New(st.url, client.Options{}), &recorder{}, Config{
		OnUnauthorized: func(error) { calls.Add(1) },
	})
	require.Eventually(t, func() bool { return calls.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionShowsDisconnected(t *testing.T) {
	st := newStack(t, nil)
	s := start(t, client.New(st.url, client.Options{}), &recorder{}, Config{ReconnectDelay: 10 * time.Millisecond})
	require.Eventually(t, func() bool { return s.View().Status == StatusConnected }, 2*time.Second, 5*time.Millisecond)

	st.hub.Close()
	require.Eventually(t, func() bool { return s.View().Status == StatusDisconnected }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionResetReturnsToSelection(t *testing.T) {
	st := newStack(t, nil)
	_, err := st.store.Update(context.Background(), "205", rooms.Patch{IsActive: rooms.Bool(true), Notes: rooms.String("lamp")})
	require.NoError(t, err)

	s := start(t, client.New(st.url, client.Options{}), &recorder{}, Config{})
	require.Eventually(t, func() bool { return s.View().Mode == ModeManagement }, 2*time.Second, 5*time.Millisecond)

	s.Reset()
	require.Eventually(t, func() bool {
		v := s.View()
		r, _ := v.Room("205")
		return v.Mode == ModeSelection && r.Notes == "" && !r.IsActive
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionRevertsWhenUpdateTimesOut(t *testing.T) {
	hub := notify.NewHub(16, nil)
	store := rooms.NewStore(rooms.NewMemoryBackend(), hub)
	require.NoError(t, store.Seed(testContext(t), roster()))
	router := api.NewServer(store, hub, api.Options{Heartbeat: time.Hour}).Router()
	var patches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			patches.Add(1)
			<-r.Context().Done()
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	rec := &recorder{}
	s := start(t, client.New(srv.URL, client.Options{}), rec, Config{RequestTimeout: 50 * time.Millisecond})
	require.Eventually(t, func() bool { return s.View().Loaded }, 2*time.Second, 5*time.Millisecond)

	s.ToggleActive("201")
	r, _ := s.View().Room("201")
	require.True(t, r.IsActive)

	require.Eventually(t, func() bool {
		for _, n := range rec.Notices() {
			if strings.HasPrefix(n, "could not update room 201") {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		r, _ := s.View().Room("201")
		return !r.IsActive
	}, 2*time.Second, 5*time.Millisecond, "reverted by the follow-up snapshot")
	assert.Equal(t, int32(1), patches.Load())
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, 0, s.model.Pending("201"))
}
