package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/roomboard/pkg/client"
	"github.com/astromechza/roomboard/pkg/notify"
	"github.com/astromechza/roomboard/pkg/rooms"
)

// API is the slice of the server the session needs. *client.Client
// satisfies it.
type API interface {
	List(ctx context.Context) ([]rooms.Room, error)
	Update(ctx context.Context, id string, patch rooms.Patch) (rooms.Room, error)
	Reset(ctx context.Context) ([]rooms.Room, error)
	Watch(ctx context.Context, transport string, fn func(notify.Event)) error
}

// Renderer draws the view. Calls are made with the session lock held, in
// the order the model changed.
type Renderer interface {
	Full(v View)
	Row(v View, room rooms.Room)
	Header(v View)
	Notice(text string)
}

type Config struct {
	PollInterval   time.Duration
	SuppressWindow time.Duration
	RequestTimeout time.Duration
	ReconnectDelay time.Duration
	Transport      string
	ReadOnly       bool
	// OnUnauthorized is called when the server rejects the session.
	OnUnauthorized func(error)
	Logger         *slog.Logger
	Now            func() time.Time
}

type Session struct {
	api      API
	renderer Renderer
	cfg      Config
	logger   *slog.Logger

	mu    sync.Mutex
	model *Model
	base  context.Context

	wg sync.WaitGroup
}

func NewSession(api API, renderer Renderer, cfg Config) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.SuppressWindow <= 0 {
		cfg.SuppressWindow = 2 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		api:      api,
		renderer: renderer,
		cfg:      cfg,
		logger:   cfg.Logger,
		model:    NewModel(cfg.SuppressWindow, cfg.ReadOnly),
		base:     context.Background(),
	}
}

// Run loads the board, then polls and listens for push events until ctx is
// done. It waits for in-flight requests before returning.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.dispatch(func(m *Model, now time.Time) Result { return m.RequestSync(false, now) })

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.cfg.PollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.dispatch(func(m *Model, now time.Time) Result { return m.RequestSync(true, now) })
			}
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watch(ctx)
	}()

	<-ctx.Done()
	s.wg.Wait()
	return nil
}

func (s *Session) watch(ctx context.Context) {
	for {
		err := s.api.Watch(ctx, s.cfg.Transport, func(e notify.Event) {
			s.dispatch(func(m *Model, _ time.Time) Result { return m.ApplyPush(e) })
		})
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, client.ErrUnauthorized) {
			s.dispatch(func(m *Model, _ time.Time) Result {
				return m.ApplySyncFailure(Call{Kind: CallSync, Silent: true}, err, true)
			})
			return
		}
		s.logger.Warn("push stream lost", "err", err, "retry", s.cfg.ReconnectDelay)
		s.dispatch(func(m *Model, _ time.Time) Result { return m.SetStatus(StatusDisconnected) })
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.View()
}

func (s *Session) ToggleActive(id string) {
	s.dispatch(func(m *Model, now time.Time) Result { return m.ToggleActive(id, now) })
}

func (s *Session) ToggleCheckout(id string) {
	s.dispatch(func(m *Model, now time.Time) Result { return m.ToggleCheckout(id, now) })
}

func (s *Session) EditNote(id, text string) {
	s.dispatch(func(m *Model, now time.Time) Result { return m.EditNote(id, text, now) })
}

func (s *Session) ConfirmSelection() {
	s.dispatch(func(m *Model, _ time.Time) Result { return m.ConfirmSelection() })
}

func (s *Session) BackToSelection() {
	s.dispatch(func(m *Model, _ time.Time) Result { return m.BackToSelection() })
}

func (s *Session) Reset() {
	s.dispatch(func(m *Model, _ time.Time) Result { return m.RequestReset() })
}

// Refresh pulls a snapshot now, ignoring the suppression window.
func (s *Session) Refresh() {
	s.dispatch(func(m *Model, now time.Time) Result { return m.RequestSync(false, now) })
}

// Wait blocks until every request issued so far has completed.
func (s *Session) Wait() {
	s.wg.Wait()
}

// dispatch runs a model transition and its render synchronously, then
// issues any network call in the background.
func (s *Session) dispatch(fn func(m *Model, now time.Time) Result) {
	s.mu.Lock()
	res := fn(s.model, s.cfg.Now())
	s.renderLocked(res)
	base := s.base
	s.mu.Unlock()

	if res.Unauthorized && s.cfg.OnUnauthorized != nil {
		s.cfg.OnUnauthorized(client.ErrUnauthorized)
	}
	if res.Call != nil && base.Err() == nil {
		call := *res.Call
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.perform(base, call)
		}()
	}
}

func (s *Session) renderLocked(res Result) {
	if s.renderer == nil {
		return
	}
	switch res.Render {
	case RenderFull:
		s.renderer.Full(s.model.View())
	case RenderRow:
		v := s.model.View()
		if r, ok := v.Room(res.RoomID); ok {
			s.renderer.Row(v, r)
		}
	case RenderHeader:
		s.renderer.Header(s.model.View())
	}
	if res.Notice != "" {
		s.renderer.Notice(res.Notice)
	}
}

func (s *Session) perform(base context.Context, call Call) {
	ctx, cancel := context.WithTimeout(base, s.cfg.RequestTimeout)
	defer cancel()

	switch call.Kind {
	case CallUpdate:
		room, err := s.api.Update(ctx, call.RoomID, call.Patch)
		if err != nil {
			s.logger.Warn("update failed", "room", call.RoomID, "err", err)
			s.dispatch(func(m *Model, _ time.Time) Result {
				return m.ApplyUpdateFailure(call.RoomID, err, errors.Is(err, client.ErrUnauthorized))
			})
			return
		}
		s.dispatch(func(m *Model, _ time.Time) Result { return m.ApplyConfirm(call.RoomID, room) })
	case CallReset:
		roster, err := s.api.Reset(ctx)
		if err != nil {
			s.logger.Warn("reset failed", "err", err)
			s.dispatch(func(m *Model, _ time.Time) Result {
				return m.ApplyResetFailure(err, errors.Is(err, client.ErrUnauthorized))
			})
			return
		}
		s.dispatch(func(m *Model, _ time.Time) Result { return m.ApplyReset(roster) })
	case CallSync:
		snapshot, err := s.api.List(ctx)
		if err != nil {
			if base.Err() != nil {
				return
			}
			s.logger.Warn("snapshot pull failed", "silent", call.Silent, "err", err)
			s.dispatch(func(m *Model, _ time.Time) Result {
				return m.ApplySyncFailure(call, err, errors.Is(err, client.ErrUnauthorized))
			})
			return
		}
		s.dispatch(func(m *Model, now time.Time) Result {
			return m.ApplySnapshot(call.Seq, call.Silent, snapshot, now)
		})
	}
}
