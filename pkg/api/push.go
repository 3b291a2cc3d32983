package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/roomboard/pkg/notify"
)

// events streams changes as text/event-stream until the client goes away
// or the notifier evicts it.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	sub, err := s.hub.Subscribe()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "notifier unavailable")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	logger := s.logger.With("subscriber", sub.ID, "transport", "sse")
	logger.Debug("push stream opened")
	for {
		select {
		case <-r.Context().Done():
			logger.Debug("push stream closed by client")
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				logger.Debug("client disconnected during heartbeat", "err", err)
				return
			}
			flusher.Flush()
		case e, ok := <-sub.Events:
			if !ok {
				logger.Info("push stream ended by notifier")
				return
			}
			if err := notify.WriteSSE(w, e, sub.ID); err != nil {
				logger.Debug("client disconnected during event", "err", err)
				return
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// websocket pushes the same events as JSON frames. Inbound messages are
// read only to notice when the peer closes.
func (s *Server) websocket(w http.ResponseWriter, r *http.Request) {
	sub, err := s.hub.Subscribe()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "notifier unavailable")
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "err", err)
		return
	}
	defer conn.Close()

	logger := s.logger.With("subscriber", sub.ID, "transport", "websocket")
	closed := make(chan struct{})
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logger.Debug("websocket read ended", "err", err)
				return
			}
		}
	}()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	func() {
		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					logger.Debug("failed to ping", "err", err)
					return
				}
			case e, ok := <-sub.Events:
				if !ok {
					logger.Info("push stream ended by notifier")
					return
				}
				frame, err := notify.NewFrame(e, sub.ID)
				if err != nil {
					logger.Error("failed to encode frame", "err", err)
					continue
				}
				if err := conn.WriteJSON(frame); err != nil {
					logger.Debug("failed to write frame", "err", err)
					return
				}
			}
		}
	}()

	_ = conn.Close()
	wg.Wait()
}
