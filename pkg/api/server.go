// Package api is the HTTP face of the room store: REST reads and partial
// updates, a reset action, and server push over SSE or websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/astromechza/roomboard/pkg/metrics"
	"github.com/astromechza/roomboard/pkg/notify"
	"github.com/astromechza/roomboard/pkg/report"
	"github.com/astromechza/roomboard/pkg/rooms"
)

const maxBodyBytes = 64 << 10

type Store interface {
	List(ctx context.Context) ([]rooms.Room, error)
	Get(ctx context.Context, id string) (rooms.Room, error)
	Update(ctx context.Context, id string, patch rooms.Patch) (rooms.Room, error)
	Reset(ctx context.Context) ([]rooms.Room, error)
}

type Subscriber interface {
	Subscribe() (*notify.Subscription, error)
}

type Options struct {
	Gate      *Gate
	Metrics   *metrics.Metrics
	Heartbeat time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

type Server struct {
	store     Store
	hub       Subscriber
	gate      *Gate
	metrics   *metrics.Metrics
	heartbeat time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewServer(store Store, hub Subscriber, opts Options) *Server {
	s := &Server{
		store:     store,
		hub:       hub,
		gate:      opts.Gate,
		metrics:   opts.Metrics,
		heartbeat: opts.Heartbeat,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if s.gate == nil {
		s.gate = NewGate("", "", "")
	}
	if s.heartbeat <= 0 {
		s.heartbeat = 30 * time.Second
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Methods(http.MethodGet).Path("/metrics").Handler(s.metrics.Handler())
	}
	r.Methods(http.MethodPost).Path("/api/login").HandlerFunc(s.login)
	r.Methods(http.MethodPost).Path("/api/logout").HandlerFunc(s.logout)

	authed := r.PathPrefix("/api").Subrouter()
	authed.Use(s.gate.Require)
	authed.Methods(http.MethodGet).Path("/session").HandlerFunc(s.session)
	authed.Methods(http.MethodGet).Path("/rooms").HandlerFunc(s.listRooms)
	authed.Methods(http.MethodGet).Path("/rooms/{id}").HandlerFunc(s.getRoom)
	authed.Methods(http.MethodPatch).Path("/rooms/{id}").HandlerFunc(RequireOperator(s.patchRoom))
	authed.Methods(http.MethodPost).Path("/reset").HandlerFunc(RequireOperator(s.reset))
	authed.Methods(http.MethodGet).Path("/events").HandlerFunc(s.events)
	authed.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.websocket)
	authed.Methods(http.MethodGet).Path("/report.xlsx").HandlerFunc(s.report)
	return r
}

func (s *Server) accessLog(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		s.logger.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		if s.metrics != nil {
			route := request.URL.Path
			if cr := mux.CurrentRoute(request); cr != nil {
				if tpl, err := cr.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			s.metrics.ObserveRequest(route, request.Method, m.Code, m.Duration)
		}
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

type sessionResponse struct {
	Role     Role `json:"role"`
	ReadOnly bool `json:"read_only"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "malformed login body")
			return
		}
	} else {
		in.Password = r.FormValue("password")
	}
	token, role, ok := s.gate.Login(in.Password)
	if !ok {
		s.logger.Warn("rejected login", "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.gate.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, sessionResponse{Role: role, ReadOnly: role != RoleOperator})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(s.gate.cookieName); err == nil {
		s.gate.Logout(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: s.gate.cookieName, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	role := RoleFrom(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse{Role: role, ReadOnly: role != RoleOperator})
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rs, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list rooms", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	room, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get", id, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) patchRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.countMutation("update", "invalid")
		writeError(w, http.StatusBadRequest, "request body too large")
		return
	}
	patch, err := rooms.DecodePatch(body)
	if err != nil {
		s.countMutation("update", "invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	room, err := s.store.Update(r.Context(), id, patch)
	if err != nil {
		s.writeStoreError(w, "update", id, err)
		return
	}
	s.countMutation("update", "ok")
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	roster, err := s.store.Reset(r.Context())
	if err != nil {
		s.countMutation("reset", "error")
		s.logger.Error("failed to reset rooms", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to reset rooms")
		return
	}
	s.countMutation("reset", "ok")
	writeJSON(w, http.StatusOK, roster)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	rs, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list rooms for report", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	now := s.now()
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="rooms-`+now.Format("2006-01-02")+`.xlsx"`)
	if err := report.Write(w, rs, now); err != nil {
		s.logger.Error("failed to write report", "err", err)
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, op, id string, err error) {
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		s.countMutationIf(op, "not_found")
		writeError(w, http.StatusNotFound, "room "+id+" not found")
	case errors.Is(err, rooms.ErrInvalidPatch):
		s.countMutationIf(op, "invalid")
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.countMutationIf(op, "error")
		s.logger.Error("room store failure", "op", op, "room", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to "+op+" room")
	}
}

func (s *Server) countMutationIf(op, result string) {
	if op != "get" {
		s.countMutation(op, result)
	}
}

func (s *Server) countMutation(op, result string) {
	if s.metrics != nil {
		s.metrics.CountMutation(op, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
