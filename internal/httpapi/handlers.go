package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"nudge/internal/dispatch"
	"nudge/internal/eventbus"
	"nudge/internal/session"
	"nudge/internal/transport"
	logx "nudge/pkg/logx"
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	User   string        `json:"user"`
	Unread int           `json:"unread"`
	Stream *streamStatus `json:"stream,omitempty"`
}

type streamStatus struct {
	State          string `json:"state"`
	RetryDelayMS   int64  `json:"retry_delay_ms"`
	RetryCeilingMS int64  `json:"retry_ceiling_ms"`
}

type readResponse struct {
	ID    string `json:"id"`
	Found bool   `json:"found"`
}

type pollResponse struct {
	Group string `json:"group"`
	Items int    `json:"items"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	resp := statusResponse{User: sess.UserID(), Unread: sess.Dispatcher().Snapshot().Unread}
	if h, ok := sess.StreamState(); ok {
		resp.Stream = &streamStatus{
			State:          h.State.String(),
			RetryDelayMS:   h.RetryDelay.Milliseconds(),
			RetryCeilingMS: h.RetryCeiling.Milliseconds(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r.Context()).Dispatcher().Snapshot())
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	d := sessionFrom(r.Context()).Dispatcher()
	if err := d.MarkAllRead(r.Context()); err != nil {
		s.commandFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, found, err := sessionFrom(r.Context()).Dispatcher().MarkRead(r.Context(), id)
	if err != nil {
		s.commandFailed(w, r, err)
		return
	}
	status := http.StatusOK
	if !found {
		status = http.StatusNotFound
	}
	writeJSON(w, status, readResponse{ID: id, Found: found})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r.Context()).Dispatcher().Clear(r.Context()); err != nil {
		s.commandFailed(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOpen is the click-through target: acknowledge, then redirect to the
// item's page in the application.
func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	d := sessionFrom(r.Context()).Dispatcher()
	id := chi.URLParam(r, "id")
	it, found, err := d.MarkRead(r.Context(), id)
	if err != nil {
		s.commandFailed(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown notification")
		return
	}
	http.Redirect(w, r, transport.JoinURL(s.cfg.AppBaseURL, it.NavigationPath), http.StatusFound)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	n, err := sessionFrom(r.Context()).PollNow(r.Context(), group)
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			s.commandFailed(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, pollResponse{Group: group, Items: n})
}

func (s *Server) commandFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dispatch.ErrStopped), errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "session closed")
	case r.Context().Err() != nil:
		// client went away
	default:
		s.log.Warn("command failed", logx.String("path", r.URL.Path), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleEvents streams the user's notification events as server-sent
// events. The first event is the current projection.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotImplemented, "events disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sess := sessionFrom(r.Context())
	events, unsubscribe := s.bus.Subscribe(eventbus.Filter{User: sess.UserID(), Types: []string{"notification."}}, sseBuffer)
	defer unsubscribe()

	subID := uuid.NewString()
	log := s.log.With(logx.String("user", sess.UserID()), logx.String("sub", subID))
	log.Debug("sse subscriber attached")
	defer log.Debug("sse subscriber detached")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	seq := 0
	send := func(typ string, data any) bool {
		b, err := json.Marshal(data)
		if err != nil {
			log.Warn("sse encode failed", logx.String("type", typ), logx.Err(err))
			return true
		}
		seq++
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, typ, b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send(dispatch.EventProjection, sess.Dispatcher().Snapshot()) {
		return
	}

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok || !send(ev.Type, ev.Data) {
				return
			}
		}
	}
}
