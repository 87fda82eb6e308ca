// pattern: Imperative Shell

package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tmuxdeck/internal/notify"
)

// keepaliveInterval is the SSE comment cadence that keeps idle streams
// from being reaped by proxies.
const keepaliveInterval = 30 * time.Second

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handlePinLogin(w http.ResponseWriter, r *http.Request) {
	if !s.auth.enabled() {
		writeError(w, http.StatusBadRequest, "no pin configured")
		return
	}

	var req struct {
		PIN string `json:"pin"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	token, ok := s.auth.login(req.PIN)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid pin")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL / time.Second),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.containers.List(r.Context()))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.containers.Sessions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session listing failed")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	containerID := r.PathValue("id")
	if err := s.tmux.EnsureSession(r.Context(), containerID, req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}

	sessions, _ := s.containers.Sessions(r.Context(), containerID)
	for _, sess := range sessions {
		if sess.Name == req.Name {
			writeJSON(w, http.StatusCreated, sess)
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	if err := s.tmux.KillSession(r.Context(), r.PathValue("id"), r.PathValue("name")); err != nil {
		writeError(w, http.StatusInternalServerError, "kill failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.tmux.RenameSession(r.Context(), r.PathValue("id"), r.PathValue("name"), req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "rename failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.tmux.CreateWindow(r.Context(), r.PathValue("id"), r.PathValue("name"), req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "window creation failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleSwapWindows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.tmux.SwapWindows(r.Context(), r.PathValue("id"), r.PathValue("name"), req.A, req.B); err != nil {
		writeError(w, http.StatusInternalServerError, "swap failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMoveWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From int `json:"from"`
		To   int `json:"to"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.tmux.MoveWindow(r.Context(), r.PathValue("id"), r.PathValue("name"), req.From, req.To); err != nil {
		writeError(w, http.StatusInternalServerError, "move failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSetPaneStatus(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid window index")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.tmux.SetPaneStatus(r.Context(), r.PathValue("id"), r.PathValue("name"), index, req.Status); err != nil {
		writeError(w, http.StatusInternalServerError, "pane status update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolveSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	containerID, name, ok, err := s.tmux.ResolveSessionIDGlobal(r.Context(), s.containers.IDs(r.Context()), req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "resolve failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"container_id": containerID,
		"name":         name,
	})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notifications.Records())
}

func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req notify.CreateRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	rec := s.notifications.Create(req)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDismissNotifications(w http.ResponseWriter, r *http.Request) {
	var req notify.DismissRequest
	if !readJSON(w, r, &req) {
		return
	}
	count := s.notifications.Dismiss(req)
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// handleNotificationStream is the SSE endpoint: one bounded queue per
// subscriber, keepalive comments on idle, termination on broker shutdown.
func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	broker := s.notifications.Broker()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleDebugLog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.debugRing.Entries())
}

func (s *Server) handleDebugLogClear(w http.ResponseWriter, r *http.Request) {
	s.debugRing.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
