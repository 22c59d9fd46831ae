package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/inercia/dbgctl/internal/debugger"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSONOK(w, s.ctrl.Snapshot())
}

// handleSubmit queues a command. With ?wait=<duration> the response is
// delayed until the command finishes or the wait expires.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req debugger.Request
	if !parseJSONBody(w, r, &req) {
		return
	}
	cmd, err := req.Command()
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_command", err.Error())
		return
	}
	wait, ok := s.parseWait(w, r)
	if !ok {
		return
	}
	s.submit(w, r, cmd, wait)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	wait, ok := s.parseWait(w, r)
	if !ok {
		return
	}
	s.submit(w, r, debugger.Interrupt(), wait)
}

func (s *Server) handleQuit(w http.ResponseWriter, r *http.Request) {
	wait, ok := s.parseWait(w, r)
	if !ok {
		return
	}
	s.submit(w, r, debugger.Quit(), wait)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.ctrl.AbortAll()
	writeNoContent(w)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd debugger.Command, wait time.Duration) {
	h := s.ctrl.Submit(cmd)
	s.handles.add(h)
	s.logger.Debug("Command submitted over HTTP", "command", cmd.String(), "handle", h.ID())

	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		if _, err := h.Wait(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			// client went away
			return
		}
	}

	status := http.StatusAccepted
	if isFinished(h) {
		status = http.StatusOK
	}
	writeJSON(w, status, NewHandleView(h))
}

func (s *Server) parseWait(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		return 0, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_wait", "wait must be a duration such as 5s")
		return 0, false
	}
	return min(d, s.config.MaxWait), true
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	h := s.handles.get(r.PathValue("id"))
	if h == nil {
		writeErrorJSON(w, http.StatusNotFound, "not_found", "unknown command handle")
		return
	}
	writeJSONOK(w, NewHandleView(h))
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var loc debugger.Location
	if !parseJSONBody(w, r, &loc) {
		return
	}
	if loc.File == "" && loc.Address == 0 && loc.Function == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_location", "file, address or function is required")
		return
	}
	s.ctrl.ChangeLocation(loc)
	writeNoContent(w)
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	if s.traffic == nil {
		writeErrorJSON(w, http.StatusNotFound, "traffic_disabled", "traffic capture is not enabled")
		return
	}
	writeJSONOK(w, map[string]any{"lines": s.traffic.Lines()})
}
