// Package router is the thin HTTP shell over the search core: one SSE
// streaming endpoint, session lookup and cancellation. It maps the
// core's error kinds onto HTTP statuses and treats client disconnect as
// an implicit cancellation.
package router

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eventscope/eventscope/internal/models"
	"github.com/eventscope/eventscope/internal/search"
	ec "github.com/eventscope/eventscope/pkgs/errors"
)

type Router struct {
	core   *search.Orchestrator
	logger zerolog.Logger
}

func New(core *search.Orchestrator, logger zerolog.Logger) *http.ServeMux {
	r := &Router{core: core, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/search", r.StartSearch)
	mux.HandleFunc("GET /api/sessions/{id}", r.GetSession)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", r.CancelSession)
	mux.HandleFunc("GET /healthz", r.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// StartSearch runs one search and streams its frames as server-sent
// events. The handler returns when the terminal frame has been written
// or the client has gone away.
func (r *Router) StartSearch(w http.ResponseWriter, req *http.Request) {
	var query models.Query
	if err := json.NewDecoder(req.Body).Decode(&query); err != nil {
		writeError(w, ec.ErrBadRequest.Clone().WithDetails("malformed request body"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, ec.ErrFatal.Clone().WithDetails("streaming unsupported"))
		return
	}

	session, frames, serr := r.core.StartSearch(req.Context(), query)
	if serr != nil {
		writeError(w, serr)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	r.logger.Info().
		Str("session", session.ID.String()).
		Str("phrase", session.Query.Phrase).
		Msg("search stream opened")

	for frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to marshal frame")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client is gone; the core observes the dead context and
			// winds the session down on its own.
			r.logger.Debug().
				Str("session", session.ID.String()).
				Err(err).
				Msg("client disconnected from stream")
			return
		}
		flusher.Flush()
	}
}

// GetSession returns the full session state for one id.
func (r *Router) GetSession(w http.ResponseWriter, req *http.Request) {
	session, serr := r.core.GetSession(req.PathValue("id"))
	if serr != nil {
		writeError(w, serr)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// CancelSession flips the cancellation flag of a running session. A
// request against a terminal session is a no-op.
func (r *Router) CancelSession(w http.ResponseWriter, req *http.Request) {
	result, serr := r.core.CancelSession(req.PathValue("id"))
	if serr != nil {
		writeError(w, serr)
		return
	}

	status := "cancelled"
	if result == search.CancelAlreadyTerminal {
		status = "already_terminal"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (r *Router) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(ec.Success.HttpStatusCode)
	_ = ec.Success.MarshalAndWriteTo(w)
}

func writeError(w http.ResponseWriter, e *ec.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.HttpStatusCode)
	_ = e.MarshalAndWriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
