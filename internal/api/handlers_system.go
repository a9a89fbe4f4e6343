// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/watchthefall/portal/internal/store"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTemplates lists the watermark brands currently on disk.
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	brands := s.resolver.Brands()
	out := make([]map[string]string, 0, len(brands))
	for _, b := range brands {
		out = append(out, map[string]string{"name": b})
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

// handleLogs returns the most recent activity log entries.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	events, err := s.store.RecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": events})
}

// handleQueue summarizes jobs that are still in flight.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	jobsList, err := s.store.ListRecent(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	var queued, processing int
	active := make([]map[string]any, 0)
	for _, j := range jobsList {
		switch j.Status {
		case store.StatusQueued:
			queued++
		case store.StatusProcessing:
			processing++
		default:
			continue
		}
		active = append(active, jobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queued":     queued,
		"processing": processing,
		"max_slots":  s.cfg.MaxConcurrentJobs,
		"jobs":       active,
	})
}
