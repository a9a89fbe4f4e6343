// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/watchthefall/portal/internal/log"
	"github.com/watchthefall/portal/internal/store"
)

// allowedUploadExts lists the container formats accepted for upload.
var allowedUploadExts = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
}

// unsafeNameChars matches everything we strip from client-supplied filenames.
var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeFilename reduces a client-supplied name to a safe basename.
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = unsafeNameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	return base
}

// handleUpload accepts a multipart video upload and stores it under a
// unique name in the upload directory.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no video file in request")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUploadExts[ext] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type %q", ext))
		return
	}

	base := sanitizeFilename(header.Filename)
	if base == "" {
		base = "upload" + ext
	}
	name := uuid.NewString()[:8] + "_" + base
	dst := filepath.Join(s.cfg.UploadDir, name)

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Str(log.FieldPath, dst).Msg("create upload target")
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	n, err := io.Copy(out, file)
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(dst)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	logger := log.WithComponent("api")
	logger.Info().
		Str("filename", name).
		Int64("bytes", n).
		Msg("video uploaded")
	_ = s.store.AppendEvent(r.Context(), store.Event{
		Severity: "info",
		Message:  fmt.Sprintf("uploaded %s (%d bytes)", name, n),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"filename": name,
		"size":     n,
	})
}

type processRequest struct {
	Filename    string `json:"filename"`
	Template    string `json:"template"`
	AspectRatio string `json:"aspect_ratio"`
}

// handleProcess starts an asynchronous processing job for a previously
// uploaded file and responds 202 with the job ID.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	if req.Filename != filepath.Base(req.Filename) || strings.Contains(req.Filename, "..") {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if req.Template == "" {
		req.Template = "ScotlandWTF"
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "9:16"
	}

	srcPath := filepath.Join(s.cfg.UploadDir, req.Filename)
	if _, err := os.Stat(srcPath); err != nil {
		writeError(w, http.StatusNotFound, "uploaded file not found")
		return
	}

	jobID, err := s.manager.Submit(r.Context(), srcPath, req.Template, req.AspectRatio)
	if err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("submit job")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"job_id":     jobID,
		"status":     string(store.StatusQueued),
		"status_url": "/api/videos/status/" + jobID,
	})
}

// jobResponse shapes a job record for the status and recent endpoints.
func jobResponse(job *store.Job) map[string]any {
	resp := map[string]any{
		"job_id":       job.ID,
		"status":       string(job.Status),
		"template":     job.Template,
		"aspect_ratio": job.AspectRatio,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	}
	switch job.Status {
	case store.StatusCompleted:
		resp["output_file"] = job.OutputPath
		resp["download_url"] = "/api/videos/download/" + job.OutputPath
	case store.StatusFailed:
		resp["error"] = job.ErrorMessage
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.manager.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read job")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// handleDownload serves a finished output file as an attachment. The
// filename is confined to the output directory.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	path := filepath.Join(s.cfg.OutputDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeNotFound(w)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	jobsList, err := s.manager.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	out := make([]map[string]any, 0, len(jobsList))
	for _, j := range jobsList {
		out = append(out, jobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

type fetchRequest struct {
	URLs []string `json:"urls"`
}

// handleFetch downloads remote clips into the shared output area, where
// they are served next to rendered outputs.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "remote fetch is not configured")
		return
	}
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	results, err := s.fetcher.FetchAll(r.Context(), req.URLs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		entry := map[string]any{"url": res.URL, "ok": res.Err == nil}
		if res.Err != nil {
			entry["error"] = res.Err.Error()
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}
