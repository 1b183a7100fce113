package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/JonMunkholm/erpimport/internal/core"
	"github.com/JonMunkholm/erpimport/internal/logging"
	"github.com/JonMunkholm/erpimport/internal/web/templates"
)

// multipartOverhead is allowed on top of the file size for form framing.
const multipartOverhead = 1 << 20

// AnalyzeResponse is returned by the analyze endpoint.
type AnalyzeResponse struct {
	SessionID string          `json:"sessionId"`
	FileName  string          `json:"fileName"`
	Plan      core.ImportPlan `json:"plan"`
}

// StatsResponse reports dataset size and parse slot usage.
type StatsResponse struct {
	Records int                `json:"records"`
	Parsing core.LimiterStatus `json:"parsing"`
	Status  core.Status        `json:"status"`
}

// readUpload reads the "file" form field, enforcing the configured size.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, errFileTooLarge
		}
		return "", nil, fmt.Errorf("%w: %v", errNoFile, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, errNoFile
	}
	defer file.Close()

	if header.Size > maxSize {
		return "", nil, errFileTooLarge
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	return header.Filename, data, nil
}

// handleAnalyze parses an uploaded Core Data file and returns its plan.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	plan, err := s.service.Analyze(withRequester(r), name, data)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	progress := s.service.Progress()
	if isHTMX(r) {
		s.renderProgress(w, r, http.StatusOK, progress)
		return
	}
	writeJSON(w, r, http.StatusOK, AnalyzeResponse{
		SessionID: progress.ID,
		FileName:  name,
		Plan:      plan,
	})
}

// handleExecute starts applying the analyzed file in the background.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if err := s.service.StartExecute(withRequester(r)); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	s.renderProgress(w, r, http.StatusAccepted, s.service.Progress())
}

// handleCancel discards the pending import or stops a running one.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.service.Cancel()
	s.renderProgress(w, r, http.StatusOK, s.service.Progress())
}

// handleProgress returns the session state, polled by the UI.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.renderProgress(w, r, http.StatusOK, s.service.Progress())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.DatasetCount(r.Context())
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, StatsResponse{
		Records: n,
		Parsing: s.service.LimiterStatus(),
		Status:  s.service.Progress().Status,
	})
}

// handleAnalyticsImport replaces the analytics table with an uploaded sheet.
func (s *Server) handleAnalyticsImport(w http.ResponseWriter, r *http.Request) {
	name, data, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	result, err := s.service.ImportAnalytics(withRequester(r), name, data)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// renderProgress writes p as JSON, or as the progress partial for HTMX.
func (s *Server) renderProgress(w http.ResponseWriter, r *http.Request, status int, p core.ImportProgress) {
	if !isHTMX(r) {
		writeJSON(w, r, status, p)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ImportProgress(p).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render progress partial", "error", err)
	}
}
