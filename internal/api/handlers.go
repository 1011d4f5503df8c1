package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattjoyce/familiar/internal/events"
	"github.com/mattjoyce/familiar/internal/frontmatter"
	"github.com/mattjoyce/familiar/internal/inspect"
	"github.com/mattjoyce/familiar/internal/jobstore"
)

const maxSubmitBytes = 1 << 20

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	counts := make(map[jobstore.State]int, 4)
	for _, state := range jobstore.AllStates() {
		entries, err := s.store.List(state)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to list "+state.Dir())
			return
		}
		counts[state] = len(entries)
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Jobs:          counts,
	})
}

// handleListJobs handles GET /jobs?state=.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	states := jobstore.AllStates()
	if raw := r.URL.Query().Get("state"); raw != "" {
		state, err := jobstore.ParseState(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		states = []jobstore.State{state}
	}

	resp := JobListResponse{Jobs: make([]JobSummary, 0)}
	for _, state := range states {
		entries, err := s.store.List(state)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to list "+state.Dir())
			return
		}
		for _, e := range entries {
			resp.Jobs = append(resp.Jobs, JobSummary{
				Name:     e.Name,
				State:    e.State,
				Size:     e.Size,
				Modified: e.ModTime,
			})
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetJob handles GET /jobs/{state}/{name}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	state, err := jobstore.ParseState(chi.URLParam(r, "state"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := inspect.GatherState(s.store, state, chi.URLParam(r, "name"))
	if err != nil {
		switch {
		case errors.Is(err, jobstore.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "job not found")
		default:
			s.logger.Error("inspect job failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to read job")
		}
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleSubmitJob handles POST /jobs.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name != "" && filepath.Ext(name) == "" {
		name += ".md"
	}
	if name == "" || strings.HasPrefix(name, ".") {
		s.writeError(w, http.StatusBadRequest, "name is required and must not be hidden")
		return
	}
	if !s.store.Matches(name) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("name %q does not match the watched patterns", name))
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		s.writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	content, err := buildContent(req.Metadata, req.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dest, err := s.store.Submit(name, content)
	if err != nil {
		if errors.Is(err, jobstore.ErrInvalidName) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit job failed", "job", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	submitted := filepath.Base(dest)
	s.logger.Info("job submitted", "job", submitted, "request_id", requestID(r))
	s.events.Publish(events.JobSubmitted, events.JobPayload{Job: submitted})

	respondJSON(w, http.StatusCreated, SubmitResponse{
		Name:  submitted,
		State: jobstore.StatePending,
		Path:  dest,
	})
}

// buildContent renders metadata as frontmatter ahead of body. Keys are
// sorted so the same request always yields the same file.
func buildContent(metadata map[string]any, body string) (string, error) {
	if len(metadata) == 0 {
		return body, nil
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	meta := frontmatter.New()
	for _, k := range keys {
		if k == "" || strings.ContainsAny(k, ":\r\n") || strings.TrimSpace(k) != k {
			return "", fmt.Errorf("invalid metadata key %q", k)
		}
		switch v := metadata[k].(type) {
		case string:
			if strings.ContainsAny(v, "\r\n") || strings.Contains(v, frontmatter.Delimiter) {
				return "", fmt.Errorf("metadata %q must be a single line", k)
			}
			meta.Set(k, v)
		case json.Number:
			n, err := v.Int64()
			if err != nil || n < 0 {
				return "", fmt.Errorf("metadata %q must be a non-negative integer or a string", k)
			}
			meta.Set(k, int(n))
		default:
			return "", fmt.Errorf("metadata %q must be a string or an integer", k)
		}
	}
	return frontmatter.Encode(meta, body), nil
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
