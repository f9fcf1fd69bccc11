package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/depotjobs/internal/engine"
	"github.com/seantiz/depotjobs/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// searchJobsResponse wraps one page of job snapshots.
type searchJobsResponse struct {
	Items  []model.Snapshot `json:"items"`
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.engine.TryGetJob(chi.URLParam(r, "guid"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleSearchJobs accepts repeated or comma-separated status parameters.
func (s *Server) handleSearchJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	var statuses []model.Status
	for _, param := range r.URL.Query()["status"] {
		for name := range strings.SplitSeq(param, ",") {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			st, err := model.ParseStatus(name)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			statuses = append(statuses, st)
		}
	}

	items, total := s.engine.SearchJobs(engine.JobQuery{
		Statuses:      statuses,
		OwnerNickname: r.URL.Query().Get("owner"),
		Offset:        offset,
		Limit:         limit,
	})

	s.writeJSON(w, http.StatusOK, searchJobsResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleJobCounts(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.StatusCounts())
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")

	err := s.engine.Cancel(guid)
	switch {
	case errors.Is(err, engine.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, model.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("cancel job", "job_guid", guid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	snap, _ := s.engine.TryGetJob(guid)
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")

	err := s.engine.RemoveJob(r.Context(), guid)
	switch {
	case errors.Is(err, engine.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, engine.ErrJobRunning):
		s.writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("remove job", "job_guid", guid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to remove job")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
