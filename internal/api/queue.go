package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/seantiz/depotjobs/internal/engine"
	"github.com/seantiz/depotjobs/internal/jobs/purge"
	"github.com/seantiz/depotjobs/internal/jobs/recompress"
	"github.com/seantiz/depotjobs/internal/jobs/report"
	"github.com/seantiz/depotjobs/internal/model"
)

// queueReportRequest is the optional JSON body for POST /v1/jobs/report.
type queueReportRequest struct {
	OwnerNickname string         `json:"owner_user_nickname"`
	Statuses      []model.Status `json:"statuses"`
	Gzip          bool           `json:"gzip"`
}

// queueRecompressRequest is the JSON body for POST /v1/jobs/recompress.
type queueRecompressRequest struct {
	OwnerNickname string `json:"owner_user_nickname"`
	DataGUID      string `json:"data_guid"`
}

type queueJobResponse struct {
	GUID string `json:"guid"`
}

func (s *Server) handleQueueReport(w http.ResponseWriter, r *http.Request) {
	var req queueReportRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	statuses := make([]model.Status, 0, len(req.Statuses))
	for _, st := range req.Statuses {
		parsed, err := model.ParseStatus(string(st))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		statuses = append(statuses, parsed)
	}

	spec := &report.Specification{
		BaseSpecification: model.BaseSpecification{Owner: req.OwnerNickname},
		Statuses:          statuses,
		Gzip:              req.Gzip,
	}
	s.submit(w, r, spec, model.CoalesceInFlight)
}

func (s *Server) handleQueuePurge(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, &purge.Specification{}, model.CoalesceInFlight)
}

func (s *Server) handleQueueRecompress(w http.ResponseWriter, r *http.Request) {
	var req queueRecompressRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !model.ValidID(req.DataGUID) {
		s.writeError(w, http.StatusBadRequest, "data_guid is required")
		return
	}

	spec := &recompress.Specification{
		BaseSpecification: model.BaseSpecification{Owner: req.OwnerNickname},
		DataGUID:          req.DataGUID,
	}
	s.submit(w, r, spec, model.CoalesceInFlight)
}

// submit queues spec and writes 202 with the job GUID, which may be that
// of an equivalent job already in flight.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, spec model.Specification, coalesce model.StatusSet) {
	guid, err := s.engine.Submit(r.Context(), spec, coalesce)
	switch {
	case errors.Is(err, engine.ErrQueueFull), errors.Is(err, engine.ErrNotRunning):
		w.Header().Set("Retry-After", "30")
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, engine.ErrDataNotFound), errors.Is(err, engine.ErrDuplicateGUID):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("submit job", "kind", spec.Kind(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, queueJobResponse{GUID: guid})
}
