package api

import (
	"net/http"

	"github.com/seantiz/depotjobs/internal/model"
)

type healthResponse struct {
	Status string `json:"status"`
	// Jobs is the number of jobs per status.
	Jobs map[model.Status]int `json:"jobs"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Jobs:   s.engine.StatusCounts(),
	})
}

func (s *Server) handleListKinds(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"kinds": s.registry.Kinds()})
}
