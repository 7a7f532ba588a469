// Copyright 2025 James Ross

// Package monitorapi serves the read-only monitoring API as an HTTP surface
// over admin.Monitor: queue counts, group status, bounded lane samples, and
// job lookup by id.
package monitorapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/quaydock/jobqueue/internal/admin"
	"go.uber.org/zap"
)

// Server wires admin.Monitor onto a gorilla/mux router.
type Server struct {
	mon *admin.Monitor
	log *zap.Logger
}

func New(mon *admin.Monitor, log *zap.Logger) *Server {
	return &Server{mon: mon, log: log}
}

// Router builds the handler tree: GET /api/v1/queues/{queue}/counts,
// /groups, /groups/{gid}, /active, /delayed, /failed, /jobs/{id}.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1/queues/{queue}").Subrouter()
	api.HandleFunc("/counts", s.handleCounts).Methods(http.MethodGet)
	api.HandleFunc("/groups", s.handleGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups/{gid}", s.handleGroupStatus).Methods(http.MethodGet)
	api.HandleFunc("/active", s.handleSampleActive).Methods(http.MethodGet)
	api.HandleFunc("/delayed", s.handleSampleDelayed).Methods(http.MethodGet)
	api.HandleFunc("/failed", s.handleSampleFailed).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("monitorapi: encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queue"]
	counts, err := s.mon.Counts(r.Context(), queueName)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, counts)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queue"]
	limit := parseLimit(r, 2000)
	gids, err := s.mon.GroupsReady(r.Context(), queueName, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, gids)
}

func (s *Server) handleGroupStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	status, err := s.mon.GroupStatus(r.Context(), vars["queue"], vars["gid"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) handleSampleActive(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queue"]
	limit := parseLimit(r, 500)
	ids, err := s.mon.SampleActive(r.Context(), queueName, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, ids)
}

func (s *Server) handleSampleDelayed(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queue"]
	limit := parseLimit(r, 500)
	ids, err := s.mon.SampleDelayed(r.Context(), queueName, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, ids)
}

func (s *Server) handleSampleFailed(w http.ResponseWriter, r *http.Request) {
	queueName := mux.Vars(r)["queue"]
	limit := parseLimit(r, 500)
	ids, err := s.mon.SampleFailed(r.Context(), queueName, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, ids)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := s.mon.GetJob(r.Context(), vars["queue"], vars["id"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.writeJSON(w, rec)
}

func parseLimit(r *http.Request, max int64) int64 {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return max
	}
	var n int64
	for _, c := range q {
		if c < '0' || c > '9' {
			return max
		}
		n = n*10 + int64(c-'0')
	}
	if n <= 0 || n > max {
		return max
	}
	return n
}
