package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"slotopt/internal/assign"
	"slotopt/internal/estimate"
	"slotopt/internal/evaluation"
	"slotopt/internal/model"
	"slotopt/internal/runs"
	"slotopt/internal/search"
)

// CreateOptimization handles POST /v1/optimizations
func (s *Server) CreateOptimization(w http.ResponseWriter, r *http.Request) {
	var req model.OptimizationRequest
	if !s.decode(w, r, &req) {
		return
	}
	run, err := s.Runs.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.Runs.Get(r.Context(), run.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/optimizations/"+run.ID)
	writeJSON(w, http.StatusCreated, out)
}

// ListOptimizations handles GET /v1/optimizations?cursor=&limit=
func (s *Server) ListOptimizations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.Runs.List(r.Context(), q.Get("cursor"), intQuery(r, "limit", 100))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) GetOptimization(w http.ResponseWriter, r *http.Request) {
	out, err := s.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) DeleteOptimization(w http.ResponseWriter, r *http.Request) {
	if err := s.Runs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunOptimization handles POST /v1/optimizations/{id}/run. The run is queued unless
// wait=true, in which case the best result is returned once the run ends.
func (s *Server) RunOptimization(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if r.URL.Query().Get("wait") != "true" {
		if err := s.Runs.Start(id); err != nil {
			s.fail(w, r, err)
			return
		}
		out, err := s.Runs.Get(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, out)
		return
	}
	if _, err := s.Runs.Run(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.Runs.Results(id, 1)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res[0])
}

func (s *Server) AbortOptimization(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Runs.Abort(id); err != nil {
		s.fail(w, r, err)
		return
	}
	out, err := s.Runs.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (s *Server) OptimizationStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.Runs.Statistics(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// OptimizationResults handles GET /v1/optimizations/{id}/results?limit=
func (s *Server) OptimizationResults(w http.ResponseWriter, r *http.Request) {
	res, err := s.Runs.Results(chi.URLParam(r, "id"), intQuery(r, "limit", 1))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AssignmentOptimum solves one objective exactly.
func (s *Server) AssignmentOptimum(w http.ResponseWriter, r *http.Request) {
	var req model.AssignmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := runs.BuildModel(req.Flights, req.Slots, req.Objective+1)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res := assign.Optimum(m, req.Objective)
	seq := make([]string, m.NumSlots())
	for f, slot := range res.Assignment {
		seq[slot] = m.Flights()[f].ID
	}
	out := model.OptimumOut{Value: res.Value}
	for _, id := range seq {
		if id != "" {
			out.FlightSequence = append(out.FlightSequence, id)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// AssignmentFront estimates the two-objective Pareto front.
func (s *Server) AssignmentFront(w http.ResponseWriter, r *http.Request) {
	var req model.AssignmentRequest
	if !s.decode(w, r, &req) {
		return
	}
	m, err := runs.BuildModel(req.Flights, req.Slots, 2)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.FrontOut{
		TheoreticalMaxima: assign.TheoreticalMaxima(m),
		Front:             assign.EstimateFront(m, req.Granularity),
	})
}

// OperatorsHandler lists the names accepted in optimization parameters.
func (s *Server) OperatorsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"methods":                  runs.Methods(),
		"mutators":                 search.Mutators(),
		"crossovers":               search.Crossovers(),
		"singleObjectiveSelectors": search.Selectors(evaluation.SingleObjective),
		"dualObjectiveSelectors":   search.Selectors(evaluation.DualObjective),
		"fitnessEstimators":        estimate.Names(),
		"defaults":                 search.Defaults(),
	})
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
