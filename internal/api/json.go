package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"slotopt/internal/oracle"
	"slotopt/internal/runs"
	"slotopt/internal/search"
	"slotopt/internal/store"
)

const maxBody = 16 << 20

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// decode reads a JSON body into v and validates it. It writes the problem response
// itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Validation failed", validationDetail(err), r.URL.Path)
		return false
	}
	return true
}

func validationDetail(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, len(ve))
	for i, fe := range ve {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if fe.Param() != "" {
			msgs[i] = fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param())
		} else {
			msgs[i] = fmt.Sprintf("%s: failed %s", field, fe.Tag())
		}
	}
	return strings.Join(msgs, "; ")
}

// fail maps service errors to problem responses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ce *search.ConfigError
	var oe *oracle.Error
	switch {
	case errors.As(err, &ce):
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid optimization parameters", err.Error(), r.URL.Path)
	case errors.Is(err, runs.ErrInvalidInput):
		writeProblem(w, http.StatusBadRequest, "Invalid optimization input", err.Error(), r.URL.Path)
	case errors.Is(err, runs.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, runs.ErrInvalidState):
		writeProblem(w, http.StatusConflict, "Invalid state", err.Error(), r.URL.Path)
	case errors.Is(err, runs.ErrQueueFull):
		writeProblem(w, http.StatusServiceUnavailable, "Busy", err.Error(), r.URL.Path)
	case errors.As(err, &oe):
		writeProblem(w, http.StatusBadGateway, "Privacy engine failed", err.Error(), r.URL.Path)
	default:
		s.Log.Error("request failed", "path", r.URL.Path, "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
	}
}
