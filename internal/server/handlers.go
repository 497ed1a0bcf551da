package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/isopose/isopose/internal/pose"
	"github.com/isopose/isopose/internal/service"
)

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Health())
}

// PredictPose handles POST /predict_pose.
func (s *Server) PredictPose(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	raw, ok := body["image"]
	if !ok {
		s.fail(w, r, pose.ErrNoImage)
		return
	}
	var image string
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		s.fail(w, r, errors.New("image must be a string"))
		return
	}
	if err := json.Unmarshal(raw, &image); err != nil {
		s.fail(w, r, fmt.Errorf("image must be a string: %w", err))
		return
	}

	resp, err := s.svc.PredictPose(r.Context(), image)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// PredictAction handles POST /predict_action.
func (s *Server) PredictAction(w http.ResponseWriter, r *http.Request) {
	var req service.ActionRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.svc.PredictAction(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// QuaternionError handles POST /quaternion_error.
func (s *Server) QuaternionError(w http.ResponseWriter, r *http.Request) {
	var req service.ErrorRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.svc.QuaternionError(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// decode reads one JSON object from the request body.
func decode(r *http.Request, v any) error {
	var raw json.RawMessage
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after the JSON object")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("invalid request body: expected a JSON object")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

// fail maps err to a status: a missing image is the only client error the
// API distinguishes, oversized bodies get 413, everything else is a 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, pose.ErrNoImage):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "No image provided"})
	case errors.As(err, &tooLarge):
		s.logger.Warn("request body too large", "path", r.URL.Path, "limit", tooLarge.Limit)
		s.writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: err.Error()})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
