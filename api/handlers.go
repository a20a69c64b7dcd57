package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/malbeclabs/bicopilot/pkg/agent"
	"github.com/malbeclabs/bicopilot/pkg/eval"
)

type NL2SQLRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

type EvalRequest struct {
	Split string `json:"split,omitempty"`
	TopK  int    `json:"top_k,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst
// unchanged.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNL2SQL(w http.ResponseWriter, r *http.Request) {
	var req NL2SQLRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "top_k must be positive")
		return
	}

	var opts []agent.RunOption
	if req.TopK > 0 {
		opts = append(opts, agent.WithTopK(req.TopK))
	}
	res, err := s.runner.Run(r.Context(), req.Question, opts...)
	if err != nil {
		s.log.Error("api: nl2sql failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrSchemaFetch) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// evalRequest decodes the body and fills in the default split. It writes the
// error response itself and returns false when the request is unusable.
func (s *Server) evalRequest(w http.ResponseWriter, r *http.Request) (EvalRequest, bool) {
	var req EvalRequest
	if s.evals == nil {
		writeError(w, http.StatusServiceUnavailable, "evaluation is not configured")
		return req, false
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if req.Split == "" {
		req.Split = eval.SplitTest
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "top_k must be positive")
		return req, false
	}
	return req, true
}

func (s *Server) evalError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, eval.ErrUnknownSplit) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Error("api: "+op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	req, ok := s.evalRequest(w, r)
	if !ok {
		return
	}
	report, err := s.evals.Evaluate(r.Context(), req.Split, req.TopK)
	if err != nil {
		s.evalError(w, "evaluate", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDriftEval(w http.ResponseWriter, r *http.Request) {
	req, ok := s.evalRequest(w, r)
	if !ok {
		return
	}
	report, err := s.evals.EvaluateDrift(r.Context(), req.Split, req.TopK)
	if err != nil {
		s.evalError(w, "drift eval", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSafetyEval(w http.ResponseWriter, r *http.Request) {
	if s.evals == nil {
		writeError(w, http.StatusServiceUnavailable, "evaluation is not configured")
		return
	}
	report, err := s.evals.EvaluateSafety(r.Context())
	if err != nil {
		s.evalError(w, "safety eval", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
