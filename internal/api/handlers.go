package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/adworker/internal/dispatch"
	"github.com/mattjoyce/adworker/internal/joblog"
	"github.com/mattjoyce/adworker/internal/protocol"
	"github.com/mattjoyce/adworker/internal/service"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.dispatch.Stats()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Limit:         st.Limit,
		Running:       st.Running,
		Pending:       st.Pending,
		Completed:     st.Completed,
	})
}

// handleCall handles POST /v1/{service}/{method}. The body is the parameter
// bundle handed to the worker. With ?wait=false the task id is returned at
// once; otherwise the request blocks until the outcome is known.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	svc, method := chi.URLParam(r, "service"), chi.URLParam(r, "method")
	operation, err := service.Lookup(svc, method)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	params, err := decodeParams(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	future := s.dispatch.Submit(protocol.NewTask(operation, params, nil))

	if r.URL.Query().Get("wait") == "false" {
		respondJSON(w, http.StatusAccepted, CallResponse{
			TaskID:    future.TaskID(),
			Operation: operation,
			Status:    string(dispatch.StatusQueued),
		})
		return
	}

	o, err := future.Wait(r.Context())
	if err != nil {
		// Client went away; the task still runs to completion.
		s.logger.Info("caller stopped waiting", "task_id", future.TaskID(), "error", err)
		return
	}

	resp := CallResponse{
		TaskID:     o.TaskID,
		Operation:  o.Operation,
		Status:     string(o.Status),
		Result:     o.Value(),
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
	}
	respondJSON(w, statusCodeFor(o.Status), resp)
}

func statusCodeFor(st dispatch.Status) int {
	switch st {
	case dispatch.StatusSucceeded, dispatch.StatusDegraded:
		return http.StatusOK
	case dispatch.StatusTimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// decodeParams reads a JSON object body. An empty body is an empty bundle.
// Numbers keep their literal form so large ids survive the round trip.
func decodeParams(body io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	if raw[0] != '{' {
		return nil, errors.New("request body must be a JSON object")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, errors.New("invalid JSON body: " + err.Error())
	}
	return params, nil
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	rec, err := s.tasks.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, joblog.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("failed to retrieve task", "task_id", taskID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	recs, err := s.tasks.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	respondJSON(w, http.StatusOK, TaskListResponse{Tasks: recs})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
