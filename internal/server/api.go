// ABOUTME: HTTP API handlers for reading and writing variables with an API token
// ABOUTME: Serves the plain /get and /set endpoints plus the JSON /api routes

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/valueapi/internal/auth"
	"github.com/2389/valueapi/internal/history"
	"github.com/2389/valueapi/internal/store"
	"github.com/2389/valueapi/internal/vars"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// SetResponse is the JSON response for POST /set.
type SetResponse struct {
	Success  bool           `json:"success"`
	Variable store.Variable `json:"variable"`
}

// CreateVariableRequest is the JSON request body for POST /api/variables.
type CreateVariableRequest struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	GroupID string `json:"groupId,omitempty"`
}

// UpdateVariableRequest is the JSON request body for PUT /api/variables/{name}.
type UpdateVariableRequest struct {
	Value *string `json:"value"`
}

// MoveVariableRequest is the JSON request body for PUT /api/variables/{name}/group.
type MoveVariableRequest struct {
	GroupID string `json:"groupId"`
}

// GroupRequest is the JSON request body for creating or renaming a group.
type GroupRequest struct {
	Name string `json:"name"`
}

// handleGet handles GET /get?name=X and writes the raw value as text.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.logger.Warn("get variable failed: missing name", "ip", vars.SourceFromContext(r.Context()))
		s.sendJSONError(w, http.StatusBadRequest, "Missing variable name")
		return
	}

	v, err := s.vars.GetVariable(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("get variable failed: not found", "name", name, "ip", vars.SourceFromContext(r.Context()))
			s.sendJSONError(w, http.StatusNotFound, "Variable not found")
			return
		}
		s.writeServiceError(w, err)
		return
	}

	s.logger.Info("variable read",
		"name", name,
		"token", auth.TokenName(r.Context()),
		"default_token", auth.UsedDefaultToken(r.Context()),
		"ip", vars.SourceFromContext(r.Context()),
	)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(v.Value))
}

// handleSet handles POST /set?name=X&value=Y. Only existing variables can be
// set; an empty value is allowed.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" || !q.Has("value") {
		s.logger.Warn("set variable failed: missing name or value", "ip", vars.SourceFromContext(r.Context()))
		s.sendJSONError(w, http.StatusBadRequest, "Missing name or value")
		return
	}

	v, err := s.vars.UpdateVariable(r.Context(), name, q.Get("value"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.sendJSONError(w, http.StatusNotFound, "Variable not found")
		case errors.Is(err, store.ErrIO):
			s.sendJSONError(w, http.StatusInternalServerError, "Save failed")
		default:
			s.writeServiceError(w, err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, SetResponse{Success: true, Variable: v})
}

// handleListVariables handles GET /api/variables?prefix=&group=.
func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list := s.vars.ListVariables(r.Context(), vars.Filter{
		NamePrefix: q.Get("prefix"),
		GroupID:    q.Get("group"),
	})
	s.writeJSON(w, http.StatusOK, list)
}

// handleGetVariable handles GET /api/variables/{name}.
func (s *Server) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	v, err := s.vars.GetVariable(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// handleCreateVariable handles POST /api/variables.
func (s *Server) handleCreateVariable(w http.ResponseWriter, r *http.Request) {
	var req CreateVariableRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	v, err := s.vars.CreateVariable(r.Context(), req.Name, req.Value, req.GroupID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, v)
}

// handleUpdateVariable handles PUT /api/variables/{name}.
func (s *Server) handleUpdateVariable(w http.ResponseWriter, r *http.Request) {
	var req UpdateVariableRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		s.sendJSONError(w, http.StatusBadRequest, "value is required")
		return
	}

	v, err := s.vars.UpdateVariable(r.Context(), r.PathValue("name"), *req.Value)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// handleDeleteVariable handles DELETE /api/variables/{name}.
func (s *Server) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	if err := s.vars.DeleteVariable(r.Context(), r.PathValue("name")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMoveVariable handles PUT /api/variables/{name}/group.
func (s *Server) handleMoveVariable(w http.ResponseWriter, r *http.Request) {
	var req MoveVariableRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	v, err := s.vars.MoveVariable(r.Context(), r.PathValue("name"), req.GroupID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// handleVariableHistory handles GET /api/variables/{name}/history.
// A name with no recorded changes gets an empty list, not 404.
func (s *Server) handleVariableHistory(w http.ResponseWriter, r *http.Request) {
	entries := s.vars.VariableHistory(r.Context(), r.PathValue("name"))
	s.writeJSON(w, http.StatusOK, nonNil(entries))
}

// handleHistory handles GET /api/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, nonNil(s.vars.History(r.Context())))
}

// handleListGroups handles GET /api/groups.
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.vars.ListGroups(r.Context()))
}

// handleCreateGroup handles POST /api/groups.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	g, err := s.vars.CreateGroup(r.Context(), req.Name)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, g)
}

// handleRenameGroup handles PUT /api/groups/{id}.
func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	var req GroupRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	g, err := s.vars.RenameGroup(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

// handleDeleteGroup handles DELETE /api/groups/{id}.
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := s.vars.DeleteGroup(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonNil(entries []history.Entry) []history.Entry {
	if entries == nil {
		return []history.Entry{}
	}
	return entries
}

// decodeBody parses a JSON request body into dst, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidGroup), errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrProtected):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Internal errors are not
// echoed to the client.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		msg = "internal error"
		if errors.Is(err, store.ErrIO) {
			msg = "Save failed"
		}
	}
	s.sendJSONError(w, status, msg)
}

// writeJSON writes v as a JSON response with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
