package api

import (
	"encoding/json"
	"net/http"

	"github.com/surogate/surogate-agent/pkg/roles"
)

// ResolveRequest is the body of POST /api/resolve
type ResolveRequest struct {
	Role      string `json:"role"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// ResolveResponse is what an agent runtime needs to start a session
type ResolveResponse struct {
	Role         roles.Role `json:"role"`
	SessionID    string     `json:"session_id,omitempty"`
	Sources      []string   `json:"sources"`
	Skills       []string   `json:"skills"`
	WorkspaceDir string     `json:"workspace_dir"`
	ShellExecute bool       `json:"shell_execute"`
}

// handleResolve handles POST /api/resolve
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	role, err := roles.ParseRole(req.Role)
	if err != nil {
		s.writeErrorResponse(w, r, http.StatusBadRequest, err.Error(), err)
		return
	}

	rc := roles.NewContext(role, req.UserID, req.SessionID)
	ctx := roles.WithContext(r.Context(), rc)

	res, err := s.resolver.Resolve(ctx, rc)
	if err != nil {
		s.writeError(w, r, "failed to resolve session", err)
		return
	}

	s.writeJSONResponse(w, r, http.StatusOK, ResolveResponse{
		Role:         res.Role,
		SessionID:    res.SessionID,
		Sources:      res.Sources,
		Skills:       res.SkillNames(),
		WorkspaceDir: res.WorkspaceDir,
		ShellExecute: res.ShellExecute,
	})
}
