package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/pulse-orchestrator/internal/domain"
	"github.com/hochfrequenz/pulse-orchestrator/internal/store"
)

// PulseResponse is the API response for a pulse
type PulseResponse struct {
	ID                  string `json:"id"`
	WorkflowID          string `json:"workflow_id"`
	Description         string `json:"description"`
	Status              string `json:"status"`
	PulseBranch         string `json:"pulse_branch,omitempty"`
	WorktreePath        string `json:"worktree_path,omitempty"`
	RejectionCount      int    `json:"rejection_count"`
	HasUnresolvedIssues bool   `json:"has_unresolved_issues"`
	CommitSHA           string `json:"commit_sha,omitempty"`
	RecoveryCommitSHA   string `json:"recovery_commit_sha,omitempty"`
	UpdatedAt           string `json:"updated_at"`
}

// StatusResponse is the API response for overall workflow status
type StatusResponse struct {
	Workflows int `json:"workflows"`
	Total     int `json:"total"`
	Proposed  int `json:"proposed"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Stopped   int `json:"stopped"`
}

func pulseToResponse(p *domain.Pulse) PulseResponse {
	return PulseResponse{
		ID:                  p.ID,
		WorkflowID:          p.WorkflowID,
		Description:         p.Description,
		Status:              string(p.Status),
		PulseBranch:         p.PulseBranch,
		WorktreePath:        p.WorktreePath,
		RejectionCount:      p.RejectionCount,
		HasUnresolvedIssues: p.HasUnresolvedIssues,
		CommitSHA:           p.CommitSHA,
		RecoveryCommitSHA:   p.RecoveryCommitSHA,
		UpdatedAt:           p.UpdatedAt.Format(time.RFC3339),
	}
}

// workflowPulses resolves the pulses for the request: a specific workflow
// when ?workflow= is given, all known workflows otherwise.
func (s *Server) workflowPulses(r *http.Request) ([]*domain.Pulse, int, error) {
	if wf := r.URL.Query().Get("workflow"); wf != "" {
		pulses, err := s.store.ListPulses(wf)
		return pulses, 1, err
	}

	ids, err := s.store.ListWorkflowIDs()
	if err != nil {
		return nil, 0, err
	}
	var all []*domain.Pulse
	for _, id := range ids {
		pulses, err := s.store.ListPulses(id)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, pulses...)
	}
	return all, len(ids), nil
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		pulses, workflows, err := s.workflowPulses(r)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		status := StatusResponse{Workflows: workflows, Total: len(pulses)}
		for _, p := range pulses {
			switch p.Status {
			case domain.PulseProposed:
				status.Proposed++
			case domain.PulseRunning:
				status.Running++
			case domain.PulseSucceeded:
				status.Succeeded++
			case domain.PulseFailed:
				status.Failed++
			case domain.PulseStopped:
				status.Stopped++
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) listPulsesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		pulses, _, err := s.workflowPulses(r)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]PulseResponse, len(pulses))
		for i, p := range pulses {
			responses[i] = pulseToResponse(p)
		}

		writeJSON(w, responses)
	}
}

func (s *Server) getPulseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/pulses/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "pulse ID required")
			return
		}

		pulse, err := s.store.GetPulse(id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pulse not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, pulseToResponse(pulse))
	}
}
