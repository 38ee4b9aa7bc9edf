package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/study"
)

// --- Participant handlers (participant id is the token) ---

func (s *Server) handleStartParticipant(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.StartParticipant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"participant": models.StartParticipantResponse{
			ParticipantID: sess.ParticipantID(),
			StudyID:       sess.StudyID(),
		},
		"session": sess.View(),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	respondJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	kind := study.ActionType(chi.URLParam(r, "action"))
	action := study.Action{Type: kind}
	if err := s.decodeJSON(r, &action, true); err != nil {
		respondErr(w, err)
		return
	}
	action.Type = kind

	sess := SessionFromContext(r.Context())
	view, err := s.manager.Act(r.Context(), sess.ParticipantID(), action)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}
