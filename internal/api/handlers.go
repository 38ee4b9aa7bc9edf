package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/treetest-engine/internal/models"
	"github.com/terra-clan/treetest-engine/internal/results"
	"github.com/terra-clan/treetest-engine/internal/tree"
)

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	for name, err := range s.health.HealthCheckAll(r.Context()) {
		if err != nil {
			slog.Warn("readiness check failed", "dependency", name, "error", err)
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	if !ready {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(apiResponse{
			Success: false,
			Data:    map[string]interface{}{"status": "not_ready", "checks": checks},
			Error:   &apiError{Code: "not_ready", Message: "service not ready"},
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}

// Tree handlers

func (s *Server) handleCompileTree(w http.ResponseWriter, r *http.Request) {
	var req models.CompileTreeRequest
	if err := s.decodeJSON(r, &req, false); err != nil {
		respondErr(w, err)
		return
	}

	resp, err := s.manager.CompileTree(r.Context(), req.Notation)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSaveTree(w http.ResponseWriter, r *http.Request) {
	var req models.CompileTreeRequest
	if err := s.decodeJSON(r, &req, false); err != nil {
		respondErr(w, err)
		return
	}

	saved, err := s.manager.SaveTree(r.Context(), chi.URLParam(r, "id"), req.Notation)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tree":       saved,
		"leaf_count": tree.CountLeaves(saved.Nodes),
	})
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	t, err := s.manager.GetTree(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, t)
}

// Study handlers

func (s *Server) handleCreateStudy(w http.ResponseWriter, r *http.Request) {
	var req models.CreateStudyRequest
	if err := s.decodeJSON(r, &req, false); err != nil {
		respondErr(w, err)
		return
	}

	st, err := s.manager.CreateStudy(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetStudy(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.GetStudy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, st)
}

// Task handlers

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTaskRequest
	if err := s.decodeJSON(r, &req, false); err != nil {
		respondErr(w, err)
		return
	}

	task, err := s.manager.CreateTask(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.manager.ListTasks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// Results handlers

func (s *Server) handleStudyResults(w http.ResponseWriter, r *http.Request) {
	overview, err := s.manager.StudyResults(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, overview)
}

func (s *Server) handleTaskResults(w http.ResponseWriter, r *http.Request) {
	mode, err := results.ParseDestinationMode(r.URL.Query().Get("destinations"))
	if err != nil {
		respondErr(w, err)
		return
	}

	report, err := s.manager.TaskResults(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "taskID"), mode)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleDeleteAttempt(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteAttempt(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "attempt deleted",
	})
}
