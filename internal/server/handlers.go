// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noldarim/venturepilot/internal/orchestrator/faults"
	"github.com/noldarim/venturepilot/internal/orchestrator/services"
)

// PipelineRunner is the slice of the orchestrator the API layer needs for
// mutations. Reads go through DataService directly.
type PipelineRunner interface {
	StartProject(ctx context.Context, projectID string) error
	RestartProject(ctx context.Context, projectID string) error
	ValidateAgentSetup() []int
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	data     *services.DataService
	runner   PipelineRunner
	validate *validator.Validate
}

// NewHandlers creates the handler set.
func NewHandlers(data *services.DataService, runner PipelineRunner) *Handlers {
	return &Handlers{
		data:     data,
		runner:   runner,
		validate: validator.New(),
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var valErr *faults.ValidationError
	if errors.As(err, &valErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

// --- GET handlers ---

// GetProjects handles GET /api/v1/projects
func (h *Handlers) GetProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.data.LoadProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

// GetProject handles GET /api/v1/projects/{id}
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.data.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if project == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not found"})
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// GetProgress handles GET /api/v1/projects/{id}/progress
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.data.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if progress == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not found"})
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// GetTasks handles GET /api/v1/projects/{id}/tasks
func (h *Handlers) GetTasks(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	ctx := r.Context()

	project, err := h.data.GetProject(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if project == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not found"})
		return
	}

	tasks, err := h.data.LoadTasks(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"tasks":      tasks,
	})
}

// GetArtifacts handles GET /api/v1/projects/{id}/artifacts
func (h *Handlers) GetArtifacts(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	ctx := r.Context()

	project, err := h.data.GetProject(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if project == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not found"})
		return
	}

	artifacts, err := h.data.LoadArtifacts(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"artifacts":  artifacts,
	})
}

// ValidateAgents handles GET /api/v1/agents/validate
func (h *Handlers) ValidateAgents(w http.ResponseWriter, r *http.Request) {
	gaps := h.runner.ValidateAgentSetup()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":               len(gaps) == 0,
		"uncovered_stages": gaps,
	})
}

// --- POST/DELETE handlers ---

// createProjectRequest is the JSON body for project creation.
type createProjectRequest struct {
	Name string `json:"name" validate:"required"`
	Idea string `json:"idea" validate:"required"`
}

// CreateProject handles POST /api/v1/projects. The pipeline starts in the
// background; clients follow progress over the WebSocket or poll /progress.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var body createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	body.Idea = strings.TrimSpace(body.Idea)
	if err := h.validate.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and idea are required"})
		return
	}

	project, err := h.data.CreateProject(r.Context(), body.Name, body.Idea)
	if err != nil {
		writeError(w, err)
		return
	}

	go func() {
		if err := h.runner.StartProject(context.Background(), project.ID); err != nil {
			getLog().Error().Err(err).Str("project_id", project.ID).Msg("Pipeline run failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, project)
}

// RestartProject handles POST /api/v1/projects/{id}/restart
func (h *Handlers) RestartProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")

	project, err := h.data.GetProject(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if project == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "project not found"})
		return
	}

	go func() {
		if err := h.runner.RestartProject(context.Background(), projectID); err != nil {
			getLog().Error().Err(err).Str("project_id", projectID).Msg("Pipeline restart failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

// DeleteProject handles DELETE /api/v1/projects/{id}
func (h *Handlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.data.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
