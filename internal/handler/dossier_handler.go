package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/marches-api/internal/dto"
	"github.com/noah-isme/marches-api/internal/models"
	"github.com/noah-isme/marches-api/pkg/response"
)

type dossierService interface {
	ListTasks(ctx context.Context, dossierID string) ([]models.DossierTask, error)
	UpdateTaskStatus(ctx context.Context, taskID string, req dto.UpdateTaskStatusRequest, actor *models.Actor) (*models.DossierTask, error)
	AssignTask(ctx context.Context, taskID string, req dto.AssignTaskRequest, actor *models.Actor) (*models.TaskAssignment, error)
	UnassignTask(ctx context.Context, assignmentID string, actor *models.Actor) (*models.TaskAssignment, error)
	TaskAssignments(ctx context.Context, taskID string) ([]dto.AssignmentView, error)
}

// DossierHandler manages dossier tasks and their assignments.
type DossierHandler struct {
	service dossierService
}

// NewDossierHandler constructs a DossierHandler.
func NewDossierHandler(svc dossierService) *DossierHandler {
	return &DossierHandler{service: svc}
}

// Tasks godoc
// @Summary List dossier tasks
// @Tags Dossiers
// @Produce json
// @Param id path string true "Dossier ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /dossiers/{id}/tasks [get]
func (h *DossierHandler) Tasks(c *gin.Context) {
	tasks, err := h.service.ListTasks(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tasks, nil)
}

// UpdateTaskStatus godoc
// @Summary Change a task status
// @Tags Dossiers
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param payload body dto.UpdateTaskStatusRequest true "Status"
// @Success 200 {object} response.Envelope
// @Router /tasks/{id}/status [patch]
func (h *DossierHandler) UpdateTaskStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateTaskStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	task, err := h.service.UpdateTaskStatus(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}

// Assignments godoc
// @Summary List a task's assignments
// @Tags Dossiers
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} response.Envelope
// @Router /tasks/{id}/assignments [get]
func (h *DossierHandler) Assignments(c *gin.Context) {
	items, err := h.service.TaskAssignments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Assign godoc
// @Summary Assign an employee to a task
// @Tags Dossiers
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param payload body dto.AssignTaskRequest true "Assignment"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tasks/{id}/assignments [post]
func (h *DossierHandler) Assign(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.AssignTaskRequest
	if !bindJSON(c, &req) {
		return
	}
	assignment, err := h.service.AssignTask(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Unassign godoc
// @Summary Remove an assignment
// @Tags Dossiers
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [delete]
func (h *DossierHandler) Unassign(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	assignment, err := h.service.UnassignTask(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}
