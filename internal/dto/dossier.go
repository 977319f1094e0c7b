package dto

import (
	"time"

	"github.com/noah-isme/marches-api/internal/models"
)

// UpdateTaskStatusRequest changes a task status.
type UpdateTaskStatusRequest struct {
	Statut models.TaskStatus `json:"statut" validate:"required"`
}

// AssignTaskRequest assigns an employee to a task.
type AssignTaskRequest struct {
	EmployeeID string     `json:"employee_id" validate:"required"`
	Role       string     `json:"role" validate:"max=50"`
	DateLimite *time.Time `json:"date_limite"`
	Notes      *string    `json:"notes" validate:"omitempty,max=1000"`
}

// AssignmentView adds the time spent to an assignment.
type AssignmentView struct {
	models.TaskAssignment
	DurationSeconds *int64 `json:"duration_seconds,omitempty"`
}
