package service

import (
	"context"
	"time"

	"github.com/gymops/backend/internal/models"
)

type ContractStore interface {
	LoadActiveContracts(ctx context.Context) ([]models.Contract, error)
	GetContract(ctx context.Context, id string) (models.Contract, error)
}

type EquipmentStore interface {
	LoadEquipmentByClient(ctx context.Context, clientID string) ([]models.Equipment, error)
}

type TaskStore interface {
	// LoadExistingTasks returns the contract's tasks scheduled on days
	// from..to inclusive, cancelled ones included.
	LoadExistingTasks(ctx context.Context, contractID string, from, to time.Time) ([]models.MaintenanceTask, error)
	// UpsertTask inserts the task unless a non-cancelled task already holds
	// its key, in which case the existing row is returned with inserted=false.
	UpsertTask(ctx context.Context, task models.MaintenanceTask) (stored models.MaintenanceTask, inserted bool, err error)
	// UpdateTask rewrites metadata and status of a pending task. Tasks that
	// are no longer pending yield models.ErrStorageConflict.
	UpdateTask(ctx context.Context, task models.MaintenanceTask) error
	GetTask(ctx context.Context, id string) (models.MaintenanceTask, error)
	ListUnassignedTasks(ctx context.Context, limit int) ([]models.MaintenanceTask, error)
	// LoadTasksInWindow returns tasks scheduled on days from..to inclusive.
	LoadTasksInWindow(ctx context.Context, from, to time.Time) ([]models.MaintenanceTask, error)
}

type TechnicianStore interface {
	// LoadCandidateTechnicians returns active technicians whose specialization
	// overlaps tags. Nil tags return every active technician.
	LoadCandidateTechnicians(ctx context.Context, tags []string) ([]models.Technician, error)
	GetTechnician(ctx context.Context, id string) (models.Technician, error)
	LoadOpenTaskCount(ctx context.Context, technicianID string) (int, error)
}

type AssignmentStore interface {
	// AssignTask and AssignTicket write the assignment and its decision log
	// together. A target that is no longer assignable yields models.ErrStorageConflict.
	AssignTask(ctx context.Context, a models.Assignment, entry models.AssignmentDecisionLog) error
	AssignTicket(ctx context.Context, a models.Assignment, entry models.AssignmentDecisionLog) error
	AppendAssignmentLog(ctx context.Context, entry models.AssignmentDecisionLog) error
}

type TicketStore interface {
	GetTicket(ctx context.Context, id string) (models.Ticket, error)
	ListOpenTickets(ctx context.Context) ([]models.Ticket, error)
	UpdateTicketSLA(ctx context.Context, ticketID string, deadline time.Time, status models.SLAStatus) error
	// LoadTicketsInWindow returns tickets created in [from, to).
	LoadTicketsInWindow(ctx context.Context, from, to time.Time) ([]models.Ticket, error)
}

type RunStore interface {
	CreateRun(ctx context.Context, status string) (string, error)
	FinishRun(ctx context.Context, runID string, status string, summary []byte) error
	GetLatestRun(ctx context.Context) (models.Run, error)
}

// Store is the storage contract the engine consumes.
type Store interface {
	ContractStore
	EquipmentStore
	TaskStore
	TechnicianStore
	AssignmentStore
	TicketStore
	RunStore
}
