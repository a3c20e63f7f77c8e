package models

import (
	"encoding/json"
	"strings"
	"time"
)

type Contract struct {
	ID                   string         `json:"id"`
	ClientID             string         `json:"client_id"`
	Status               ContractStatus `json:"status"`
	StartDate            time.Time      `json:"start_date"`
	EndDate              time.Time      `json:"end_date"`
	MaintenanceFrequency Frequency      `json:"maintenance_frequency"`
	ServiceType          string         `json:"service_type"`
	SLALevel             SLALevel       `json:"sla_level"`
	ResponseTimeHours    int            `json:"response_time_hours"`
	ResolutionTimeHours  int            `json:"resolution_time_hours"`
	ServicesIncluded     []string       `json:"services_included"`
	EquipmentCovered     []string       `json:"equipment_covered"`
	ContractValue        float64        `json:"contract_value"`
}

// ExpiredAt reports whether the contract has ended before the day of t.
func (c Contract) ExpiredAt(t time.Time) bool {
	return !c.EndDate.IsZero() && DateOf(c.EndDate).Before(DateOf(t))
}

// Covers reports whether the contract's coverage tags include category.
// An empty tag set covers every category.
func (c Contract) Covers(category string) bool {
	if len(c.EquipmentCovered) == 0 {
		return true
	}
	return HasTag(c.EquipmentCovered, category)
}

type Equipment struct {
	ID          string     `json:"id"`
	Category    string     `json:"category"`
	LocationID  string     `json:"location_id"`
	ClientID    string     `json:"client_id"`
	InstallDate *time.Time `json:"install_date,omitempty"`
}

type MaintenanceTask struct {
	ID                string          `json:"id"`
	ContractID        string          `json:"contract_id"`
	EquipmentID       string          `json:"equipment_id"`
	EquipmentCategory string          `json:"equipment_category"`
	ScheduledDate     time.Time       `json:"scheduled_date"`
	Status            TaskStatus      `json:"status"`
	TechnicianID      *string         `json:"technician_id"`
	AssignmentType    *AssignmentType `json:"assignment_type"`
	AssignedAt        *time.Time      `json:"assigned_at"`
	Title             string          `json:"title"`
	ServiceType       string          `json:"service_type"`
	Priority          Priority        `json:"priority"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Key returns the occurrence key the task occupies.
func (t MaintenanceTask) Key() TaskKey {
	return TaskKey{ContractID: t.ContractID, EquipmentID: t.EquipmentID, ScheduledDate: DateOf(t.ScheduledDate)}
}

// TaskKey identifies one occurrence. At most one non-cancelled task exists per key.
type TaskKey struct {
	ContractID    string
	EquipmentID   string
	ScheduledDate time.Time
}

func (k TaskKey) String() string {
	return k.ContractID + "/" + k.EquipmentID + "/" + k.ScheduledDate.Format(DateLayout)
}

type Ticket struct {
	ID                   string     `json:"id"`
	ContractID           *string    `json:"contract_id"`
	Priority             Priority   `json:"priority"`
	EquipmentCategory    string     `json:"equipment_category"`
	CreatedAt            time.Time  `json:"created_at"`
	SLADeadline          *time.Time `json:"sla_deadline"`
	SLAStatus            SLAStatus  `json:"sla_status"`
	WorkflowStage        string     `json:"workflow_stage"`
	AssignedTechnicianID *string    `json:"assigned_technician_id"`
	ClosedAt             *time.Time `json:"closed_at,omitempty"`
}

type Technician struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Specialization []string `json:"specialization"`
	MaxDailyTasks  int      `json:"max_daily_tasks"`
	Active         bool     `json:"active"`
}

type AssignmentDecisionLog struct {
	ID               string          `json:"id"`
	TargetType       string          `json:"target_type"`
	TargetID         string          `json:"target_id"`
	TechnicianID     string          `json:"technician_id"`
	Score            float64         `json:"score"`
	AlgorithmVersion string          `json:"algorithm_version"`
	Breakdown        json.RawMessage `json:"breakdown"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Run struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at"`
	Status     string          `json:"status"`
	Summary    json.RawMessage `json:"summary"`
}

const DateLayout = "2006-01-02"

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func HasTag(tags []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, t := range tags {
		if strings.EqualFold(strings.TrimSpace(t), target) {
			return true
		}
	}
	return false
}

// Assignment is the write model for putting a technician on a task or ticket.
type Assignment struct {
	TargetID     string
	TechnicianID string
	Type         AssignmentType
	AssignedAt   time.Time
	// Reassign allows replacing an existing technician on a pending or
	// in-progress task. Automatic assignment only claims unassigned tasks.
	Reassign bool
}
