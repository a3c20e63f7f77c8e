package models

type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractExpired   ContractStatus = "expired"
	ContractCancelled ContractStatus = "cancelled"
)

type Frequency string

const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnual    Frequency = "annual"
)

type SLALevel string

const (
	SLABasic      SLALevel = "basic"
	SLAPremium    SLALevel = "premium"
	SLAEnterprise SLALevel = "enterprise"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Open reports whether the task still counts towards a technician's workload.
func (s TaskStatus) Open() bool {
	return s == TaskPending || s == TaskInProgress
}

type AssignmentType string

const (
	AssignmentManual    AssignmentType = "manual"
	AssignmentAutomatic AssignmentType = "automatic"
)

type SLAStatus string

const (
	SLAOnTime   SLAStatus = "on_time"
	SLAAtRisk   SLAStatus = "at_risk"
	SLABreached SLAStatus = "breached"
)

// Severity orders SLA states: on_time < at_risk < breached. Unknown states rank lowest.
func (s SLAStatus) Severity() int {
	switch s {
	case SLAOnTime:
		return 1
	case SLAAtRisk:
		return 2
	case SLABreached:
		return 3
	default:
		return 0
	}
}

const (
	TargetTask   = "task"
	TargetTicket = "ticket"
)
