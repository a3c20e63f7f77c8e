package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/gymops/backend/internal/clock"
	"github.com/gymops/backend/internal/metrics"
	"github.com/gymops/backend/internal/models"
	"github.com/gymops/backend/internal/notify"
)

const (
	RunRunning = "RUNNING"
	RunSuccess = "SUCCESS"
	RunPartial = "PARTIAL"
	RunFailed  = "FAILED"
)

type GenerationPlan struct {
	ContractID         string                   `json:"contract_id"`
	HorizonStart       time.Time                `json:"horizon_start"`
	HorizonEnd         time.Time                `json:"horizon_end"`
	Created            []models.MaintenanceTask `json:"created"`
	Updated            []models.MaintenanceTask `json:"updated"`
	Cancelled          []models.MaintenanceTask `json:"cancelled"`
	Skipped            int                      `json:"skipped"`
	NoEquipmentMatched bool                     `json:"no_equipment_matched"`
}

// PlanTasks reconciles the contract's expected occurrences for
// [today, today+monthsAhead] against existing tasks. It never touches the
// technician or status of an existing task, and in-progress or completed
// tasks are never modified at all.
func PlanTasks(contract models.Contract, equipment []models.Equipment, existing []models.MaintenanceTask, monthsAhead int, force bool, now time.Time) (GenerationPlan, error) {
	if contract.Status != models.ContractActive {
		return GenerationPlan{}, fmt.Errorf("contract %s status %q: %w", contract.ID, contract.Status, models.ErrContractExpired)
	}
	if contract.ExpiredAt(now) {
		return GenerationPlan{}, fmt.Errorf("contract %s ended on %s: %w", contract.ID, contract.EndDate.Format(models.DateLayout), models.ErrContractExpired)
	}
	if err := validateSchedule(contract); err != nil {
		return GenerationPlan{}, err
	}
	if monthsAhead < 0 {
		monthsAhead = 0
	}

	today := models.DateOf(now)
	plan := GenerationPlan{
		ContractID:   contract.ID,
		HorizonStart: today,
		HorizonEnd:   today.AddDate(0, monthsAhead, 0),
	}

	covered := CoveredEquipment(contract, equipment)
	plan.NoEquipmentMatched = len(covered) == 0
	byID := make(map[string]models.Equipment, len(covered))
	for _, eq := range covered {
		byID[eq.ID] = eq
	}

	current := map[models.TaskKey]models.MaintenanceTask{}
	for _, t := range existing {
		if t.ContractID != contract.ID || t.Status == models.TaskCancelled {
			continue
		}
		if _, dup := current[t.Key()]; !dup {
			current[t.Key()] = t
		}
	}

	expected := map[models.TaskKey]struct{}{}
	for occ := range ExpectedOccurrences(contract, covered, plan.HorizonStart, plan.HorizonEnd) {
		key := models.TaskKey{ContractID: contract.ID, EquipmentID: occ.EquipmentID, ScheduledDate: occ.ScheduledDate}
		if _, dup := expected[key]; dup {
			continue
		}
		expected[key] = struct{}{}
		eq := byID[occ.EquipmentID]

		task, ok := current[key]
		if !ok {
			plan.Created = append(plan.Created, newTask(contract, eq, occ.ScheduledDate, now))
			continue
		}
		if !force || task.Status != models.TaskPending {
			plan.Skipped++
			continue
		}
		if refreshed, changed := refreshMetadata(task, contract, eq, now); changed {
			plan.Updated = append(plan.Updated, refreshed)
		} else {
			plan.Skipped++
		}
	}

	if force {
		for key, task := range current {
			if _, want := expected[key]; want {
				continue
			}
			if task.Status != models.TaskPending || task.TechnicianID != nil {
				continue
			}
			if key.ScheduledDate.Before(plan.HorizonStart) || key.ScheduledDate.After(plan.HorizonEnd) {
				continue
			}
			task.Status = models.TaskCancelled
			task.UpdatedAt = now
			plan.Cancelled = append(plan.Cancelled, task)
		}
		sort.Slice(plan.Cancelled, func(i, j int) bool {
			return plan.Cancelled[i].Key().String() < plan.Cancelled[j].Key().String()
		})
	}
	return plan, nil
}

func validateSchedule(c models.Contract) error {
	if err := validateFrequency(c.MaintenanceFrequency); err != nil {
		return fmt.Errorf("contract %s: %w", c.ID, err)
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("contract %s ends before it starts: %w", c.ID, models.ErrInvalidContract)
	}
	return nil
}

func newTask(c models.Contract, eq models.Equipment, date time.Time, now time.Time) models.MaintenanceTask {
	return models.MaintenanceTask{
		ID:                uuid.NewString(),
		ContractID:        c.ID,
		EquipmentID:       eq.ID,
		EquipmentCategory: eq.Category,
		ScheduledDate:     date,
		Status:            models.TaskPending,
		Title:             taskTitle(c, eq),
		ServiceType:       c.ServiceType,
		Priority:          priorityForLevel(c.SLALevel),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func refreshMetadata(t models.MaintenanceTask, c models.Contract, eq models.Equipment, now time.Time) (models.MaintenanceTask, bool) {
	next := t
	next.Title = taskTitle(c, eq)
	next.ServiceType = c.ServiceType
	next.Priority = priorityForLevel(c.SLALevel)
	next.EquipmentCategory = eq.Category
	changed := next.Title != t.Title || next.ServiceType != t.ServiceType ||
		next.Priority != t.Priority || next.EquipmentCategory != t.EquipmentCategory
	if changed {
		next.UpdatedAt = now
	}
	return next, changed
}

func taskTitle(c models.Contract, eq models.Equipment) string {
	freq := string(c.MaintenanceFrequency)
	if freq != "" {
		freq = strings.ToUpper(freq[:1]) + freq[1:]
	}
	return fmt.Sprintf("%s preventive maintenance - %s", freq, eq.Category)
}

func priorityForLevel(level models.SLALevel) models.Priority {
	switch level {
	case models.SLAEnterprise:
		return models.PriorityHigh
	case models.SLAPremium:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

type GenerateOptions struct {
	MonthsAhead int  `json:"months_ahead"`
	Force       bool `json:"force_regenerate"`
	DryRun      bool `json:"dry_run"`
}

type ContractResult struct {
	ContractID         string                   `json:"contract_id"`
	Created            int                      `json:"created"`
	Updated            int                      `json:"updated"`
	Cancelled          int                      `json:"cancelled"`
	Skipped            int                      `json:"skipped"`
	Conflicts          int                      `json:"conflicts"`
	NoEquipmentMatched bool                     `json:"no_equipment_matched"`
	Tasks              []models.MaintenanceTask `json:"tasks,omitempty"`
}

type ContractError struct {
	ContractID string `json:"contract_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type BulkSummary struct {
	RunID                string          `json:"run_id,omitempty"`
	DryRun               bool            `json:"dry_run"`
	ContractsProcessed   int             `json:"contracts_processed"`
	TotalTasksToGenerate int             `json:"total_tasks_to_generate"`
	Created              int             `json:"created"`
	Updated              int             `json:"updated"`
	Cancelled            int             `json:"cancelled"`
	Skipped              int             `json:"skipped"`
	NoEquipmentMatched   []string        `json:"no_equipment_matched"`
	Errors               []ContractError `json:"errors"`
}

type GenerationService struct {
	Store    Store
	Notifier notify.Notifier
	Logger   zerolog.Logger
	Clock    clock.Clock
	Config   Config
}

func (s *GenerationService) GenerateForContract(ctx context.Context, contractID string, opts GenerateOptions) (ContractResult, error) {
	contract, err := s.Store.GetContract(ctx, contractID)
	if err != nil {
		return ContractResult{}, err
	}
	return s.generate(ctx, contract, opts)
}

// GenerateAll runs generation over every active contract. One contract's
// failure is reported in the summary and never blocks the others.
func (s *GenerationService) GenerateAll(ctx context.Context, opts GenerateOptions) (BulkSummary, error) {
	timer := prometheus.NewTimer(metrics.GenerationDuration)
	defer timer.ObserveDuration()

	contracts, err := s.Store.LoadActiveContracts(ctx)
	if err != nil {
		return BulkSummary{}, err
	}

	summary := BulkSummary{DryRun: opts.DryRun, NoEquipmentMatched: []string{}, Errors: []ContractError{}}
	if !opts.DryRun {
		runID, err := s.Store.CreateRun(ctx, RunRunning)
		if err != nil {
			return BulkSummary{}, fmt.Errorf("create run: %w", err)
		}
		summary.RunID = runID
	}

	var fatal error
	for _, c := range contracts {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}
		res, err := s.generate(ctx, c, opts)
		summary.ContractsProcessed++
		summary.TotalTasksToGenerate += res.Created
		summary.Created += res.Created
		summary.Updated += res.Updated
		summary.Cancelled += res.Cancelled
		summary.Skipped += res.Skipped
		if res.NoEquipmentMatched {
			summary.NoEquipmentMatched = append(summary.NoEquipmentMatched, c.ID)
		}
		if err != nil {
			metrics.GenerationErrors.WithLabelValues(errorCode(err)).Inc()
			summary.Errors = append(summary.Errors, ContractError{ContractID: c.ID, Code: errorCode(err), Message: err.Error()})
			if errors.Is(err, models.ErrStorageUnavailable) {
				fatal = err
				break
			}
		}
	}
	if opts.DryRun {
		summary.Created, summary.Updated, summary.Cancelled, summary.Skipped = 0, 0, 0, 0
		return summary, fatal
	}

	status := RunSuccess
	switch {
	case fatal != nil:
		status = RunFailed
	case len(summary.Errors) > 0:
		status = RunPartial
	}
	b, err := json.Marshal(summary)
	if err != nil {
		s.Logger.Error().Err(err).Str("run_id", summary.RunID).Msg("failed to encode run summary")
		b = []byte("{}")
	}
	// The run row is closed even when the caller gave up mid-run.
	if err := s.Store.FinishRun(context.WithoutCancel(ctx), summary.RunID, status, b); err != nil {
		s.Logger.Error().Err(err).Str("run_id", summary.RunID).Msg("failed to finish run")
	}
	s.Logger.Info().
		Str("run_id", summary.RunID).
		Str("status", status).
		Int("contracts", summary.ContractsProcessed).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("cancelled", summary.Cancelled).
		Int("skipped", summary.Skipped).
		Int("errors", len(summary.Errors)).
		Msg("maintenance generation finished")
	return summary, fatal
}

func (s *GenerationService) generate(ctx context.Context, contract models.Contract, opts GenerateOptions) (ContractResult, error) {
	res := ContractResult{ContractID: contract.ID}
	months := opts.MonthsAhead
	if months <= 0 {
		months = s.Config.MonthsAhead
	}
	now := s.Clock.Now()
	today := models.DateOf(now)

	equipment, err := s.Store.LoadEquipmentByClient(ctx, contract.ClientID)
	if err != nil {
		return res, fmt.Errorf("load equipment for client %s: %w", contract.ClientID, err)
	}
	existing, err := s.Store.LoadExistingTasks(ctx, contract.ID, today, today.AddDate(0, months, 0))
	if err != nil {
		return res, fmt.Errorf("load tasks for contract %s: %w", contract.ID, err)
	}

	plan, err := PlanTasks(contract, equipment, existing, months, opts.Force, now)
	if err != nil {
		return res, err
	}
	res.NoEquipmentMatched = plan.NoEquipmentMatched
	res.Skipped = plan.Skipped
	if plan.NoEquipmentMatched {
		s.Logger.Info().Str("contract_id", contract.ID).Strs("equipment_covered", contract.EquipmentCovered).Msg("no equipment matched contract coverage")
	}

	if opts.DryRun {
		res.Created = len(plan.Created)
		res.Updated = len(plan.Updated)
		res.Cancelled = len(plan.Cancelled)
		res.Tasks = plan.Created
		return res, nil
	}

	for _, t := range plan.Created {
		stored, inserted, err := s.Store.UpsertTask(ctx, t)
		if errors.Is(err, models.ErrStorageConflict) || (err == nil && !inserted) {
			res.Skipped++
			res.Conflicts++
			metrics.TasksGenerated.WithLabelValues("conflict").Inc()
			continue
		}
		if err != nil {
			return res, fmt.Errorf("upsert task %s: %w", t.Key(), err)
		}
		res.Created++
		res.Tasks = append(res.Tasks, stored)
		metrics.TasksGenerated.WithLabelValues("created").Inc()
		enqueue(ctx, s.Notifier, s.Logger, notify.NewEvent(notify.EventTaskCreated, models.TargetTask, stored.ID, map[string]any{
			"contract_id":    stored.ContractID,
			"equipment_id":   stored.EquipmentID,
			"scheduled_date": stored.ScheduledDate.Format(models.DateLayout),
		}, now))
	}

	for _, t := range plan.Updated {
		if err := s.applyUpdate(ctx, t); err != nil {
			if errors.Is(err, models.ErrStorageConflict) || errors.Is(err, models.ErrNotFound) {
				res.Skipped++
				continue
			}
			return res, err
		}
		res.Updated++
		metrics.TasksGenerated.WithLabelValues("updated").Inc()
	}
	for _, t := range plan.Cancelled {
		if err := s.applyUpdate(ctx, t); err != nil {
			if errors.Is(err, models.ErrStorageConflict) || errors.Is(err, models.ErrNotFound) {
				res.Skipped++
				continue
			}
			return res, err
		}
		res.Cancelled++
		metrics.TasksGenerated.WithLabelValues("cancelled").Inc()
	}
	metrics.TasksGenerated.WithLabelValues("skipped").Add(float64(res.Skipped - res.Conflicts))
	return res, nil
}

func (s *GenerationService) applyUpdate(ctx context.Context, t models.MaintenanceTask) error {
	if err := s.Store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	return nil
}
