package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gymops/backend/internal/clock"
	"github.com/gymops/backend/internal/metrics"
	"github.com/gymops/backend/internal/models"
)

const (
	ReasonAssigned       = "ASSIGNED"
	ReasonNoCandidate    = "NO_CANDIDATE_AVAILABLE"
	ReasonManualReassign = "MANUAL_REASSIGN"

	ineligibleInactive   = "INACTIVE"
	ineligibleAtCapacity = "AT_CAPACITY"

	GeneralSpecialization = "general"
	manualAlgorithm       = "manual"
)

type AssignmentTarget struct {
	Type     string          `json:"type"`
	ID       string          `json:"id"`
	Category string          `json:"category"`
	Priority models.Priority `json:"priority"`
}

type Candidate struct {
	Technician models.Technician
	OpenTasks  int
}

type ScoreBreakdown struct {
	Specialization float64 `json:"specialization"`
	Workload       float64 `json:"workload"`
	Priority       float64 `json:"priority"`
	Availability   float64 `json:"availability"`
	Total          float64 `json:"total"`
}

type CandidateScore struct {
	TechnicianID  string         `json:"technician_id"`
	OpenTasks     int            `json:"open_tasks"`
	MaxDailyTasks int            `json:"max_daily_tasks"`
	Breakdown     ScoreBreakdown `json:"breakdown"`
	Eligible      bool           `json:"eligible"`
	Reason        string         `json:"reason,omitempty"`
}

type Selection struct {
	Technician *models.Technician `json:"technician,omitempty"`
	Score      float64            `json:"score"`
	Breakdown  ScoreBreakdown     `json:"breakdown"`
	Candidates []CandidateScore   `json:"candidates"`
	ReasonCode string             `json:"reason_code"`
	ReasonText string             `json:"reason_text"`
}

func (s Selection) Assigned() bool {
	return s.Technician != nil
}

// ScoreCandidate computes the four 0-10 factors for one technician and the
// weighted total.
func ScoreCandidate(target AssignmentTarget, c Candidate, w ScoringWeights) CandidateScore {
	tech := c.Technician
	b := ScoreBreakdown{
		Specialization: specializationScore(tech.Specialization, target.Category),
		Workload:       workloadScore(c.OpenTasks, tech.MaxDailyTasks),
		Priority:       priorityScore(target.Priority),
	}
	if c.OpenTasks < tech.MaxDailyTasks {
		b.Availability = 10
	}
	b.Total = round2(w.Specialization*b.Specialization + w.Workload*b.Workload +
		w.Priority*b.Priority + w.Availability*b.Availability)

	cs := CandidateScore{
		TechnicianID:  tech.ID,
		OpenTasks:     c.OpenTasks,
		MaxDailyTasks: tech.MaxDailyTasks,
		Breakdown:     b,
		Eligible:      true,
	}
	switch {
	case !tech.Active:
		cs.Eligible, cs.Reason = false, ineligibleInactive
	case b.Availability <= 0:
		cs.Eligible, cs.Reason = false, ineligibleAtCapacity
	}
	return cs
}

// SelectTechnician scores every candidate and returns the highest eligible
// total. Ties keep the earliest candidate in pool order.
func SelectTechnician(target AssignmentTarget, pool []Candidate, w ScoringWeights) Selection {
	sel := Selection{Candidates: make([]CandidateScore, 0, len(pool))}
	best := -1
	for i, c := range pool {
		cs := ScoreCandidate(target, c, w)
		sel.Candidates = append(sel.Candidates, cs)
		if !cs.Eligible {
			continue
		}
		if best == -1 || cs.Breakdown.Total > sel.Candidates[best].Breakdown.Total {
			best = i
		}
	}
	if best == -1 {
		sel.ReasonCode = ReasonNoCandidate
		if len(pool) == 0 {
			sel.ReasonText = "No technicians match the target category"
		} else {
			sel.ReasonText = "Every candidate is inactive or at capacity"
		}
		return sel
	}

	tech := pool[best].Technician
	sel.Technician = &tech
	sel.Breakdown = sel.Candidates[best].Breakdown
	sel.Score = sel.Breakdown.Total
	sel.ReasonCode = ReasonAssigned
	sel.ReasonText = fmt.Sprintf("Highest score among %d candidates", len(pool))
	return sel
}

func specializationScore(tags []string, category string) float64 {
	switch {
	case category != "" && models.HasTag(tags, category):
		return 10
	case models.HasTag(tags, GeneralSpecialization):
		return 5
	default:
		return 0
	}
}

func workloadScore(open, maxDaily int) float64 {
	if maxDaily <= 0 {
		return 0
	}
	return round2(math.Max(0, 10-float64(open)/float64(maxDaily)*10))
}

func priorityScore(p models.Priority) float64 {
	switch p {
	case models.PriorityUrgent, models.PriorityCritical:
		return 10
	case models.PriorityHigh:
		return 8
	case models.PriorityMedium:
		return 5
	case models.PriorityLow:
		return 3
	default:
		return 5
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type AssignmentService struct {
	Store   Store
	Logger  zerolog.Logger
	Clock   clock.Clock
	Weights ScoringWeights
	Version string
}

type AssignmentOutcome struct {
	Target    AssignmentTarget `json:"target"`
	Selection Selection        `json:"selection"`
	LogID     string           `json:"log_id,omitempty"`
}

type PendingSummary struct {
	Processed     int              `json:"processed"`
	Assigned      int              `json:"assigned"`
	Unassigned    int              `json:"unassigned"`
	Conflicts     int              `json:"conflicts"`
	PerTech       map[string]int   `json:"per_technician"`
	Errors        []map[string]any `json:"errors"`
	UnassignedIDs []string         `json:"unassigned_task_ids,omitempty"`
}

func TaskTarget(t models.MaintenanceTask) AssignmentTarget {
	return AssignmentTarget{Type: models.TargetTask, ID: t.ID, Category: t.EquipmentCategory, Priority: t.Priority}
}

func TicketTarget(t models.Ticket) AssignmentTarget {
	return AssignmentTarget{Type: models.TargetTicket, ID: t.ID, Category: t.EquipmentCategory, Priority: t.Priority}
}

// PreviewTask scores the candidate pool for a task without writing anything.
func (s *AssignmentService) PreviewTask(ctx context.Context, taskID string) (AssignmentOutcome, error) {
	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return AssignmentOutcome{}, err
	}
	target := TaskTarget(task)
	pool, err := s.candidates(ctx, target.Category, nil)
	if err != nil {
		return AssignmentOutcome{}, err
	}
	return AssignmentOutcome{Target: target, Selection: SelectTechnician(target, pool, s.Weights)}, nil
}

func (s *AssignmentService) AssignTask(ctx context.Context, taskID string) (AssignmentOutcome, error) {
	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return AssignmentOutcome{}, err
	}
	if task.Status != models.TaskPending || task.TechnicianID != nil {
		return AssignmentOutcome{}, fmt.Errorf("task %s is %s: %w", task.ID, task.Status, ErrNotAssignable)
	}
	return s.assign(ctx, TaskTarget(task), nil)
}

func (s *AssignmentService) AssignTicket(ctx context.Context, ticketID string) (AssignmentOutcome, error) {
	ticket, err := s.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return AssignmentOutcome{}, err
	}
	if ticket.ClosedAt != nil {
		return AssignmentOutcome{}, fmt.Errorf("ticket %s is closed: %w", ticket.ID, ErrNotAssignable)
	}
	return s.assign(ctx, TicketTarget(ticket), nil)
}

// AssignPending walks unassigned pending tasks in scheduled order. Open task
// counts are loaded once per technician and bumped locally after each
// decision so later tasks in the batch see earlier choices.
func (s *AssignmentService) AssignPending(ctx context.Context, limit int) (PendingSummary, error) {
	tasks, err := s.Store.ListUnassignedTasks(ctx, limit)
	if err != nil {
		return PendingSummary{}, err
	}
	summary := PendingSummary{PerTech: map[string]int{}, Errors: []map[string]any{}}
	loadMap := map[string]int{}
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Processed++
		out, err := s.assign(ctx, TaskTarget(t), loadMap)
		if err != nil {
			if errors.Is(err, models.ErrStorageUnavailable) {
				return summary, err
			}
			if errors.Is(err, models.ErrStorageConflict) {
				summary.Conflicts++
				continue
			}
			summary.Errors = append(summary.Errors, map[string]any{
				"task_id": t.ID,
				"code":    errorCode(err),
				"message": err.Error(),
			})
			continue
		}
		if !out.Selection.Assigned() {
			summary.Unassigned++
			summary.UnassignedIDs = append(summary.UnassignedIDs, t.ID)
			continue
		}
		summary.Assigned++
		techID := out.Selection.Technician.ID
		summary.PerTech[techID]++
		loadMap[techID] = loadMap[techID] + 1
	}
	s.Logger.Info().
		Int("processed", summary.Processed).
		Int("assigned", summary.Assigned).
		Int("unassigned", summary.Unassigned).
		Int("conflicts", summary.Conflicts).
		Msg("pending task assignment finished")
	return summary, nil
}

// Reassign puts a technician on a task by hand, bypassing scoring. The
// decision is still logged with the technician's breakdown for audit.
func (s *AssignmentService) Reassign(ctx context.Context, taskID, technicianID, reason string) (AssignmentOutcome, error) {
	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return AssignmentOutcome{}, err
	}
	if !task.Status.Open() {
		return AssignmentOutcome{}, fmt.Errorf("task %s is %s: %w", task.ID, task.Status, ErrNotAssignable)
	}
	tech, err := s.Store.GetTechnician(ctx, technicianID)
	if err != nil {
		return AssignmentOutcome{}, err
	}
	if !tech.Active {
		return AssignmentOutcome{}, fmt.Errorf("technician %s is inactive: %w", tech.ID, ErrNotAssignable)
	}
	open, err := s.Store.LoadOpenTaskCount(ctx, tech.ID)
	if err != nil {
		return AssignmentOutcome{}, err
	}

	target := TaskTarget(task)
	cs := ScoreCandidate(target, Candidate{Technician: tech, OpenTasks: open}, s.Weights)
	sel := Selection{
		Technician: &tech,
		Score:      cs.Breakdown.Total,
		Breakdown:  cs.Breakdown,
		Candidates: []CandidateScore{cs},
		ReasonCode: ReasonManualReassign,
		ReasonText: reason,
	}
	now := s.Clock.Now()
	entry, err := s.decisionLog(target, sel, manualAlgorithm, now)
	if err != nil {
		return AssignmentOutcome{}, err
	}
	a := models.Assignment{
		TargetID:     task.ID,
		TechnicianID: tech.ID,
		Type:         models.AssignmentManual,
		AssignedAt:   now,
		Reassign:     true,
	}
	if err := s.Store.AssignTask(ctx, a, entry); err != nil {
		return AssignmentOutcome{}, fmt.Errorf("reassign task %s: %w", task.ID, err)
	}
	metrics.AssignmentDecisions.WithLabelValues(ReasonManualReassign).Inc()
	s.checkCapacity(ctx, tech, open+1)
	return AssignmentOutcome{Target: target, Selection: sel, LogID: entry.ID}, nil
}

func (s *AssignmentService) assign(ctx context.Context, target AssignmentTarget, loadMap map[string]int) (AssignmentOutcome, error) {
	pool, err := s.candidates(ctx, target.Category, loadMap)
	if err != nil {
		return AssignmentOutcome{}, err
	}
	sel := SelectTechnician(target, pool, s.Weights)
	out := AssignmentOutcome{Target: target, Selection: sel}
	metrics.AssignmentDecisions.WithLabelValues(sel.ReasonCode).Inc()
	if !sel.Assigned() {
		s.Logger.Info().
			Str("target_type", target.Type).
			Str("target_id", target.ID).
			Int("candidates", len(pool)).
			Msg("no technician available")
		return out, nil
	}

	now := s.Clock.Now()
	entry, err := s.decisionLog(target, sel, s.version(), now)
	if err != nil {
		return AssignmentOutcome{}, err
	}
	a := models.Assignment{
		TargetID:     target.ID,
		TechnicianID: sel.Technician.ID,
		Type:         models.AssignmentAutomatic,
		AssignedAt:   now,
	}
	switch target.Type {
	case models.TargetTicket:
		err = s.Store.AssignTicket(ctx, a, entry)
	default:
		err = s.Store.AssignTask(ctx, a, entry)
	}
	if err != nil {
		return AssignmentOutcome{}, fmt.Errorf("assign %s %s: %w", target.Type, target.ID, err)
	}
	metrics.AssignmentScore.Observe(sel.Score)
	out.LogID = entry.ID

	var open int
	for _, c := range sel.Candidates {
		if c.TechnicianID == sel.Technician.ID {
			open = c.OpenTasks
			break
		}
	}
	s.checkCapacity(ctx, *sel.Technician, open+1)
	return out, nil
}

// candidates loads technicians matching the category or the general tag.
// A non-nil loadMap caches open counts across calls.
func (s *AssignmentService) candidates(ctx context.Context, category string, loadMap map[string]int) ([]Candidate, error) {
	var tags []string
	if category != "" {
		tags = []string{category, GeneralSpecialization}
	}
	techs, err := s.Store.LoadCandidateTechnicians(ctx, tags)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	pool := make([]Candidate, 0, len(techs))
	for _, t := range techs {
		open, cached := loadMap[t.ID]
		if !cached {
			open, err = s.Store.LoadOpenTaskCount(ctx, t.ID)
			if err != nil {
				return nil, fmt.Errorf("load open tasks for %s: %w", t.ID, err)
			}
			if loadMap != nil {
				loadMap[t.ID] = open
			}
		}
		pool = append(pool, Candidate{Technician: t, OpenTasks: open})
	}
	return pool, nil
}

func (s *AssignmentService) decisionLog(target AssignmentTarget, sel Selection, version string, now time.Time) (models.AssignmentDecisionLog, error) {
	breakdown, err := json.Marshal(map[string]any{
		"selected":    sel.Breakdown,
		"candidates":  sel.Candidates,
		"reason_code": sel.ReasonCode,
		"reason_text": sel.ReasonText,
		"priority":    target.Priority.String(),
		"category":    target.Category,
	})
	if err != nil {
		return models.AssignmentDecisionLog{}, fmt.Errorf("marshal breakdown: %w", err)
	}
	return models.AssignmentDecisionLog{
		ID:               uuid.NewString(),
		TargetType:       target.Type,
		TargetID:         target.ID,
		TechnicianID:     sel.Technician.ID,
		Score:            sel.Score,
		AlgorithmVersion: version,
		Breakdown:        breakdown,
		CreatedAt:        now,
	}, nil
}

// checkCapacity re-reads the technician's open count after the write.
// Concurrent decisions can push a technician past capacity; that is counted
// and logged, not rolled back.
func (s *AssignmentService) checkCapacity(ctx context.Context, tech models.Technician, expected int) {
	open, err := s.Store.LoadOpenTaskCount(ctx, tech.ID)
	if err != nil {
		open = expected
	}
	if open > tech.MaxDailyTasks {
		metrics.CapacityExceeded.Inc()
		s.Logger.Warn().
			Str("technician_id", tech.ID).
			Int("open_tasks", open).
			Int("max_daily_tasks", tech.MaxDailyTasks).
			Msg("technician over daily capacity")
	}
}

func (s *AssignmentService) version() string {
	if s.Version == "" {
		return AlgorithmVersion
	}
	return s.Version
}
