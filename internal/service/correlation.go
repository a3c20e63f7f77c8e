package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/gymops/backend/internal/clock"
	"github.com/gymops/backend/internal/models"
)

// Window is an inclusive range of calendar days.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w Window) contains(t time.Time) bool {
	d := models.DateOf(t)
	return !d.Before(models.DateOf(w.From)) && !d.After(models.DateOf(w.To))
}

type TaskCompliance struct {
	Total                int     `json:"total"`
	Completed            int     `json:"completed"`
	CompletedOnTime      int     `json:"completed_on_time"`
	Overdue              int     `json:"overdue"`
	CompliancePercentage float64 `json:"compliance_percentage"`
}

type TicketCompliance struct {
	Total                   int     `json:"total"`
	OnTime                  int     `json:"on_time"`
	AtRisk                  int     `json:"at_risk"`
	Breached                int     `json:"breached"`
	Unevaluated             int     `json:"unevaluated"`
	SLACompliancePercentage float64 `json:"sla_compliance_percentage"`
}

type ContractCorrelation struct {
	ContractID      string           `json:"contract_id"`
	ClientID        string           `json:"client_id,omitempty"`
	SLALevel        models.SLALevel  `json:"sla_level,omitempty"`
	Tasks           TaskCompliance   `json:"tasks"`
	Tickets         TicketCompliance `json:"tickets"`
	EfficiencyIndex float64          `json:"efficiency_index"`
}

type CorrelationReport struct {
	Window      Window                `json:"window"`
	GeneratedAt time.Time             `json:"generated_at"`
	Overall     ContractCorrelation   `json:"overall"`
	Contracts   []ContractCorrelation `json:"contracts"`
}

// Aggregate rolls tasks and tickets inside the window up per contract and
// overall. Cancelled tasks are ignored. Tickets without a contract only
// count towards the overall figures.
func Aggregate(contracts []models.Contract, tasks []models.MaintenanceTask, tickets []models.Ticket, window Window, now time.Time) CorrelationReport {
	report := CorrelationReport{Window: window, GeneratedAt: now}
	byID := map[string]*ContractCorrelation{}
	get := func(id string) *ContractCorrelation {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &ContractCorrelation{ContractID: id}
		byID[id] = c
		return c
	}
	for _, c := range contracts {
		cc := get(c.ID)
		cc.ClientID = c.ClientID
		cc.SLALevel = c.SLALevel
	}

	today := models.DateOf(now)
	for _, t := range tasks {
		if t.Status == models.TaskCancelled || !window.contains(t.ScheduledDate) {
			continue
		}
		countTask(&get(t.ContractID).Tasks, t, today)
		countTask(&report.Overall.Tasks, t, today)
	}
	for _, t := range tickets {
		if !window.contains(t.CreatedAt) {
			continue
		}
		if t.ContractID != nil && *t.ContractID != "" {
			countTicket(&get(*t.ContractID).Tickets, t)
		}
		countTicket(&report.Overall.Tickets, t)
	}

	report.Overall.ContractID = "all"
	finish(&report.Overall)
	report.Contracts = make([]ContractCorrelation, 0, len(byID))
	for _, cc := range byID {
		finish(cc)
		report.Contracts = append(report.Contracts, *cc)
	}
	sort.Slice(report.Contracts, func(i, j int) bool {
		return report.Contracts[i].ContractID < report.Contracts[j].ContractID
	})
	return report
}

func countTask(tc *TaskCompliance, t models.MaintenanceTask, today time.Time) {
	tc.Total++
	scheduled := models.DateOf(t.ScheduledDate)
	switch {
	case t.Status == models.TaskCompleted:
		tc.Completed++
		// No completion timestamp is read as completed on the day.
		if t.CompletedAt == nil || !models.DateOf(*t.CompletedAt).After(scheduled) {
			tc.CompletedOnTime++
		}
	case t.Status.Open() && scheduled.Before(today):
		tc.Overdue++
	}
}

func countTicket(tc *TicketCompliance, t models.Ticket) {
	tc.Total++
	switch t.SLAStatus {
	case models.SLAOnTime:
		tc.OnTime++
	case models.SLAAtRisk:
		tc.AtRisk++
	case models.SLABreached:
		tc.Breached++
	default:
		tc.Unevaluated++
	}
}

func finish(cc *ContractCorrelation) {
	cc.Tasks.CompliancePercentage = pct(cc.Tasks.CompletedOnTime, cc.Tasks.Total)
	cc.Tickets.SLACompliancePercentage = pct(cc.Tickets.Total-cc.Tickets.Breached, cc.Tickets.Total)

	var parts []float64
	if cc.Tasks.Total > 0 {
		parts = append(parts, cc.Tasks.CompliancePercentage)
	}
	if cc.Tickets.Total > 0 {
		parts = append(parts, cc.Tickets.SLACompliancePercentage)
	}
	if len(parts) == 0 {
		return
	}
	var sum float64
	for _, p := range parts {
		sum += p
	}
	cc.EfficiencyIndex = round2(sum / float64(len(parts)))
}

func pct(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

type ReportService struct {
	Store Store
	Clock clock.Clock
}

func (s *ReportService) Compliance(ctx context.Context, window Window) (CorrelationReport, error) {
	if window.To.Before(window.From) {
		return CorrelationReport{}, fmt.Errorf("window %s..%s: %w", window.From.Format(models.DateLayout), window.To.Format(models.DateLayout), ErrInvalidWindow)
	}
	contracts, err := s.Store.LoadActiveContracts(ctx)
	if err != nil {
		return CorrelationReport{}, err
	}
	tasks, err := s.Store.LoadTasksInWindow(ctx, models.DateOf(window.From), models.DateOf(window.To))
	if err != nil {
		return CorrelationReport{}, err
	}
	tickets, err := s.Store.LoadTicketsInWindow(ctx, models.DateOf(window.From), models.DateOf(window.To).AddDate(0, 0, 1))
	if err != nil {
		return CorrelationReport{}, err
	}
	return Aggregate(contracts, tasks, tickets, window, s.Clock.Now()), nil
}

// DefaultWindow is the trailing 30 days ending today.
func DefaultWindow(now time.Time) Window {
	today := models.DateOf(now)
	return Window{From: today.AddDate(0, 0, -30), To: today}
}
