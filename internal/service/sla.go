package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gymops/backend/internal/clock"
	"github.com/gymops/backend/internal/metrics"
	"github.com/gymops/backend/internal/models"
	"github.com/gymops/backend/internal/notify"
)

const (
	SLASourceContract = "contract"
	SLASourcePriority = "priority_default"
)

type SLAResult struct {
	Deadline         time.Time        `json:"deadline"`
	Status           models.SLAStatus `json:"status"`
	ResponseDeadline *time.Time       `json:"response_deadline,omitempty"`
	Source           string           `json:"source"`
	Window           time.Duration    `json:"-"`
	Remaining        time.Duration    `json:"-"`
}

type SLACalculator struct {
	cfg SLAConfig
}

func NewSLACalculator(cfg SLAConfig) SLACalculator {
	return SLACalculator{cfg: cfg}
}

// Compute derives the resolution deadline and status of a ticket. contract
// may be nil, in which case the priority deadline table applies. The
// response-time commitment is reported but never gates the status.
func (c SLACalculator) Compute(ticket models.Ticket, contract *models.Contract, now time.Time) (SLAResult, error) {
	if ticket.CreatedAt.IsZero() {
		return SLAResult{}, fmt.Errorf("ticket %s has no creation time: %w", ticket.ID, models.ErrInvalidTicket)
	}

	var res SLAResult
	if contract != nil {
		if contract.ResolutionTimeHours <= 0 {
			return SLAResult{}, fmt.Errorf("contract %s resolution_time_hours=%d: %w", contract.ID, contract.ResolutionTimeHours, models.ErrInvalidContract)
		}
		if contract.ResponseTimeHours > contract.ResolutionTimeHours {
			return SLAResult{}, fmt.Errorf("contract %s response time exceeds resolution time: %w", contract.ID, models.ErrInvalidContract)
		}
		res.Window = time.Duration(contract.ResolutionTimeHours) * time.Hour
		res.Source = SLASourceContract
		if contract.ResponseTimeHours > 0 {
			rd := ticket.CreatedAt.Add(time.Duration(contract.ResponseTimeHours) * time.Hour)
			res.ResponseDeadline = &rd
		}
	} else {
		res.Window = c.defaultWindow(ticket.Priority)
		res.Source = SLASourcePriority
	}

	res.Deadline = ticket.CreatedAt.Add(res.Window)
	res.Remaining = res.Deadline.Sub(now)
	res.Status = classifySLA(res.Remaining, res.Window, c.cfg.AtRiskFraction)
	return res, nil
}

func (c SLACalculator) defaultWindow(p models.Priority) time.Duration {
	if d, ok := c.cfg.DefaultDeadlines[p]; ok && d > 0 {
		return d
	}
	if p == models.PriorityUrgent {
		if d, ok := c.cfg.DefaultDeadlines[models.PriorityCritical]; ok && d > 0 {
			return d
		}
	}
	return c.cfg.DefaultDeadlines[models.PriorityMedium]
}

func classifySLA(remaining, window time.Duration, fraction float64) models.SLAStatus {
	if remaining < 0 {
		return models.SLABreached
	}
	if float64(remaining) <= fraction*float64(window) {
		return models.SLAAtRisk
	}
	return models.SLAOnTime
}

type SLAService struct {
	Store    Store
	Notifier notify.Notifier
	Logger   zerolog.Logger
	Clock    clock.Clock
	Calc     SLACalculator
}

type SLARefreshSummary struct {
	Processed   int              `json:"processed"`
	OnTime      int              `json:"on_time"`
	AtRisk      int              `json:"at_risk"`
	Breached    int              `json:"breached"`
	Transitions int              `json:"breach_transitions"`
	Errors      []map[string]any `json:"errors"`
}

// Preview computes the SLA of a ticket without persisting it.
func (s *SLAService) Preview(ctx context.Context, ticketID string) (SLAResult, error) {
	ticket, err := s.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return SLAResult{}, err
	}
	contract, err := s.contractFor(ctx, ticket, nil)
	if err != nil {
		return SLAResult{}, err
	}
	return s.Calc.Compute(ticket, contract, s.Clock.Now())
}

func (s *SLAService) RefreshTicket(ctx context.Context, ticketID string) (SLAResult, error) {
	ticket, err := s.Store.GetTicket(ctx, ticketID)
	if err != nil {
		return SLAResult{}, err
	}
	res, _, err := s.refresh(ctx, ticket, nil)
	return res, err
}

func (s *SLAService) RefreshOpenTickets(ctx context.Context) (SLARefreshSummary, error) {
	tickets, err := s.Store.ListOpenTickets(ctx)
	if err != nil {
		return SLARefreshSummary{}, err
	}

	summary := SLARefreshSummary{Errors: []map[string]any{}}
	contracts := map[string]*models.Contract{}
	for _, t := range tickets {
		res, transitioned, err := s.refresh(ctx, t, contracts)
		if err != nil {
			if errors.Is(err, models.ErrStorageUnavailable) {
				return summary, err
			}
			summary.Errors = append(summary.Errors, map[string]any{
				"ticket_id": t.ID,
				"code":      errorCode(err),
				"message":   err.Error(),
			})
			continue
		}
		summary.Processed++
		switch res.Status {
		case models.SLAOnTime:
			summary.OnTime++
		case models.SLAAtRisk:
			summary.AtRisk++
		case models.SLABreached:
			summary.Breached++
		}
		if transitioned {
			summary.Transitions++
		}
	}
	return summary, nil
}

func (s *SLAService) refresh(ctx context.Context, ticket models.Ticket, cache map[string]*models.Contract) (SLAResult, bool, error) {
	contract, err := s.contractFor(ctx, ticket, cache)
	if err != nil {
		return SLAResult{}, false, err
	}
	now := s.Clock.Now()
	res, err := s.Calc.Compute(ticket, contract, now)
	if err != nil {
		return SLAResult{}, false, err
	}
	if err := s.Store.UpdateTicketSLA(ctx, ticket.ID, res.Deadline, res.Status); err != nil {
		return SLAResult{}, false, fmt.Errorf("update ticket %s sla: %w", ticket.ID, err)
	}
	metrics.SLAEvaluations.WithLabelValues(string(res.Status)).Inc()

	transitioned := res.Status == models.SLABreached && ticket.SLAStatus != models.SLABreached
	if transitioned {
		enqueue(ctx, s.Notifier, s.Logger, notify.NewEvent(notify.EventSLABreached, models.TargetTicket, ticket.ID, map[string]any{
			"deadline":        res.Deadline,
			"previous_status": ticket.SLAStatus,
			"priority":        ticket.Priority.String(),
			"source":          res.Source,
		}, now))
	}
	return res, transitioned, nil
}

// contractFor resolves the ticket's contract. A dangling contract reference
// falls back to the priority table rather than failing the ticket.
func (s *SLAService) contractFor(ctx context.Context, ticket models.Ticket, cache map[string]*models.Contract) (*models.Contract, error) {
	if ticket.ContractID == nil || *ticket.ContractID == "" {
		return nil, nil
	}
	id := *ticket.ContractID
	if c, ok := cache[id]; ok {
		return c, nil
	}
	contract, err := s.Store.GetContract(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		s.Logger.Warn().Str("ticket_id", ticket.ID).Str("contract_id", id).Msg("ticket references unknown contract, using priority deadlines")
		if cache != nil {
			cache[id] = nil
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if cache != nil {
		cache[id] = &contract
	}
	return &contract, nil
}
