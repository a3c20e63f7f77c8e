package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gymops/backend/internal/db"
	"github.com/gymops/backend/internal/models"
	"github.com/gymops/backend/internal/notify"
)

func TestComputeSLAContractWindow(t *testing.T) {
	calc := NewSLACalculator(DefaultSLAConfig())
	contract := monthlyContract("c1", "gym-1")
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	ticket := models.Ticket{ID: "tk1", ContractID: strPtr("c1"), Priority: models.PriorityLow, CreatedAt: created}

	cases := []struct {
		elapsed time.Duration
		want    models.SLAStatus
	}{
		{18 * time.Hour, models.SLAOnTime},
		{20 * time.Hour, models.SLAAtRisk},
		{24 * time.Hour, models.SLAAtRisk},
		{25 * time.Hour, models.SLABreached},
	}
	for _, tc := range cases {
		res, err := calc.Compute(ticket, &contract, created.Add(tc.elapsed))
		if err != nil {
			t.Fatalf("compute at +%s: %v", tc.elapsed, err)
		}
		if res.Status != tc.want {
			t.Fatalf("at +%s expected %s, got %s", tc.elapsed, tc.want, res.Status)
		}
		if !res.Deadline.Equal(created.Add(24 * time.Hour)) {
			t.Fatalf("expected deadline T+24h, got %s", res.Deadline)
		}
		if res.ResponseDeadline == nil || !res.ResponseDeadline.Equal(created.Add(4*time.Hour)) {
			t.Fatalf("expected response deadline T+4h, got %v", res.ResponseDeadline)
		}
	}
}

func TestComputeSLAIsMonotonic(t *testing.T) {
	calc := NewSLACalculator(DefaultSLAConfig())
	contract := monthlyContract("c1", "gym-1")
	contract.ResolutionTimeHours = 10
	created := day(2024, 3, 1)
	ticket := models.Ticket{ID: "tk1", CreatedAt: created}

	prev := 0
	for m := 0; m <= 15*60; m += 7 {
		res, err := calc.Compute(ticket, &contract, created.Add(time.Duration(m)*time.Minute))
		if err != nil {
			t.Fatalf("compute: %v", err)
		}
		if sev := res.Status.Severity(); sev < prev {
			t.Fatalf("status went backwards at +%dm: %s", m, res.Status)
		} else {
			prev = sev
		}
	}
	if prev != models.SLABreached.Severity() {
		t.Fatalf("expected to end breached")
	}
}

func TestComputeSLAPriorityTable(t *testing.T) {
	calc := NewSLACalculator(DefaultSLAConfig())
	created := day(2024, 3, 1)

	cases := []struct {
		priority models.Priority
		window   time.Duration
	}{
		{models.PriorityUrgent, 4 * time.Hour},
		{models.PriorityCritical, 4 * time.Hour},
		{models.PriorityHigh, 24 * time.Hour},
		{models.PriorityMedium, 72 * time.Hour},
		{models.PriorityLow, 7 * 24 * time.Hour},
		{models.PriorityUnknown, 72 * time.Hour},
	}
	for _, tc := range cases {
		res, err := calc.Compute(models.Ticket{ID: "tk", Priority: tc.priority, CreatedAt: created}, nil, created)
		if err != nil {
			t.Fatalf("%s: %v", tc.priority, err)
		}
		if res.Source != SLASourcePriority || !res.Deadline.Equal(created.Add(tc.window)) {
			t.Fatalf("%s: expected %s from priority table, got %+v", tc.priority, tc.window, res)
		}
		if res.ResponseDeadline != nil {
			t.Fatalf("%s: no response deadline without a contract", tc.priority)
		}
	}
}

func TestComputeSLAUrgentFallsBackToCritical(t *testing.T) {
	cfg := DefaultSLAConfig()
	delete(cfg.DefaultDeadlines, models.PriorityUrgent)
	cfg.DefaultDeadlines[models.PriorityCritical] = 2 * time.Hour
	calc := NewSLACalculator(cfg)

	created := day(2024, 3, 1)
	res, err := calc.Compute(models.Ticket{ID: "tk", Priority: models.PriorityUrgent, CreatedAt: created}, nil, created)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !res.Deadline.Equal(created.Add(2 * time.Hour)) {
		t.Fatalf("expected the critical window, got %s", res.Deadline)
	}
}

func TestComputeSLAValidation(t *testing.T) {
	calc := NewSLACalculator(DefaultSLAConfig())
	now := day(2024, 3, 1)
	ticket := models.Ticket{ID: "tk", CreatedAt: now}

	bad := monthlyContract("c1", "gym-1")
	bad.ResolutionTimeHours = 0
	if _, err := calc.Compute(ticket, &bad, now); !errors.Is(err, models.ErrInvalidContract) {
		t.Fatalf("expected invalid contract for zero resolution, got %v", err)
	}

	bad = monthlyContract("c1", "gym-1")
	bad.ResponseTimeHours = 48
	if _, err := calc.Compute(ticket, &bad, now); !errors.Is(err, models.ErrInvalidContract) {
		t.Fatalf("expected invalid contract for response > resolution, got %v", err)
	}

	if _, err := calc.Compute(models.Ticket{ID: "tk"}, nil, now); !errors.Is(err, models.ErrInvalidTicket) {
		t.Fatalf("expected invalid ticket, got %v", err)
	}
}

func TestRefreshOpenTicketsNotifiesBreachOnce(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	closed := created.Add(time.Hour)
	seed(t, store, db.Fixture{
		Contracts: []models.Contract{monthlyContract("c1", "gym-1")},
		Tickets: []models.Ticket{
			{ID: "tk1", ContractID: strPtr("c1"), Priority: models.PriorityHigh, CreatedAt: created, SLAStatus: models.SLAOnTime},
			{ID: "tk2", Priority: models.PriorityLow, CreatedAt: created},
			{ID: "tk3", ContractID: strPtr("gone"), Priority: models.PriorityHigh, CreatedAt: created},
			{ID: "tk4", Priority: models.PriorityHigh, CreatedAt: created, ClosedAt: &closed},
		},
	})

	n := &recordingNotifier{}
	engine, clk := newTestEngine(store, n, created.Add(20*time.Hour))

	summary, err := engine.SLA.RefreshOpenTickets(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if summary.Processed != 3 || summary.AtRisk != 2 || summary.OnTime != 1 || summary.Breached != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	clk.Advance(5 * time.Hour)
	summary, err = engine.SLA.RefreshOpenTickets(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if summary.Breached != 2 || summary.Transitions != 2 {
		t.Fatalf("expected two new breaches, got %+v", summary)
	}
	if got := n.count(notify.EventSLABreached); got != 2 {
		t.Fatalf("expected 2 breach events, got %d", got)
	}

	clk.Advance(time.Hour)
	if _, err := engine.SLA.RefreshOpenTickets(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := n.count(notify.EventSLABreached); got != 2 {
		t.Fatalf("breach must only be announced on transition, got %d events", got)
	}

	stored, err := store.GetTicket(ctx, "tk1")
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if stored.SLAStatus != models.SLABreached || stored.SLADeadline == nil || !stored.SLADeadline.Equal(created.Add(24*time.Hour)) {
		t.Fatalf("expected persisted breach with T+24h deadline, got %+v", stored)
	}
}

func TestRefreshTicketSurvivesNotifierFailure(t *testing.T) {
	store := db.NewMemoryStore()
	created := day(2024, 3, 1)
	seed(t, store, db.Fixture{Tickets: []models.Ticket{{ID: "tk1", Priority: models.PriorityCritical, CreatedAt: created}}})

	engine, _ := newTestEngine(store, &recordingNotifier{err: errors.New("queue down")}, created.Add(5*time.Hour))
	res, err := engine.SLA.RefreshTicket(context.Background(), "tk1")
	if err != nil {
		t.Fatalf("refresh should not fail on notifier error: %v", err)
	}
	if res.Status != models.SLABreached {
		t.Fatalf("expected breached, got %s", res.Status)
	}
}

func TestPreviewDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	created := day(2024, 3, 1)
	seed(t, store, db.Fixture{Tickets: []models.Ticket{{ID: "tk1", Priority: models.PriorityHigh, CreatedAt: created}}})

	engine, _ := newTestEngine(store, nil, created.Add(23*time.Hour))
	res, err := engine.SLA.Preview(ctx, "tk1")
	if err != nil || res.Status != models.SLAAtRisk {
		t.Fatalf("expected at_risk preview, got %+v %v", res, err)
	}
	stored, _ := store.GetTicket(ctx, "tk1")
	if stored.SLADeadline != nil || stored.SLAStatus != "" {
		t.Fatalf("preview must not write, got %+v", stored)
	}
}
