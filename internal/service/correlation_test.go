package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gymops/backend/internal/db"
	"github.com/gymops/backend/internal/models"
)

func TestAggregateCompliance(t *testing.T) {
	now := day(2024, 3, 31)
	window := Window{From: day(2024, 3, 1), To: day(2024, 3, 31)}
	late := day(2024, 3, 12)
	onTime := day(2024, 3, 5).Add(15 * time.Hour)

	contracts := []models.Contract{monthlyContract("c1", "gym-1"), monthlyContract("c2", "gym-2")}
	tasks := []models.MaintenanceTask{
		{ID: "1", ContractID: "c1", ScheduledDate: day(2024, 3, 5), Status: models.TaskCompleted, CompletedAt: &onTime},
		{ID: "2", ContractID: "c1", ScheduledDate: day(2024, 3, 10), Status: models.TaskCompleted, CompletedAt: &late},
		{ID: "3", ContractID: "c1", ScheduledDate: day(2024, 3, 15), Status: models.TaskPending},
		{ID: "4", ContractID: "c1", ScheduledDate: day(2024, 3, 20), Status: models.TaskCancelled},
		{ID: "5", ContractID: "c1", ScheduledDate: day(2024, 4, 2), Status: models.TaskPending},
	}
	tickets := []models.Ticket{
		{ID: "a", ContractID: strPtr("c1"), CreatedAt: day(2024, 3, 2), SLAStatus: models.SLAOnTime},
		{ID: "b", ContractID: strPtr("c1"), CreatedAt: day(2024, 3, 3), SLAStatus: models.SLABreached},
		{ID: "c", ContractID: strPtr("c1"), CreatedAt: day(2024, 3, 4), SLAStatus: models.SLAAtRisk},
		{ID: "d", CreatedAt: day(2024, 3, 4)},
	}

	report := Aggregate(contracts, tasks, tickets, window, now)

	if len(report.Contracts) != 2 || report.Contracts[0].ContractID != "c1" {
		t.Fatalf("expected c1 and c2 sorted, got %+v", report.Contracts)
	}
	c1 := report.Contracts[0]
	if c1.Tasks.Total != 3 || c1.Tasks.Completed != 2 || c1.Tasks.CompletedOnTime != 1 || c1.Tasks.Overdue != 1 {
		t.Fatalf("unexpected task counts %+v", c1.Tasks)
	}
	if c1.Tasks.CompliancePercentage != 33.33 {
		t.Fatalf("expected 33.33%%, got %v", c1.Tasks.CompliancePercentage)
	}
	if c1.Tickets.Total != 3 || c1.Tickets.SLACompliancePercentage != 66.67 {
		t.Fatalf("unexpected ticket compliance %+v", c1.Tickets)
	}
	if c1.EfficiencyIndex != 50 {
		t.Fatalf("expected efficiency 50, got %v", c1.EfficiencyIndex)
	}

	c2 := report.Contracts[1]
	if c2.Tasks.Total != 0 || c2.Tasks.CompliancePercentage != 0 || c2.EfficiencyIndex != 0 {
		t.Fatalf("empty contract should report zeros, got %+v", c2)
	}

	overall := report.Overall
	if overall.ContractID != "all" || overall.Tickets.Total != 4 || overall.Tickets.Unevaluated != 1 {
		t.Fatalf("unexpected overall %+v", overall)
	}
	if overall.Tickets.SLACompliancePercentage != 75 {
		t.Fatalf("expected 75%% overall SLA compliance, got %v", overall.Tickets.SLACompliancePercentage)
	}
}

func TestAggregateCompletedWithoutTimestampCountsOnTime(t *testing.T) {
	tasks := []models.MaintenanceTask{{ID: "1", ContractID: "c1", ScheduledDate: day(2024, 3, 5), Status: models.TaskCompleted}}
	report := Aggregate(nil, tasks, nil, Window{From: day(2024, 3, 1), To: day(2024, 3, 31)}, day(2024, 4, 1))
	if report.Overall.Tasks.CompliancePercentage != 100 || report.Overall.EfficiencyIndex != 100 {
		t.Fatalf("unexpected overall %+v", report.Overall)
	}
}

func TestComplianceReport(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	seed(t, store, db.Fixture{
		Contracts: []models.Contract{monthlyContract("c1", "gym-1")},
		Tickets: []models.Ticket{
			{ID: "in", ContractID: strPtr("c1"), CreatedAt: day(2024, 3, 31).Add(23 * time.Hour), SLAStatus: models.SLAOnTime},
			{ID: "out", ContractID: strPtr("c1"), CreatedAt: day(2024, 4, 1), SLAStatus: models.SLABreached},
		},
	})
	if err := store.PutTask(models.MaintenanceTask{ID: "t", ContractID: "c1", EquipmentID: "e1", ScheduledDate: day(2024, 3, 31), Status: models.TaskPending}); err != nil {
		t.Fatalf("put: %v", err)
	}
	engine, _ := newTestEngine(store, nil, day(2024, 4, 1))

	report, err := engine.Reports.Compliance(ctx, Window{From: day(2024, 3, 1), To: day(2024, 3, 31)})
	if err != nil {
		t.Fatalf("compliance: %v", err)
	}
	if report.Overall.Tickets.Total != 1 || report.Overall.Tasks.Total != 1 || report.Overall.Tasks.Overdue != 1 {
		t.Fatalf("unexpected overall %+v", report.Overall)
	}

	if _, err := engine.Reports.Compliance(ctx, Window{From: day(2024, 3, 2), To: day(2024, 3, 1)}); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected invalid window, got %v", err)
	}
}

func TestDefaultWindow(t *testing.T) {
	w := DefaultWindow(time.Date(2024, 3, 31, 18, 0, 0, 0, time.UTC))
	if !w.From.Equal(day(2024, 3, 1)) || !w.To.Equal(day(2024, 3, 31)) {
		t.Fatalf("unexpected window %+v", w)
	}
}
