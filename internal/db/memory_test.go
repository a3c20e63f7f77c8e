package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gymops/backend/internal/clock"
	"github.com/gymops/backend/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func pendingTask(id, contract, equipment string, date time.Time) models.MaintenanceTask {
	return models.MaintenanceTask{
		ID:            id,
		ContractID:    contract,
		EquipmentID:   equipment,
		ScheduledDate: date,
		Status:        models.TaskPending,
		Priority:      models.PriorityMedium,
	}
}

func TestMemoryUpsertTaskKeepsOneLiveTaskPerKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, inserted, err := s.UpsertTask(ctx, pendingTask("t1", "c1", "e1", day(2024, 2, 15)))
	if err != nil || !inserted {
		t.Fatalf("expected first insert, got inserted=%v err=%v", inserted, err)
	}
	got, inserted, err := s.UpsertTask(ctx, pendingTask("t2", "c1", "e1", day(2024, 2, 15).Add(9*time.Hour)))
	if err != nil {
		t.Fatalf("upsert duplicate: %v", err)
	}
	if inserted {
		t.Fatalf("expected duplicate key to be skipped")
	}
	if got.ID != first.ID {
		t.Fatalf("expected existing task %s, got %s", first.ID, got.ID)
	}
	if n := len(s.Tasks()); n != 1 {
		t.Fatalf("expected 1 stored task, got %d", n)
	}
}

func TestMemoryCancelledTaskFreesKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	task := pendingTask("t1", "c1", "e1", day(2024, 2, 15))
	if _, _, err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	task.Status = models.TaskCancelled
	if err := s.UpdateTask(ctx, task); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, inserted, err := s.UpsertTask(ctx, pendingTask("t2", "c1", "e1", day(2024, 2, 15)))
	if err != nil || !inserted {
		t.Fatalf("expected key reusable after cancel, inserted=%v err=%v", inserted, err)
	}
}

func TestMemoryUpdateTaskRejectsNonPending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	done := pendingTask("t1", "c1", "e1", day(2024, 2, 15))
	done.Status = models.TaskCompleted
	if err := s.PutTask(done); err != nil {
		t.Fatalf("put: %v", err)
	}
	done.Title = "changed"
	if err := s.UpdateTask(ctx, done); !errors.Is(err, models.ErrStorageConflict) {
		t.Fatalf("expected ErrStorageConflict, got %v", err)
	}

	tech := "tech-a"
	claimed := pendingTask("t2", "c1", "e1", day(2024, 3, 15))
	claimed.TechnicianID = &tech
	if err := s.PutTask(claimed); err != nil {
		t.Fatalf("put: %v", err)
	}
	claimed.Status = models.TaskCancelled
	if err := s.UpdateTask(ctx, claimed); !errors.Is(err, models.ErrStorageConflict) {
		t.Fatalf("expected cancelling an assigned task to conflict, got %v", err)
	}
	if got, _ := s.GetTask(ctx, "t2"); got.Status != models.TaskPending {
		t.Fatalf("assigned task must stay pending, got %s", got.Status)
	}
	if err := s.UpdateTask(ctx, pendingTask("missing", "c1", "e1", day(2024, 2, 15))); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryAssignTaskGuards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.PutTask(pendingTask("t1", "c1", "e1", day(2024, 2, 15))); err != nil {
		t.Fatalf("put: %v", err)
	}
	now := day(2024, 2, 1)
	a := models.Assignment{TargetID: "t1", TechnicianID: "tech-a", Type: models.AssignmentAutomatic, AssignedAt: now}
	if err := s.AssignTask(ctx, a, models.AssignmentDecisionLog{ID: "l1", TargetID: "t1"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	a.TechnicianID = "tech-b"
	if err := s.AssignTask(ctx, a, models.AssignmentDecisionLog{ID: "l2", TargetID: "t1"}); !errors.Is(err, models.ErrStorageConflict) {
		t.Fatalf("expected automatic reassignment to conflict, got %v", err)
	}
	a.Reassign = true
	a.Type = models.AssignmentManual
	if err := s.AssignTask(ctx, a, models.AssignmentDecisionLog{ID: "l3", TargetID: "t1"}); err != nil {
		t.Fatalf("manual reassign: %v", err)
	}
	task, _ := s.GetTask(ctx, "t1")
	if task.TechnicianID == nil || *task.TechnicianID != "tech-b" {
		t.Fatalf("expected tech-b, got %v", task.TechnicianID)
	}
	if *task.AssignmentType != models.AssignmentManual {
		t.Fatalf("expected manual assignment type, got %s", *task.AssignmentType)
	}
	if n := len(s.AssignmentLogs()); n != 2 {
		t.Fatalf("expected 2 decision logs, got %d", n)
	}
	open, _ := s.LoadOpenTaskCount(ctx, "tech-b")
	if open != 1 {
		t.Fatalf("expected tech-b open count 1, got %d", open)
	}
}

func TestMemoryCandidateTechniciansFilterByTag(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Seed(ctx, Fixture{Technicians: []models.Technician{
		{ID: "a", Specialization: []string{"Cardio"}, MaxDailyTasks: 5, Active: true},
		{ID: "b", Specialization: []string{"general"}, MaxDailyTasks: 5, Active: true},
		{ID: "c", Specialization: []string{"strength"}, MaxDailyTasks: 5, Active: true},
		{ID: "d", Specialization: []string{"cardio"}, MaxDailyTasks: 5, Active: false},
	}})

	got, err := s.LoadCandidateTechnicians(ctx, []string{"cardio", "general"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("expected [a b], got %+v", got)
	}
	all, _ := s.LoadCandidateTechnicians(ctx, nil)
	if len(all) != 3 {
		t.Fatalf("expected 3 active technicians, got %d", len(all))
	}
}

func TestMemoryListUnassignedOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, task := range []models.MaintenanceTask{
		pendingTask("late", "c1", "e1", day(2024, 3, 1)),
		pendingTask("early", "c1", "e2", day(2024, 1, 1)),
		pendingTask("mid", "c1", "e3", day(2024, 2, 1)),
	} {
		if err := s.PutTask(task); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	got, _ := s.ListUnassignedTasks(ctx, 2)
	if len(got) != 2 || got[0].ID != "early" || got[1].ID != "mid" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestMemoryRuns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.GetLatestRun(ctx); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any run, got %v", err)
	}
	clk := clock.Fixed(time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC))
	s.Clock = clk
	id, _ := s.CreateRun(ctx, "RUNNING")
	clk.Advance(time.Minute)
	if err := s.FinishRun(ctx, id, "SUCCESS", []byte(`{"created":3}`)); err != nil {
		t.Fatalf("finish: %v", err)
	}
	run, err := s.GetLatestRun(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if run.Status != "SUCCESS" || run.FinishedAt == nil || string(run.Summary) != `{"created":3}` {
		t.Fatalf("unexpected run: %+v", run)
	}
	if !run.StartedAt.Equal(time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)) || !run.FinishedAt.Equal(run.StartedAt.Add(time.Minute)) {
		t.Fatalf("run times must come from the store clock, got %s - %s", run.StartedAt, run.FinishedAt)
	}
}
