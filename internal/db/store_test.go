package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gymops/backend/internal/models"
)

var testStore *Store

// TestMain connects to TEST_DATABASE_URL, or starts a throwaway Postgres
// container when TEST_POSTGRES_CONTAINER=1. Without either, the Postgres
// tests skip and the memory store tests still run.
func TestMain(m *testing.M) {
	ctx := context.Background()
	var container testcontainers.Container

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" && os.Getenv("TEST_POSTGRES_CONTAINER") == "1" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
		var err error
		container, url, err = startPostgres(ctx)
		if err != nil {
			log.Printf("postgres container unavailable: %v", err)
		}
	}
	if url != "" {
		s, err := New(ctx, url)
		if err == nil {
			_, err = s.Migrate(ctx)
		}
		if err != nil {
			log.Printf("postgres store unavailable: %v", err)
		} else {
			testStore = s
		}
	}

	code := m.Run()

	if testStore != nil {
		testStore.Close()
	}
	if container != nil {
		_ = container.Terminate(ctx)
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "gymops",
				"POSTGRES_PASSWORD": "gymops",
				"POSTGRES_DB":       "gymops",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", err
	}
	host, err := c.Host(ctx)
	if err != nil {
		return c, "", err
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		return c, "", err
	}
	return c, fmt.Sprintf("postgres://gymops:gymops@%s:%s/gymops?sslmode=disable", host, port.Port()), nil
}

func requirePostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres tests skipped in -short mode")
	}
	if testStore == nil {
		t.Skip("TEST_DATABASE_URL not set and no postgres container")
	}
	return testStore
}

func seedPostgres(t *testing.T, s *Store) string {
	t.Helper()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	fixture := Fixture{
		Contracts: []models.Contract{{
			ID: "c-" + suffix, ClientID: "cl-" + suffix, Status: models.ContractActive,
			StartDate: day(2024, 1, 15), EndDate: day(2024, 12, 31),
			MaintenanceFrequency: models.FrequencyMonthly, SLALevel: models.SLAPremium,
			ResponseTimeHours: 4, ResolutionTimeHours: 24,
		}},
		Equipment: []models.Equipment{{ID: "e-" + suffix, Category: "cardio", ClientID: "cl-" + suffix}},
		Technicians: []models.Technician{
			{ID: "tech-" + suffix, Name: "Ana", Specialization: []string{"Cardio"}, MaxDailyTasks: 5, Active: true},
		},
		Tickets: []models.Ticket{{ID: "tk-" + suffix, Priority: models.PriorityHigh, CreatedAt: time.Now().UTC()}},
	}
	if _, err := s.Seed(context.Background(), fixture); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return suffix
}

func TestPostgresUpsertTaskDowngradesDuplicate(t *testing.T) {
	s := requirePostgres(t)
	ctx := context.Background()
	sfx := seedPostgres(t, s)

	task := pendingTask("t1-"+sfx, "c-"+sfx, "e-"+sfx, day(2024, 2, 15))
	if _, inserted, err := s.UpsertTask(ctx, task); err != nil || !inserted {
		t.Fatalf("first upsert: inserted=%v err=%v", inserted, err)
	}
	dup := pendingTask("t2-"+sfx, "c-"+sfx, "e-"+sfx, day(2024, 2, 15))
	got, inserted, err := s.UpsertTask(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate upsert: %v", err)
	}
	if inserted || got.ID != task.ID {
		t.Fatalf("expected existing task %s, got inserted=%v id=%s", task.ID, inserted, got.ID)
	}
}

func TestPostgresAssignAndCount(t *testing.T) {
	s := requirePostgres(t)
	ctx := context.Background()
	sfx := seedPostgres(t, s)

	task := pendingTask("t-"+sfx, "c-"+sfx, "e-"+sfx, day(2024, 3, 15))
	if _, _, err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	candidates, err := s.LoadCandidateTechnicians(ctx, []string{"cardio", "general"})
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	found := false
	for _, c := range candidates {
		found = found || c.ID == "tech-"+sfx
	}
	if !found {
		t.Fatalf("expected tech-%s among candidates", sfx)
	}

	a := models.Assignment{TargetID: task.ID, TechnicianID: "tech-" + sfx, Type: models.AssignmentAutomatic, AssignedAt: time.Now().UTC()}
	entry := models.AssignmentDecisionLog{ID: "log-" + sfx, TargetType: models.TargetTask, TargetID: task.ID,
		TechnicianID: "tech-" + sfx, Score: 33, AlgorithmVersion: "multifactor-v1", Breakdown: []byte(`{}`), CreatedAt: time.Now().UTC()}
	if err := s.AssignTask(ctx, a, entry); err != nil {
		t.Fatalf("assign: %v", err)
	}
	entry.ID = "log2-" + sfx
	if err := s.AssignTask(ctx, a, entry); !errors.Is(err, models.ErrStorageConflict) {
		t.Fatalf("expected conflict on second automatic assignment, got %v", err)
	}
	cancelled := task
	cancelled.Status = models.TaskCancelled
	if err := s.UpdateTask(ctx, cancelled); !errors.Is(err, models.ErrStorageConflict) {
		t.Fatalf("expected cancelling an assigned task to conflict, got %v", err)
	}
	open, err := s.LoadOpenTaskCount(ctx, "tech-"+sfx)
	if err != nil || open != 1 {
		t.Fatalf("expected open=1, got %d err=%v", open, err)
	}
	logs, err := s.ListAssignmentLogs(ctx, models.TargetTask, task.ID)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d err=%v", len(logs), err)
	}
}

func TestPostgresTicketSLAAndRuns(t *testing.T) {
	s := requirePostgres(t)
	ctx := context.Background()
	sfx := seedPostgres(t, s)

	deadline := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	if err := s.UpdateTicketSLA(ctx, "tk-"+sfx, deadline, models.SLAOnTime); err != nil {
		t.Fatalf("update sla: %v", err)
	}
	tk, err := s.GetTicket(ctx, "tk-"+sfx)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if tk.SLAStatus != models.SLAOnTime || tk.SLADeadline == nil || !tk.SLADeadline.Equal(deadline) {
		t.Fatalf("unexpected ticket sla: %+v", tk)
	}
	if tk.Priority != models.PriorityHigh {
		t.Fatalf("expected high priority, got %s", tk.Priority)
	}
	if err := s.UpdateTicketSLA(ctx, "missing-"+sfx, deadline, models.SLAOnTime); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	id, err := s.CreateRun(ctx, "RUNNING")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := s.FinishRun(ctx, id, "SUCCESS", []byte(`{"created":1}`)); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	run, err := s.GetLatestRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if run.ID != id || run.Status != "SUCCESS" {
		t.Fatalf("unexpected run: %+v", run)
	}
}
