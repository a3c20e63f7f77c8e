package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gymops/backend/internal/clock"
	"github.com/gymops/backend/internal/db"
	"github.com/gymops/backend/internal/models"
	"github.com/gymops/backend/internal/notify"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func strPtr(s string) *string { return &s }

func monthlyContract(id, client string) models.Contract {
	return models.Contract{
		ID:                   id,
		ClientID:             client,
		Status:               models.ContractActive,
		StartDate:            day(2024, 1, 15),
		EndDate:              day(2024, 12, 31),
		MaintenanceFrequency: models.FrequencyMonthly,
		ServiceType:          "preventive",
		SLALevel:             models.SLAPremium,
		ResponseTimeHours:    4,
		ResolutionTimeHours:  24,
	}
}

func equipment(id, client, category string) models.Equipment {
	return models.Equipment{ID: id, ClientID: client, Category: category, LocationID: "loc-" + client}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Enqueue(ctx context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) count(typ string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.Type == typ {
			c++
		}
	}
	return c
}

// racingStore inserts a competing task for the first key it sees, as if a
// concurrent run had won the insert.
type racingStore struct {
	*db.MemoryStore
	raced bool
}

func (s *racingStore) UpsertTask(ctx context.Context, t models.MaintenanceTask) (models.MaintenanceTask, bool, error) {
	if !s.raced {
		s.raced = true
		rival := t
		rival.ID = "rival-" + t.ID
		if _, _, err := s.MemoryStore.UpsertTask(ctx, rival); err != nil {
			return models.MaintenanceTask{}, false, err
		}
	}
	return s.MemoryStore.UpsertTask(ctx, t)
}

// unavailableStore fails equipment reads for one client.
type unavailableStore struct {
	*db.MemoryStore
	client string
}

func (s *unavailableStore) LoadEquipmentByClient(ctx context.Context, clientID string) ([]models.Equipment, error) {
	if clientID == s.client {
		return nil, fmt.Errorf("dial tcp: connection refused: %w", models.ErrStorageUnavailable)
	}
	return s.MemoryStore.LoadEquipmentByClient(ctx, clientID)
}

// assigningStore hands taskID to a technician right after the generator has
// read its snapshot of existing tasks.
type assigningStore struct {
	*db.MemoryStore
	taskID string
	techID string
}

func (s *assigningStore) LoadExistingTasks(ctx context.Context, contractID string, from, to time.Time) ([]models.MaintenanceTask, error) {
	tasks, err := s.MemoryStore.LoadExistingTasks(ctx, contractID, from, to)
	if err != nil {
		return nil, err
	}
	a := models.Assignment{TargetID: s.taskID, TechnicianID: s.techID, Type: models.AssignmentAutomatic, AssignedAt: from}
	if err := s.MemoryStore.AssignTask(ctx, a, models.AssignmentDecisionLog{ID: "log-" + s.taskID, TargetID: s.taskID}); err != nil {
		return nil, err
	}
	return tasks, nil
}

// cancellingStore cancels the run context while the first contract is being
// generated. Run bookkeeping fails like a database call would on a cancelled
// context.
type cancellingStore struct {
	*db.MemoryStore
	cancel context.CancelFunc
}

func (s *cancellingStore) LoadEquipmentByClient(ctx context.Context, clientID string) ([]models.Equipment, error) {
	s.cancel()
	return s.MemoryStore.LoadEquipmentByClient(ctx, clientID)
}

func (s *cancellingStore) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.FinishRun(ctx, runID, status, summary)
}

func seed(t *testing.T, s *db.MemoryStore, f db.Fixture) {
	t.Helper()
	if _, err := s.Seed(context.Background(), f); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newTestEngine(store Store, n notify.Notifier, now time.Time) (*Engine, *clock.FixedClock) {
	clk := clock.Fixed(now)
	return NewEngine(store, n, clk, DefaultConfig(), zerolog.Nop()), clk
}
