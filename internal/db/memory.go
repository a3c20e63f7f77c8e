package db

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gymops/backend/internal/clock"
	"github.com/gymops/backend/internal/models"
)

// MemoryStore keeps every table in process. It enforces the same
// occurrence uniqueness and assignment guards as the Postgres store and
// backs the tests and database-less local runs. Clock stamps run rows.
type MemoryStore struct {
	Clock clock.Clock

	mu          sync.Mutex
	contracts   map[string]models.Contract
	equipment   map[string]models.Equipment
	technicians map[string]models.Technician
	tasks       map[string]models.MaintenanceTask
	live        map[models.TaskKey]string
	tickets     map[string]models.Ticket
	logs        []models.AssignmentDecisionLog
	runs        []models.Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Clock:       clock.Real(),
		contracts:   map[string]models.Contract{},
		equipment:   map[string]models.Equipment{},
		technicians: map[string]models.Technician{},
		tasks:       map[string]models.MaintenanceTask{},
		live:        map[models.TaskKey]string{},
		tickets:     map[string]models.Ticket{},
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Seed(ctx context.Context, f Fixture) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range f.Contracts {
		m.contracts[c.ID] = c
	}
	for _, e := range f.Equipment {
		m.equipment[e.ID] = e
	}
	for _, t := range f.Technicians {
		m.technicians[t.ID] = t
	}
	for _, t := range f.Tickets {
		m.tickets[t.ID] = t
	}
	return map[string]int64{
		"contracts":   int64(len(f.Contracts)),
		"equipment":   int64(len(f.Equipment)),
		"technicians": int64(len(f.Technicians)),
		"tickets":     int64(len(f.Tickets)),
	}, nil
}

// PutTask stores a task as-is, bypassing the generator. A live task whose key
// is already taken fails with models.ErrStorageConflict.
func (m *MemoryStore) PutTask(t models.MaintenanceTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ScheduledDate = models.DateOf(t.ScheduledDate)
	if t.Status != models.TaskCancelled {
		if holder, ok := m.live[t.Key()]; ok && holder != t.ID {
			return fmt.Errorf("task %s: %w", t.Key(), models.ErrStorageConflict)
		}
		m.live[t.Key()] = t.ID
	}
	m.tasks[t.ID] = t
	return nil
}

// Tasks returns every stored task ordered by scheduled date and id.
func (m *MemoryStore) Tasks() []models.MaintenanceTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTasks(func(models.MaintenanceTask) bool { return true })
}

func (m *MemoryStore) AssignmentLogs() []models.AssignmentDecisionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AssignmentDecisionLog(nil), m.logs...)
}

func (m *MemoryStore) ListContracts(ctx context.Context, status string) ([]models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		if status == "" || string(c.Status) == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) LoadActiveContracts(ctx context.Context) ([]models.Contract, error) {
	return m.ListContracts(ctx, string(models.ContractActive))
}

func (m *MemoryStore) GetContract(ctx context.Context, id string) (models.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return models.Contract{}, fmt.Errorf("contract %s: %w", id, models.ErrNotFound)
	}
	return c, nil
}

func (m *MemoryStore) LoadEquipmentByClient(ctx context.Context, clientID string) ([]models.Equipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Equipment
	for _, e := range m.equipment {
		if e.ClientID == clientID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) sortedTasks(keep func(models.MaintenanceTask) bool) []models.MaintenanceTask {
	var out []models.MaintenanceTask
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func inDays(t, from, to time.Time) bool {
	d := models.DateOf(t)
	return !d.Before(models.DateOf(from)) && !d.After(models.DateOf(to))
}

func (m *MemoryStore) LoadExistingTasks(ctx context.Context, contractID string, from, to time.Time) ([]models.MaintenanceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTasks(func(t models.MaintenanceTask) bool {
		return t.ContractID == contractID && inDays(t.ScheduledDate, from, to)
	}), nil
}

func (m *MemoryStore) LoadTasksInWindow(ctx context.Context, from, to time.Time) ([]models.MaintenanceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTasks(func(t models.MaintenanceTask) bool {
		return inDays(t.ScheduledDate, from, to)
	}), nil
}

func (m *MemoryStore) ListUnassignedTasks(ctx context.Context, limit int) ([]models.MaintenanceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedTasks(func(t models.MaintenanceTask) bool {
		return t.Status == models.TaskPending && t.TechnicianID == nil
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListTasks(ctx context.Context, f TaskFilter) ([]models.MaintenanceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedTasks(func(t models.MaintenanceTask) bool {
		switch {
		case f.ContractID != "" && t.ContractID != f.ContractID,
			f.TechnicianID != "" && (t.TechnicianID == nil || *t.TechnicianID != f.TechnicianID),
			f.Status != "" && string(t.Status) != f.Status,
			f.From != nil && t.ScheduledDate.Before(models.DateOf(*f.From)),
			f.To != nil && t.ScheduledDate.After(models.DateOf(*f.To)):
			return false
		}
		return true
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (models.MaintenanceTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.MaintenanceTask{}, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	return t, nil
}

func (m *MemoryStore) UpsertTask(ctx context.Context, t models.MaintenanceTask) (models.MaintenanceTask, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ScheduledDate = models.DateOf(t.ScheduledDate)
	if holder, ok := m.live[t.Key()]; ok {
		return m.tasks[holder], false, nil
	}
	if _, dup := m.tasks[t.ID]; dup {
		return models.MaintenanceTask{}, false, fmt.Errorf("task id %s: %w", t.ID, models.ErrStorageConflict)
	}
	m.tasks[t.ID] = t
	if t.Status != models.TaskCancelled {
		m.live[t.Key()] = t.ID
	}
	return t, true, nil
}

func (m *MemoryStore) UpdateTask(ctx context.Context, t models.MaintenanceTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[t.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", t.ID, models.ErrNotFound)
	}
	if cur.Status != models.TaskPending {
		return fmt.Errorf("task %s changed concurrently: %w", t.ID, models.ErrStorageConflict)
	}
	if t.Status == models.TaskCancelled && cur.TechnicianID != nil {
		return fmt.Errorf("task %s assigned concurrently: %w", t.ID, models.ErrStorageConflict)
	}
	cur.Title = t.Title
	cur.ServiceType = t.ServiceType
	cur.Priority = t.Priority
	cur.EquipmentCategory = t.EquipmentCategory
	cur.Status = t.Status
	cur.UpdatedAt = t.UpdatedAt
	if cur.Status == models.TaskCancelled && m.live[cur.Key()] == cur.ID {
		delete(m.live, cur.Key())
	}
	m.tasks[t.ID] = cur
	return nil
}

func (m *MemoryStore) LoadCandidateTechnicians(ctx context.Context, tags []string) ([]models.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Technician
	for _, t := range m.technicians {
		if !t.Active {
			continue
		}
		if tags != nil && !overlaps(t.Specialization, tags) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func overlaps(have, want []string) bool {
	for _, w := range want {
		if models.HasTag(have, w) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetTechnician(ctx context.Context, id string) (models.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.technicians[id]
	if !ok {
		return models.Technician{}, fmt.Errorf("technician %s: %w", id, models.ErrNotFound)
	}
	return t, nil
}

func (m *MemoryStore) LoadOpenTaskCount(ctx context.Context, technicianID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.TechnicianID != nil && *t.TechnicianID == technicianID && t.Status.Open() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AssignTask(ctx context.Context, a models.Assignment, entry models.AssignmentDecisionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[a.TargetID]
	if !ok {
		return fmt.Errorf("task %s: %w", a.TargetID, models.ErrNotFound)
	}
	assignable := t.Status == models.TaskPending && t.TechnicianID == nil
	if a.Reassign {
		assignable = t.Status.Open()
	}
	if !assignable {
		return fmt.Errorf("task %s is no longer assignable: %w", a.TargetID, models.ErrStorageConflict)
	}
	techID, typ, at := a.TechnicianID, a.Type, a.AssignedAt
	t.TechnicianID = &techID
	t.AssignmentType = &typ
	t.AssignedAt = &at
	t.UpdatedAt = at
	m.tasks[t.ID] = t
	m.logs = append(m.logs, entry)
	return nil
}

func (m *MemoryStore) AssignTicket(ctx context.Context, a models.Assignment, entry models.AssignmentDecisionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[a.TargetID]
	if !ok {
		return fmt.Errorf("ticket %s: %w", a.TargetID, models.ErrNotFound)
	}
	if t.ClosedAt != nil {
		return fmt.Errorf("ticket %s is no longer assignable: %w", a.TargetID, models.ErrStorageConflict)
	}
	techID := a.TechnicianID
	t.AssignedTechnicianID = &techID
	m.tickets[t.ID] = t
	m.logs = append(m.logs, entry)
	return nil
}

func (m *MemoryStore) AppendAssignmentLog(ctx context.Context, entry models.AssignmentDecisionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *MemoryStore) ListAssignmentLogs(ctx context.Context, targetType, targetID string) ([]models.AssignmentDecisionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AssignmentDecisionLog
	for i := len(m.logs) - 1; i >= 0; i-- {
		if m.logs[i].TargetType == targetType && m.logs[i].TargetID == targetID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) GetTicket(ctx context.Context, id string) (models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return models.Ticket{}, fmt.Errorf("ticket %s: %w", id, models.ErrNotFound)
	}
	return t, nil
}

func (m *MemoryStore) sortedTickets(keep func(models.Ticket) bool) []models.Ticket {
	var out []models.Ticket
	for _, t := range m.tickets {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) ListOpenTickets(ctx context.Context) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTickets(func(t models.Ticket) bool { return t.ClosedAt == nil }), nil
}

func (m *MemoryStore) LoadTicketsInWindow(ctx context.Context, from, to time.Time) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedTickets(func(t models.Ticket) bool {
		return !t.CreatedAt.Before(from) && t.CreatedAt.Before(to)
	}), nil
}

func (m *MemoryStore) UpdateTicketSLA(ctx context.Context, ticketID string, deadline time.Time, status models.SLAStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return fmt.Errorf("ticket %s: %w", ticketID, models.ErrNotFound)
	}
	d := deadline
	t.SLADeadline = &d
	t.SLAStatus = status
	m.tickets[ticketID] = t
	return nil
}

func (m *MemoryStore) CreateRun(ctx context.Context, status string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "run-" + strconv.Itoa(len(m.runs)+1)
	m.runs = append(m.runs, models.Run{ID: id, StartedAt: m.Clock.Now(), Status: status})
	return id, nil
}

func (m *MemoryStore) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == runID {
			now := m.Clock.Now()
			m.runs[i].Status = status
			m.runs[i].Summary = append([]byte(nil), summary...)
			m.runs[i].FinishedAt = &now
			return nil
		}
	}
	return fmt.Errorf("run %s: %w", runID, models.ErrNotFound)
}

func (m *MemoryStore) GetLatestRun(ctx context.Context) (models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return models.Run{}, fmt.Errorf("no runs: %w", models.ErrNotFound)
	}
	return m.runs[len(m.runs)-1], nil
}
