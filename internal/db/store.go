package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gymops/backend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
	// Priorities folds legacy priority spellings read from the tables.
	Priorities models.PriorityAliases
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, wrapError(err)
	}
	return &Store{Pool: pool, Priorities: models.DefaultPriorityAliases()}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return wrapError(s.Pool.Ping(ctx))
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) priority(raw string) models.Priority {
	aliases := s.Priorities
	if aliases == nil {
		aliases = models.DefaultPriorityAliases()
	}
	return aliases.NormalizeOr(raw, models.PriorityMedium)
}

const contractColumns = `id, client_id, status, start_date, end_date, maintenance_frequency, service_type, sla_level,
	response_time_hours, resolution_time_hours, services_included, equipment_covered, contract_value::float8`

func scanContract(row pgx.Row) (models.Contract, error) {
	var (
		c          models.Contract
		start, end *time.Time
	)
	err := row.Scan(&c.ID, &c.ClientID, &c.Status, &start, &end, &c.MaintenanceFrequency, &c.ServiceType, &c.SLALevel,
		&c.ResponseTimeHours, &c.ResolutionTimeHours, &c.ServicesIncluded, &c.EquipmentCovered, &c.ContractValue)
	if start != nil {
		c.StartDate = *start
	}
	if end != nil {
		c.EndDate = *end
	}
	return c, err
}

func (s *Store) LoadActiveContracts(ctx context.Context) ([]models.Contract, error) {
	return s.ListContracts(ctx, string(models.ContractActive))
}

// ListContracts returns contracts with the given status, or all when status is empty.
func (s *Store) ListContracts(ctx context.Context, status string) ([]models.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts`
	var args []any
	if status != "" {
		args = append(args, status)
		query += ` WHERE status = $1`
	}
	query += ` ORDER BY id`

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []models.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, wrapError(err)
		}
		out = append(out, c)
	}
	return out, wrapError(rows.Err())
}

func (s *Store) GetContract(ctx context.Context, id string) (models.Contract, error) {
	c, err := scanContract(s.Pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
	if err != nil {
		return models.Contract{}, fmt.Errorf("contract %s: %w", id, wrapError(err))
	}
	return c, nil
}

func (s *Store) LoadEquipmentByClient(ctx context.Context, clientID string) ([]models.Equipment, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, category, location_id, client_id, install_date FROM equipment WHERE client_id = $1 ORDER BY id`, clientID)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []models.Equipment
	for rows.Next() {
		var e models.Equipment
		if err := rows.Scan(&e.ID, &e.Category, &e.LocationID, &e.ClientID, &e.InstallDate); err != nil {
			return nil, wrapError(err)
		}
		out = append(out, e)
	}
	return out, wrapError(rows.Err())
}

const taskColumns = `id, contract_id, equipment_id, equipment_category, scheduled_date, status, technician_id,
	assignment_type, assigned_at, title, service_type, priority, completed_at, created_at, updated_at`

func (s *Store) scanTask(row pgx.Row) (models.MaintenanceTask, error) {
	var (
		t        models.MaintenanceTask
		priority string
	)
	err := row.Scan(&t.ID, &t.ContractID, &t.EquipmentID, &t.EquipmentCategory, &t.ScheduledDate, &t.Status, &t.TechnicianID,
		&t.AssignmentType, &t.AssignedAt, &t.Title, &t.ServiceType, &priority, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	t.Priority = s.priority(priority)
	return t, err
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]models.MaintenanceTask, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []models.MaintenanceTask
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, wrapError(err)
		}
		out = append(out, t)
	}
	return out, wrapError(rows.Err())
}

func (s *Store) LoadExistingTasks(ctx context.Context, contractID string, from, to time.Time) ([]models.MaintenanceTask, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM maintenance_tasks
		WHERE contract_id = $1 AND scheduled_date BETWEEN $2 AND $3
		ORDER BY scheduled_date, equipment_id`, contractID, from, to)
}

func (s *Store) LoadTasksInWindow(ctx context.Context, from, to time.Time) ([]models.MaintenanceTask, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM maintenance_tasks
		WHERE scheduled_date BETWEEN $1 AND $2
		ORDER BY scheduled_date, id`, from, to)
}

func (s *Store) ListUnassignedTasks(ctx context.Context, limit int) ([]models.MaintenanceTask, error) {
	query := `SELECT ` + taskColumns + ` FROM maintenance_tasks
		WHERE status = 'pending' AND technician_id IS NULL
		ORDER BY scheduled_date, id`
	if limit > 0 {
		return s.queryTasks(ctx, query+` LIMIT $1`, limit)
	}
	return s.queryTasks(ctx, query)
}

type TaskFilter struct {
	ContractID   string
	TechnicianID string
	Status       string
	From, To     *time.Time
	Limit        int
	Offset       int
}

// ListTasks backs the task listing endpoint.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]models.MaintenanceTask, error) {
	query := `SELECT ` + taskColumns + ` FROM maintenance_tasks`
	var args []any
	var wheres []string
	if f.ContractID != "" {
		args = append(args, f.ContractID)
		wheres = append(wheres, fmt.Sprintf("contract_id = $%d", len(args)))
	}
	if f.TechnicianID != "" {
		args = append(args, f.TechnicianID)
		wheres = append(wheres, fmt.Sprintf("technician_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		wheres = append(wheres, fmt.Sprintf("scheduled_date >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		wheres = append(wheres, fmt.Sprintf("scheduled_date <= $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY scheduled_date, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return s.queryTasks(ctx, query, args...)
}

func (s *Store) GetTask(ctx context.Context, id string) (models.MaintenanceTask, error) {
	t, err := s.scanTask(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM maintenance_tasks WHERE id = $1`, id))
	if err != nil {
		return models.MaintenanceTask{}, fmt.Errorf("task %s: %w", id, wrapError(err))
	}
	return t, nil
}

// UpsertTask relies on the partial unique index over live occurrences. A
// duplicate key returns the row already holding it.
func (s *Store) UpsertTask(ctx context.Context, t models.MaintenanceTask) (models.MaintenanceTask, bool, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO maintenance_tasks (id, contract_id, equipment_id, equipment_category, scheduled_date, status,
			technician_id, assignment_type, assigned_at, title, service_type, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (contract_id, equipment_id, scheduled_date) WHERE status <> 'cancelled' DO NOTHING
		RETURNING `+taskColumns,
		t.ID, t.ContractID, t.EquipmentID, t.EquipmentCategory, models.DateOf(t.ScheduledDate), t.Status,
		t.TechnicianID, t.AssignmentType, t.AssignedAt, t.Title, t.ServiceType, t.Priority.String(), t.CreatedAt, t.UpdatedAt)
	stored, err := s.scanTask(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.MaintenanceTask{}, false, wrapError(err)
	}

	existing, err := s.scanTask(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM maintenance_tasks
		WHERE contract_id = $1 AND equipment_id = $2 AND scheduled_date = $3 AND status <> 'cancelled'`,
		t.ContractID, t.EquipmentID, models.DateOf(t.ScheduledDate)))
	if err != nil {
		// The holder was cancelled between the insert and the read.
		return models.MaintenanceTask{}, false, fmt.Errorf("task %s: %w", t.Key(), models.ErrStorageConflict)
	}
	return existing, false, nil
}

func (s *Store) UpdateTask(ctx context.Context, t models.MaintenanceTask) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE maintenance_tasks
		SET title = $2, service_type = $3, priority = $4, equipment_category = $5, status = $6, updated_at = $7
		WHERE id = $1 AND status = 'pending' AND ($6 <> 'cancelled' OR technician_id IS NULL)`,
		t.ID, t.Title, t.ServiceType, t.Priority.String(), t.EquipmentCategory, t.Status, t.UpdatedAt)
	if err != nil {
		return wrapError(err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, `SELECT EXISTS(SELECT 1 FROM maintenance_tasks WHERE id = $1)`, t.ID)
	}
	return nil
}

func (s *Store) missingOrConflict(ctx context.Context, existsQuery, id string) error {
	var exists bool
	if err := s.Pool.QueryRow(ctx, existsQuery, id).Scan(&exists); err != nil {
		return wrapError(err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("%s changed concurrently: %w", id, models.ErrStorageConflict)
}

const technicianColumns = `id, name, specialization, max_daily_tasks, active`

func (s *Store) LoadCandidateTechnicians(ctx context.Context, tags []string) ([]models.Technician, error) {
	query := `SELECT ` + technicianColumns + ` FROM technicians WHERE active`
	var args []any
	if tags != nil {
		lowered := make([]string, 0, len(tags))
		for _, t := range tags {
			lowered = append(lowered, strings.ToLower(strings.TrimSpace(t)))
		}
		args = append(args, lowered)
		query += ` AND EXISTS (SELECT 1 FROM unnest(specialization) AS sp WHERE lower(trim(sp)) = ANY($1))`
	}
	query += ` ORDER BY id`

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []models.Technician
	for rows.Next() {
		var t models.Technician
		if err := rows.Scan(&t.ID, &t.Name, &t.Specialization, &t.MaxDailyTasks, &t.Active); err != nil {
			return nil, wrapError(err)
		}
		out = append(out, t)
	}
	return out, wrapError(rows.Err())
}

func (s *Store) GetTechnician(ctx context.Context, id string) (models.Technician, error) {
	var t models.Technician
	err := s.Pool.QueryRow(ctx, `SELECT `+technicianColumns+` FROM technicians WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Specialization, &t.MaxDailyTasks, &t.Active)
	if err != nil {
		return models.Technician{}, fmt.Errorf("technician %s: %w", id, wrapError(err))
	}
	return t, nil
}

func (s *Store) LoadOpenTaskCount(ctx context.Context, technicianID string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM maintenance_tasks WHERE technician_id = $1 AND status IN ('pending', 'in_progress')`, technicianID).Scan(&n)
	return n, wrapError(err)
}

func (s *Store) AssignTask(ctx context.Context, a models.Assignment, entry models.AssignmentDecisionLog) error {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		guard := `status = 'pending' AND technician_id IS NULL`
		if a.Reassign {
			guard = `status IN ('pending', 'in_progress')`
		}
		tag, err := tx.Exec(ctx, `
			UPDATE maintenance_tasks
			SET technician_id = $2, assignment_type = $3, assigned_at = $4, updated_at = $4
			WHERE id = $1 AND `+guard,
			a.TargetID, a.TechnicianID, a.Type, a.AssignedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("task %s is no longer assignable: %w", a.TargetID, models.ErrStorageConflict)
		}
		return insertLog(ctx, tx, entry)
	})
	return wrapError(err)
}

func (s *Store) AssignTicket(ctx context.Context, a models.Assignment, entry models.AssignmentDecisionLog) error {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE tickets SET assigned_technician_id = $2 WHERE id = $1 AND closed_at IS NULL`, a.TargetID, a.TechnicianID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("ticket %s is no longer assignable: %w", a.TargetID, models.ErrStorageConflict)
		}
		return insertLog(ctx, tx, entry)
	})
	return wrapError(err)
}

func (s *Store) AppendAssignmentLog(ctx context.Context, entry models.AssignmentDecisionLog) error {
	return wrapError(insertLog(ctx, s.Pool, entry))
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertLog(ctx context.Context, db execer, e models.AssignmentDecisionLog) error {
	_, err := db.Exec(ctx, `
		INSERT INTO assignment_decision_logs (id, target_type, target_id, technician_id, score, algorithm_version, breakdown, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.TargetType, e.TargetID, e.TechnicianID, e.Score, e.AlgorithmVersion, []byte(e.Breakdown), e.CreatedAt)
	return err
}

// ListAssignmentLogs returns the decision history of one target, newest first.
func (s *Store) ListAssignmentLogs(ctx context.Context, targetType, targetID string) ([]models.AssignmentDecisionLog, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, target_type, target_id, technician_id, score, algorithm_version, breakdown, created_at
		FROM assignment_decision_logs WHERE target_type = $1 AND target_id = $2
		ORDER BY created_at DESC`, targetType, targetID)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []models.AssignmentDecisionLog
	for rows.Next() {
		var (
			e         models.AssignmentDecisionLog
			breakdown []byte
		)
		if err := rows.Scan(&e.ID, &e.TargetType, &e.TargetID, &e.TechnicianID, &e.Score, &e.AlgorithmVersion, &breakdown, &e.CreatedAt); err != nil {
			return nil, wrapError(err)
		}
		e.Breakdown = json.RawMessage(breakdown)
		out = append(out, e)
	}
	return out, wrapError(rows.Err())
}

const ticketColumns = `id, contract_id, priority, equipment_category, created_at, sla_deadline, sla_status,
	workflow_stage, assigned_technician_id, closed_at`

func (s *Store) scanTicket(row pgx.Row) (models.Ticket, error) {
	var (
		t        models.Ticket
		priority string
	)
	err := row.Scan(&t.ID, &t.ContractID, &priority, &t.EquipmentCategory, &t.CreatedAt, &t.SLADeadline, &t.SLAStatus,
		&t.WorkflowStage, &t.AssignedTechnicianID, &t.ClosedAt)
	t.Priority = s.priority(priority)
	return t, err
}

func (s *Store) queryTickets(ctx context.Context, query string, args ...any) ([]models.Ticket, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := s.scanTicket(rows)
		if err != nil {
			return nil, wrapError(err)
		}
		out = append(out, t)
	}
	return out, wrapError(rows.Err())
}

func (s *Store) GetTicket(ctx context.Context, id string) (models.Ticket, error) {
	t, err := s.scanTicket(s.Pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		return models.Ticket{}, fmt.Errorf("ticket %s: %w", id, wrapError(err))
	}
	return t, nil
}

func (s *Store) ListOpenTickets(ctx context.Context) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE closed_at IS NULL ORDER BY created_at, id`)
}

func (s *Store) LoadTicketsInWindow(ctx context.Context, from, to time.Time) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at, id`, from, to)
}

func (s *Store) UpdateTicketSLA(ctx context.Context, ticketID string, deadline time.Time, status models.SLAStatus) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE tickets SET sla_deadline = $2, sla_status = $3 WHERE id = $1`, ticketID, deadline, status)
	if err != nil {
		return wrapError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ticket %s: %w", ticketID, models.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, status string) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `INSERT INTO runs (status, started_at) VALUES ($1, NOW()) RETURNING id::text`, status).Scan(&id)
	return id, wrapError(err)
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3::uuid`, status, summary, runID)
	return wrapError(err)
}

func (s *Store) GetLatestRun(ctx context.Context) (models.Run, error) {
	var (
		r       models.Run
		summary []byte
	)
	err := s.Pool.QueryRow(ctx, `SELECT id::text, started_at, finished_at, status, summary FROM runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &summary)
	if err != nil {
		return models.Run{}, wrapError(err)
	}
	r.Summary = json.RawMessage(summary)
	return r, nil
}
