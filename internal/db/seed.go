package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gymops/backend/internal/models"
)

// Fixture is a bulk load of reference data, used by `maintctl seed` and the
// integration tests.
type Fixture struct {
	Contracts   []models.Contract   `json:"contracts"`
	Equipment   []models.Equipment  `json:"equipment"`
	Technicians []models.Technician `json:"technicians"`
	Tickets     []models.Ticket     `json:"tickets"`
}

// Seed copies the fixture into empty tables in one transaction.
func (s *Store) Seed(ctx context.Context, f Fixture) (map[string]int64, error) {
	counts := map[string]int64{}
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		n, err := insertContracts(ctx, tx, f.Contracts)
		if err != nil {
			return err
		}
		counts["contracts"] = n
		if n, err = insertEquipment(ctx, tx, f.Equipment); err != nil {
			return err
		}
		counts["equipment"] = n
		if n, err = insertTechnicians(ctx, tx, f.Technicians); err != nil {
			return err
		}
		counts["technicians"] = n
		if n, err = insertTickets(ctx, tx, f.Tickets); err != nil {
			return err
		}
		counts["tickets"] = n
		return nil
	})
	return counts, wrapError(err)
}

func insertContracts(ctx context.Context, tx pgx.Tx, contracts []models.Contract) (int64, error) {
	rows := make([][]any, 0, len(contracts))
	for _, c := range contracts {
		rows = append(rows, []any{c.ID, c.ClientID, string(c.Status), nullDate(c.StartDate), nullDate(c.EndDate),
			string(c.MaintenanceFrequency), c.ServiceType, string(c.SLALevel), c.ResponseTimeHours, c.ResolutionTimeHours,
			nonNil(c.ServicesIncluded), nonNil(c.EquipmentCovered), c.ContractValue})
	}
	return tx.CopyFrom(ctx, pgx.Identifier{"contracts"}, []string{"id", "client_id", "status", "start_date", "end_date",
		"maintenance_frequency", "service_type", "sla_level", "response_time_hours", "resolution_time_hours",
		"services_included", "equipment_covered", "contract_value"}, pgx.CopyFromRows(rows))
}

func insertEquipment(ctx context.Context, tx pgx.Tx, equipment []models.Equipment) (int64, error) {
	rows := make([][]any, 0, len(equipment))
	for _, e := range equipment {
		rows = append(rows, []any{e.ID, e.Category, e.LocationID, e.ClientID, e.InstallDate})
	}
	return tx.CopyFrom(ctx, pgx.Identifier{"equipment"}, []string{"id", "category", "location_id", "client_id", "install_date"}, pgx.CopyFromRows(rows))
}

func insertTechnicians(ctx context.Context, tx pgx.Tx, techs []models.Technician) (int64, error) {
	rows := make([][]any, 0, len(techs))
	for _, t := range techs {
		rows = append(rows, []any{t.ID, t.Name, nonNil(t.Specialization), t.MaxDailyTasks, t.Active})
	}
	return tx.CopyFrom(ctx, pgx.Identifier{"technicians"}, []string{"id", "name", "specialization", "max_daily_tasks", "active"}, pgx.CopyFromRows(rows))
}

func insertTickets(ctx context.Context, tx pgx.Tx, tickets []models.Ticket) (int64, error) {
	rows := make([][]any, 0, len(tickets))
	for _, t := range tickets {
		rows = append(rows, []any{t.ID, t.ContractID, t.Priority.String(), t.EquipmentCategory, t.CreatedAt, t.SLADeadline,
			string(t.SLAStatus), t.WorkflowStage, t.AssignedTechnicianID, t.ClosedAt})
	}
	return tx.CopyFrom(ctx, pgx.Identifier{"tickets"}, []string{"id", "contract_id", "priority", "equipment_category", "created_at",
		"sla_deadline", "sla_status", "workflow_stage", "assigned_technician_id", "closed_at"}, pgx.CopyFromRows(rows))
}

func nullDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := models.DateOf(t)
	return &d
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
