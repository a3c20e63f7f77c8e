package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/gymops/backend/internal/db"
	"github.com/gymops/backend/internal/models"
	"github.com/gymops/backend/internal/service"
)

// Store is what the handlers read directly, on top of the engine's store.
type Store interface {
	service.Store
	Ping(ctx context.Context) error
	ListContracts(ctx context.Context, status string) ([]models.Contract, error)
	ListTasks(ctx context.Context, f db.TaskFilter) ([]models.MaintenanceTask, error)
	ListAssignmentLogs(ctx context.Context, targetType, targetID string) ([]models.AssignmentDecisionLog, error)
}

type Handler struct {
	Store     Store
	Engine    *service.Engine
	Validator *validator.Validate
	Logger    zerolog.Logger
}

type GenerateRequest struct {
	MonthsAhead     int  `json:"months_ahead" validate:"omitempty,min=1,max=24"`
	ForceRegenerate bool `json:"force_regenerate"`
	DryRun          bool `json:"dry_run"`
}

type ReassignRequest struct {
	TechnicianID string `json:"technician_id" validate:"required"`
	Reason       string `json:"reason" validate:"required,max=500"`
}

type AssignPendingRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=1000"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary List contracts
// @Tags contracts
// @Produce json
// @Param status query string false "active, expired or cancelled"
// @Success 200 {array} models.Contract
// @Router /api/contracts [get]
func (h *Handler) ContractsList(c *gin.Context) {
	contracts, err := h.Store.ListContracts(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.writeServiceError(c, err, "Failed to list contracts")
		return
	}
	if contracts == nil {
		contracts = []models.Contract{}
	}
	c.JSON(http.StatusOK, contracts)
}

// @Summary List maintenance tasks
// @Tags tasks
// @Produce json
// @Param contract_id query string false "contract id"
// @Param technician_id query string false "technician id"
// @Param status query string false "pending, in_progress, completed or cancelled"
// @Param from query string false "YYYY-MM-DD"
// @Param to query string false "YYYY-MM-DD"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {array} models.MaintenanceTask
// @Router /api/tasks [get]
func (h *Handler) TasksList(c *gin.Context) {
	f := db.TaskFilter{
		ContractID:   c.Query("contract_id"),
		TechnicianID: c.Query("technician_id"),
		Status:       c.Query("status"),
		Limit:        100,
	}
	var err error
	if f.From, err = parseDateParam(c, "from"); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "from must be YYYY-MM-DD", err.Error())
		return
	}
	if f.To, err = parseDateParam(c, "to"); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "to must be YYYY-MM-DD", err.Error())
		return
	}
	if v := c.Query("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 1 {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", nil)
			return
		}
	}
	if v := c.Query("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil || f.Offset < 0 {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "offset must be a non-negative integer", nil)
			return
		}
	}

	tasks, err := h.Store.ListTasks(c.Request.Context(), f)
	if err != nil {
		h.writeServiceError(c, err, "Failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []models.MaintenanceTask{}
	}
	c.JSON(http.StatusOK, tasks)
}

// @Summary Latest generation run
// @Tags runs
// @Produce json
// @Success 200 {object} models.Run
// @Router /api/runs/latest [get]
func (h *Handler) RunsLatest(c *gin.Context) {
	run, err := h.Store.GetLatestRun(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err, "No runs found")
		return
	}
	c.JSON(http.StatusOK, run)
}

// @Summary Generate tasks for one contract
// @Tags generation
// @Accept json
// @Produce json
// @Param id path string true "contract id"
// @Param body body GenerateRequest false "options"
// @Success 200 {object} service.ContractResult
// @Failure 404 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/contracts/{id}/generate [post]
func (h *Handler) GenerateContract(c *gin.Context) {
	req, ok := h.bindGenerate(c)
	if !ok {
		return
	}
	res, err := h.Engine.Generation.GenerateForContract(c.Request.Context(), c.Param("id"), service.GenerateOptions{
		MonthsAhead: req.MonthsAhead,
		Force:       req.ForceRegenerate,
		DryRun:      req.DryRun,
	})
	if err != nil {
		h.writeServiceError(c, err, "Generation failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Generate tasks for every active contract
// @Tags generation
// @Accept json
// @Produce json
// @Param body body GenerateRequest false "options"
// @Success 200 {object} service.BulkSummary
// @Router /api/maintenance/generate [post]
func (h *Handler) GenerateAll(c *gin.Context) {
	req, ok := h.bindGenerate(c)
	if !ok {
		return
	}
	summary, err := h.Engine.Generation.GenerateAll(c.Request.Context(), service.GenerateOptions{
		MonthsAhead: req.MonthsAhead,
		Force:       req.ForceRegenerate,
		DryRun:      req.DryRun,
	})
	if err != nil {
		h.Logger.Error().Err(err).Str("run_id", summary.RunID).Msg("generation aborted")
		h.writeServiceError(c, err, "Generation aborted")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) bindGenerate(c *gin.Context) (GenerateRequest, bool) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return req, false
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return req, false
	}
	return req, true
}

// @Summary Auto-assign a technician to a task
// @Tags assignment
// @Produce json
// @Param id path string true "task id"
// @Success 200 {object} service.AssignmentOutcome
// @Failure 409 {object} map[string]any
// @Router /api/tasks/{id}/assign [post]
func (h *Handler) AssignTask(c *gin.Context) {
	out, err := h.Engine.Assignment.AssignTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err, "Assignment failed")
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary Manually reassign a task
// @Tags assignment
// @Accept json
// @Produce json
// @Param id path string true "task id"
// @Param body body ReassignRequest true "technician and reason"
// @Success 200 {object} service.AssignmentOutcome
// @Router /api/tasks/{id}/reassign [post]
func (h *Handler) ReassignTask(c *gin.Context) {
	var req ReassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	out, err := h.Engine.Assignment.Reassign(c.Request.Context(), c.Param("id"), req.TechnicianID, req.Reason)
	if err != nil {
		h.writeServiceError(c, err, "Reassignment failed")
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary Auto-assign every unassigned pending task
// @Tags assignment
// @Accept json
// @Produce json
// @Param body body AssignPendingRequest false "batch size"
// @Success 200 {object} service.PendingSummary
// @Router /api/tasks/assign-pending [post]
func (h *Handler) AssignPending(c *gin.Context) {
	var req AssignPendingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	summary, err := h.Engine.Assignment.AssignPending(c.Request.Context(), req.Limit)
	if err != nil {
		h.writeServiceError(c, err, "Assignment batch aborted")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Auto-assign a technician to a ticket
// @Tags assignment
// @Produce json
// @Param id path string true "ticket id"
// @Success 200 {object} service.AssignmentOutcome
// @Router /api/tickets/{id}/assign [post]
func (h *Handler) AssignTicket(c *gin.Context) {
	out, err := h.Engine.Assignment.AssignTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err, "Assignment failed")
		return
	}
	c.JSON(http.StatusOK, out)
}

// @Summary Preview a ticket's SLA
// @Tags sla
// @Produce json
// @Param id path string true "ticket id"
// @Success 200 {object} service.SLAResult
// @Router /api/tickets/{id}/sla [get]
func (h *Handler) TicketSLA(c *gin.Context) {
	res, err := h.Engine.SLA.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err, "SLA computation failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Recompute and store a ticket's SLA
// @Tags sla
// @Produce json
// @Param id path string true "ticket id"
// @Success 200 {object} service.SLAResult
// @Router /api/tickets/{id}/sla [post]
func (h *Handler) RefreshTicketSLA(c *gin.Context) {
	res, err := h.Engine.SLA.RefreshTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err, "SLA refresh failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary Recompute SLA for every open ticket
// @Tags sla
// @Produce json
// @Success 200 {object} service.SLARefreshSummary
// @Router /api/tickets/sla/refresh [post]
func (h *Handler) RefreshOpenSLA(c *gin.Context) {
	summary, err := h.Engine.SLA.RefreshOpenTickets(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err, "SLA refresh aborted")
		return
	}
	c.JSON(http.StatusOK, summary)
}

// @Summary Compliance and efficiency report
// @Tags reports
// @Produce json
// @Param from query string false "YYYY-MM-DD, default 30 days ago"
// @Param to query string false "YYYY-MM-DD, default today"
// @Success 200 {object} service.CorrelationReport
// @Router /api/reports/compliance [get]
func (h *Handler) ComplianceReport(c *gin.Context) {
	window := service.DefaultWindow(h.Engine.Reports.Clock.Now())
	from, err := parseDateParam(c, "from")
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "from must be YYYY-MM-DD", err.Error())
		return
	}
	to, err := parseDateParam(c, "to")
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "to must be YYYY-MM-DD", err.Error())
		return
	}
	if from != nil {
		window.From = *from
	}
	if to != nil {
		window.To = *to
	}
	report, err := h.Engine.Reports.Compliance(c.Request.Context(), window)
	if err != nil {
		h.writeServiceError(c, err, "Report failed")
		return
	}
	c.JSON(http.StatusOK, report)
}

// @Summary Score candidates for a task without assigning
// @Tags debug
// @Produce json
// @Param task_id query string true "task id"
// @Success 200 {object} map[string]any
// @Router /api/debug/scoring [get]
func (h *Handler) DebugScoring(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "task_id is required", nil)
		return
	}
	preview, err := h.Engine.Assignment.PreviewTask(c.Request.Context(), taskID)
	if err != nil {
		h.writeServiceError(c, err, "Scoring failed")
		return
	}
	history, err := h.Store.ListAssignmentLogs(c.Request.Context(), models.TargetTask, taskID)
	if err != nil {
		h.writeServiceError(c, err, "Failed to load decision history")
		return
	}
	if history == nil {
		history = []models.AssignmentDecisionLog{}
	}
	c.JSON(http.StatusOK, gin.H{
		"algorithm_version": h.Engine.Config.AlgorithmVersion,
		"weights":           h.Engine.Config.Weights,
		"preview":           preview,
		"history":           history,
	})
}

func parseDateParam(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(models.DateLayout, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) writeServiceError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrInvalidContract), errors.Is(err, models.ErrInvalidTicket):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrContractExpired),
		errors.Is(err, models.ErrStorageConflict),
		errors.Is(err, service.ErrNotAssignable):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidWindow):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		h.Logger.Error().Err(err).Str("path", c.FullPath()).Msg(message)
	}
	writeError(c, status, service.ErrorCode(err), message, err.Error())
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
