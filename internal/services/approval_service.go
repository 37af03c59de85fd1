package services

import (
	"context"
	"fmt"
	"time"

	"expedify/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// ErrLogEntryNotFound is returned when an approval action targets a missing
// log entry.
var ErrLogEntryNotFound = fmt.Errorf("log entry not found")

// ApprovalService is the human-in-the-loop state machine over drafted
// reminders: awaiting_approval -> approved | skipped. It also serves the
// execution log query surface the approval UI reads.
type ApprovalService struct {
	db     *gorm.DB
	logger *logrus.Logger
	hub    *ActivityHub
	tracer trace.Tracer
}

func NewApprovalService(db *gorm.DB, logger *logrus.Logger, hub *ActivityHub) *ApprovalService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ApprovalService{
		db:     db,
		logger: logger,
		hub:    hub,
		tracer: otel.Tracer("expedify.approval"),
	}
}

// Approve marks an awaiting_approval entry approved and returns it with the
// stored draft for the send pathway. Approving an already-approved entry is
// a no-op; any other state is rejected.
func (s *ApprovalService) Approve(ctx context.Context, id uint) (*models.AutomationLogEntry, error) {
	return s.transition(ctx, id, models.ResultApproved, "approved")
}

// Reject marks an awaiting_approval entry skipped. Terminal; no send occurs.
func (s *ApprovalService) Reject(ctx context.Context, id uint) (*models.AutomationLogEntry, error) {
	return s.transition(ctx, id, models.ResultSkipped, "rejected")
}

func (s *ApprovalService) transition(ctx context.Context, id uint, target, verb string) (*models.AutomationLogEntry, error) {
	ctx, span := s.tracer.Start(ctx, "approval."+verb)
	defer span.End()
	span.SetAttributes(attribute.Int64("approval.entry_id", int64(id)))

	var entry models.AutomationLogEntry
	if err := s.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrLogEntryNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("load log entry: %w", err)
	}

	// Idempotent replay of the same decision.
	if entry.Result == target {
		return &entry, nil
	}
	if entry.Result != models.ResultAwaitingApproval {
		return nil, fmt.Errorf("log entry %d is %s, only awaiting_approval entries can be %s", id, entry.Result, verb)
	}

	if err := s.db.WithContext(ctx).Model(&entry).Update("result", target).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("update log entry: %w", err)
	}
	entry.Result = target

	s.logger.Infof("approval: entry %d %s (invoice %d)", id, verb, entry.InvoiceID)
	s.hub.Publish(EventApprovalUpdated, &entry)
	return &entry, nil
}

// LogListRequest filters the execution log.
type LogListRequest struct {
	Page      int        `form:"page,default=1"`
	PageSize  int        `form:"page_size,default=20"`
	CompanyID *uint      `form:"company_id"`
	RuleID    *uint      `form:"rule_id"`
	InvoiceID *uint      `form:"invoice_id"`
	Result    []string   `form:"result"`
	DateFrom  *time.Time `form:"date_from"`
	DateTo    *time.Time `form:"date_to"`
}

// ListLog returns log entries newest first with the rule preloaded so the UI
// can show why a rule did or did not act.
func (s *ApprovalService) ListLog(ctx context.Context, req *LogListRequest) ([]models.AutomationLogEntry, int64, error) {
	ctx, span := s.tracer.Start(ctx, "approval.list_log")
	defer span.End()

	query := s.db.WithContext(ctx).Model(&models.AutomationLogEntry{}).Preload("Rule")

	if req.CompanyID != nil {
		query = query.Where("company_id = ?", *req.CompanyID)
	}
	if req.RuleID != nil {
		query = query.Where("rule_id = ?", *req.RuleID)
	}
	if req.InvoiceID != nil {
		query = query.Where("invoice_id = ?", *req.InvoiceID)
	}
	if len(req.Result) > 0 {
		query = query.Where("result IN ?", req.Result)
	}
	if req.DateFrom != nil {
		query = query.Where("created_at >= ?", *req.DateFrom)
	}
	if req.DateTo != nil {
		query = query.Where("created_at <= ?", *req.DateTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("count log entries: %w", err)
	}

	query = query.Order("created_at DESC, id DESC")
	if req.PageSize > 0 {
		offset := (req.Page - 1) * req.PageSize
		query = query.Offset(offset).Limit(req.PageSize)
	}

	var entries []models.AutomationLogEntry
	if err := query.Find(&entries).Error; err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("list log entries: %w", err)
	}

	span.SetAttributes(attribute.Int64("approval.log.total", total))
	return entries, total, nil
}

// LogStatsResponse summarizes firings by result for a company (or all).
type LogStatsResponse struct {
	TotalEntries     int64            `json:"total_entries"`
	PendingApprovals int64            `json:"pending_approvals"`
	ByResult         map[string]int64 `json:"by_result"`
}

// Stats aggregates the execution log for the dashboard.
func (s *ApprovalService) Stats(ctx context.Context, companyID uint) (*LogStatsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "approval.stats")
	defer span.End()

	base := s.db.WithContext(ctx).Model(&models.AutomationLogEntry{})
	if companyID != 0 {
		base = base.Where("company_id = ?", companyID)
	}

	stats := &LogStatsResponse{ByResult: make(map[string]int64)}
	if err := base.Session(&gorm.Session{}).Count(&stats.TotalEntries).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("count log entries: %w", err)
	}

	var rows []struct {
		Result string
		Count  int64
	}
	if err := base.Session(&gorm.Session{}).
		Select("result, COUNT(*) as count").
		Group("result").
		Scan(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("group log entries: %w", err)
	}
	for _, row := range rows {
		stats.ByResult[row.Result] = row.Count
	}
	stats.PendingApprovals = stats.ByResult[models.ResultAwaitingApproval]

	return stats, nil
}
