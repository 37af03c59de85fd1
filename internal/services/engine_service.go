package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"expedify/internal/config"
	"expedify/internal/metrics"
	"expedify/internal/models"
	"expedify/pkg/llm"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var ErrCompanyNotFound = fmt.Errorf("company not found")

// RunSummary is returned by every engine invocation.
type RunSummary struct {
	Processed      int `json:"processed"`
	RulesEvaluated int `json:"rules_evaluated"`
}

// CollectionsEngine scans outstanding invoices against the configured
// automation rules and executes matching actions. Each invocation is a
// stateless single pass; the dedup guard against the execution log is the
// only protection from overlapping runs.
type CollectionsEngine struct {
	db        *gorm.DB
	logger    *logrus.Logger
	generator llm.Generator
	hub       *ActivityHub
	approval  config.ApprovalConfig
	tracer    trace.Tracer
}

func NewCollectionsEngine(db *gorm.DB, logger *logrus.Logger, generator llm.Generator, hub *ActivityHub, approval config.ApprovalConfig) *CollectionsEngine {
	if logger == nil {
		logger = logrus.New()
	}
	return &CollectionsEngine{
		db:        db,
		logger:    logger,
		generator: generator,
		hub:       hub,
		approval:  approval,
		tracer:    otel.Tracer("expedify.engine"),
	}
}

// Run executes one engine pass. companyID 0 processes every company that has
// enabled rules (cron mode). A failed draft or insert never aborts the pass;
// failures are isolated per invoice.
func (s *CollectionsEngine) Run(ctx context.Context, companyID uint) (*RunSummary, error) {
	ctx, span := s.tracer.Start(ctx, "engine.run")
	defer span.End()
	span.SetAttributes(attribute.Int64("engine.company_id", int64(companyID)))

	companyIDs, err := s.targetCompanies(ctx, companyID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	summary := &RunSummary{}
	for _, cid := range companyIDs {
		if err := s.runCompany(ctx, cid, summary); err != nil {
			s.logger.Errorf("engine: company %d pass failed: %v", cid, err)
		}
	}

	if s.approval.StaleMode == "expire" && s.approval.StaleAfter > 0 {
		s.expireStaleApprovals(ctx, companyID)
	}

	metrics.IncEngineRun()
	span.SetAttributes(
		attribute.Int("engine.processed", summary.Processed),
		attribute.Int("engine.rules_evaluated", summary.RulesEvaluated),
	)
	s.logger.Infof("engine: pass complete, companies=%d rules=%d processed=%d",
		len(companyIDs), summary.RulesEvaluated, summary.Processed)
	return summary, nil
}

// targetCompanies resolves the tenant scope of a pass. An explicit company
// must exist; otherwise every company with at least one enabled rule is
// processed.
func (s *CollectionsEngine) targetCompanies(ctx context.Context, companyID uint) ([]uint, error) {
	if companyID != 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Company{}).Where("id = ?", companyID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("check company: %w", err)
		}
		if count == 0 {
			return nil, fmt.Errorf("company %d: %w", companyID, ErrCompanyNotFound)
		}
		return []uint{companyID}, nil
	}

	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("enabled = ?", true).
		Distinct("company_id").
		Pluck("company_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list companies with rules: %w", err)
	}
	return ids, nil
}

func (s *CollectionsEngine) runCompany(ctx context.Context, companyID uint, summary *RunSummary) error {
	var company models.Company
	if err := s.db.WithContext(ctx).First(&company, companyID).Error; err != nil {
		return fmt.Errorf("load company: %w", err)
	}

	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).
		Where("company_id = ? AND enabled = ?", companyID, true).
		Order("priority ASC, id ASC").
		Find(&rules).Error; err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	for _, rule := range rules {
		summary.RulesEvaluated++
		summary.Processed += s.processRule(ctx, &company, rule)
	}
	return nil
}

// processRule evaluates one rule against all candidate invoices and returns
// how many log entries were written.
func (s *CollectionsEngine) processRule(ctx context.Context, company *models.Company, rule models.AutomationRule) int {
	ctx, span := s.tracer.Start(ctx, "engine.process_rule")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("rule.id", int64(rule.ID)),
		attribute.String("rule.trigger_type", rule.TriggerType),
		attribute.String("rule.action_type", rule.ActionType),
	)

	conds, err := rule.ParseConditions()
	if err != nil {
		s.logger.Warnf("engine: rule %d has invalid conditions: %v", rule.ID, err)
		return 0
	}
	actionCfg, err := rule.ParseActionConfig()
	if err != nil {
		s.logger.Warnf("engine: rule %d has invalid action config: %v", rule.ID, err)
		return 0
	}

	var invoices []models.Invoice
	if err := s.db.WithContext(ctx).
		Preload("Client").Preload("Project").
		Where("company_id = ? AND status IN ?", company.ID,
			[]string{models.InvoiceStatusSent, models.InvoiceStatusOverdue}).
		Find(&invoices).Error; err != nil {
		s.logger.Errorf("engine: rule %d: load invoices: %v", rule.ID, err)
		return 0
	}

	now := time.Now()
	fired := 0
	for i := range invoices {
		invoice := &invoices[i]
		daysOverdue := invoice.DaysOverdue(now)

		// Pre-filters short-circuit before any trigger lookup.
		if conds.MinAmount > 0 && invoice.TotalDue < conds.MinAmount {
			continue
		}
		if conds.ExcludeDisputed && s.hasOpenDispute(ctx, invoice.ID) {
			continue
		}

		if !s.evaluateTrigger(ctx, rule, invoice, daysOverdue, now) {
			continue
		}
		if !s.guardAllows(ctx, rule, invoice.ID, now) {
			continue
		}

		entry := s.executeAction(ctx, company, rule, actionCfg, invoice, daysOverdue)
		if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
			s.logger.Errorf("engine: rule %d invoice %d: write log entry: %v", rule.ID, invoice.ID, err)
			continue
		}
		fired++
		metrics.IncFiring(entry.Result)
		s.hub.Publish(EventRuleFired, entry)
	}
	return fired
}

// evaluateTrigger decides whether the rule's condition currently holds.
func (s *CollectionsEngine) evaluateTrigger(ctx context.Context, rule models.AutomationRule, invoice *models.Invoice, daysOverdue int, now time.Time) bool {
	switch rule.TriggerType {
	case models.TriggerDaysOverdue:
		return float64(daysOverdue) >= rule.TriggerValue

	case models.TriggerDaysSinceLastContact:
		var followUp models.FollowUp
		err := s.db.WithContext(ctx).
			Where("invoice_id = ?", invoice.ID).
			Order("contacted_at DESC").
			First(&followUp).Error
		if err == gorm.ErrRecordNotFound {
			// Never contacted: fall back to overdue age so the invoice
			// stays eligible.
			return float64(daysOverdue) >= rule.TriggerValue
		}
		if err != nil {
			s.logger.Warnf("engine: rule %d invoice %d: load follow-up: %v", rule.ID, invoice.ID, err)
			return false
		}
		elapsed := int(now.Sub(followUp.ContactedAt).Hours() / 24)
		return float64(elapsed) >= rule.TriggerValue

	case models.TriggerPromiseBroken:
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.PaymentPromise{}).
			Where("invoice_id = ? AND status = ?", invoice.ID, models.PromiseStatusBroken).
			Count(&count).Error; err != nil {
			s.logger.Warnf("engine: rule %d invoice %d: count broken promises: %v", rule.ID, invoice.ID, err)
			return false
		}
		return count > 0

	default:
		s.logger.Warnf("engine: rule %d has unknown trigger type %q", rule.ID, rule.TriggerType)
		return false
	}
}

func (s *CollectionsEngine) hasOpenDispute(ctx context.Context, invoiceID uint) bool {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("invoice_id = ? AND status IN ?", invoiceID,
			[]string{models.DisputeStatusOpen, models.DisputeStatusUnderReview}).
		Count(&count).Error; err != nil {
		s.logger.Warnf("engine: invoice %d: count disputes: %v", invoiceID, err)
		return false
	}
	return count > 0
}

// guardAllows applies the cooldown window and the lifetime cap against the
// execution log. A suppressed firing leaves no trace: no entry is written.
// This query-then-act check is the only concurrency control; overlapping
// passes can race, which is acceptable at cooldowns of tens of hours.
func (s *CollectionsEngine) guardAllows(ctx context.Context, rule models.AutomationRule, invoiceID uint, now time.Time) bool {
	if rule.CooldownHours > 0 {
		cutoff := now.Add(-time.Duration(rule.CooldownHours) * time.Hour)
		var recent int64
		if err := s.db.WithContext(ctx).Model(&models.AutomationLogEntry{}).
			Where("rule_id = ? AND invoice_id = ? AND created_at > ?", rule.ID, invoiceID, cutoff).
			Count(&recent).Error; err != nil {
			s.logger.Errorf("engine: rule %d invoice %d: cooldown lookup: %v", rule.ID, invoiceID, err)
			return false
		}
		if recent > 0 {
			return false
		}
	}

	if rule.MaxExecutions > 0 {
		var total int64
		if err := s.db.WithContext(ctx).Model(&models.AutomationLogEntry{}).
			Where("rule_id = ? AND invoice_id = ?", rule.ID, invoiceID).
			Count(&total).Error; err != nil {
			s.logger.Errorf("engine: rule %d invoice %d: cap lookup: %v", rule.ID, invoiceID, err)
			return false
		}
		if total >= int64(rule.MaxExecutions) {
			return false
		}
	}

	return true
}

// executeAction builds the log entry for one firing. Exactly one entry per
// invocation; a failed draft is still recorded so the attempt counts toward
// the cap and the cooldown suppresses immediate retries.
func (s *CollectionsEngine) executeAction(ctx context.Context, company *models.Company, rule models.AutomationRule, actionCfg models.ActionConfig, invoice *models.Invoice, daysOverdue int) *models.AutomationLogEntry {
	entry := &models.AutomationLogEntry{
		RuleID:    rule.ID,
		InvoiceID: invoice.ID,
		ClientID:  invoice.ClientID,
		CompanyID: invoice.CompanyID,
		CreatedAt: time.Now(),
	}

	metadata, _ := json.Marshal(models.LogMetadata{
		DaysOverdue:  daysOverdue,
		Tone:         actionCfg.Tone,
		TriggerType:  rule.TriggerType,
		TriggerValue: rule.TriggerValue,
	})
	entry.Metadata = string(metadata)

	switch rule.ActionType {
	case models.ActionEscalate:
		target := actionCfg.EscalateTo
		if target == "" {
			target = "collections manager"
		}
		entry.EscalatedTo = target
		entry.Result = models.ResultEscalated
		entry.ActionTaken = fmt.Sprintf("Escalated invoice %s (%d days overdue, $%.2f due) to %s",
			invoice.InvoiceNumber, daysOverdue, invoice.TotalDue, target)

	case models.ActionNotify:
		entry.Result = models.ResultSent
		entry.ActionTaken = fmt.Sprintf("Notification sent for invoice %s (%d days overdue, $%.2f due)",
			invoice.InvoiceNumber, daysOverdue, invoice.TotalDue)

	case models.ActionGenerateReminder:
		s.generateReminder(ctx, company, rule, actionCfg, invoice, daysOverdue, entry)

	default:
		entry.Result = models.ResultFailed
		entry.ActionTaken = fmt.Sprintf("Unknown action type %q", rule.ActionType)
	}

	return entry
}

func (s *CollectionsEngine) generateReminder(ctx context.Context, company *models.Company, rule models.AutomationRule, actionCfg models.ActionConfig, invoice *models.Invoice, daysOverdue int, entry *models.AutomationLogEntry) {
	if s.generator == nil {
		entry.Result = models.ResultFailed
		entry.ActionTaken = "Reminder draft failed: no draft generator configured"
		return
	}

	draft, err := s.generator.DraftReminder(ctx, &llm.ReminderContext{
		CompanyName:   company.Name,
		ClientName:    invoice.Client.Name,
		ProjectName:   invoice.Project.Name,
		InvoiceNumber: invoice.InvoiceNumber,
		AmountDue:     invoice.TotalDue,
		DaysOverdue:   daysOverdue,
		Tone:          actionCfg.Tone,
		Urgency:       urgencyTier(daysOverdue),
	})
	if err != nil {
		s.logger.Warnf("engine: rule %d invoice %d: draft reminder: %v", rule.ID, invoice.ID, err)
		entry.Result = models.ResultFailed
		entry.ActionTaken = fmt.Sprintf("Reminder draft failed: %v", err)
		return
	}

	message, err := json.Marshal(models.GeneratedMessage{Subject: draft.Subject, Body: draft.Body})
	if err != nil {
		entry.Result = models.ResultFailed
		entry.ActionTaken = fmt.Sprintf("Reminder draft failed: encode message: %v", err)
		return
	}

	entry.GeneratedMessage = string(message)
	entry.Result = models.ResultAwaitingApproval
	entry.ActionTaken = fmt.Sprintf("Drafted payment reminder for invoice %s (%d days overdue), pending approval",
		invoice.InvoiceNumber, daysOverdue)
}

// urgencyTier buckets overdue age for the draft generator.
func urgencyTier(daysOverdue int) string {
	switch {
	case daysOverdue >= 90:
		return "high"
	case daysOverdue >= 60:
		return "medium"
	default:
		return "low"
	}
}

// expireStaleApprovals skips awaiting_approval entries older than the
// configured window. Controlled by engine.approval.stale_mode.
func (s *CollectionsEngine) expireStaleApprovals(ctx context.Context, companyID uint) {
	cutoff := time.Now().Add(-s.approval.StaleAfter)
	query := s.db.WithContext(ctx).Model(&models.AutomationLogEntry{}).
		Where("result = ? AND created_at < ?", models.ResultAwaitingApproval, cutoff)
	if companyID != 0 {
		query = query.Where("company_id = ?", companyID)
	}
	result := query.Update("result", models.ResultSkipped)
	if result.Error != nil {
		s.logger.Errorf("engine: expire stale approvals: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		s.logger.Infof("engine: expired %d stale approval(s) older than %s", result.RowsAffected, s.approval.StaleAfter)
	}
}

// StartWorker runs the engine for all tenants on a fixed interval until the
// context is cancelled.
func (s *CollectionsEngine) StartWorker(ctx context.Context, interval time.Duration) {
	s.logger.Infof("engine: worker started, interval=%s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("engine: worker stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx, 0); err != nil {
				s.logger.Errorf("engine: scheduled pass failed: %v", err)
			}
		}
	}
}
