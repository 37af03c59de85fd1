package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"expedify/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrRuleNotFound = fmt.Errorf("rule not found")

// RuleService is the data access layer for tenant automation rules.
type RuleService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewRuleService(db *gorm.DB, logger *logrus.Logger) *RuleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleService{db: db, logger: logger}
}

// RuleRequest creates or replaces a rule's configuration.
type RuleRequest struct {
	CompanyID     uint                   `json:"company_id" binding:"required"`
	Name          string                 `json:"name" binding:"required"`
	Enabled       *bool                  `json:"enabled"`
	Priority      int                    `json:"priority"`
	TriggerType   string                 `json:"trigger_type" binding:"required"`
	TriggerValue  float64                `json:"trigger_value"`
	Conditions    *models.RuleConditions `json:"conditions"`
	ActionType    string                 `json:"action_type" binding:"required"`
	ActionConfig  *models.ActionConfig   `json:"action_config"`
	CooldownHours *int                   `json:"cooldown_hours"`
	MaxExecutions int                    `json:"max_executions"`
}

func validateRuleRequest(req *RuleRequest) error {
	switch req.TriggerType {
	case models.TriggerDaysOverdue, models.TriggerDaysSinceLastContact, models.TriggerPromiseBroken:
	default:
		return fmt.Errorf("unsupported trigger type: %s", req.TriggerType)
	}
	switch req.ActionType {
	case models.ActionGenerateReminder, models.ActionEscalate, models.ActionNotify:
	default:
		return fmt.Errorf("unsupported action type: %s", req.ActionType)
	}
	if req.TriggerValue < 0 {
		return fmt.Errorf("trigger value must not be negative")
	}
	if req.CooldownHours != nil && *req.CooldownHours < 0 {
		return fmt.Errorf("cooldown hours must not be negative")
	}
	if req.MaxExecutions < 0 {
		return fmt.Errorf("max executions must not be negative")
	}
	return nil
}

// CreateRule validates and stores a new rule.
func (s *RuleService) CreateRule(ctx context.Context, req *RuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if err := validateRuleRequest(req); err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	// Unset cooldown defaults to 72h; an explicit zero disables it.
	cooldown := 72
	if req.CooldownHours != nil {
		cooldown = *req.CooldownHours
	}

	rule := &models.AutomationRule{
		CompanyID:     req.CompanyID,
		Name:          req.Name,
		Enabled:       enabled,
		Priority:      req.Priority,
		TriggerType:   req.TriggerType,
		TriggerValue:  req.TriggerValue,
		ActionType:    req.ActionType,
		CooldownHours: cooldown,
		MaxExecutions: req.MaxExecutions,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if req.Conditions != nil {
		raw, err := json.Marshal(req.Conditions)
		if err != nil {
			return nil, fmt.Errorf("invalid conditions: %w", err)
		}
		rule.Conditions = string(raw)
	}
	if req.ActionConfig != nil {
		raw, err := json.Marshal(req.ActionConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid action config: %w", err)
		}
		rule.ActionConfig = string(raw)
	}

	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	s.logger.Infof("rules: created rule %d (%s) for company %d", rule.ID, rule.Name, rule.CompanyID)
	return rule, nil
}

// UpdateRule replaces the configuration of an existing rule.
func (s *RuleService) UpdateRule(ctx context.Context, id uint, req *RuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if err := validateRuleRequest(req); err != nil {
		return nil, err
	}

	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("load rule: %w", err)
	}

	rule.Name = req.Name
	rule.Priority = req.Priority
	rule.TriggerType = req.TriggerType
	rule.TriggerValue = req.TriggerValue
	rule.ActionType = req.ActionType
	rule.MaxExecutions = req.MaxExecutions
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.CooldownHours != nil {
		rule.CooldownHours = *req.CooldownHours
	}
	rule.Conditions = ""
	if req.Conditions != nil {
		raw, err := json.Marshal(req.Conditions)
		if err != nil {
			return nil, fmt.Errorf("invalid conditions: %w", err)
		}
		rule.Conditions = string(raw)
	}
	rule.ActionConfig = ""
	if req.ActionConfig != nil {
		raw, err := json.Marshal(req.ActionConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid action config: %w", err)
		}
		rule.ActionConfig = string(raw)
	}
	rule.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}
	return &rule, nil
}

// ListRules returns a company's rules in evaluation order.
func (s *RuleService) ListRules(ctx context.Context, companyID uint) ([]models.AutomationRule, error) {
	query := s.db.WithContext(ctx).Model(&models.AutomationRule{})
	if companyID != 0 {
		query = query.Where("company_id = ?", companyID)
	}
	var rules []models.AutomationRule
	if err := query.Order("priority ASC, id ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// DeleteRule removes a rule. Its log entries remain for audit.
func (s *RuleService) DeleteRule(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.AutomationRule{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRuleNotFound
	}
	s.logger.Infof("rules: deleted rule %d", id)
	return nil
}
