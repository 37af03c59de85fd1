package models

import (
	"encoding/json"
	"time"
)

// Trigger types supported by the collections engine.
const (
	TriggerDaysOverdue          = "days_overdue"
	TriggerDaysSinceLastContact = "days_since_last_contact"
	TriggerPromiseBroken        = "promise_broken"
)

// Action types a rule can execute.
const (
	ActionGenerateReminder = "generate_reminder"
	ActionEscalate         = "escalate"
	ActionNotify           = "notify"
)

// Log entry results.
const (
	ResultPending          = "pending"
	ResultAwaitingApproval = "awaiting_approval"
	ResultApproved         = "approved"
	ResultSent             = "sent"
	ResultEscalated        = "escalated"
	ResultSkipped          = "skipped"
	ResultFailed           = "failed"
)

// RuleConditions are optional pre-filters applied before trigger evaluation.
type RuleConditions struct {
	MinAmount       float64 `json:"min_amount,omitempty"`
	ExcludeDisputed bool    `json:"exclude_disputed,omitempty"`
}

// ActionConfig carries per-action parameters.
type ActionConfig struct {
	Tone       string `json:"tone,omitempty"`        // friendly, firm, urgent
	EscalateTo string `json:"escalate_to,omitempty"` // escalation target
}

// GeneratedMessage is the drafted reminder awaiting approval.
type GeneratedMessage struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// LogMetadata is the trigger snapshot stored with every firing.
type LogMetadata struct {
	DaysOverdue  int     `json:"days_overdue"`
	Tone         string  `json:"tone,omitempty"`
	TriggerType  string  `json:"trigger_type"`
	TriggerValue float64 `json:"trigger_value"`
}

// AutomationRule is a tenant-configured condition/action binding evaluated
// against outstanding invoices. Rules are independent: priority only orders
// evaluation, no rule gates another.
type AutomationRule struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CompanyID     uint      `gorm:"index;not null" json:"company_id"`
	Name          string    `gorm:"not null" json:"name"`
	Enabled       bool      `gorm:"default:true" json:"enabled"`
	Priority      int       `gorm:"default:0" json:"priority"`
	TriggerType   string    `gorm:"not null" json:"trigger_type"`
	TriggerValue  float64   `json:"trigger_value"`
	Conditions    string    `gorm:"type:text" json:"conditions"`    // JSON: RuleConditions
	ActionType    string    `gorm:"not null" json:"action_type"`
	ActionConfig  string    `gorm:"type:text" json:"action_config"` // JSON: ActionConfig
	CooldownHours int       `json:"cooldown_hours"` // 0 = no cooldown
	MaxExecutions int       `json:"max_executions"` // 0 = unlimited
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ParseConditions decodes the conditions column; an empty column yields the
// zero value so callers never see raw JSON.
func (r *AutomationRule) ParseConditions() (RuleConditions, error) {
	var c RuleConditions
	if r.Conditions == "" {
		return c, nil
	}
	err := json.Unmarshal([]byte(r.Conditions), &c)
	return c, err
}

// ParseActionConfig decodes the action_config column.
func (r *AutomationRule) ParseActionConfig() (ActionConfig, error) {
	var c ActionConfig
	if r.ActionConfig == "" {
		return c, nil
	}
	err := json.Unmarshal([]byte(r.ActionConfig), &c)
	return c, err
}

// AutomationLogEntry is the append-only audit record of a rule firing. It is
// also the sole input to cooldown/cap checks; recency is derived by querying
// this table, there is no separate last-fired pointer.
type AutomationLogEntry struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	RuleID           uint      `gorm:"index:idx_log_rule_invoice" json:"rule_id"`
	InvoiceID        uint      `gorm:"index:idx_log_rule_invoice" json:"invoice_id"`
	ClientID         uint      `gorm:"index" json:"client_id"`
	CompanyID        uint      `gorm:"index" json:"company_id"`
	ActionTaken      string    `gorm:"type:text" json:"action_taken"`
	Result           string    `gorm:"index" json:"result"`
	GeneratedMessage string    `gorm:"type:text" json:"generated_message"` // JSON: GeneratedMessage
	EscalatedTo      string    `json:"escalated_to"`
	Metadata         string    `gorm:"type:text" json:"metadata"` // JSON: LogMetadata
	CreatedAt        time.Time `gorm:"index" json:"created_at"`

	Rule AutomationRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
}

// ParseGeneratedMessage decodes the stored draft, if any.
func (e *AutomationLogEntry) ParseGeneratedMessage() (*GeneratedMessage, error) {
	if e.GeneratedMessage == "" {
		return nil, nil
	}
	var m GeneratedMessage
	if err := json.Unmarshal([]byte(e.GeneratedMessage), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseMetadata decodes the trigger snapshot.
func (e *AutomationLogEntry) ParseMetadata() (LogMetadata, error) {
	var m LogMetadata
	if e.Metadata == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(e.Metadata), &m)
	return m, err
}
