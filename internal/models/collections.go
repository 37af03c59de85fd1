package models

import "time"

// Payment promise status values. broken promises feed the promise_broken
// trigger on later engine passes.
const (
	PromiseStatusPending     = "pending"
	PromiseStatusKept        = "kept"
	PromiseStatusBroken      = "broken"
	PromiseStatusRescheduled = "rescheduled"
)

// Promise sources.
const (
	PromiseSourceManual     = "manual"
	PromiseSourceAIDetected = "ai_detected"
)

// Extraction confidence levels. Low-confidence promises are never persisted.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Collection task status values.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusDone       = "done"
	TaskStatusCancelled  = "cancelled"
)

// Collection task types.
const (
	TaskTypeFollowUpCall   = "follow_up_call"
	TaskTypeSendEmail      = "send_email"
	TaskTypeSendDocument   = "send_document"
	TaskTypeInternalReview = "internal_review"
	TaskTypeEscalation     = "escalation"
	TaskTypeOther          = "other"
)

// PaymentPromise is a client's stated commitment to pay. Created pending and
// moved to kept/broken/rescheduled only by explicit user action.
type PaymentPromise struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	InvoiceID      uint      `gorm:"index;not null" json:"invoice_id"`
	ClientID       uint      `gorm:"index" json:"client_id"`
	PromisedAmount float64   `json:"promised_amount"`
	PromisedDate   time.Time `json:"promised_date"`
	PaymentMethod  string    `json:"payment_method"`
	Status         string    `gorm:"index;default:'pending'" json:"status"`
	Source         string    `gorm:"default:'manual'" json:"source"`
	Confidence     string    `json:"confidence"`
	Notes          string    `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CollectionTask is a follow-up action extracted from a collection note.
// Priority runs 1 (critical) to 4 (low).
type CollectionTask struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	InvoiceID           uint      `gorm:"index;not null" json:"invoice_id"`
	Assignee            string    `json:"assignee"`
	Priority            int       `gorm:"default:3" json:"priority"`
	TaskType            string    `json:"task_type"`
	DueDate             time.Time `json:"due_date"`
	AIRecommendedAction string    `gorm:"type:text" json:"ai_recommended_action"`
	Status              string    `gorm:"index;default:'pending'" json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ValidTaskType reports whether t is one of the recognized task types.
func ValidTaskType(t string) bool {
	switch t {
	case TaskTypeFollowUpCall, TaskTypeSendEmail, TaskTypeSendDocument,
		TaskTypeInternalReview, TaskTypeEscalation, TaskTypeOther:
		return true
	default:
		return false
	}
}

// ValidConfidence reports whether c is a recognized confidence level.
func ValidConfidence(c string) bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	default:
		return false
	}
}
