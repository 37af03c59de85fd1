package models

import (
	"time"

	"gorm.io/gorm"
)

// Invoice status values. Only sent/overdue invoices are collection candidates.
const (
	InvoiceStatusDraft       = "draft"
	InvoiceStatusReadyToSend = "ready_to_send"
	InvoiceStatusNeedsReview = "needs_review"
	InvoiceStatusSent        = "sent"
	InvoiceStatusOverdue     = "overdue"
	InvoiceStatusPaid        = "paid"
)

// Dispute status values.
const (
	DisputeStatusOpen        = "open"
	DisputeStatusUnderReview = "under_review"
	DisputeStatusResolved    = "resolved"
	DisputeStatusRejected    = "rejected"
)

// Company is a tenant of the CRM (a permit expediting firm's client org).
type Company struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `json:"email"`
	Phone     string         `json:"phone"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Client is a billable customer of a company.
type Client struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CompanyID uint      `gorm:"index;not null" json:"company_id"`
	Name      string    `gorm:"not null" json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Company Company `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
}

// Project is a permit expediting engagement invoices are billed under.
type Project struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CompanyID uint      `gorm:"index;not null" json:"company_id"`
	ClientID  uint      `gorm:"index" json:"client_id"`
	Name      string    `gorm:"not null" json:"name"`
	Address   string    `json:"address"`
	Status    string    `gorm:"default:'active'" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Invoice is owned by the billing module; the engine only reads it.
type Invoice struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CompanyID     uint      `gorm:"index;not null" json:"company_id"`
	ClientID      uint      `gorm:"index" json:"client_id"`
	ProjectID     uint      `gorm:"index" json:"project_id"`
	InvoiceNumber string    `gorm:"index" json:"invoice_number"`
	Status        string    `gorm:"index;default:'draft'" json:"status"`
	TotalDue      float64   `json:"total_due"`
	DueDate       time.Time `json:"due_date"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Client  Client  `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Project Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

// DaysOverdue returns the whole days past the due date at the given time,
// never negative.
func (i *Invoice) DaysOverdue(now time.Time) int {
	d := int(now.Sub(i.DueDate).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// FollowUp records an outbound collection contact against an invoice.
type FollowUp struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	InvoiceID   uint      `gorm:"index;not null" json:"invoice_id"`
	ClientID    uint      `gorm:"index" json:"client_id"`
	Method      string    `json:"method"` // call, email, letter
	Note        string    `gorm:"type:text" json:"note"`
	ContactedAt time.Time `gorm:"index" json:"contacted_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Dispute marks an invoice as contested by the client.
type Dispute struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	InvoiceID uint      `gorm:"index;not null" json:"invoice_id"`
	Status    string    `gorm:"index;default:'open'" json:"status"`
	Reason    string    `gorm:"type:text" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
