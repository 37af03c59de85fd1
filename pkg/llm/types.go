package llm

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors surfaced to callers so handlers can pass upstream
// rate-limit and quota conditions through verbatim.
var (
	ErrRateLimited    = errors.New("llm: rate limited")
	ErrQuotaExhausted = errors.New("llm: quota exhausted")
	ErrMalformed      = errors.New("llm: malformed response")
)

// Generator is the text-generation gateway the engine and extractor depend
// on. Implemented by Client; tests substitute stubs.
type Generator interface {
	DraftReminder(ctx context.Context, rc *ReminderContext) (*ReminderDraft, error)
	ExtractCollections(ctx context.Context, ec *ExtractionContext) (*ExtractionResult, error)
}

// ReminderContext is the structured context for a payment reminder draft.
type ReminderContext struct {
	CompanyName   string  `json:"company_name"`
	ClientName    string  `json:"client_name"`
	ProjectName   string  `json:"project_name"`
	InvoiceNumber string  `json:"invoice_number"`
	AmountDue     float64 `json:"amount_due"`
	DaysOverdue   int     `json:"days_overdue"`
	Tone          string  `json:"tone"`
	Urgency       string  `json:"urgency"` // low, medium, high
}

// ReminderDraft is the subject/body pair a reminder rule stores for approval.
type ReminderDraft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ExtractionContext is a free-text collection note plus invoice context.
type ExtractionContext struct {
	NoteText      string  `json:"note_text"`
	ClientName    string  `json:"client_name"`
	InvoiceNumber string  `json:"invoice_number"`
	DaysOverdue   int     `json:"days_overdue"`
	AmountDue     float64 `json:"amount_due"`
}

// ExtractedTask is a follow-up action item detected in a note.
type ExtractedTask struct {
	TaskType  string `json:"task_type"`
	Priority  int    `json:"priority"`    // 1 critical .. 4 low
	DueInDays int    `json:"due_in_days"`
	Rationale string `json:"rationale"`
}

// ExtractedPromise is a detected payment commitment. PromisedDate is the
// wire format (YYYY-MM-DD); callers parse it.
type ExtractedPromise struct {
	PromisedAmount float64 `json:"promised_amount"`
	PromisedDate   string  `json:"promised_date"`
	PaymentMethod  string  `json:"payment_method"`
	Confidence     string  `json:"confidence"` // high, medium, low
	Notes          string  `json:"notes"`
}

// ExtractionResult is the structured output of a note extraction. Either
// list may be empty; a note can imply tasks, promises, both, or neither.
type ExtractionResult struct {
	Tasks    []ExtractedTask    `json:"tasks"`
	Promises []ExtractedPromise `json:"promises"`
}

// Config controls the HTTP client behavior.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// DefaultConfig returns sane defaults for an OpenAI-compatible endpoint.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Temperature: 0.4,
		MaxTokens:   1000,
		Timeout:     30 * time.Second,
		MaxRetries:  2,
		RetryDelay:  500 * time.Millisecond,
	}
}
