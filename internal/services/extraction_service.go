package services

import (
	"context"
	"errors"
	"time"

	"expedify/internal/metrics"
	"expedify/internal/models"
	"expedify/pkg/llm"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// ExtractionService turns free-text collection notes into structured
// CollectionTask and PaymentPromise records via the language model. AI
// unavailability never blocks note-taking: any upstream failure degrades to
// an empty result.
type ExtractionService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	generator llm.Generator
	hub       *ActivityHub
	tracer    trace.Tracer
}

func NewExtractionService(db *gorm.DB, logger *logrus.Logger, generator llm.Generator, hub *ActivityHub) *ExtractionService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExtractionService{
		db:        db,
		logger:    logger,
		generator: generator,
		hub:       hub,
		tracer:    otel.Tracer("expedify.extraction"),
	}
}

// ExtractionRequest is a collection note plus optional invoice context.
// Fields left empty are backfilled from the invoice record when possible.
type ExtractionRequest struct {
	NoteText      string  `json:"note_text" binding:"required"`
	InvoiceID     uint    `json:"invoice_id" binding:"required"`
	ClientName    string  `json:"client_name"`
	InvoiceNumber string  `json:"invoice_number"`
	DaysOverdue   int     `json:"days_overdue"`
	AmountDue     float64 `json:"amount_due"`
}

// TaskItem echoes an extracted task; ID is null when persistence failed.
type TaskItem struct {
	ID        *uint     `json:"id"`
	InvoiceID uint      `json:"invoice_id"`
	TaskType  string    `json:"task_type"`
	Priority  int       `json:"priority"`
	DueDate   time.Time `json:"due_date"`
	Rationale string    `json:"rationale"`
}

// PromiseItem echoes an extracted promise; ID is null when the promise was
// not persisted (low confidence or insert failure).
type PromiseItem struct {
	ID             *uint     `json:"id"`
	InvoiceID      uint      `json:"invoice_id"`
	PromisedAmount float64   `json:"promised_amount"`
	PromisedDate   time.Time `json:"promised_date"`
	PaymentMethod  string    `json:"payment_method"`
	Confidence     string    `json:"confidence"`
	Notes          string    `json:"notes"`
}

// ExtractionResponse is returned even when extraction degrades: both slices
// are non-nil so callers always see {tasks: [], promises: []}.
type ExtractionResponse struct {
	Tasks    []TaskItem    `json:"tasks"`
	Promises []PromiseItem `json:"promises"`
}

// ExtractFromNote runs one extraction pass for a logged collection note.
func (s *ExtractionService) ExtractFromNote(ctx context.Context, req *ExtractionRequest) (*ExtractionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "extraction.extract_from_note")
	defer span.End()
	span.SetAttributes(attribute.Int64("extraction.invoice_id", int64(req.InvoiceID)))

	response := &ExtractionResponse{Tasks: []TaskItem{}, Promises: []PromiseItem{}}

	ec, clientID := s.buildContext(ctx, req)
	if s.generator == nil {
		metrics.IncExtraction(true)
		return response, nil
	}

	result, err := s.generator.ExtractCollections(ctx, ec)
	if err != nil {
		metrics.IncExtraction(true)
		// Rate-limit and quota conditions pass through so the caller can
		// retry later; everything else degrades to an empty result because
		// note-taking must never be blocked by AI unavailability.
		if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrQuotaExhausted) {
			return nil, err
		}
		s.logger.Warnf("extraction: invoice %d: upstream call failed: %v", req.InvoiceID, err)
		return response, nil
	}
	metrics.IncExtraction(false)

	now := time.Now()
	for _, task := range result.Tasks {
		response.Tasks = append(response.Tasks, s.persistTask(ctx, req.InvoiceID, task, now))
	}
	for _, promise := range result.Promises {
		response.Promises = append(response.Promises, s.persistPromise(ctx, req.InvoiceID, clientID, ec.AmountDue, promise))
	}

	span.SetAttributes(
		attribute.Int("extraction.tasks", len(response.Tasks)),
		attribute.Int("extraction.promises", len(response.Promises)),
	)
	return response, nil
}

// buildContext backfills missing invoice context from the store and returns
// the invoice's client id for persistence. Lookup failures are tolerated;
// extraction proceeds with what the caller sent.
func (s *ExtractionService) buildContext(ctx context.Context, req *ExtractionRequest) (*llm.ExtractionContext, uint) {
	ec := &llm.ExtractionContext{
		NoteText:      req.NoteText,
		ClientName:    req.ClientName,
		InvoiceNumber: req.InvoiceNumber,
		DaysOverdue:   req.DaysOverdue,
		AmountDue:     req.AmountDue,
	}

	var invoice models.Invoice
	if err := s.db.WithContext(ctx).Preload("Client").First(&invoice, req.InvoiceID).Error; err != nil {
		s.logger.Debugf("extraction: invoice %d: context lookup: %v", req.InvoiceID, err)
		return ec, 0
	}
	if ec.ClientName == "" {
		ec.ClientName = invoice.Client.Name
	}
	if ec.InvoiceNumber == "" {
		ec.InvoiceNumber = invoice.InvoiceNumber
	}
	if ec.AmountDue == 0 {
		ec.AmountDue = invoice.TotalDue
	}
	if ec.DaysOverdue == 0 {
		ec.DaysOverdue = invoice.DaysOverdue(time.Now())
	}
	return ec, invoice.ClientID
}

func (s *ExtractionService) persistTask(ctx context.Context, invoiceID uint, task llm.ExtractedTask, now time.Time) TaskItem {
	item := TaskItem{
		InvoiceID: invoiceID,
		TaskType:  task.TaskType,
		Priority:  task.Priority,
		DueDate:   now.AddDate(0, 0, task.DueInDays),
		Rationale: task.Rationale,
	}

	record := &models.CollectionTask{
		InvoiceID:           invoiceID,
		Priority:            task.Priority,
		TaskType:            task.TaskType,
		DueDate:             item.DueDate,
		AIRecommendedAction: task.Rationale,
		Status:              models.TaskStatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.logger.Errorf("extraction: invoice %d: persist task: %v", invoiceID, err)
		return item
	}
	item.ID = &record.ID
	return item
}

// persistPromise stores medium/high-confidence promises. Low-confidence
// candidates are echoed back for display but never written, keeping false
// positives out of the promise_broken trigger.
func (s *ExtractionService) persistPromise(ctx context.Context, invoiceID, clientID uint, amountDue float64, promise llm.ExtractedPromise) PromiseItem {
	amount := promise.PromisedAmount
	if amount == 0 {
		amount = amountDue
	}

	item := PromiseItem{
		InvoiceID:      invoiceID,
		PromisedAmount: amount,
		PaymentMethod:  promise.PaymentMethod,
		Confidence:     promise.Confidence,
		Notes:          promise.Notes,
	}
	if promised, err := time.Parse("2006-01-02", promise.PromisedDate); err == nil {
		item.PromisedDate = promised
	} else if promise.PromisedDate != "" {
		s.logger.Debugf("extraction: invoice %d: unparseable promised_date %q", invoiceID, promise.PromisedDate)
	}

	if promise.Confidence == models.ConfidenceLow {
		return item
	}

	now := time.Now()
	record := &models.PaymentPromise{
		InvoiceID:      invoiceID,
		ClientID:       clientID,
		PromisedAmount: amount,
		PromisedDate:   item.PromisedDate,
		PaymentMethod:  promise.PaymentMethod,
		Status:         models.PromiseStatusPending,
		Source:         models.PromiseSourceAIDetected,
		Confidence:     promise.Confidence,
		Notes:          promise.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.logger.Errorf("extraction: invoice %d: persist promise: %v", invoiceID, err)
		return item
	}
	item.ID = &record.ID
	s.hub.Publish(EventPromiseRecorded, record)
	return item
}
