package services

import (
	"context"
	"fmt"
	"time"

	"expedify/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrInvoiceNotFound = fmt.Errorf("invoice not found")
	ErrPromiseNotFound = fmt.Errorf("promise not found")
	ErrTaskNotFound    = fmt.Errorf("task not found")
)

// PromiseService manages payment promises and collection tasks after they
// exist: manual creation and the explicit status transitions users drive.
type PromiseService struct {
	db     *gorm.DB
	logger *logrus.Logger
	hub    *ActivityHub
}

func NewPromiseService(db *gorm.DB, logger *logrus.Logger, hub *ActivityHub) *PromiseService {
	if logger == nil {
		logger = logrus.New()
	}
	return &PromiseService{db: db, logger: logger, hub: hub}
}

// PromiseRequest records a commitment a human heard directly.
type PromiseRequest struct {
	InvoiceID      uint      `json:"invoice_id" binding:"required"`
	ClientID       uint      `json:"client_id"`
	PromisedAmount float64   `json:"promised_amount"`
	PromisedDate   time.Time `json:"promised_date" binding:"required"`
	PaymentMethod  string    `json:"payment_method"`
	Notes          string    `json:"notes"`
}

// CreatePromise stores a manual promise. Amount defaults to the invoice's
// outstanding total when unstated.
func (s *PromiseService) CreatePromise(ctx context.Context, req *PromiseRequest) (*models.PaymentPromise, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}

	amount := req.PromisedAmount
	clientID := req.ClientID
	var invoice models.Invoice
	if err := s.db.WithContext(ctx).First(&invoice, req.InvoiceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	if amount == 0 {
		amount = invoice.TotalDue
	}
	if clientID == 0 {
		clientID = invoice.ClientID
	}

	promise := &models.PaymentPromise{
		InvoiceID:      req.InvoiceID,
		ClientID:       clientID,
		PromisedAmount: amount,
		PromisedDate:   req.PromisedDate,
		PaymentMethod:  req.PaymentMethod,
		Status:         models.PromiseStatusPending,
		Source:         models.PromiseSourceManual,
		Notes:          req.Notes,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(promise).Error; err != nil {
		return nil, fmt.Errorf("create promise: %w", err)
	}
	s.hub.Publish(EventPromiseRecorded, promise)
	return promise, nil
}

// promiseTransitions defines the allowed status moves. A broken promise is
// terminal input for the promise_broken trigger; kept is terminal too.
var promiseTransitions = map[string][]string{
	models.PromiseStatusPending:     {models.PromiseStatusKept, models.PromiseStatusBroken, models.PromiseStatusRescheduled},
	models.PromiseStatusRescheduled: {models.PromiseStatusKept, models.PromiseStatusBroken},
}

// UpdatePromiseStatus applies an explicit user transition.
func (s *PromiseService) UpdatePromiseStatus(ctx context.Context, id uint, status string) (*models.PaymentPromise, error) {
	var promise models.PaymentPromise
	if err := s.db.WithContext(ctx).First(&promise, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrPromiseNotFound
		}
		return nil, fmt.Errorf("load promise: %w", err)
	}

	allowed := false
	for _, next := range promiseTransitions[promise.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("cannot transition promise from %s to %s", promise.Status, status)
	}

	if err := s.db.WithContext(ctx).Model(&promise).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}).Error; err != nil {
		return nil, fmt.Errorf("update promise: %w", err)
	}
	promise.Status = status

	s.logger.Infof("promises: promise %d marked %s (invoice %d)", id, status, promise.InvoiceID)
	return &promise, nil
}

// ListPromises returns promises filtered by invoice and/or status.
func (s *PromiseService) ListPromises(ctx context.Context, invoiceID uint, status string) ([]models.PaymentPromise, error) {
	query := s.db.WithContext(ctx).Model(&models.PaymentPromise{})
	if invoiceID != 0 {
		query = query.Where("invoice_id = ?", invoiceID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var promises []models.PaymentPromise
	if err := query.Order("created_at DESC").Find(&promises).Error; err != nil {
		return nil, err
	}
	return promises, nil
}

// taskTransitions: tasks move forward or get cancelled, never reopen.
var taskTransitions = map[string][]string{
	models.TaskStatusPending:    {models.TaskStatusInProgress, models.TaskStatusDone, models.TaskStatusCancelled},
	models.TaskStatusInProgress: {models.TaskStatusDone, models.TaskStatusCancelled},
}

// UpdateTaskStatus applies an explicit user transition to a collection task.
func (s *PromiseService) UpdateTaskStatus(ctx context.Context, id uint, status string) (*models.CollectionTask, error) {
	var task models.CollectionTask
	if err := s.db.WithContext(ctx).First(&task, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("load task: %w", err)
	}

	allowed := false
	for _, next := range taskTransitions[task.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("cannot transition task from %s to %s", task.Status, status)
	}

	if err := s.db.WithContext(ctx).Model(&task).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}).Error; err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	task.Status = status
	return &task, nil
}

// ListTasks returns collection tasks filtered by invoice and/or status,
// most urgent first.
func (s *PromiseService) ListTasks(ctx context.Context, invoiceID uint, status string) ([]models.CollectionTask, error) {
	query := s.db.WithContext(ctx).Model(&models.CollectionTask{})
	if invoiceID != 0 {
		query = query.Where("invoice_id = ?", invoiceID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var tasks []models.CollectionTask
	if err := query.Order("priority ASC, due_date ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}
