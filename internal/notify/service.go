package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRecipient  = errors.New("recipient identity is required")
	errMissingType       = errors.New("notification type is required")
	noOpLogger           = zap.NewNop()

	// ErrNotFound indicates that a referenced notification record does not exist.
	ErrNotFound = errors.New("notify: notification not found")
)

const (
	opServiceNew  = "notify.service.new"
	opCreate      = "notify.create"
	opList        = "notify.list"
	opMarkRead    = "notify.mark_read"
	opMarkAllRead = "notify.mark_all_read"

	fieldRecipient      = "recipient"
	fieldNotificationID = "notification_id"
)

// ServiceError carries an operation.reason code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the notification service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists notification records and serves the read side.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Create persists a new unread notification record and returns it.
func (s *Service) Create(ctx context.Context, recipient, notificationType, dataJSON string) (Notification, error) {
	if strings.TrimSpace(recipient) == "" {
		return Notification{}, newServiceError(opCreate, "missing_recipient", errMissingRecipient)
	}
	if strings.TrimSpace(notificationType) == "" {
		return Notification{}, newServiceError(opCreate, "missing_type", errMissingType)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String(fieldRecipient, recipient))
		return Notification{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	record := Notification{
		ID:        id,
		Recipient: recipient,
		Type:      notificationType,
		Data:      dataJSON,
		IsRead:    false,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String(fieldRecipient, recipient))
		return Notification{}, newServiceError(opCreate, "insert_failed", err)
	}
	return record, nil
}

// List returns the recipient's notifications ordered newest-first.
func (s *Service) List(ctx context.Context, recipient string) ([]Notification, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, newServiceError(opList, "missing_recipient", errMissingRecipient)
	}

	var records []Notification
	if err := s.db.WithContext(ctx).
		Where("recipient = ?", recipient).
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String(fieldRecipient, recipient))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return records, nil
}

// MarkRead flags one notification as read. Unknown ids yield ErrNotFound.
func (s *Service) MarkRead(ctx context.Context, notificationID string) error {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("id = ?", notificationID).
		Update("is_read", true)
	if result.Error != nil {
		s.logError(opMarkRead, "update_failed", result.Error, zap.String(fieldNotificationID, notificationID))
		return newServiceError(opMarkRead, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, notificationID)
	}
	return nil
}

// MarkAllRead flags every unread notification of the recipient as read.
func (s *Service) MarkAllRead(ctx context.Context, recipient string) error {
	if strings.TrimSpace(recipient) == "" {
		return newServiceError(opMarkAllRead, "missing_recipient", errMissingRecipient)
	}
	if err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("recipient = ? AND is_read = ?", recipient, false).
		Update("is_read", true).Error; err != nil {
		s.logError(opMarkAllRead, "update_failed", err, zap.String(fieldRecipient, recipient))
		return newServiceError(opMarkAllRead, "update_failed", err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notify service error", attrs...)
}
