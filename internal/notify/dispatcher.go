package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
)

// EventNotification is the realtime event carrying a freshly persisted record.
const EventNotification = "notification"

var (
	errMissingService  = errors.New("notification service is required")
	errMissingResolver = errors.New("identity resolver is required")
	errMissingPusher   = errors.New("connection pusher is required")
)

// Resolver reports the live connection for a durable identity, if any.
type Resolver interface {
	Resolve(identity string) (string, bool)
}

// Pusher delivers an event to one live connection.
type Pusher interface {
	Push(connectionID, event string, data interface{}) error
}

// PushPayload is the realtime shape of a persisted notification.
type PushPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DispatcherConfig describes the dependencies of the dispatcher.
type DispatcherConfig struct {
	Service  *Service
	Resolver Resolver
	Pusher   Pusher
	Logger   *zap.Logger
}

// Dispatcher persists a notification and then best-effort pushes it to the
// recipient's live connection. Persistence is the durability guarantee; the
// realtime push is an optimization.
type Dispatcher struct {
	service  *Service
	resolver Resolver
	pusher   Pusher
	logger   *zap.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Service == nil {
		return nil, errMissingService
	}
	if cfg.Resolver == nil {
		return nil, errMissingResolver
	}
	if cfg.Pusher == nil {
		return nil, errMissingPusher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Dispatcher{
		service:  cfg.Service,
		resolver: cfg.Resolver,
		pusher:   cfg.Pusher,
		logger:   logger,
	}, nil
}

// Notify persists the notification first and pushes it only after the record
// is durable. A storage failure is returned to the caller and nothing is
// pushed; a push failure is logged and swallowed because the record is already
// correctly persisted and unread.
func (d *Dispatcher) Notify(ctx context.Context, recipient, notificationType string, payload json.RawMessage) error {
	record, err := d.service.Create(ctx, recipient, notificationType, string(payload))
	if err != nil {
		return err
	}

	connectionID, online := d.resolver.Resolve(recipient)
	if !online {
		return nil
	}

	push := PushPayload{
		ID:        record.ID,
		Type:      record.Type,
		Data:      json.RawMessage(record.Data),
		CreatedAt: record.CreatedAt,
	}
	if err := d.pusher.Push(connectionID, EventNotification, push); err != nil {
		d.logger.Warn("notification push failed",
			zap.String(fieldRecipient, recipient),
			zap.String(fieldNotificationID, record.ID),
			zap.Error(err))
	}
	return nil
}
