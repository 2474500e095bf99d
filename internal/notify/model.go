package notify

import (
	"time"

	"github.com/google/uuid"
)

// Notification models a persisted notification record. Records are never
// deleted; read acknowledgment is the only mutation.
type Notification struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Recipient string    `gorm:"column:recipient;size:190;not null;index:idx_notifications_recipient_created,priority:1"`
	Type      string    `gorm:"column:type;size:64;not null"`
	Data      string    `gorm:"column:data;type:text;not null"`
	IsRead    bool      `gorm:"column:is_read;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_notifications_recipient_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// IDProvider issues identifiers for new notification records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
