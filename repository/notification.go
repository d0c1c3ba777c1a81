package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/entity"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Insert(event *entity.NotificationEvent) error {
	return r.db.Create(event).Error
}

// LastSentAt anchors the per-(server, severity) cooldown window. Returns nil
// when nothing was ever sent for the pair.
func (r *NotificationRepository) LastSentAt(serverID uuid.UUID, severity entity.AlertSeverity) (*time.Time, error) {
	var event entity.NotificationEvent
	err := r.db.Where("server_id = ? AND severity = ? AND status = ?", serverID, severity, "sent").
		Order("sent_at DESC").First(&event).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return event.SentAt, nil
}

func (r *NotificationRepository) ListByAlert(alertID uuid.UUID) ([]entity.NotificationEvent, error) {
	var events []entity.NotificationEvent
	err := r.db.Where("alert_id = ?", alertID).Order("created_at ASC").Find(&events).Error
	return events, err
}
