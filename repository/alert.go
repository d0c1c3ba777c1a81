package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/entity"
)

type AlertRepository struct {
	db *gorm.DB
}

func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

func (r *AlertRepository) Create(alert *entity.Alert) error {
	return r.db.Create(alert).Error
}

func (r *AlertRepository) Save(alert *entity.Alert) error {
	return r.db.Save(alert).Error
}

func (r *AlertRepository) FindByID(id uuid.UUID) (*entity.Alert, error) {
	var alert entity.Alert
	err := r.db.Where("id = ?", id).First(&alert).Error
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// FindActive returns the single unresolved alert for a (server, type) key.
// Acknowledged alerts are still active; only resolution closes the key.
func (r *AlertRepository) FindActive(serverID uuid.UUID, alertType string) (*entity.Alert, error) {
	var alert entity.Alert
	err := r.db.Where("server_id = ? AND type = ? AND status IN ?", serverID, alertType,
		[]entity.AlertStatus{entity.AlertStatusOpen, entity.AlertStatusAcknowledged}).
		First(&alert).Error
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (r *AlertRepository) List(serverID *uuid.UUID, status *entity.AlertStatus, limit int) ([]entity.Alert, error) {
	q := r.db.Model(&entity.Alert{}).Order("created_at DESC")
	if serverID != nil {
		q = q.Where("server_id = ?", *serverID)
	}
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var alerts []entity.Alert
	err := q.Find(&alerts).Error
	return alerts, err
}

// Acknowledge is valid only from open; the returned row count tells the
// caller whether the guard matched.
func (r *AlertRepository) Acknowledge(id uuid.UUID, at time.Time) (int64, error) {
	res := r.db.Model(&entity.Alert{}).
		Where("id = ? AND status = ?", id, entity.AlertStatusOpen).
		Updates(map[string]interface{}{
			"status":          entity.AlertStatusAcknowledged,
			"acknowledged_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *AlertRepository) Resolve(id uuid.UUID, at time.Time) (int64, error) {
	res := r.db.Model(&entity.Alert{}).
		Where("id = ? AND status IN ?", id,
			[]entity.AlertStatus{entity.AlertStatusOpen, entity.AlertStatusAcknowledged}).
		Updates(map[string]interface{}{
			"status":      entity.AlertStatusResolved,
			"resolved_at": at,
		})
	return res.RowsAffected, res.Error
}
