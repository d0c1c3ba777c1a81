package repository

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/entity"
)

type ActionAuditRepository struct {
	db *gorm.DB
}

func NewActionAuditRepository(db *gorm.DB) *ActionAuditRepository {
	return &ActionAuditRepository{db: db}
}

func (r *ActionAuditRepository) Insert(audit *entity.ActionAudit) error {
	return r.db.Create(audit).Error
}

func (r *ActionAuditRepository) ListByAction(actionID uuid.UUID) ([]entity.ActionAudit, error) {
	var audits []entity.ActionAudit
	err := r.db.Where("action_id = ?", actionID).Order("created_at ASC").Find(&audits).Error
	return audits, err
}
