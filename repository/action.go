package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/entity"
)

type ActionRepository struct {
	db *gorm.DB
}

func NewActionRepository(db *gorm.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

func (r *ActionRepository) Create(action *entity.Action) error {
	return r.db.Create(action).Error
}

func (r *ActionRepository) FindByID(id uuid.UUID) (*entity.Action, error) {
	var action entity.Action
	err := r.db.Where("id = ?", id).First(&action).Error
	if err != nil {
		return nil, err
	}
	return &action, nil
}

// FindNonTerminal returns the live action occupying a (server, type, target)
// slot, if any. At most one can exist.
func (r *ActionRepository) FindNonTerminal(serverID uuid.UUID, actionType entity.ActionType, target string) (*entity.Action, error) {
	var action entity.Action
	err := r.db.Where("server_id = ? AND action_type = ? AND target = ? AND status IN ?",
		serverID, actionType, target,
		[]entity.ActionStatus{entity.ActionStatusPending, entity.ActionStatusApproved, entity.ActionStatusExecuting}).
		First(&action).Error
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (r *ActionRepository) FindApprovedByServer(serverID uuid.UUID) ([]entity.Action, error) {
	var actions []entity.Action
	err := r.db.Where("server_id = ? AND status = ?", serverID, entity.ActionStatusApproved).
		Order("created_at ASC").Find(&actions).Error
	return actions, err
}

// UpdateGuarded applies updates only while the action is still in one of the
// expected statuses. The row count tells the caller whether the transition
// won the race.
func (r *ActionRepository) UpdateGuarded(id uuid.UUID, from []entity.ActionStatus, updates map[string]interface{}) (int64, error) {
	res := r.db.Model(&entity.Action{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *ActionRepository) List(serverID *uuid.UUID, status *entity.ActionStatus, limit int) ([]entity.Action, error) {
	q := r.db.Model(&entity.Action{}).Order("created_at DESC")
	if serverID != nil {
		q = q.Where("server_id = ?", *serverID)
	}
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var actions []entity.Action
	err := q.Find(&actions).Error
	return actions, err
}

// FindStale returns approved/executing actions that have not progressed since
// the cutoff. They are surfaced, never auto-failed.
func (r *ActionRepository) FindStale(cutoff time.Time) ([]entity.Action, error) {
	var actions []entity.Action
	err := r.db.Where("status IN ? AND updated_at < ?",
		[]entity.ActionStatus{entity.ActionStatusApproved, entity.ActionStatusExecuting}, cutoff).
		Order("updated_at ASC").Find(&actions).Error
	return actions, err
}
