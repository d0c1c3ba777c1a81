package repository

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/entity"
)

type BreachStateRepository struct {
	db *gorm.DB
}

func NewBreachStateRepository(db *gorm.DB) *BreachStateRepository {
	return &BreachStateRepository{db: db}
}

// Find returns the persisted counters for a (server, kind) pair, or a fresh
// zero-value state when none exists yet.
func (r *BreachStateRepository) Find(serverID uuid.UUID, kind string) (*entity.BreachState, error) {
	var state entity.BreachState
	err := r.db.Where("server_id = ? AND metric_kind = ?", serverID, kind).First(&state).Error
	if err == gorm.ErrRecordNotFound {
		return &entity.BreachState{
			ID:         uuid.New(),
			ServerID:   serverID,
			MetricKind: kind,
			Level:      entity.BreachLevelNone,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *BreachStateRepository) Save(state *entity.BreachState) error {
	return r.db.Save(state).Error
}
