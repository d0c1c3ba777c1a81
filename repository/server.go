package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/entity"
)

type ServerRepository struct {
	db *gorm.DB
}

func NewServerRepository(db *gorm.DB) *ServerRepository {
	return &ServerRepository{db: db}
}

func (r *ServerRepository) Create(server *entity.Server) error {
	return r.db.Create(server).Error
}

func (r *ServerRepository) FindByID(id uuid.UUID) (*entity.Server, error) {
	var server entity.Server
	err := r.db.Where("id = ?", id).First(&server).Error
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (r *ServerRepository) FindByHostname(hostname string) (*entity.Server, error) {
	var server entity.Server
	err := r.db.Where("hostname = ?", hostname).First(&server).Error
	if err != nil {
		return nil, err
	}
	return &server, nil
}

func (r *ServerRepository) List() ([]entity.Server, error) {
	var servers []entity.Server
	err := r.db.Order("hostname ASC").Find(&servers).Error
	return servers, err
}

// TouchSeen records a heartbeat: the server is online as of seenAt. A delayed
// heartbeat with an older timestamp still proves the agent is alive, but must
// not move last_seen backwards or the offline sweep would misfire.
func (r *ServerRepository) TouchSeen(id uuid.UUID, seenAt time.Time, agentVersion, ip string) error {
	updates := map[string]interface{}{
		"status": entity.ServerStatusOnline,
	}
	if agentVersion != "" {
		updates["agent_version"] = agentVersion
	}
	if ip != "" {
		updates["ip"] = ip
	}
	if err := r.db.Model(&entity.Server{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return err
	}
	return r.db.Model(&entity.Server{}).
		Where("id = ? AND last_seen < ?", id, seenAt).
		Update("last_seen", seenAt).Error
}

func (r *ServerRepository) SetStatus(id uuid.UUID, status entity.ServerStatus) error {
	return r.db.Model(&entity.Server{}).Where("id = ?", id).
		Update("status", status).Error
}

// FindStale returns servers not yet marked offline whose last heartbeat is
// older than the cutoff.
func (r *ServerRepository) FindStale(cutoff time.Time) ([]entity.Server, error) {
	var servers []entity.Server
	err := r.db.Where("status <> ? AND last_seen < ?", entity.ServerStatusOffline, cutoff).
		Find(&servers).Error
	return servers, err
}

// ReplaceServiceStatuses overwrites the reported service set for a server.
func (r *ServerRepository) ReplaceServiceStatuses(serverID uuid.UUID, statuses []entity.ServiceStatus) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&entity.ServiceStatus{}, "server_id = ?", serverID).Error; err != nil {
			return err
		}
		if len(statuses) == 0 {
			return nil
		}
		return tx.Create(&statuses).Error
	})
}

func (r *ServerRepository) FindServiceStatuses(serverID uuid.UUID) ([]entity.ServiceStatus, error) {
	var statuses []entity.ServiceStatus
	err := r.db.Where("server_id = ?", serverID).Order("name ASC").Find(&statuses).Error
	return statuses, err
}
