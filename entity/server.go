package entity

import (
	"time"

	"github.com/google/uuid"
)

// ServerStatus represents the liveness of a monitored server
type ServerStatus string

const (
	ServerStatusOnline  ServerStatus = "online"
	ServerStatusOffline ServerStatus = "offline"
	ServerStatusUnknown ServerStatus = "unknown"
)

type Server struct {
	ID           uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey"`
	Hostname     string       `json:"hostname" binding:"required,min=1,max=255" gorm:"uniqueIndex;not null"`
	Status       ServerStatus `json:"status" gorm:"type:varchar(16);not null;default:'unknown';index"`
	LastSeen     time.Time    `json:"last_seen" gorm:"index"`
	AgentVersion string       `json:"agent_version" gorm:"type:varchar(64)"`
	IP           string       `json:"ip" binding:"omitempty,ip"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
}

// ServiceState represents the status of one supervised service on a server
type ServiceState string

const (
	ServiceStateRunning ServiceState = "running"
	ServiceStateStopped ServiceState = "stopped"
	ServiceStateFailed  ServiceState = "failed"
	ServiceStateUnknown ServiceState = "unknown"
)

type ServiceStatus struct {
	ID        uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey"`
	ServerID  uuid.UUID    `json:"server_id" gorm:"type:uuid;not null;uniqueIndex:idx_server_service"`
	Name      string       `json:"name" gorm:"type:varchar(255);not null;uniqueIndex:idx_server_service"`
	State     ServiceState `json:"state" gorm:"type:varchar(16);not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"autoUpdateTime"`

	Server *Server `json:"server,omitempty" gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"`
}
