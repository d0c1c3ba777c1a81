package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "critical"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityLow      AlertSeverity = "low"
)

type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Alert types match the monitored metric kinds plus the offline sweep.
const (
	AlertTypeCPU     = "cpu"
	AlertTypeMemory  = "memory"
	AlertTypeDisk    = "disk"
	AlertTypeOffline = "offline"
)

// Alert holds at most one open row per (server, type); repeated breaches
// update the open row in place and escalation mutates Severity.
type Alert struct {
	ID             uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	ServerID       uuid.UUID         `json:"server_id" gorm:"type:uuid;not null;index:idx_alert_server_type"`
	Type           string            `json:"type" gorm:"type:varchar(32);not null;index:idx_alert_server_type"`
	Severity       AlertSeverity     `json:"severity" gorm:"type:varchar(16);not null;index"`
	Status         AlertStatus       `json:"status" gorm:"type:varchar(16);not null;default:'open';index"`
	Message        string            `json:"message" gorm:"type:text"`
	MetricValue    float64           `json:"metric_value"`
	ThresholdValue float64           `json:"threshold_value"`
	Details        datatypes.JSONMap `json:"details,omitempty"`
	CreatedAt      time.Time         `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt      time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`

	Server *Server `json:"server,omitempty" gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"`
}

// BreachLevel is the currently active threshold level for one (server, kind)
type BreachLevel string

const (
	BreachLevelNone     BreachLevel = "none"
	BreachLevelHigh     BreachLevel = "high"
	BreachLevelCritical BreachLevel = "critical"
)

// BreachState tracks consecutive breaching heartbeats per (server, metric kind).
// Persisted so a process restart mid-sequence neither resets progress toward
// the sustain requirement nor re-alerts spuriously.
type BreachState struct {
	ID                  uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	ServerID            uuid.UUID   `json:"server_id" gorm:"type:uuid;not null;uniqueIndex:idx_breach_server_kind"`
	MetricKind          string      `json:"metric_kind" gorm:"type:varchar(32);not null;uniqueIndex:idx_breach_server_kind"`
	ConsecutiveHigh     int         `json:"consecutive_high" gorm:"not null;default:0"`
	ConsecutiveCritical int         `json:"consecutive_critical" gorm:"not null;default:0"`
	Level               BreachLevel `json:"level" gorm:"type:varchar(16);not null;default:'none'"`
	UpdatedAt           time.Time   `json:"updated_at" gorm:"autoUpdateTime"`

	Server *Server `json:"server,omitempty" gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"`
}

// NotificationEvent records every notify() attempt. The latest sent row per
// (server, severity) anchors the cooldown window across restarts.
type NotificationEvent struct {
	ID        uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	ServerID  uuid.UUID     `json:"server_id" gorm:"type:uuid;not null;index:idx_notif_server_sev"`
	AlertID   *uuid.UUID    `json:"alert_id,omitempty" gorm:"type:uuid;index"`
	Kind      string        `json:"kind" gorm:"type:varchar(32);not null"`
	Severity  AlertSeverity `json:"severity" gorm:"type:varchar(16);not null;index:idx_notif_server_sev"`
	Channel   string        `json:"channel" gorm:"type:varchar(32);not null"`
	Status    string        `json:"status" gorm:"type:varchar(16);not null"`
	Attempts  int           `json:"attempts" gorm:"not null;default:0"`
	Error     string        `json:"error" gorm:"type:text"`
	SentAt    *time.Time    `json:"sent_at,omitempty" gorm:"index"`
	CreatedAt time.Time     `json:"created_at" gorm:"not null;autoCreateTime"`
}
