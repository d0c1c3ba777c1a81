package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ActionType is the fixed whitelist of remediation commands. The control
// plane never constructs or interprets shell commands; it only records
// type/target/parameters and hands them to the agent.
type ActionType string

const (
	ActionTypeRestartService ActionType = "restart_service"
	ActionTypeClearLogs      ActionType = "clear_logs"
	ActionTypeApplyUpdates   ActionType = "apply_updates"
	ActionTypeCustom         ActionType = "custom"
)

type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusApproved  ActionStatus = "approved"
	ActionStatusExecuting ActionStatus = "executing"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusRejected  ActionStatus = "rejected"
	ActionStatusCancelled ActionStatus = "cancelled"
)

// Terminal reports whether no further transition is valid from s.
func (s ActionStatus) Terminal() bool {
	switch s {
	case ActionStatusCompleted, ActionStatusFailed, ActionStatusRejected, ActionStatusCancelled:
		return true
	}
	return false
}

// Action is one remediation command. At most one non-terminal row may exist
// per (server, action_type, target); the Action ID doubles as the command_id
// seen by the agent.
type Action struct {
	ID           uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	ServerID     uuid.UUID         `json:"server_id" gorm:"type:uuid;not null;index"`
	ActionType   ActionType        `json:"action_type" gorm:"type:varchar(32);not null;index"`
	Target       string            `json:"target" gorm:"type:varchar(255);not null"`
	Status       ActionStatus      `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	AutoApproved bool              `json:"auto_approved" gorm:"not null;default:false"`
	AlertID      *uuid.UUID        `json:"alert_id,omitempty" gorm:"type:uuid;index"`
	Parameters   datatypes.JSONMap `json:"parameters,omitempty"`
	Output       string            `json:"output" gorm:"type:text"`
	Error        string            `json:"error" gorm:"type:text"`
	Reason       string            `json:"reason" gorm:"type:text"`
	CreatedBy    string            `json:"created_by" gorm:"type:varchar(255)"`
	CreatedAt    time.Time         `json:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
	ApprovedAt   *time.Time        `json:"approved_at,omitempty"`
	DispatchedAt *time.Time        `json:"dispatched_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`

	Server *Server `json:"server,omitempty" gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"`
}

// ActionAudit is an immutable record of one state transition.
type ActionAudit struct {
	ID         uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	ActionID   uuid.UUID         `json:"action_id" gorm:"type:uuid;not null;index"`
	FromStatus ActionStatus      `json:"from_status" gorm:"type:varchar(16)"`
	ToStatus   ActionStatus      `json:"to_status" gorm:"type:varchar(16);not null"`
	Actor      string            `json:"actor" gorm:"type:varchar(255)"`
	Reason     string            `json:"reason" gorm:"type:text"`
	Payload    datatypes.JSONMap `json:"payload,omitempty"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null;autoCreateTime"`

	Action *Action `json:"action,omitempty" gorm:"foreignKey:ActionID;constraint:OnDelete:CASCADE"`
}
