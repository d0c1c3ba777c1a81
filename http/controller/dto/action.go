package dto

import "gorm.io/datatypes"

type CreateActionRequestDTO struct {
	ServerID   string            `json:"server_id" binding:"required,uuid"`
	ActionType string            `json:"action_type" binding:"required"`
	Target     string            `json:"target"`
	AlertID    string            `json:"alert_id" binding:"omitempty,uuid"`
	Parameters datatypes.JSONMap `json:"parameters"`
}

type RejectActionRequestDTO struct {
	Reason string `json:"reason" binding:"required,min=1,max=1024"`
}

type CommandResultRequestDTO struct {
	CommandID string `json:"command_id" binding:"required,uuid"`
	Success   bool   `json:"success"`
	Output    string `json:"output"`
	Error     string `json:"error"`
}
