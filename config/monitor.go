package config

import (
	"time"

	"github.com/fleetpulse/fleet-control/entity"
)

// ThresholdConfig holds the two breach levels for one metric kind. Each level
// has its own sustain requirement in consecutive heartbeats.
type ThresholdConfig struct {
	HighPercent     float64
	CriticalPercent float64
	HighSustain     int
	CriticalSustain int
}

// MonitorConfig is an immutable value handed to the evaluator, orchestrator
// and retention service at construction. It is never read from ambient state.
type MonitorConfig struct {
	Thresholds map[string]ThresholdConfig

	ServerOfflineSeconds int
	CooldownMinutes      map[entity.AlertSeverity]int

	AutoApproveActions map[entity.ActionType]bool

	RawRetentionDays    int
	HourlyRetentionDays int
	DailyRetentionDays  int

	StaleActionWindow time.Duration

	RollupInterval time.Duration
	PruneInterval  time.Duration
	SweepInterval  time.Duration
}

// DefaultMonitorConfig returns the shipped thresholds; LoadMonitorConfig
// layers env overrides on top of it.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Thresholds: map[string]ThresholdConfig{
			entity.AlertTypeCPU:    {HighPercent: 80, CriticalPercent: 95, HighSustain: 3, CriticalSustain: 2},
			entity.AlertTypeMemory: {HighPercent: 85, CriticalPercent: 95, HighSustain: 3, CriticalSustain: 2},
			entity.AlertTypeDisk:   {HighPercent: 80, CriticalPercent: 95, HighSustain: 1, CriticalSustain: 1},
		},
		ServerOfflineSeconds: 120,
		CooldownMinutes: map[entity.AlertSeverity]int{
			entity.AlertSeverityCritical: 5,
			entity.AlertSeverityHigh:     15,
			entity.AlertSeverityMedium:   30,
			entity.AlertSeverityLow:      60,
		},
		AutoApproveActions:  map[entity.ActionType]bool{},
		RawRetentionDays:    7,
		HourlyRetentionDays: 30,
		DailyRetentionDays:  365,
		StaleActionWindow:   30 * time.Minute,
		RollupInterval:      1 * time.Hour,
		PruneInterval:       24 * time.Hour,
		SweepInterval:       30 * time.Second,
	}
}

func LoadMonitorConfig() MonitorConfig {
	cfg := DefaultMonitorConfig()

	for kind, prefix := range map[string]string{
		entity.AlertTypeCPU:    "FLEET_CPU",
		entity.AlertTypeMemory: "FLEET_MEMORY",
		entity.AlertTypeDisk:   "FLEET_DISK",
	} {
		t := cfg.Thresholds[kind]
		t.HighPercent = getenvFloat(prefix+"_HIGH_PERCENT", t.HighPercent)
		t.CriticalPercent = getenvFloat(prefix+"_CRITICAL_PERCENT", t.CriticalPercent)
		t.HighSustain = getenvInt(prefix+"_HIGH_SUSTAIN", t.HighSustain)
		t.CriticalSustain = getenvInt(prefix+"_CRITICAL_SUSTAIN", t.CriticalSustain)
		cfg.Thresholds[kind] = t
	}

	cfg.ServerOfflineSeconds = getenvInt("FLEET_SERVER_OFFLINE_SECONDS", cfg.ServerOfflineSeconds)
	for sev, key := range map[entity.AlertSeverity]string{
		entity.AlertSeverityCritical: "FLEET_COOLDOWN_CRITICAL_MINUTES",
		entity.AlertSeverityHigh:     "FLEET_COOLDOWN_HIGH_MINUTES",
		entity.AlertSeverityMedium:   "FLEET_COOLDOWN_MEDIUM_MINUTES",
		entity.AlertSeverityLow:      "FLEET_COOLDOWN_LOW_MINUTES",
	} {
		cfg.CooldownMinutes[sev] = getenvInt(key, cfg.CooldownMinutes[sev])
	}

	for _, raw := range splitList(getenv("FLEET_AUTO_APPROVE_ACTIONS", "")) {
		cfg.AutoApproveActions[entity.ActionType(raw)] = true
	}

	cfg.RawRetentionDays = getenvInt("FLEET_RAW_RETENTION_DAYS", cfg.RawRetentionDays)
	cfg.HourlyRetentionDays = getenvInt("FLEET_HOURLY_RETENTION_DAYS", cfg.HourlyRetentionDays)
	cfg.DailyRetentionDays = getenvInt("FLEET_DAILY_RETENTION_DAYS", cfg.DailyRetentionDays)

	if mins := getenvInt("FLEET_STALE_ACTION_MINUTES", 0); mins > 0 {
		cfg.StaleActionWindow = time.Duration(mins) * time.Minute
	}

	return cfg
}

// Cooldown returns the notify suppression window for a severity.
func (c MonitorConfig) Cooldown(sev entity.AlertSeverity) time.Duration {
	return time.Duration(c.CooldownMinutes[sev]) * time.Minute
}

func (c MonitorConfig) OfflineThreshold() time.Duration {
	return time.Duration(c.ServerOfflineSeconds) * time.Second
}
