package entity

import (
	"time"

	"github.com/google/uuid"
)

// RawMetric is one row per heartbeat per server. Rows are immutable once
// written and are deleted only by the hourly rollup.
type RawMetric struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ServerID   uuid.UUID `json:"server_id" gorm:"type:uuid;not null;uniqueIndex:idx_raw_server_ts"`
	Timestamp  time.Time `json:"timestamp" gorm:"not null;uniqueIndex:idx_raw_server_ts;index"`
	CPUPct     float64   `json:"cpu_pct" gorm:"not null"`
	MemoryPct  float64   `json:"memory_pct" gorm:"not null"`
	DiskPct    float64   `json:"disk_pct" gorm:"not null"`
	NetRxBytes int64     `json:"net_rx_bytes"`
	NetTxBytes int64     `json:"net_tx_bytes"`
	Load1      float64   `json:"load_1"`
	Load5      float64   `json:"load_5"`
	Load15     float64   `json:"load_15"`
	UptimeSec  int64     `json:"uptime_sec"`

	Server *Server `json:"server,omitempty" gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"`
}

// HourlyMetric aggregates raw rows into one bucket per server per hour.
// BucketStart is the truncated hour; the (server, bucket) pair is unique so
// re-running a rollup merges instead of duplicating.
type HourlyMetric struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ServerID    uuid.UUID `json:"server_id" gorm:"type:uuid;not null;uniqueIndex:idx_hourly_server_bucket"`
	BucketStart time.Time `json:"bucket_start" gorm:"not null;uniqueIndex:idx_hourly_server_bucket;index"`
	CPUAvg      float64   `json:"cpu_avg"`
	CPUMin      float64   `json:"cpu_min"`
	CPUMax      float64   `json:"cpu_max"`
	MemoryAvg   float64   `json:"memory_avg"`
	MemoryMin   float64   `json:"memory_min"`
	MemoryMax   float64   `json:"memory_max"`
	DiskAvg     float64   `json:"disk_avg"`
	DiskMin     float64   `json:"disk_min"`
	DiskMax     float64   `json:"disk_max"`
	SampleCount int64     `json:"sample_count" gorm:"not null"`

	Server *Server `json:"server,omitempty" gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"`
}

// DailyMetric is the coarsest tier. Its average is sample-count-weighted over
// the hourly averages and its extrema are true extrema over the hourly ones.
type DailyMetric struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ServerID    uuid.UUID `json:"server_id" gorm:"type:uuid;not null;uniqueIndex:idx_daily_server_bucket"`
	BucketStart time.Time `json:"bucket_start" gorm:"not null;uniqueIndex:idx_daily_server_bucket;index"`
	CPUAvg      float64   `json:"cpu_avg"`
	CPUMin      float64   `json:"cpu_min"`
	CPUMax      float64   `json:"cpu_max"`
	MemoryAvg   float64   `json:"memory_avg"`
	MemoryMin   float64   `json:"memory_min"`
	MemoryMax   float64   `json:"memory_max"`
	DiskAvg     float64   `json:"disk_avg"`
	DiskMin     float64   `json:"disk_min"`
	DiskMax     float64   `json:"disk_max"`
	SampleCount int64     `json:"sample_count" gorm:"not null"`

	Server *Server `json:"server,omitempty" gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"`
}
