package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/entity"
)

// MetricRepository owns the three tier tables. It is pure storage: the rollup
// arithmetic lives in the retention service.
type MetricRepository struct {
	db *gorm.DB
}

func NewMetricRepository(db *gorm.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

func (r *MetricRepository) InsertRaw(metric *entity.RawMetric) error {
	return r.db.Create(metric).Error
}

func (r *MetricRepository) LatestRaw(serverID uuid.UUID) (*entity.RawMetric, error) {
	var metric entity.RawMetric
	err := r.db.Where("server_id = ?", serverID).Order("timestamp DESC").First(&metric).Error
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

// RawOlderThan returns rollup candidates ordered so grouping by (server, hour)
// sees each bucket contiguously.
func (r *MetricRepository) RawOlderThan(cutoff time.Time) ([]entity.RawMetric, error) {
	var metrics []entity.RawMetric
	err := r.db.Where("timestamp < ?", cutoff).
		Order("server_id ASC, timestamp ASC").Find(&metrics).Error
	return metrics, err
}

func (r *MetricRepository) DeleteRawByIDs(ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.Delete(&entity.RawMetric{}, "id IN ?", ids)
	return res.RowsAffected, res.Error
}

func (r *MetricRepository) FindHourlyBucket(serverID uuid.UUID, bucketStart time.Time) (*entity.HourlyMetric, error) {
	var metric entity.HourlyMetric
	err := r.db.Where("server_id = ? AND bucket_start = ?", serverID, bucketStart).First(&metric).Error
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

func (r *MetricRepository) SaveHourly(metric *entity.HourlyMetric) error {
	return r.db.Save(metric).Error
}

func (r *MetricRepository) HourlyOlderThan(cutoff time.Time) ([]entity.HourlyMetric, error) {
	var metrics []entity.HourlyMetric
	err := r.db.Where("bucket_start < ?", cutoff).
		Order("server_id ASC, bucket_start ASC").Find(&metrics).Error
	return metrics, err
}

func (r *MetricRepository) DeleteHourlyByIDs(ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.Delete(&entity.HourlyMetric{}, "id IN ?", ids)
	return res.RowsAffected, res.Error
}

func (r *MetricRepository) FindDailyBucket(serverID uuid.UUID, bucketStart time.Time) (*entity.DailyMetric, error) {
	var metric entity.DailyMetric
	err := r.db.Where("server_id = ? AND bucket_start = ?", serverID, bucketStart).First(&metric).Error
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

func (r *MetricRepository) SaveDaily(metric *entity.DailyMetric) error {
	return r.db.Save(metric).Error
}

// DailyIDsOlderThan pages through prune candidates so the delete transaction
// stays bounded on large tables.
func (r *MetricRepository) DailyIDsOlderThan(cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.Model(&entity.DailyMetric{}).Where("bucket_start < ?", cutoff).
		Order("bucket_start ASC").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

func (r *MetricRepository) DeleteDailyByIDs(ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.Delete(&entity.DailyMetric{}, "id IN ?", ids)
	return res.RowsAffected, res.Error
}

func (r *MetricRepository) RawRange(serverID uuid.UUID, from, to time.Time) ([]entity.RawMetric, error) {
	var metrics []entity.RawMetric
	err := r.db.Where("server_id = ? AND timestamp >= ? AND timestamp < ?", serverID, from, to).
		Order("timestamp ASC").Find(&metrics).Error
	return metrics, err
}

func (r *MetricRepository) HourlyRange(serverID uuid.UUID, from, to time.Time) ([]entity.HourlyMetric, error) {
	var metrics []entity.HourlyMetric
	err := r.db.Where("server_id = ? AND bucket_start >= ? AND bucket_start < ?", serverID, from, to).
		Order("bucket_start ASC").Find(&metrics).Error
	return metrics, err
}

func (r *MetricRepository) DailyRange(serverID uuid.UUID, from, to time.Time) ([]entity.DailyMetric, error) {
	var metrics []entity.DailyMetric
	err := r.db.Where("server_id = ? AND bucket_start >= ? AND bucket_start < ?", serverID, from, to).
		Order("bucket_start ASC").Find(&metrics).Error
	return metrics, err
}
