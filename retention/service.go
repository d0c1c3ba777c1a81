package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/config"
	"github.com/fleetpulse/fleet-control/entity"
	"github.com/fleetpulse/fleet-control/repository"
)

// pruneBatchSize bounds each prune transaction on large daily tables.
const pruneBatchSize = 500

// Service owns the tiered rollup pipeline. Each operation is idempotent and
// runs the aggregate upsert and the source delete inside one transaction, so
// a crash mid-run leaves either both done or neither.
type Service struct {
	db  *gorm.DB
	cfg config.MonitorConfig
	now func() time.Time
}

func NewService(db *gorm.DB, cfg config.MonitorConfig) *Service {
	return &Service{db: db, cfg: cfg, now: time.Now}
}

// RollupRawToHourly folds raw rows older than the raw retention cutoff into
// hourly buckets and deletes the sources. Re-running with no new data is a
// no-op; a bucket that already exists is merged into, never duplicated, and
// only buckets that did not exist before the run count toward created.
func (s *Service) RollupRawToHourly(ctx context.Context) (created int64, deleted int64, err error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.RawRetentionDays)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := repository.New(tx)

		raws, err := repo.MetricRepo.RawOlderThan(cutoff)
		if err != nil {
			return fmt.Errorf("load raw rows: %w", err)
		}
		if len(raws) == 0 {
			return nil
		}

		buckets := map[bucketKey]*accumulator{}
		ids := make([]uuid.UUID, 0, len(raws))
		for _, raw := range raws {
			key := bucketKey{serverID: raw.ServerID, start: raw.Timestamp.UTC().Truncate(time.Hour)}
			acc, ok := buckets[key]
			if !ok {
				acc = newAccumulator()
				buckets[key] = acc
			}
			acc.addSample(raw.CPUPct, raw.MemoryPct, raw.DiskPct, 1)
			ids = append(ids, raw.ID)
		}

		for key, acc := range buckets {
			metric, err := repo.MetricRepo.FindHourlyBucket(key.serverID, key.start)
			if err == gorm.ErrRecordNotFound {
				metric = &entity.HourlyMetric{ID: uuid.New(), ServerID: key.serverID, BucketStart: key.start}
				created++
			} else if err != nil {
				return fmt.Errorf("find hourly bucket: %w", err)
			} else {
				// A later raw row landed in a bucket an earlier run already
				// produced; fold the existing aggregate into the new one.
				acc.addAggregate(metric.CPUAvg, metric.CPUMin, metric.CPUMax,
					metric.MemoryAvg, metric.MemoryMin, metric.MemoryMax,
					metric.DiskAvg, metric.DiskMin, metric.DiskMax, metric.SampleCount)
			}
			acc.fillHourly(metric)
			if err := repo.MetricRepo.SaveHourly(metric); err != nil {
				return fmt.Errorf("save hourly bucket: %w", err)
			}
		}

		deleted, err = repo.MetricRepo.DeleteRawByIDs(ids)
		if err != nil {
			return fmt.Errorf("delete raw rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, deleted, nil
}

// RollupHourlyToDaily is the same pattern one tier up. The daily average is
// weighted by sample count, never a naive average of averages, and the
// extrema are true extrema over the hourly ones.
func (s *Service) RollupHourlyToDaily(ctx context.Context) (created int64, deleted int64, err error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.HourlyRetentionDays)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		repo := repository.New(tx)

		hourlies, err := repo.MetricRepo.HourlyOlderThan(cutoff)
		if err != nil {
			return fmt.Errorf("load hourly rows: %w", err)
		}
		if len(hourlies) == 0 {
			return nil
		}

		buckets := map[bucketKey]*accumulator{}
		ids := make([]uuid.UUID, 0, len(hourlies))
		for _, h := range hourlies {
			key := bucketKey{serverID: h.ServerID, start: dayStart(h.BucketStart)}
			acc, ok := buckets[key]
			if !ok {
				acc = newAccumulator()
				buckets[key] = acc
			}
			acc.addAggregate(h.CPUAvg, h.CPUMin, h.CPUMax,
				h.MemoryAvg, h.MemoryMin, h.MemoryMax,
				h.DiskAvg, h.DiskMin, h.DiskMax, h.SampleCount)
			ids = append(ids, h.ID)
		}

		for key, acc := range buckets {
			metric, err := repo.MetricRepo.FindDailyBucket(key.serverID, key.start)
			if err == gorm.ErrRecordNotFound {
				metric = &entity.DailyMetric{ID: uuid.New(), ServerID: key.serverID, BucketStart: key.start}
				created++
			} else if err != nil {
				return fmt.Errorf("find daily bucket: %w", err)
			} else {
				acc.addAggregate(metric.CPUAvg, metric.CPUMin, metric.CPUMax,
					metric.MemoryAvg, metric.MemoryMin, metric.MemoryMax,
					metric.DiskAvg, metric.DiskMin, metric.DiskMax, metric.SampleCount)
			}
			acc.fillDaily(metric)
			if err := repo.MetricRepo.SaveDaily(metric); err != nil {
				return fmt.Errorf("save daily bucket: %w", err)
			}
		}

		deleted, err = repo.MetricRepo.DeleteHourlyByIDs(ids)
		if err != nil {
			return fmt.Errorf("delete hourly rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, deleted, nil
}

// PruneDaily unconditionally deletes daily rows past the final retention
// horizon, in bounded batches so no single transaction grows with the table.
func (s *Service) PruneDaily(ctx context.Context) (deleted int64, err error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.cfg.DailyRetentionDays)

	for {
		var n int64
		err := s.db.Transaction(func(tx *gorm.DB) error {
			repo := repository.New(tx)
			ids, err := repo.MetricRepo.DailyIDsOlderThan(cutoff, pruneBatchSize)
			if err != nil {
				return fmt.Errorf("find prune candidates: %w", err)
			}
			n, err = repo.MetricRepo.DeleteDailyByIDs(ids)
			if err != nil {
				return fmt.Errorf("delete daily rows: %w", err)
			}
			return nil
		})
		if err != nil {
			return deleted, err
		}
		deleted += n
		if n < pruneBatchSize {
			return deleted, nil
		}
	}
}

type bucketKey struct {
	serverID uuid.UUID
	start    time.Time
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// accumulator merges weighted aggregates for the three resources. Adding a
// single sample is the weight-1 case.
type accumulator struct {
	cpu, memory, disk stat
	count             int64
}

type stat struct {
	weightedSum float64
	min         float64
	max         float64
	seen        bool
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

func (a *accumulator) addSample(cpu, memory, disk float64, weight int64) {
	a.cpu.add(cpu, cpu, cpu, weight)
	a.memory.add(memory, memory, memory, weight)
	a.disk.add(disk, disk, disk, weight)
	a.count += weight
}

func (a *accumulator) addAggregate(cpuAvg, cpuMin, cpuMax, memAvg, memMin, memMax, diskAvg, diskMin, diskMax float64, count int64) {
	a.cpu.add(cpuAvg, cpuMin, cpuMax, count)
	a.memory.add(memAvg, memMin, memMax, count)
	a.disk.add(diskAvg, diskMin, diskMax, count)
	a.count += count
}

func (s *stat) add(avg, min, max float64, weight int64) {
	if weight <= 0 {
		return
	}
	s.weightedSum += avg * float64(weight)
	if !s.seen || min < s.min {
		s.min = min
	}
	if !s.seen || max > s.max {
		s.max = max
	}
	s.seen = true
}

func (s stat) avg(count int64) float64 {
	if count == 0 {
		return 0
	}
	return s.weightedSum / float64(count)
}

func (a *accumulator) fillHourly(m *entity.HourlyMetric) {
	m.CPUAvg, m.CPUMin, m.CPUMax = a.cpu.avg(a.count), a.cpu.min, a.cpu.max
	m.MemoryAvg, m.MemoryMin, m.MemoryMax = a.memory.avg(a.count), a.memory.min, a.memory.max
	m.DiskAvg, m.DiskMin, m.DiskMax = a.disk.avg(a.count), a.disk.min, a.disk.max
	m.SampleCount = a.count
}

func (a *accumulator) fillDaily(m *entity.DailyMetric) {
	m.CPUAvg, m.CPUMin, m.CPUMax = a.cpu.avg(a.count), a.cpu.min, a.cpu.max
	m.MemoryAvg, m.MemoryMin, m.MemoryMax = a.memory.avg(a.count), a.memory.min, a.memory.max
	m.DiskAvg, m.DiskMin, m.DiskMax = a.disk.avg(a.count), a.disk.min, a.disk.max
	m.SampleCount = a.count
}
