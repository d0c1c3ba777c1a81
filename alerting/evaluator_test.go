package alerting

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/config"
	"github.com/fleetpulse/fleet-control/entity"
	"github.com/fleetpulse/fleet-control/infra"
	"github.com/fleetpulse/fleet-control/infra/produce"
	"github.com/fleetpulse/fleet-control/repository"
)

type fakeNotifier struct {
	events   []produce.NotificationEvent
	failures int
}

func (f *fakeNotifier) Publish(_ context.Context, event produce.NotificationEvent) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) kinds() []string {
	var out []string
	for _, ev := range f.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, infra.AutoMigrate(db))
	return repository.New(db)
}

func testMonitorConfig() config.MonitorConfig {
	cfg := config.DefaultMonitorConfig()
	cfg.Thresholds = map[string]config.ThresholdConfig{
		entity.AlertTypeCPU:  {HighPercent: 80, CriticalPercent: 95, HighSustain: 3, CriticalSustain: 2},
		entity.AlertTypeDisk: {HighPercent: 80, CriticalPercent: 95, HighSustain: 1, CriticalSustain: 1},
	}
	return cfg
}

func newTestEvaluator(t *testing.T, cfg config.MonitorConfig) (*Evaluator, *repository.Repository, *fakeNotifier, *time.Time) {
	t.Helper()
	repo := newTestRepo(t)
	notifier := &fakeNotifier{}
	evaluator := NewEvaluator(repo, notifier, cfg, infra.NewStdoutLoggerClient())

	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	evaluator.now = func() time.Time { return clock }
	return evaluator, repo, notifier, &clock
}

func createTestServer(t *testing.T, repo *repository.Repository, lastSeen time.Time) *entity.Server {
	t.Helper()
	server := &entity.Server{
		ID:       uuid.New(),
		Hostname: "node-" + uuid.NewString()[:8],
		Status:   entity.ServerStatusOnline,
		LastSeen: lastSeen,
	}
	require.NoError(t, repo.ServerRepo.Create(server))
	return server
}

func TestSustainedBreachOpensAlertAfterExactCount(t *testing.T) {
	evaluator, repo, notifier, _ := newTestEvaluator(t, testMonitorConfig())
	server := createTestServer(t, repo, time.Now())
	ctx := context.Background()

	// CPU high needs 3 consecutive breaching heartbeats.
	for i := 0; i < 2; i++ {
		events, err := evaluator.Evaluate(ctx, server.ID, MetricSample{CPUPct: 85, MemoryPct: 10, DiskPct: 10})
		require.NoError(t, err)
		assert.Empty(t, events)
	}

	events, err := evaluator.Evaluate(ctx, server.ID, MetricSample{CPUPct: 85, MemoryPct: 10, DiskPct: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, produce.EventAlertOpened, events[0].Kind)
	assert.Equal(t, entity.AlertSeverityHigh, events[0].Alert.Severity)
	assert.Equal(t, entity.AlertTypeCPU, events[0].Alert.Type)
	assert.Equal(t, 85.0, events[0].Alert.MetricValue)
	assert.Equal(t, []string{produce.EventAlertOpened}, notifier.kinds())

	// A dip below high resets the counter; two more breaches stay silent.
	_, err = evaluator.Evaluate(ctx, server.ID, MetricSample{CPUPct: 50, MemoryPct: 10, DiskPct: 10})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		events, err = evaluator.Evaluate(ctx, server.ID, MetricSample{CPUPct: 85, MemoryPct: 10, DiskPct: 10})
		require.NoError(t, err)
		assert.Empty(t, events)
	}
}

func TestDiskEscalatesInPlaceThenResolves(t *testing.T) {
	evaluator, repo, notifier, _ := newTestEvaluator(t, testMonitorConfig())
	server := createTestServer(t, repo, time.Now())
	ctx := context.Background()

	events, err := evaluator.Evaluate(ctx, server.ID, MetricSample{DiskPct: 82})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, produce.EventAlertOpened, events[0].Kind)
	assert.Equal(t, entity.AlertSeverityHigh, events[0].Alert.Severity)
	assert.Equal(t, 82.0, events[0].Alert.MetricValue)
	alertID := events[0].Alert.ID

	events, err = evaluator.Evaluate(ctx, server.ID, MetricSample{DiskPct: 96})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, produce.EventAlertEscalated, events[0].Kind)
	assert.Equal(t, alertID, events[0].Alert.ID)
	assert.Equal(t, entity.AlertSeverityCritical, events[0].Alert.Severity)
	assert.Equal(t, 96.0, events[0].Alert.MetricValue)

	events, err = evaluator.Evaluate(ctx, server.ID, MetricSample{DiskPct: 70})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, produce.EventAlertResolved, events[0].Kind)
	assert.Equal(t, alertID, events[0].Alert.ID)

	resolved, err := repo.AlertRepo.FindByID(alertID)
	require.NoError(t, err)
	assert.Equal(t, entity.AlertStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	// One alert row for the whole breach, not one per level.
	alerts, err := repo.AlertRepo.List(&server.ID, nil, 100)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	assert.Equal(t, []string{produce.EventAlertOpened, produce.EventAlertEscalated, produce.EventAlertResolved}, notifier.kinds())
}

func TestCooldownSuppressesRepeatedNotify(t *testing.T) {
	evaluator, repo, notifier, clock := newTestEvaluator(t, testMonitorConfig())
	server := createTestServer(t, repo, time.Now())
	ctx := context.Background()

	_, err := evaluator.Evaluate(ctx, server.ID, MetricSample{DiskPct: 85})
	require.NoError(t, err)
	_, err = evaluator.Evaluate(ctx, server.ID, MetricSample{DiskPct: 40})
	require.NoError(t, err)

	// Re-breach two minutes later, inside the 15 minute high cooldown. The
	// alert opens again but no second notification goes out; the recovery
	// event in between must not count as a raise.
	*clock = clock.Add(2 * time.Minute)
	events, err := evaluator.Evaluate(ctx, server.ID, MetricSample{DiskPct: 85})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, produce.EventAlertOpened, events[0].Kind)
	assert.Equal(t, []string{produce.EventAlertOpened, produce.EventAlertResolved}, notifier.kinds())

	alerts, err := repo.AlertRepo.List(&server.ID, nil, 100)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	// Past the cooldown the next raise notifies again.
	_, err = evaluator.Evaluate(ctx, server.ID, MetricSample{DiskPct: 40})
	require.NoError(t, err)
	*clock = clock.Add(16 * time.Minute)
	_, err = evaluator.Evaluate(ctx, server.ID, MetricSample{DiskPct: 85})
	require.NoError(t, err)
	assert.Equal(t, []string{
		produce.EventAlertOpened, produce.EventAlertResolved,
		produce.EventAlertResolved, produce.EventAlertOpened,
	}, notifier.kinds())
}

func TestCriticalBreachCountsTowardHigh(t *testing.T) {
	evaluator, repo, notifier, _ := newTestEvaluator(t, testMonitorConfig())
	server := createTestServer(t, repo, time.Now())
	ctx := context.Background()

	// CPU critical sustain is 2; the second critical heartbeat opens directly
	// at critical without passing through high first.
	events, err := evaluator.Evaluate(ctx, server.ID, MetricSample{CPUPct: 97})
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = evaluator.Evaluate(ctx, server.ID, MetricSample{CPUPct: 98})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, produce.EventAlertOpened, events[0].Kind)
	assert.Equal(t, entity.AlertSeverityCritical, events[0].Alert.Severity)
	assert.Equal(t, []string{produce.EventAlertOpened}, notifier.kinds())
}

func TestSweepOfflineMarksAndAlerts(t *testing.T) {
	evaluator, repo, notifier, clock := newTestEvaluator(t, testMonitorConfig())
	server := createTestServer(t, repo, clock.Add(-10*time.Minute))
	fresh := createTestServer(t, repo, *clock)
	ctx := context.Background()

	require.NoError(t, evaluator.SweepOffline(ctx))

	stale, err := repo.ServerRepo.FindByID(server.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ServerStatusOffline, stale.Status)

	alive, err := repo.ServerRepo.FindByID(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ServerStatusOnline, alive.Status)

	alert, err := repo.AlertRepo.FindActive(server.ID, entity.AlertTypeOffline)
	require.NoError(t, err)
	assert.Equal(t, entity.AlertSeverityCritical, alert.Severity)
	assert.Equal(t, []string{produce.EventAlertOpened}, notifier.kinds())

	// A second sweep never stacks a second offline alert.
	*clock = clock.Add(time.Minute)
	require.NoError(t, evaluator.SweepOffline(ctx))
	alerts, err := repo.AlertRepo.List(&server.ID, nil, 100)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	// The next heartbeat resolves the offline alert.
	events, err := evaluator.Evaluate(ctx, server.ID, MetricSample{CPUPct: 10, DiskPct: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, produce.EventAlertResolved, events[0].Kind)
	assert.Equal(t, entity.AlertTypeOffline, events[0].Alert.Type)
}

func TestNotifyRetriesAndRecordsOutcome(t *testing.T) {
	evaluator, repo, notifier, _ := newTestEvaluator(t, testMonitorConfig())
	server := createTestServer(t, repo, time.Now())
	ctx := context.Background()

	notifier.failures = 2
	_, err := evaluator.Evaluate(ctx, server.ID, MetricSample{DiskPct: 85})
	require.NoError(t, err)

	// Two failures then success on the third attempt.
	assert.Equal(t, []string{produce.EventAlertOpened}, notifier.kinds())

	alert, err := repo.AlertRepo.FindActive(server.ID, entity.AlertTypeDisk)
	require.NoError(t, err)
	rows, err := repo.NotificationRepo.ListByAlert(alert.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "sent", rows[0].Status)
	assert.Equal(t, 3, rows[0].Attempts)
}
