package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/alerting"
	"github.com/fleetpulse/fleet-control/config"
	"github.com/fleetpulse/fleet-control/entity"
	"github.com/fleetpulse/fleet-control/infra"
	"github.com/fleetpulse/fleet-control/infra/produce"
	"github.com/fleetpulse/fleet-control/remediation"
	"github.com/fleetpulse/fleet-control/repository"
	"github.com/fleetpulse/fleet-control/utils"
)

type fakeNotifier struct {
	events []produce.NotificationEvent
}

func (f *fakeNotifier) Publish(_ context.Context, event produce.NotificationEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeCache struct {
	keys   []string
	data   map[string][]byte
	getErr error
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if f.data == nil {
		f.data = map[string][]byte{}
	}
	f.keys = append(f.keys, key)
	f.data[key] = b
	return nil
}

func (f *fakeCache) Get(_ context.Context, key string, dest interface{}) error {
	if f.getErr != nil {
		return f.getErr
	}
	b, ok := f.data[key]
	if !ok {
		return errors.New("key not found in cache")
	}
	return json.Unmarshal(b, dest)
}

func newTestIngestor(t *testing.T, cfg config.MonitorConfig) (*HeartbeatIngestor, *repository.Repository, *remediation.Orchestrator, *fakeCache) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, infra.AutoMigrate(db))
	repo := repository.New(db)

	logger := infra.NewStdoutLoggerClient()
	notifier := &fakeNotifier{}
	evaluator := alerting.NewEvaluator(repo, notifier, cfg, logger)
	orch := remediation.NewOrchestrator(repo, notifier, cfg, logger)
	cache := &fakeCache{}
	return NewHeartbeatIngestor(repo, evaluator, orch, cache, logger), repo, orch, cache
}

func heartbeat(hostname string, ts time.Time) HeartbeatRequest {
	return HeartbeatRequest{
		Hostname:     hostname,
		AgentVersion: "1.4.2",
		IP:           "10.0.0.7",
		Timestamp:    ts,
		Metrics:      HeartbeatMetrics{CPUPct: 20, MemoryPct: 35, DiskPct: 50, Load1: 0.4, UptimeSec: 86400},
		Services: []ServiceReport{
			{Name: "nginx", State: entity.ServiceStateRunning},
			{Name: "postgres", State: entity.ServiceStateRunning},
		},
	}
}

func TestIngestRegistersServerAndPersists(t *testing.T) {
	ingestor, repo, _, cache := newTestIngestor(t, config.DefaultMonitorConfig())
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	resp, err := ingestor.Ingest(ctx, heartbeat("web-01", ts))
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Empty(t, resp.PendingCommands)

	server, err := repo.ServerRepo.FindByHostname("web-01")
	require.NoError(t, err)
	assert.Equal(t, resp.ServerID, server.ID)
	assert.Equal(t, entity.ServerStatusOnline, server.Status)
	assert.Equal(t, "1.4.2", server.AgentVersion)

	raw, err := repo.MetricRepo.LatestRaw(server.ID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, raw.CPUPct)
	assert.True(t, raw.Timestamp.Equal(ts))

	services, err := repo.ServerRepo.FindServiceStatuses(server.ID)
	require.NoError(t, err)
	assert.Len(t, services, 2)

	require.Len(t, cache.keys, 1)
	assert.Contains(t, cache.keys[0], server.ID.String())

	// The second heartbeat reuses the row instead of registering again.
	resp2, err := ingestor.Ingest(ctx, heartbeat("web-01", ts.Add(30*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, resp.ServerID, resp2.ServerID)
	servers, err := repo.ServerRepo.List()
	require.NoError(t, err)
	assert.Len(t, servers, 1)
}

func TestIngestUnknownServerIDsRegisterSeparately(t *testing.T) {
	ingestor, repo, _, _ := newTestIngestor(t, config.DefaultMonitorConfig())
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	// Two agents that report only an id must never share a row.
	first := heartbeat("", ts)
	first.ServerID = uuid.New()
	second := heartbeat("", ts.Add(time.Second))
	second.ServerID = uuid.New()

	resp1, err := ingestor.Ingest(ctx, first)
	require.NoError(t, err)
	resp2, err := ingestor.Ingest(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, first.ServerID, resp1.ServerID)
	assert.Equal(t, second.ServerID, resp2.ServerID)
	assert.NotEqual(t, resp1.ServerID, resp2.ServerID)

	servers, err := repo.ServerRepo.List()
	require.NoError(t, err)
	require.Len(t, servers, 2)

	// Each gets its own metric stream.
	raw, err := repo.MetricRepo.LatestRaw(first.ServerID)
	require.NoError(t, err)
	assert.True(t, raw.Timestamp.Equal(ts))
}

func TestIngestOutOfOrderHeartbeatKeepsLastSeen(t *testing.T) {
	ingestor, repo, _, _ := newTestIngestor(t, config.DefaultMonitorConfig())
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	resp, err := ingestor.Ingest(ctx, heartbeat("web-01", ts))
	require.NoError(t, err)

	// A delayed heartbeat with an older timestamp still lands as a sample
	// but must not pull last_seen backwards.
	late, err := ingestor.Ingest(ctx, heartbeat("web-01", ts.Add(-2*time.Minute)))
	require.NoError(t, err)
	assert.True(t, late.Accepted)

	server, err := repo.ServerRepo.FindByID(resp.ServerID)
	require.NoError(t, err)
	assert.True(t, server.LastSeen.Equal(ts))
	assert.Equal(t, entity.ServerStatusOnline, server.Status)

	// The offline sweep must not pick the server up off the stale sample.
	stale, err := repo.ServerRepo.FindStale(ts.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestIngestReplayedTimestampIsIdempotent(t *testing.T) {
	ingestor, repo, _, _ := newTestIngestor(t, config.DefaultMonitorConfig())
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	first, err := ingestor.Ingest(ctx, heartbeat("web-01", ts))
	require.NoError(t, err)

	replay := heartbeat("web-01", ts)
	replay.Metrics.CPUPct = 99
	resp, err := ingestor.Ingest(ctx, replay)
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.Empty(t, resp.PendingCommands)

	// The original sample wins; the replay wrote nothing.
	raw, err := repo.MetricRepo.LatestRaw(first.ServerID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, raw.CPUPct)

	rows, err := repo.MetricRepo.RawRange(first.ServerID, ts.Add(-time.Minute), ts.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	ingestor, repo, _, _ := newTestIngestor(t, config.DefaultMonitorConfig())
	ctx := context.Background()

	req := heartbeat("web-01", time.Now().UTC())
	req.Metrics.DiskPct = 140
	_, err := ingestor.Ingest(ctx, req)
	assert.ErrorIs(t, err, utils.ErrValidation)

	req = heartbeat("web-01", time.Time{})
	_, err = ingestor.Ingest(ctx, req)
	assert.ErrorIs(t, err, utils.ErrValidation)

	req = heartbeat("", time.Now().UTC())
	_, err = ingestor.Ingest(ctx, req)
	assert.ErrorIs(t, err, utils.ErrValidation)

	// Rejected heartbeats leave no state behind.
	servers, err := repo.ServerRepo.List()
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestIngestDeliversApprovedCommands(t *testing.T) {
	ingestor, repo, orch, _ := newTestIngestor(t, config.DefaultMonitorConfig())
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	resp, err := ingestor.Ingest(ctx, heartbeat("web-01", ts))
	require.NoError(t, err)

	action, err := orch.Create(ctx, remediation.CreateInput{
		ServerID:   resp.ServerID,
		ActionType: entity.ActionTypeRestartService,
		Target:     "nginx",
		Actor:      "ops",
	})
	require.NoError(t, err)
	_, err = orch.Approve(ctx, action.ID, "ops")
	require.NoError(t, err)

	resp, err = ingestor.Ingest(ctx, heartbeat("web-01", ts.Add(30*time.Second)))
	require.NoError(t, err)
	require.Len(t, resp.PendingCommands, 1)
	assert.Equal(t, action.ID, resp.PendingCommands[0].CommandID)

	executing, err := repo.ActionRepo.FindByID(action.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusExecuting, executing.Status)

	// Delivered exactly once.
	resp, err = ingestor.Ingest(ctx, heartbeat("web-01", ts.Add(60*time.Second)))
	require.NoError(t, err)
	assert.Empty(t, resp.PendingCommands)
}

func TestLatestMetricsReadsSnapshotBeforeDatabase(t *testing.T) {
	ingestor, repo, _, _ := newTestIngestor(t, config.DefaultMonitorConfig())
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	resp, err := ingestor.Ingest(ctx, heartbeat("web-01", ts))
	require.NoError(t, err)

	// Drop the raw row so only the cached snapshot can answer.
	raw, err := repo.MetricRepo.LatestRaw(resp.ServerID)
	require.NoError(t, err)
	_, err = repo.MetricRepo.DeleteRawByIDs([]uuid.UUID{raw.ID})
	require.NoError(t, err)

	latest, err := ingestor.LatestMetrics(ctx, resp.ServerID)
	require.NoError(t, err)
	assert.Equal(t, resp.ServerID, latest.ServerID)
	assert.Equal(t, 20.0, latest.CPUPct)
	assert.True(t, latest.Timestamp.Equal(ts))
}

func TestLatestMetricsFallsBackToDatabase(t *testing.T) {
	ingestor, _, _, cache := newTestIngestor(t, config.DefaultMonitorConfig())
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	cache.getErr = errors.New("redis unavailable")

	resp, err := ingestor.Ingest(ctx, heartbeat("web-01", ts))
	require.NoError(t, err)

	latest, err := ingestor.LatestMetrics(ctx, resp.ServerID)
	require.NoError(t, err)
	assert.Equal(t, 20.0, latest.CPUPct)

	_, err = ingestor.LatestMetrics(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestIngestOpensAlertFromBreachingHeartbeat(t *testing.T) {
	cfg := config.DefaultMonitorConfig()
	ingestor, repo, _, _ := newTestIngestor(t, cfg)
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Second)

	// Disk sustain is 1; a single breaching heartbeat opens the alert.
	req := heartbeat("web-01", ts)
	req.Metrics.DiskPct = 92
	resp, err := ingestor.Ingest(ctx, req)
	require.NoError(t, err)

	alert, err := repo.AlertRepo.FindActive(resp.ServerID, entity.AlertTypeDisk)
	require.NoError(t, err)
	assert.Equal(t, entity.AlertStatusOpen, alert.Status)
	assert.Equal(t, 92.0, alert.MetricValue)
}
