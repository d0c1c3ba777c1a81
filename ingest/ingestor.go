package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fleetpulse/fleet-control/alerting"
	"github.com/fleetpulse/fleet-control/entity"
	"github.com/fleetpulse/fleet-control/infra"
	"github.com/fleetpulse/fleet-control/remediation"
	"github.com/fleetpulse/fleet-control/repository"
	"github.com/fleetpulse/fleet-control/utils"
)

// snapshotTTL keeps the latest heartbeat per server in Redis long enough for
// the dashboard to read it without a database round trip.
const snapshotTTL = 5 * time.Minute

// SnapshotCache is satisfied by infra.RedisClient.
type SnapshotCache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}

type HeartbeatRequest struct {
	ServerID     uuid.UUID        `json:"server_id"`
	Hostname     string           `json:"hostname"`
	AgentVersion string           `json:"agent_version"`
	IP           string           `json:"ip"`
	Timestamp    time.Time        `json:"timestamp"`
	Metrics      HeartbeatMetrics `json:"metrics"`
	Services     []ServiceReport  `json:"services"`
}

type HeartbeatMetrics struct {
	CPUPct     float64 `json:"cpu_pct"`
	MemoryPct  float64 `json:"memory_pct"`
	DiskPct    float64 `json:"disk_pct"`
	NetRxBytes int64   `json:"net_rx_bytes"`
	NetTxBytes int64   `json:"net_tx_bytes"`
	Load1      float64 `json:"load_1"`
	Load5      float64 `json:"load_5"`
	Load15     float64 `json:"load_15"`
	UptimeSec  int64   `json:"uptime_sec"`
}

type ServiceReport struct {
	Name  string              `json:"name"`
	State entity.ServiceState `json:"state"`
}

type HeartbeatResponse struct {
	Accepted        bool                  `json:"accepted"`
	ServerID        uuid.UUID             `json:"server_id"`
	PendingCommands []remediation.Command `json:"pending_commands"`
}

// HeartbeatIngestor is the sole writer of raw metrics. It persists each
// heartbeat, hands the sample to the evaluator and returns the commands the
// orchestrator dispatched for this server.
type HeartbeatIngestor struct {
	repo      *repository.Repository
	evaluator *alerting.Evaluator
	orch      *remediation.Orchestrator
	cache     SnapshotCache
	log       *infra.LoggerClient
}

func NewHeartbeatIngestor(repo *repository.Repository, evaluator *alerting.Evaluator, orch *remediation.Orchestrator, cache SnapshotCache, logger *infra.LoggerClient) *HeartbeatIngestor {
	return &HeartbeatIngestor{
		repo:      repo,
		evaluator: evaluator,
		orch:      orch,
		cache:     cache,
		log:       logger,
	}
}

func (i *HeartbeatIngestor) Ingest(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	server, err := i.resolveServer(req)
	if err != nil {
		return nil, err
	}

	if err := i.repo.ServerRepo.TouchSeen(server.ID, req.Timestamp, req.AgentVersion, req.IP); err != nil {
		return nil, fmt.Errorf("update server last_seen: %w", err)
	}

	raw := &entity.RawMetric{
		ID:         uuid.New(),
		ServerID:   server.ID,
		Timestamp:  req.Timestamp.UTC(),
		CPUPct:     req.Metrics.CPUPct,
		MemoryPct:  req.Metrics.MemoryPct,
		DiskPct:    req.Metrics.DiskPct,
		NetRxBytes: req.Metrics.NetRxBytes,
		NetTxBytes: req.Metrics.NetTxBytes,
		Load1:      req.Metrics.Load1,
		Load5:      req.Metrics.Load5,
		Load15:     req.Metrics.Load15,
		UptimeSec:  req.Metrics.UptimeSec,
	}
	if err := i.repo.MetricRepo.InsertRaw(raw); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Replayed heartbeat with a timestamp already recorded. The row
			// is immutable, so accept without evaluating or dispatching again.
			i.log.InfoWithContextf(ctx, "duplicate heartbeat ignored: server=%s ts=%s", server.ID, req.Timestamp)
			return &HeartbeatResponse{Accepted: true, ServerID: server.ID}, nil
		}
		return nil, fmt.Errorf("insert raw metric: %w", err)
	}

	statuses := make([]entity.ServiceStatus, 0, len(req.Services))
	for _, svc := range req.Services {
		statuses = append(statuses, entity.ServiceStatus{
			ID:       uuid.New(),
			ServerID: server.ID,
			Name:     svc.Name,
			State:    svc.State,
		})
	}
	if err := i.repo.ServerRepo.ReplaceServiceStatuses(server.ID, statuses); err != nil {
		return nil, fmt.Errorf("replace service statuses: %w", err)
	}

	if err := i.cache.Set(ctx, snapshotKey(server.ID), raw, snapshotTTL); err != nil {
		i.log.WarningWithContextf(ctx, "cache heartbeat snapshot: server=%s err=%v", server.ID, err)
	}

	sample := alerting.MetricSample{
		CPUPct:    req.Metrics.CPUPct,
		MemoryPct: req.Metrics.MemoryPct,
		DiskPct:   req.Metrics.DiskPct,
	}
	if _, err := i.evaluator.Evaluate(ctx, server.ID, sample); err != nil {
		// The heartbeat is already durable; alerting failure must not reject it.
		i.log.ErrorWithContextf(ctx, err, "threshold evaluation failed: server=%s", server.ID)
	}

	commands, err := i.orch.DispatchPending(ctx, server.ID)
	if err != nil {
		i.log.ErrorWithContextf(ctx, err, "dispatch pending actions failed: server=%s", server.ID)
		commands = nil
	}

	return &HeartbeatResponse{Accepted: true, ServerID: server.ID, PendingCommands: commands}, nil
}

// resolveServer finds the reporting server, registering it on first contact.
// An unknown server_id registers under the agent-supplied id; the hostname is
// never used as a lookup key when empty, so two agents can never collapse
// into one row.
func (i *HeartbeatIngestor) resolveServer(req HeartbeatRequest) (*entity.Server, error) {
	if req.ServerID != uuid.Nil {
		server, err := i.repo.ServerRepo.FindByID(req.ServerID)
		if err == nil {
			return server, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("find server: %w", err)
		}
		return i.registerServer(req.ServerID, req)
	}

	server, err := i.repo.ServerRepo.FindByHostname(req.Hostname)
	if err == nil {
		return server, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find server by hostname: %w", err)
	}
	return i.registerServer(uuid.New(), req)
}

func (i *HeartbeatIngestor) registerServer(id uuid.UUID, req HeartbeatRequest) (*entity.Server, error) {
	hostname := req.Hostname
	if hostname == "" {
		// Agents that only report an id stay distinct under the unique
		// hostname index.
		hostname = id.String()
	}

	server := &entity.Server{
		ID:           id,
		Hostname:     hostname,
		Status:       entity.ServerStatusOnline,
		LastSeen:     req.Timestamp,
		AgentVersion: req.AgentVersion,
		IP:           req.IP,
	}
	if err := i.repo.ServerRepo.Create(server); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Two first heartbeats raced on the id or the hostname; the
			// other one won.
			if existing, ferr := i.repo.ServerRepo.FindByID(id); ferr == nil {
				return existing, nil
			}
			return i.repo.ServerRepo.FindByHostname(hostname)
		}
		return nil, fmt.Errorf("register server: %w", err)
	}
	return server, nil
}

func validate(req HeartbeatRequest) error {
	if req.Hostname == "" && req.ServerID == uuid.Nil {
		return fmt.Errorf("%w: hostname or server_id required", utils.ErrValidation)
	}
	if req.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp required", utils.ErrValidation)
	}
	for _, pct := range []struct {
		name  string
		value float64
	}{
		{"cpu_pct", req.Metrics.CPUPct},
		{"memory_pct", req.Metrics.MemoryPct},
		{"disk_pct", req.Metrics.DiskPct},
	} {
		if pct.value < 0 || pct.value > 100 {
			return fmt.Errorf("%w: %s out of range: %v", utils.ErrValidation, pct.name, pct.value)
		}
	}
	for _, svc := range req.Services {
		if svc.Name == "" {
			return fmt.Errorf("%w: service name required", utils.ErrValidation)
		}
		switch svc.State {
		case entity.ServiceStateRunning, entity.ServiceStateStopped, entity.ServiceStateFailed, entity.ServiceStateUnknown:
		default:
			return fmt.Errorf("%w: unknown service state: %s", utils.ErrValidation, svc.State)
		}
	}
	return nil
}

// LatestMetrics returns the most recent sample for a server, served from the
// Redis snapshot when it is still warm and from postgres otherwise.
func (i *HeartbeatIngestor) LatestMetrics(ctx context.Context, serverID uuid.UUID) (*entity.RawMetric, error) {
	var raw entity.RawMetric
	if err := i.cache.Get(ctx, snapshotKey(serverID), &raw); err == nil {
		return &raw, nil
	}
	return i.repo.MetricRepo.LatestRaw(serverID)
}

func snapshotKey(serverID uuid.UUID) string {
	return "fleet:heartbeat:" + serverID.String()
}
