package remediation

import (
	"context"
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
	"github.com/fleetpulse/fleet-control/utils"
)

type fakeNotifier struct {
	events []produce.NotificationEvent
}

func (f *fakeNotifier) Publish(_ context.Context, event produce.NotificationEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestOrchestrator(t *testing.T, cfg config.MonitorConfig) (*Orchestrator, *repository.Repository, *fakeNotifier, *time.Time) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, infra.AutoMigrate(db))
	repo := repository.New(db)

	notifier := &fakeNotifier{}
	orch := NewOrchestrator(repo, notifier, cfg, infra.NewStdoutLoggerClient())
	// Stale detection compares against updated_at, which the database stamps
	// with the real clock, so the fake clock starts at the real time.
	clock := time.Now().UTC()
	orch.now = func() time.Time { return clock }
	return orch, repo, notifier, &clock
}

func createTestServer(t *testing.T, repo *repository.Repository) *entity.Server {
	t.Helper()
	server := &entity.Server{
		ID:       uuid.New(),
		Hostname: "node-" + uuid.NewString()[:8],
		Status:   entity.ServerStatusOnline,
		LastSeen: time.Now(),
	}
	require.NoError(t, repo.ServerRepo.Create(server))
	return server
}

func TestCreateRejectsUnknownTypeAndServer(t *testing.T) {
	orch, repo, _, _ := newTestOrchestrator(t, config.DefaultMonitorConfig())
	server := createTestServer(t, repo)
	ctx := context.Background()

	_, err := orch.Create(ctx, CreateInput{ServerID: server.ID, ActionType: "rm_rf", Target: "nginx"})
	assert.ErrorIs(t, err, utils.ErrValidation)

	_, err = orch.Create(ctx, CreateInput{ServerID: server.ID, ActionType: entity.ActionTypeRestartService})
	assert.ErrorIs(t, err, utils.ErrValidation)

	_, err = orch.Create(ctx, CreateInput{ServerID: uuid.New(), ActionType: entity.ActionTypeRestartService, Target: "nginx"})
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestCreateConflictsOnLiveDuplicate(t *testing.T) {
	orch, repo, _, _ := newTestOrchestrator(t, config.DefaultMonitorConfig())
	server := createTestServer(t, repo)
	ctx := context.Background()

	in := CreateInput{ServerID: server.ID, ActionType: entity.ActionTypeRestartService, Target: "nginx", Actor: "ops"}
	first, err := orch.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusPending, first.Status)

	_, err = orch.Create(ctx, in)
	assert.ErrorIs(t, err, utils.ErrConflict)

	// A different target on the same server is fine.
	other := in
	other.Target = "postgres"
	_, err = orch.Create(ctx, other)
	require.NoError(t, err)

	// Once the first is terminal the same request is allowed again.
	_, err = orch.Reject(ctx, first.ID, "ops", "not needed")
	require.NoError(t, err)
	_, err = orch.Create(ctx, in)
	require.NoError(t, err)
}

func TestAutoApproveDispatchAndResult(t *testing.T) {
	cfg := config.DefaultMonitorConfig()
	cfg.AutoApproveActions = map[entity.ActionType]bool{entity.ActionTypeRestartService: true}
	orch, repo, notifier, _ := newTestOrchestrator(t, cfg)
	server := createTestServer(t, repo)
	ctx := context.Background()

	action, err := orch.Create(ctx, CreateInput{ServerID: server.ID, ActionType: entity.ActionTypeRestartService, Target: "nginx", Actor: "ops"})
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusApproved, action.Status)
	assert.True(t, action.AutoApproved)
	require.NotNil(t, action.ApprovedAt)

	commands, err := orch.DispatchPending(ctx, server.ID)
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, action.ID, commands[0].CommandID)
	assert.Equal(t, entity.ActionTypeRestartService, commands[0].ActionType)

	// Single delivery: the next poll returns nothing.
	commands, err = orch.DispatchPending(ctx, server.ID)
	require.NoError(t, err)
	assert.Empty(t, commands)

	done, err := orch.ReportResult(ctx, action.ID, true, "restarted", "")
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusCompleted, done.Status)
	assert.Equal(t, "restarted", done.Output)
	require.NotNil(t, done.FinishedAt)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, produce.EventActionCompleted, notifier.events[0].Kind)

	audits, err := repo.AuditRepo.ListByAction(action.ID)
	require.NoError(t, err)
	// created(auto-approved), dispatched, completed
	assert.Len(t, audits, 3)
}

func TestTransitionRules(t *testing.T) {
	orch, repo, notifier, _ := newTestOrchestrator(t, config.DefaultMonitorConfig())
	server := createTestServer(t, repo)
	ctx := context.Background()

	action, err := orch.Create(ctx, CreateInput{ServerID: server.ID, ActionType: entity.ActionTypeClearLogs, Target: "/var/log", Actor: "ops"})
	require.NoError(t, err)

	approved, err := orch.Approve(ctx, action.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusApproved, approved.Status)

	_, err = orch.Approve(ctx, action.ID, "ops")
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)
	_, err = orch.Reject(ctx, action.ID, "ops", "late")
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)

	// Cancel is allowed while still undelivered.
	cancelled, err := orch.Cancel(ctx, action.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusCancelled, cancelled.Status)

	// A cancelled action is never dispatched.
	commands, err := orch.DispatchPending(ctx, server.ID)
	require.NoError(t, err)
	assert.Empty(t, commands)

	// Executing actions cannot be cancelled; the remote command is running.
	second, err := orch.Create(ctx, CreateInput{ServerID: server.ID, ActionType: entity.ActionTypeApplyUpdates, Target: "system", Actor: "ops"})
	require.NoError(t, err)
	_, err = orch.Approve(ctx, second.ID, "ops")
	require.NoError(t, err)
	_, err = orch.DispatchPending(ctx, server.ID)
	require.NoError(t, err)
	_, err = orch.Cancel(ctx, second.ID, "ops")
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)

	_, err = orch.Approve(ctx, uuid.New(), "ops")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	// Rejection reaches the notify gateway.
	third, err := orch.Create(ctx, CreateInput{ServerID: server.ID, ActionType: entity.ActionTypeCustom, Target: "script", Actor: "ops"})
	require.NoError(t, err)
	rejected, err := orch.Reject(ctx, third.ID, "ops", "unreviewed script")
	require.NoError(t, err)
	assert.Equal(t, "unreviewed script", rejected.Reason)
	require.NotEmpty(t, notifier.events)
	assert.Equal(t, produce.EventActionRejected, notifier.events[len(notifier.events)-1].Kind)
}

func TestDuplicateResultIgnored(t *testing.T) {
	orch, repo, notifier, _ := newTestOrchestrator(t, config.DefaultMonitorConfig())
	server := createTestServer(t, repo)
	ctx := context.Background()

	action, err := orch.Create(ctx, CreateInput{ServerID: server.ID, ActionType: entity.ActionTypeRestartService, Target: "nginx", Actor: "ops"})
	require.NoError(t, err)

	// A result before dispatch is a protocol violation, not a duplicate.
	_, err = orch.ReportResult(ctx, action.ID, true, "", "")
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)

	_, err = orch.Approve(ctx, action.ID, "ops")
	require.NoError(t, err)
	_, err = orch.DispatchPending(ctx, server.ID)
	require.NoError(t, err)

	failed, err := orch.ReportResult(ctx, action.ID, false, "", "unit not found")
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusFailed, failed.Status)
	assert.Equal(t, "unit not found", failed.Error)

	// Agent retry of the same report: accepted and ignored.
	again, err := orch.ReportResult(ctx, action.ID, false, "", "unit not found")
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusFailed, again.Status)

	_, err = orch.ReportResult(ctx, uuid.New(), true, "", "")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	// Exactly one failure notification despite the retry.
	var failures int
	for _, ev := range notifier.events {
		if ev.Kind == produce.EventActionFailed {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestStaleActionsSurfaceAfterWindow(t *testing.T) {
	cfg := config.DefaultMonitorConfig()
	cfg.StaleActionWindow = 30 * time.Minute
	orch, repo, _, clock := newTestOrchestrator(t, cfg)
	server := createTestServer(t, repo)
	ctx := context.Background()

	action, err := orch.Create(ctx, CreateInput{ServerID: server.ID, ActionType: entity.ActionTypeRestartService, Target: "nginx", Actor: "ops"})
	require.NoError(t, err)
	_, err = orch.Approve(ctx, action.ID, "ops")
	require.NoError(t, err)
	_, err = orch.DispatchPending(ctx, server.ID)
	require.NoError(t, err)

	stale, err := orch.StaleActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)

	*clock = clock.Add(time.Hour)
	stale, err = orch.StaleActions(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, action.ID, stale[0].ID)
	assert.Equal(t, entity.ActionStatusExecuting, stale[0].Status)

	// Surfaced only; the action is not auto-failed.
	reloaded, err := repo.ActionRepo.FindByID(action.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionStatusExecuting, reloaded.Status)
}
