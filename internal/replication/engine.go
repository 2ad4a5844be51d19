package replication

//go:generate mockgen -source=engine.go -destination=mocks_test.go -package=replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scottteague/indentr/internal/database"
	"github.com/scottteague/indentr/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultProbeTimeout = 5 * time.Second
	defaultSafetyBuffer = 30 * time.Second
)

// Prober checks remote reachability under a deadline.
type Prober interface {
	TryConnect(ctx context.Context, timeout time.Duration) error
}

// SchemaMigrator brings the remote schema to the version this build expects.
type SchemaMigrator interface {
	MigrateTo(ctx context.Context) error
}

// RemoteClock reads the remote store's clock.
type RemoteClock interface {
	Now(ctx context.Context) (time.Time, error)
}

// Status is the outcome class of one sync cycle.
type Status string

const (
	StatusSuccess Status = "success"
	StatusOffline Status = "offline"
	StatusFailed  Status = "failed"
)

// Stage names the step a failed cycle stopped at.
type Stage string

const (
	StageNone      Stage = ""
	StageMigration Stage = "migration"
	StageWatermark Stage = "watermark"
	StagePush      Stage = "push"
	StageClock     Stage = "clock"
	StagePull      Stage = "pull"
)

// Result reports one sync cycle. Message is meant for a status line.
type Result struct {
	Status     Status    `json:"status"`
	Stage      Stage     `json:"stage,omitempty"`
	Message    string    `json:"message"`
	Push       PushStats `json:"push"`
	Pull       PullStats `json:"pull"`
	SyncedAt   time.Time `json:"synced_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Err returns a non-nil error when the cycle failed.
func (r Result) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	return fmt.Errorf("sync failed during %s: %s", r.Stage, r.Message)
}

// EngineConfig describes the dependencies of an Engine. Remote may be nil,
// in which case every cycle reports StatusOffline. Prober, Migrator and
// RemoteClock default to implementations bound to Remote.
type EngineConfig struct {
	Local        *gorm.DB
	Remote       *gorm.DB
	Prober       Prober
	Migrator     SchemaMigrator
	RemoteClock  RemoteClock
	Watermarks   WatermarkStore
	Blobs        store.BlobStore
	IDProvider   store.IDProvider
	Clock        func() time.Time
	ProbeTimeout time.Duration
	SafetyBuffer time.Duration
	Logger       *zap.Logger
}

// Engine runs sync cycles between the local store and an optional remote store.
type Engine struct {
	local        *gorm.DB
	remote       *gorm.DB
	prober       Prober
	migrator     SchemaMigrator
	remoteClock  RemoteClock
	watermarks   WatermarkStore
	pusher       *Pusher
	puller       *Puller
	clock        func() time.Time
	probeTimeout time.Duration
	logger       *zap.Logger
}

// NewEngine validates cfg and wires the push and pull engines.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Local == nil {
		return nil, newSyncError(opEngineNew, "missing_database", errMissingLocalDatabase)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	safetyBuffer := cfg.SafetyBuffer
	if safetyBuffer <= 0 {
		safetyBuffer = defaultSafetyBuffer
	}
	blobs := cfg.Blobs
	if blobs == nil {
		blobs = store.NewBlobStore()
	}
	watermarks := cfg.Watermarks
	if watermarks == nil {
		watermarks = NewWatermarkStore(cfg.Local)
	}

	engine := &Engine{
		local:        cfg.Local,
		remote:       cfg.Remote,
		prober:       cfg.Prober,
		migrator:     cfg.Migrator,
		remoteClock:  cfg.RemoteClock,
		watermarks:   watermarks,
		clock:        clock,
		probeTimeout: probeTimeout,
		logger:       logger,
	}

	if cfg.Remote == nil {
		return engine, nil
	}

	if engine.prober == nil {
		engine.prober = database.NewProbe(cfg.Remote)
	}
	if engine.migrator == nil {
		engine.migrator = database.NewMigrator(cfg.Remote, logger)
	}
	if engine.remoteClock == nil {
		remoteClock, err := database.NewClock(cfg.Remote)
		if err != nil {
			return nil, newSyncError(opEngineNew, "remote_clock", err)
		}
		engine.remoteClock = remoteClock
	}
	engine.pusher = NewPusher(cfg.Local, cfg.Remote, blobs, logger)
	engine.puller = NewPuller(PullerConfig{
		Local:        cfg.Local,
		Remote:       cfg.Remote,
		Blobs:        blobs,
		IDProvider:   cfg.IDProvider,
		Clock:        clock,
		SafetyBuffer: safetyBuffer,
		Logger:       logger,
	})
	return engine, nil
}

// RemoteConfigured reports whether the engine has a remote store.
func (e *Engine) RemoteConfigured() bool {
	return e.remote != nil
}

// LastSyncedAt returns the watermark, or the zero time when never synced.
func (e *Engine) LastSyncedAt(ctx context.Context) (time.Time, error) {
	watermark, err := e.watermarks.Load(ctx)
	if err != nil {
		logError(e.logger, opWatermark, "load_failed", err)
		return time.Time{}, newSyncError(opWatermark, "load_failed", err)
	}
	return watermark, nil
}

// SyncOnce runs one cycle: probe, schema gate, push, remote clock capture,
// pull, watermark advance. It never returns an error; the outcome is in Result.
// Callers must not run two cycles concurrently against the same local store.
func (e *Engine) SyncOnce(ctx context.Context) Result {
	result := Result{StartedAt: e.clock().UTC()}
	finish := func(status Status, stage Stage, message string) Result {
		result.Status = status
		result.Stage = stage
		result.Message = message
		result.FinishedAt = e.clock().UTC()
		e.logResult(result)
		return result
	}

	if e.remote == nil {
		return finish(StatusOffline, StageNone, "no remote store configured")
	}

	if err := e.prober.TryConnect(ctx, e.probeTimeout); err != nil {
		e.logger.Info("remote store unreachable", zap.Error(err))
		return finish(StatusOffline, StageNone, "remote store unreachable")
	}

	if err := e.migrator.MigrateTo(ctx); err != nil {
		logError(e.logger, opSyncOnce, "migration_failed", err)
		return finish(StatusFailed, StageMigration, fmt.Sprintf("remote schema migration failed: %v", err))
	}

	previous, err := e.watermarks.Load(ctx)
	if err != nil {
		logError(e.logger, opSyncOnce, "watermark_load_failed", err)
		return finish(StatusFailed, StageWatermark, fmt.Sprintf("loading last sync time failed: %v", err))
	}

	pushStats, err := e.pusher.Push(ctx)
	result.Push = pushStats
	if err != nil {
		var conflict *IdentityConflictError
		if errors.As(err, &conflict) {
			return finish(StatusFailed, StagePush, conflict.Error())
		}
		return finish(StatusFailed, StagePush, fmt.Sprintf("push failed: %v", err))
	}

	remoteNow, err := e.remoteClock.Now(ctx)
	if err != nil {
		logError(e.logger, opSyncOnce, "remote_clock_failed", err)
		return finish(StatusFailed, StageClock, fmt.Sprintf("reading remote clock failed: %v", err))
	}

	pullStats, err := e.puller.Pull(ctx, previous)
	result.Pull = pullStats
	if err != nil {
		var conflict *IdentityConflictError
		if errors.As(err, &conflict) {
			return finish(StatusFailed, StagePull, conflict.Error())
		}
		return finish(StatusFailed, StagePull, fmt.Sprintf("pull failed: %v", err))
	}

	if err := e.watermarks.Advance(ctx, previous, remoteNow); err != nil {
		// The pull is idempotent, so the next cycle re-pulls from the old watermark.
		if isWatermarkMoved(err) {
			e.logger.Warn("watermark advanced by another writer", zap.Time("previous", previous))
		} else {
			logError(e.logger, opWatermark, "persist_failed", err)
		}
	} else {
		result.SyncedAt = remoteNow
	}

	return finish(StatusSuccess, StageNone, "synced")
}

func (e *Engine) logResult(result Result) {
	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
		zap.Int("pushed", result.Push.Upserted+result.Push.Deleted),
		zap.Int("pulled", result.Pull.Inserted+result.Pull.Updated),
		zap.Int("conflicts", result.Pull.Conflicts),
		zap.Int("deleted_locally", result.Pull.Deleted),
	}
	if result.Stage != StageNone {
		fields = append(fields, zap.String("stage", string(result.Stage)))
	}
	switch result.Status {
	case StatusFailed:
		e.logger.Error("sync cycle failed", append(fields, zap.String("message", result.Message))...)
	default:
		e.logger.Info("sync cycle finished", fields...)
	}
}
