package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"CoverLedger/internal/core"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/observability"

	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Engine is the part of the core the scheduled jobs touch.
type Engine interface {
	AuditInvariants() error
	Checkpoint() (core.Checkpoint, bool)
	View(fn func(s *core.System))
}

// CheckpointSaver persists a checkpoint. *persistence.CheckpointStore
// satisfies it.
type CheckpointSaver interface {
	Save(ctx context.Context, cp core.Checkpoint) error
}

// Scheduler runs the periodic invariant audit and checkpoint jobs.
type Scheduler struct {
	cron        *cron.Cron
	engine      Engine
	checkpoints CheckpointSaver
	metrics     *observability.Metrics
	log         zerolog.Logger
	ctx         context.Context

	mu       sync.Mutex
	lastSeq  int64
	lastFail error
}

// NewScheduler builds a scheduler whose jobs run under ctx. checkpoints may
// be nil, which disables the checkpoint job.
func NewScheduler(ctx context.Context, engine Engine, checkpoints CheckpointSaver, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		engine:      engine,
		checkpoints: checkpoints,
		metrics:     metrics,
		log:         observability.NewLogger("scheduler"),
		ctx:         ctx,
		lastSeq:     -1,
	}
}

// RegisterAll adds the audit and checkpoint jobs. An empty spec skips its job.
func (s *Scheduler) RegisterAll(auditSpec, checkpointSpec string) error {
	if auditSpec != "" {
		if _, err := s.cron.AddFunc(auditSpec, func() { _ = s.RunAudit() }); err != nil {
			return fmt.Errorf("register audit task: %w", err)
		}
	}
	if checkpointSpec != "" && s.checkpoints != nil {
		if _, err := s.cron.AddFunc(checkpointSpec, func() {
			if err := s.RunCheckpoint(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn().Err(err).Msg("scheduled checkpoint failed")
			}
		}); err != nil {
			return fmt.Errorf("register checkpoint task: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunAudit checks the global invariants once, logs a violation and
// refreshes the risk gauges.
func (s *Scheduler) RunAudit() error {
	err := s.engine.AuditInvariants()
	result := "ok"
	if err != nil {
		result = "violated"
		s.log.Error().Err(err).Msg("invariant audit failed")
	}
	if s.metrics != nil {
		s.metrics.InvariantAudits.WithLabelValues(result).Inc()
		s.sampleRisk()
	}

	s.mu.Lock()
	s.lastFail = err
	s.mu.Unlock()
	return err
}

func (s *Scheduler) sampleRisk() {
	s.engine.View(func(sys *core.System) {
		m := s.metrics
		m.UwpMaxCover.Set(whole(sys.Coverage.MaxCover()))
		if maxCover, err := sys.RiskManager.MaxCover(); err == nil {
			m.RiskMaxCover.Set(whole(maxCover))
		}
		m.RiskActiveCoverLimit.Set(whole(sys.RiskManager.ActiveCoverLimit()))
		m.RiskMinCapitalRequired.Set(whole(sys.RiskManager.MinCapitalRequirement()))
		m.ScpTotalSupply.Set(whole(sys.SCP.TotalSupply()))
	})
}

func whole(x *uint256.Int) float64 {
	return fpmath.ToDecimal(x, fpmath.WADDecimals).InexactFloat64()
}

// LastAudit returns the result of the most recent audit.
func (s *Scheduler) LastAudit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFail
}

// RunCheckpoint records the chain tip if it moved since the last save.
func (s *Scheduler) RunCheckpoint(ctx context.Context) error {
	cp, ok := s.engine.Checkpoint()
	if !ok {
		return nil
	}

	s.mu.Lock()
	unchanged := cp.Sequence == s.lastSeq
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.checkpoints.Save(saveCtx, cp); err != nil {
		return fmt.Errorf("save checkpoint %d: %w", cp.Sequence, err)
	}

	s.mu.Lock()
	s.lastSeq = cp.Sequence
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CheckpointTaken.Inc()
		s.metrics.CheckpointLastSeq.Set(float64(cp.Sequence))
	}
	s.log.Info().Int64("sequence", cp.Sequence).Hex("state_hash", cp.StateHash[:]).Msg("checkpoint saved")
	return nil
}
