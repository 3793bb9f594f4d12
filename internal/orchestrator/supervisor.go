package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dotcommander/cogsidecar/internal/models"
	"github.com/dotcommander/cogsidecar/internal/store"
	"github.com/dotcommander/cogsidecar/internal/window"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollIntervalSeconds      = 2
	defaultHeartbeatIntervalSeconds = 30
	defaultCompactorCheckSeconds    = 30
	defaultWindowPairs              = 5
	defaultRetrievalTTLSeconds      = 60
	shutdownTimeout                 = 5 * time.Second
)

type sessionEventPayload struct {
	Event string `json:"event"`
}

// worker is the shape every role handler (Retriever, Learner) exposes to the
// Supervisor's dispatch loop.
type worker interface {
	Handle(ctx context.Context, msg models.CognitiveMessage) error
}

// Supervisor owns one session's daemon lifecycle: startup registration,
// dispatch from the cognitive queue to the three workers, heartbeat, and
// graceful or crashed teardown. Exactly one Supervisor runs per session id.
type Supervisor struct {
	db  *sql.DB
	cfg Config

	retriever *Retriever
	learner   *Learner
	compactor *Compactor

	cron *cron.Cron

	stopOnce sync.Once
	stopErr  error
}

// NewSupervisor wires a Supervisor against the three role workers and
// applies Config defaults for any unset interval/budget field.
func NewSupervisor(db *sql.DB, cfg Config, agentFactory AgentFactory, tailDir string) (*Supervisor, error) {
	cfg = applyDefaults(cfg)

	win := window.New(cfg.WindowPairs)
	ttl := time.Duration(cfg.RetrievalTTLSeconds) * time.Second

	s := &Supervisor{
		db:  db,
		cfg: cfg,
	}

	if cfg.RetrieverEnabled {
		ag, err := agentFactory(RoleRetriever)
		if err != nil {
			return nil, fmt.Errorf("build retriever agent: %w", err)
		}
		s.retriever = NewRetriever(db, cfg, win, ag, ttl)
	}
	if cfg.LearnerEnabled {
		ag, err := agentFactory(RoleLearner)
		if err != nil {
			return nil, fmt.Errorf("build learner agent: %w", err)
		}
		s.learner = NewLearner(db, cfg, win, ag)
	}
	if cfg.CompactorEnabled {
		ag, err := agentFactory(RoleCompactor)
		if err != nil {
			return nil, fmt.Errorf("build compactor agent: %w", err)
		}
		s.compactor = NewCompactor(db, cfg, tailDir, ag)
	}

	return s, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if cfg.HeartbeatIntervalSeconds <= 0 {
		cfg.HeartbeatIntervalSeconds = defaultHeartbeatIntervalSeconds
	}
	if cfg.CompactorCheckIntervalSeconds <= 0 {
		cfg.CompactorCheckIntervalSeconds = defaultCompactorCheckSeconds
	}
	if cfg.WindowPairs <= 0 {
		cfg.WindowPairs = defaultWindowPairs
	}
	if cfg.RetrievalTTLSeconds <= 0 {
		cfg.RetrievalTTLSeconds = defaultRetrievalTTLSeconds
	}
	return cfg
}

// Run starts the daemon instance: registers the state row, fans out the
// enabled roles' InitSession calls, schedules the poll/heartbeat/compactor
// timers, and blocks until a shutdown signal or a fatal error. Returns nil on
// a clean shutdown; a non-nil error means the caller should treat this as a
// crash (exit code 1 per the CLI contract).
func (s *Supervisor) Run(ctx context.Context) (err error) {
	if _, err := store.UpsertStateStart(s.db, s.cfg.SessionID, os.Getpid(), s.cfg.RetrieverEnabled, s.cfg.LearnerEnabled, s.cfg.CompactorEnabled); err != nil {
		return fmt.Errorf("register orchestrator state: %w", err)
	}

	defer func() {
		if err != nil {
			if mErr := store.MarkCrashed(s.db, s.cfg.SessionID, err.Error()); mErr != nil {
				slog.Error("mark crashed failed", "session_id", s.cfg.SessionID, "error", mErr)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	var retrieverHandle, learnerHandle, compactorHandle string
	if s.retriever != nil {
		g.Go(func() error {
			handle, err := s.retriever.Init(gctx, retrieverSystemPrompt)
			if err != nil {
				return fmt.Errorf("init retriever: %w", err)
			}
			retrieverHandle = handle
			return nil
		})
	}
	if s.learner != nil {
		g.Go(func() error {
			handle, err := s.learner.Init(gctx, learnerSystemPrompt)
			if err != nil {
				return fmt.Errorf("init learner: %w", err)
			}
			learnerHandle = handle
			return nil
		})
	}
	if s.compactor != nil {
		g.Go(func() error {
			handle, err := s.compactor.Init(gctx, compactorSystemPrompt)
			if err != nil {
				return fmt.Errorf("init compactor: %w", err)
			}
			compactorHandle = handle
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("role startup: %w", err)
	}

	if err := store.UpdateStateRunning(s.db, s.cfg.SessionID, retrieverHandle, learnerHandle, compactorHandle); err != nil {
		return fmt.Errorf("transition to running: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.cron = cron.New(cron.WithSeconds())
	if _, err := s.cron.AddFunc(everySpec(s.cfg.PollIntervalSeconds), func() { s.poll(runCtx, cancel) }); err != nil {
		return fmt.Errorf("register poll job: %w", err)
	}
	if _, err := s.cron.AddFunc(everySpec(s.cfg.HeartbeatIntervalSeconds), func() { s.heartbeat() }); err != nil {
		return fmt.Errorf("register heartbeat job: %w", err)
	}
	if s.compactor != nil {
		if _, err := s.cron.AddFunc(everySpec(s.cfg.CompactorCheckIntervalSeconds), func() {
			if cErr := s.compactor.MaybeCompact(runCtx); cErr != nil {
				slog.Error("compactor tick failed", "session_id", s.cfg.SessionID, "error", cErr)
			}
		}); err != nil {
			return fmt.Errorf("register compactor job: %w", err)
		}
	}
	s.cron.Start()

	<-runCtx.Done()
	return s.shutdown()
}

func everySpec(seconds int) string {
	return fmt.Sprintf("@every %ds", seconds)
}

// poll first checks for an externally-requested stop, then claims a batch of
// pending cognitive messages and dispatches each to its role handler in
// order, per the prompt/tool-observation/session-event dispatch policy. A
// claimed session_end event also cancels runCtx to begin shutdown.
func (s *Supervisor) poll(ctx context.Context, cancel context.CancelFunc) {
	if s.stoppedExternally(cancel) {
		return
	}

	batch, err := store.ClaimPending(s.db, s.cfg.SessionID)
	if err != nil {
		slog.Error("claim pending failed", "session_id", s.cfg.SessionID, "error", err)
		return
	}

	for _, msg := range batch {
		s.dispatch(ctx, msg, cancel)
	}
}

// stoppedExternally reports whether an operator or reaper tool has set this
// session's orchestrator_state row to status='stopping' (spec.md §6's
// external shutdown contract) and, if so, cancels runCtx to begin teardown.
func (s *Supervisor) stoppedExternally(cancel context.CancelFunc) bool {
	state, err := store.LookupState(s.db, s.cfg.SessionID)
	if err != nil {
		slog.Error("lookup state failed", "session_id", s.cfg.SessionID, "error", err)
		return false
	}
	if state != nil && state.Status == models.OrchestratorStatusStopping {
		cancel()
		return true
	}
	return false
}

func (s *Supervisor) dispatch(ctx context.Context, msg models.CognitiveMessage, cancel context.CancelFunc) {
	switch msg.Kind {
	case models.MessageKindPrompt:
		var w worker
		if s.retriever != nil {
			w = s.retriever
		}
		s.runWorker(ctx, w, msg)
	case models.MessageKindToolObservation:
		var w worker
		if s.learner != nil {
			w = s.learner
		}
		s.runWorker(ctx, w, msg)
	case models.MessageKindSessionEvent:
		s.dispatchSessionEvent(ctx, msg, cancel)
	default:
		slog.Warn("unknown message kind", "session_id", s.cfg.SessionID, "kind", msg.Kind, "id", msg.ID)
		if err := store.MarkFailed(s.db, msg.ID, msg.Version); err != nil {
			slog.Error("mark failed (unknown kind) failed", "id", msg.ID, "error", err)
		}
	}
}

func (s *Supervisor) dispatchSessionEvent(ctx context.Context, msg models.CognitiveMessage, cancel context.CancelFunc) {
	var evt sessionEventPayload
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		slog.Error("malformed session event payload", "id", msg.ID, "error", err)
		_ = store.MarkFailed(s.db, msg.ID, msg.Version)
		return
	}

	switch evt.Event {
	case "session_end":
		if err := store.MarkCompleted(s.db, msg.ID, msg.Version); err != nil {
			slog.Error("mark completed (session_end) failed", "id", msg.ID, "error", err)
		}
		cancel()
	case "compactor_trigger":
		if s.compactor == nil {
			_ = store.MarkCompleted(s.db, msg.ID, msg.Version)
			return
		}
		if err := s.compactor.Handle(ctx, msg); err != nil {
			slog.Error("forced compaction failed", "id", msg.ID, "error", err)
			_ = store.MarkFailed(s.db, msg.ID, msg.Version)
			return
		}
		_ = store.MarkCompleted(s.db, msg.ID, msg.Version)
	default:
		slog.Warn("unknown session event", "id", msg.ID, "event", evt.Event)
		_ = store.MarkFailed(s.db, msg.ID, msg.Version)
	}
}

// runWorker dispatches msg to w (nil when the role is disabled, in which
// case the message fails fast) and applies the busy-skip vs
// release-to-pending policy based on whether w returns ErrWorkerBusy.
func (s *Supervisor) runWorker(ctx context.Context, w worker, msg models.CognitiveMessage) {
	if w == nil {
		if err := store.MarkFailed(s.db, msg.ID, msg.Version); err != nil {
			slog.Error("mark failed (role disabled) failed", "id", msg.ID, "error", err)
		}
		return
	}

	err := w.Handle(ctx, msg)
	switch {
	case err == nil:
		if cErr := store.MarkCompleted(s.db, msg.ID, msg.Version); cErr != nil {
			slog.Error("mark completed failed", "id", msg.ID, "error", cErr)
		}
	case errors.Is(err, ErrWorkerBusy):
		if rErr := store.ReleaseToPending(s.db, msg.ID, msg.Version); rErr != nil {
			slog.Error("release to pending failed", "id", msg.ID, "error", rErr)
		}
	default:
		slog.Error("worker handle failed", "id", msg.ID, "kind", msg.Kind, "error", err)
		if fErr := store.MarkFailed(s.db, msg.ID, msg.Version); fErr != nil {
			slog.Error("mark failed failed", "id", msg.ID, "error", fErr)
		}
	}
}

func (s *Supervisor) heartbeat() {
	if err := store.TouchHeartbeat(s.db, s.cfg.SessionID); err != nil {
		slog.Error("heartbeat failed", "session_id", s.cfg.SessionID, "error", err)
	}
}

// shutdown sweeps in-flight messages to failed, marks the state row stopped,
// and stops the cron scheduler, all bounded by shutdownTimeout.
func (s *Supervisor) shutdown() error {
	s.stopOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)

			if s.cron != nil {
				cronCtx := s.cron.Stop()
				<-cronCtx.Done()
			}

			if n, err := store.SweepInFlight(s.db, s.cfg.SessionID); err != nil {
				slog.Error("sweep in-flight failed", "session_id", s.cfg.SessionID, "error", err)
			} else if n > 0 {
				slog.Info("swept in-flight messages on shutdown", "session_id", s.cfg.SessionID, "count", n)
			}

			if err := store.MarkStopped(s.db, s.cfg.SessionID); err != nil {
				slog.Error("mark stopped failed", "session_id", s.cfg.SessionID, "error", err)
			}
		}()

		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			s.stopErr = fmt.Errorf("shutdown exceeded %s", shutdownTimeout)
		}
	})
	return s.stopErr
}
