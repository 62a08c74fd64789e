package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dataengine/core/internal/domain"
)

// IntegrityChecker is the subset of Engine[T]'s surface the maintenance
// sweep needs, kept narrow so one Sweeper can watch several tables' engines
// without a type parameter of its own.
type IntegrityChecker interface {
	// VerifyAllIntegrity walks every (entityID, propertyName) triple this
	// table has an integrity log for and returns the ones that fail
	// verification.
	VerifyAllIntegrity(ctx context.Context) []IntegrityFailure
}

// IntegrityFailure names one triple whose hash chain failed to verify.
type IntegrityFailure struct {
	Table        string
	EntityID     string
	PropertyName string
	Err          error
}

// Sweeper runs a periodic integrity-verification pass over a set of
// registered engines, grounded on the teacher's cron.Cron-backed Scheduler:
// a single *cron.Cron driving named jobs, started/stopped explicitly.
type Sweeper struct {
	cron     *cron.Cron
	checkers []IntegrityChecker
	bus      domain.EventBus
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewSweeper creates a maintenance sweeper publishing EventIntegrityViolation
// to bus for every failure a sweep finds.
func NewSweeper(bus domain.EventBus, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cron: cron.New(), bus: bus, logger: logger}
}

// Watch registers checker to be swept on every run.
func (s *Sweeper) Watch(checker IntegrityChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, checker)
}

// Start schedules the sweep on expr (a standard five-field cron expression)
// and starts the underlying cron runner.
func (s *Sweeper) Start(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if _, err := s.cron.AddFunc(expr, s.runSweep); err != nil {
		return err
	}
	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts the cron runner and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// RunOnce performs a single sweep synchronously, bypassing the schedule.
func (s *Sweeper) RunOnce() []IntegrityFailure {
	return s.sweep(context.Background())
}

func (s *Sweeper) runSweep() {
	s.sweep(context.Background())
}

func (s *Sweeper) sweep(ctx context.Context) []IntegrityFailure {
	s.mu.Lock()
	checkers := make([]IntegrityChecker, len(s.checkers))
	copy(checkers, s.checkers)
	s.mu.Unlock()

	var failures []IntegrityFailure
	for _, c := range checkers {
		for _, f := range c.VerifyAllIntegrity(ctx) {
			failures = append(failures, f)
			s.logger.Warn("integrity verification failed",
				"table", f.Table, "entityId", f.EntityID, "propertyName", f.PropertyName, "error", f.Err)
			s.bus.Publish(ctx, domain.Event{
				Type:      domain.EventIntegrityViolation,
				Timestamp: time.Now(),
				Table:     f.Table,
				EntityID:  f.EntityID,
			})
		}
	}
	return failures
}
