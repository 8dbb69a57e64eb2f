package raffle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/raffle_engine/pkg/logger"
)

// DefaultUpkeepSchedule polls once a minute.
const DefaultUpkeepSchedule = "@every 1m"

// UpkeepScheduler polls CheckUpkeep on a cron schedule and calls PerformUpkeep
// when a draw is due.
type UpkeepScheduler struct {
	service  *Service
	log      *logger.Logger
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewUpkeepScheduler builds a scheduler for service. An empty schedule uses
// DefaultUpkeepSchedule.
func NewUpkeepScheduler(service *Service, schedule string, log *logger.Logger) *UpkeepScheduler {
	if log == nil {
		log = logger.NewDefault("raffle-upkeep")
	}
	if schedule == "" {
		schedule = DefaultUpkeepSchedule
	}
	return &UpkeepScheduler{
		service:  service,
		log:      log,
		schedule: schedule,
		timeout:  30 * time.Second,
	}
}

func (u *UpkeepScheduler) Name() string { return "raffle-upkeep" }

// Start registers the upkeep job and starts the cron runner.
func (u *UpkeepScheduler) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.running {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(u.schedule, u.Tick); err != nil {
		return err
	}
	u.ctx, u.cancel = context.WithCancel(ctx)
	u.cron = c
	u.running = true
	c.Start()

	u.log.WithField("schedule", u.schedule).Info("raffle upkeep scheduler started")
	return nil
}

// Stop halts the cron runner and waits for an in-flight tick.
func (u *UpkeepScheduler) Stop(ctx context.Context) error {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return nil
	}
	c, cancel := u.cron, u.cancel
	u.running = false
	u.cron, u.cancel = nil, nil
	u.mu.Unlock()

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	u.log.Info("raffle upkeep scheduler stopped")
	return nil
}

// Tick runs one CheckUpkeep/PerformUpkeep cycle.
func (u *UpkeepScheduler) Tick() {
	u.mu.Lock()
	base := u.ctx
	u.mu.Unlock()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithTimeout(base, u.timeout)
	defer cancel()

	needed, reason := u.service.CheckUpkeep(ctx)
	if !needed {
		u.log.WithField("reason", reason).Debug("raffle upkeep not needed")
		return
	}
	id, err := u.service.PerformUpkeep(ctx)
	if err != nil {
		// Another caller may have requested the draw between check and perform.
		if errors.Is(err, ErrInvalidState) {
			return
		}
		u.log.WithError(err).Warn("raffle upkeep failed")
		return
	}
	u.log.WithField("request_id", id).Info("raffle upkeep requested draw")
}
