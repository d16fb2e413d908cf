package trigger

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/storelytics/aggregation-engine/internal/controller"
	"github.com/storelytics/aggregation-engine/internal/jobrun"
)

// Schedule binds a job kind to a cron expression and the rule that
// derives the period key from the firing time. Scheduled runs always
// target a closed period, never the one still in progress.
type Schedule struct {
	Kind      string
	Spec      string
	PeriodKey func(now time.Time) string
}

// Scheduler fires registered schedules through the runner. Each entry
// runs in its own goroutine under the cron library, and the per-identity
// lease in the runner keeps overlapping fires harmless.
type Scheduler struct {
	cron   *cron.Cron
	runner *controller.Runner
	logger *zap.Logger
}

func NewScheduler(runner *controller.Runner, loc *time.Location, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		runner: runner,
		logger: logger,
	}
}

// Add registers a schedule. Returns an error if the cron spec does not
// parse.
func (s *Scheduler) Add(sched Schedule) error {
	_, err := s.cron.AddFunc(sched.Spec, func() {
		periodKey := sched.PeriodKey(time.Now())
		logger := s.logger.With(
			zap.String("kind", sched.Kind),
			zap.String("period_key", periodKey),
		)
		logger.Info("scheduled trigger firing")

		result := s.runner.Run(context.Background(), controller.Request{
			Kind:        sched.Kind,
			PeriodKey:   periodKey,
			TriggeredBy: jobrun.TriggeredByScheduled,
		})

		switch result.Status {
		case controller.RunCompleted:
			logger.Info("scheduled run completed")
		case controller.RunSkipped:
			logger.Info("scheduled run skipped", zap.String("reason", result.Reason))
		default:
			logger.Error("scheduled run failed", zap.String("error", result.Err))
		}
	})
	return err
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
