package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// cronLogger adapts arbor to cron's logging interface
type cronLogger struct {
	logger arbor.ILogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Str("details", fmt.Sprint(keysAndValues...)).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Str("details", fmt.Sprint(keysAndValues...)).Msg("cron: " + msg)
}

// RunScheduled runs a harvest on every tick of the standard cron expression
// until ctx is cancelled. A tick that fires while a harvest is still running
// is skipped.
func (a *App) RunScheduled(ctx context.Context, expr string) error {
	logger := cronLogger{logger: a.Logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	entryID, err := c.AddFunc(expr, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.RunOnce(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("Scheduled harvest failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	c.Start()
	a.Logger.Info().
		Str("schedule", expr).
		Str("next_run", c.Entry(entryID).Next.Format("2006-01-02 15:04:05")).
		Msg("Scheduler started")

	<-ctx.Done()

	// Wait for an in-flight harvest to observe cancellation
	<-c.Stop().Done()
	a.Logger.Info().Msg("Scheduler stopped")
	return nil
}
