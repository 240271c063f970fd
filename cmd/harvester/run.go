package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/forum-harvester/internal/app"
	"github.com/JakeFAU/forum-harvester/internal/forum"
)

func newRunCmd() *cobra.Command {
	var immediate bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run sync passes on worker.schedule until interrupted",
		Long: `run starts the ops HTTP server and the memory watchdog, then runs a
sync pass on every tick of worker.schedule. A tick that fires while the
previous pass is still running is skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return serve(ctx, a, immediate)
			})
		},
	}
	cmd.Flags().BoolVar(&immediate, "now", true, "run a pass immediately instead of waiting for the first tick")
	return cmd
}

func serve(ctx context.Context, a *app.App, immediate bool) error {
	cfg := a.Config()
	logger := a.Logger()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Guardian().Watch(ctx)
		return nil
	})
	if cfg.Server.Enabled {
		g.Go(func() error {
			return a.Server().ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
		})
	}
	g.Go(func() error {
		pass := func() {
			if _, err := a.Worker().RunOnce(ctx); err != nil {
				logPassError(logger, err)
			}
		}
		return schedule(ctx, cfg.Worker.Schedule, pass, immediate, logger)
	})
	return g.Wait()
}

// schedule runs pass on spec until ctx ends, then waits for a running pass.
func schedule(ctx context.Context, spec string, pass func(), immediate bool, logger *zap.Logger) error {
	cl := cronLogger{logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	id, err := c.AddFunc(spec, pass)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	logger.Info("scheduler started", zap.String("schedule", spec), zap.Time("next", c.Entry(id).Next))

	var first sync.WaitGroup
	if immediate {
		// Through the entry's wrapped job so the skip chain also covers it.
		first.Add(1)
		go func() {
			defer first.Done()
			c.Entry(id).WrappedJob.Run()
		}()
	}

	<-ctx.Done()
	logger.Info("scheduler stopping; waiting for the running pass")
	<-c.Stop().Done()
	first.Wait()
	return nil
}

func logPassError(logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("sync pass interrupted by shutdown")
	case errors.Is(err, forum.ErrSessionUnavailable):
		logger.Error("sync pass skipped: session is not authenticated", zap.Error(err))
	default:
		logger.Error("sync pass failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
