package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fmueller/voxlate/internal/storage"
	"github.com/fmueller/voxlate/internal/trigger"
)

type serveOptions struct {
	listen       string
	retention    time.Duration
	forcePolling bool
	// ready is called once watchers and triggers are in place.
	ready func()
}

func newServeCmd(app *appState) *cobra.Command {
	opts := serveOptions{retention: 24 * time.Hour}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run every stage until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "Address for the push endpoint, e.g. 127.0.0.1:8080; empty disables it")
	cmd.Flags().DurationVar(&opts.retention, "retention", opts.retention, "Prune acknowledged bus traffic older than this; 0 keeps everything")
	cmd.Flags().BoolVar(&opts.forcePolling, "poll", false, "Watch buckets by polling instead of filesystem notifications")
	return cmd
}

type runner interface {
	Run(ctx context.Context) error
}

func (a *appState) serve(ctx context.Context, opts serveOptions) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another voxlate daemon is running (lock %s)", cfg.LockPath())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			a.log().Warn("failed to release daemon lock", zap.Error(err))
		}
	}()

	return a.withRuntime(ctx, func(rt *runtime) error {
		logger := a.log()
		watch := storage.WatchOptions{
			Settle:       cfg.TriggerSettle(),
			ForcePolling: opts.forcePolling,
			Logger:       logger.Named("watch"),
		}
		rawEvents, err := rt.store.Watch(ctx, cfg.Buckets.Raw, watch)
		if err != nil {
			return fmt.Errorf("watch %s: %w", cfg.Buckets.Raw, err)
		}
		normalizedEvents, err := rt.store.Watch(ctx, cfg.Buckets.Normalized, watch)
		if err != nil {
			return fmt.Errorf("watch %s: %w", cfg.Buckets.Normalized, err)
		}

		policy := trigger.Policy{MaxAttempts: cfg.Triggers.MaxAttempts, Backoff: cfg.TriggerBackoff()}
		normalizeTrigger := &trigger.StorageTrigger{Name: "normalize", Events: rawEvents, Handler: rt.normalize, Policy: policy, Logger: logger}
		probeTrigger := &trigger.StorageTrigger{Name: "probe", Events: normalizedEvents, Handler: rt.prober.Handle, Policy: policy, Logger: logger}
		translateTrigger := &trigger.BusTrigger{Name: "translate", Subscription: cfg.TranslationSubscription(), Bus: rt.bus, Handler: rt.worker.Handle, Logger: logger}
		writeTrigger := &trigger.BusTrigger{Name: "write", Subscription: cfg.ResultsSubscription(), Bus: rt.bus, Handler: rt.writer.Handle, Logger: logger}

		if opts.listen != "" {
			push := trigger.NewPushServer(opts.listen, logger.Named("push"))
			push.Bucket(cfg.Buckets.Raw, normalizeTrigger)
			push.Bucket(cfg.Buckets.Normalized, probeTrigger)
			push.Subscription(translateTrigger)
			push.Subscription(writeTrigger)
			if err := push.Start(ctx); err != nil {
				return err
			}
		}

		logger.Info("voxlate daemon started",
			zap.String("lock", cfg.LockPath()),
			zap.String("storage", cfg.Storage.Root),
			zap.String("bus", cfg.Bus.Path),
			zap.Strings("targets", cfg.Languages.Targets),
		)

		if opts.ready != nil {
			opts.ready()
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for _, r := range []runner{normalizeTrigger, probeTrigger, translateTrigger, writeTrigger} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.Run(ctx); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					cancel()
				}
			}()
		}
		if opts.retention > 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.pruneLoop(ctx, rt, opts.retention)
			}()
		}
		wg.Wait()

		logger.Info("voxlate daemon stopped")
		return errors.Join(errs...)
	})
}

func (a *appState) pruneLoop(ctx context.Context, rt *runtime, retention time.Duration) {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := rt.bus.Prune(ctx, now.Add(-retention))
			if err != nil {
				if ctx.Err() == nil {
					a.log().Warn("bus prune failed", zap.Error(err))
				}
				continue
			}
			if removed > 0 {
				a.log().Debug("bus pruned", zap.Int64("deliveries", removed))
			}
		}
	}
}
