package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantara/perpbot/internal/domain"
	"github.com/quantara/perpbot/internal/observability"
	"github.com/quantara/perpbot/internal/server"
	"github.com/quantara/perpbot/internal/server/handler"
	"github.com/quantara/perpbot/internal/server/ws"
)

// instanceLockKey guards against two engine instances mutating the same
// persisted state.
const instanceLockKey = "perpbot:instance"

// runLoops takes the instance lock, recovers persisted state, and runs every
// periodic loop until the context is cancelled.
func (a *App) runLoops(ctx context.Context, deps *Dependencies) error {
	lockTTL := time.Duration(a.cfg.Redis.InstanceLockTTLSec) * time.Second
	release, err := deps.Locks.Hold(ctx, instanceLockKey, lockTTL)
	if err != nil {
		return fmt.Errorf("app: instance lock: %w", err)
	}
	defer release()

	// Seed the drawdown guard from persisted equity history so limits hold
	// across restarts.
	historyWindow := time.Duration(a.cfg.Drawdown.HistoryDays) * 24 * time.Hour
	points, err := deps.Equities.ListSince(ctx, time.Now().UTC().Add(-historyWindow), 0)
	if err != nil {
		a.logger.WarnContext(ctx, "equity history unavailable, drawdown guard starts cold",
			slog.Any("error", err))
	} else {
		deps.Drawdown.Seed(points)
	}

	// Rehydrate open trades before the first tick.
	recovered, err := deps.Manager.Recover(ctx)
	if err != nil {
		return fmt.Errorf("app: recover trades: %w", err)
	}
	a.logger.InfoContext(ctx, "recovery complete", slog.Int("open_trades", recovered))

	a.wireNotifications(ctx, deps)

	g, ctx := errgroup.WithContext(ctx)

	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
		a.startServer(ctx, g, deps, hub)
	}

	// Decision loop. The interval stretches while parked so the engine keeps
	// a heartbeat without consulting the oracle at full cadence.
	g.Go(func() error {
		for {
			interval := a.cfg.OracleInterval(deps.Engine.Parked())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
				deps.Engine.RunCycle(ctx)
			}
		}
	})

	// Lifecycle tick loop: stops, targets, timers, partials, trailing.
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(a.cfg.Lifecycle.TickIntervalSec) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				deps.Manager.Tick(ctx)
			}
		}
	})

	// Guard loop: equity sampling, drawdown verdicts, outage flatten.
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(a.cfg.Drawdown.CheckIntervalSec) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				deps.Engine.GuardTick(ctx)
			}
		}
	})

	// Snapshot exporter: cache, metrics gauges, and WebSocket fan-out.
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(a.cfg.Lifecycle.SnapshotIntervalSec) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				snap := deps.Engine.Snapshot()
				observability.UpdateFromSnapshot(snap)
				if err := deps.SnapshotCache.Set(ctx, snap); err != nil && ctx.Err() == nil {
					a.logger.WarnContext(ctx, "snapshot cache write failed", slog.Any("error", err))
				}
				if hub != nil {
					hub.Broadcast(snap)
				}
			}
		}
	})

	// Archive loop.
	if deps.Archiver != nil {
		g.Go(func() error {
			interval := time.Duration(a.cfg.Archive.IntervalHours) * time.Hour
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
					if n, err := deps.Archiver.ArchiveTrades(ctx, cutoff); err != nil {
						a.logger.ErrorContext(ctx, "trade archival failed", slog.Any("error", err))
					} else if n > 0 {
						a.logger.InfoContext(ctx, "trades archived", slog.Int64("count", n))
					}
					if n, err := deps.Archiver.ArchiveEvents(ctx, cutoff); err != nil {
						a.logger.ErrorContext(ctx, "event archival failed", slog.Any("error", err))
					} else if n > 0 {
						a.logger.InfoContext(ctx, "events archived", slog.Int64("count", n))
					}
				}
			}
		})
	}

	return g.Wait()
}

// wireNotifications forwards health transitions and guard alerts to the
// operator channels. The callbacks run under their owners' locks, so delivery
// happens on a detached goroutine.
func (a *App) wireNotifications(ctx context.Context, deps *Dependencies) {
	deliver := func(event, title, msg string) {
		go func() {
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			if err := deps.Notifier.Notify(nctx, event, title, msg); err != nil {
				a.logger.Warn("notification failed",
					slog.String("event", event),
					slog.Any("error", err))
			}
		}()
	}

	deps.Health.OnTransition(func(from, to domain.HealthStatus, reason string) {
		title := fmt.Sprintf("Health: %s -> %s", from, to)
		msg := fmt.Sprintf("Upstream health changed from %s to %s (%s).", from, to, reason)
		deliver("health_transition", title, msg)
	})

	deps.Engine.OnAlert(deliver)
}

// startServer adds the HTTP server goroutines to the errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	startedAt := time.Now().UTC()

	srv := server.NewServer(server.Config{Port: a.cfg.Server.Port}, server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, startedAt, a.logger),
		Status: handler.NewStatusHandler(deps.SnapshotCache, deps.Engine.Snapshot, a.logger),
		Trades: handler.NewTradeHandler(deps.Settled, deps.Events, a.logger),
		Equity: handler.NewEquityHandler(deps.Equities, a.logger),
	}, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
