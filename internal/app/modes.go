package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"docgate/pkg/logging"
)

// runServe runs the HTTP server, the snapshot watcher and the refresh scheduler
// until a signal arrives or one of them fails.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): Triggers graceful shutdown
//   - SIGTERM: Triggers graceful shutdown (systemd, containers)
func runServe(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	services.Scheduler.Start(ctx)
	defer services.Scheduler.Stop()

	if services.Config.Store.WatchEnabled() {
		g.Go(func() error {
			return services.Store.Watch(ctx)
		})
	}

	g.Go(func() error {
		return services.Server.Run(ctx, notifyReady)
	})

	err := g.Wait()
	notify(daemon.SdNotifyStopping)
	if err != nil {
		logging.Error("Serve", err, "docgate stopped with an error")
		return err
	}
	logging.Info("Serve", "docgate stopped")
	return nil
}

func notifyReady() {
	notify(daemon.SdNotifyReady)
}

// notify reports state to systemd. Outside a notify unit this is a no-op.
func notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Warn("Serve", "Failed to notify systemd (%s): %v", state, err)
		return
	}
	if sent {
		logging.Debug("Serve", "Notified systemd: %s", state)
	}
}
