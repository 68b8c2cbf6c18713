package daemon

import (
	"context"
	"os"
	"os/signal"

	"cloudsync/internal/logging"
)

func (c *Controller) signalLoop(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, handledSignals...)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			c.handleSignal(sig)
		}
	}
}

func (c *Controller) handleSignal(sig os.Signal) {
	if isReloadSignal(sig) {
		c.logger.Info("reload signal received", logging.String("signal", sig.String()))
		c.RequestReload()
		return
	}
	c.logger.Info("shutdown signal received", logging.String("signal", sig.String()))
	c.RequestShutdown()
}
