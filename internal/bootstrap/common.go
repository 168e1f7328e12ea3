package bootstrap

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

type cleanup func(ctx context.Context) error

// signalContext returns a context cancelled by termination signals, so a
// running refresh stops between entities instead of being killed mid-write.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

// runCleanups runs the registered cleanup operations with a shared timeout.
// Refresh jobs are batch processes, so this runs on normal exit too, not
// only on signals.
func runCleanups(timeout time.Duration, ops map[string]cleanup) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for key, op := range ops {
		if err := op(ctx); err != nil {
			logrus.WithError(err).Errorf("%s: clean up failed", key)
			continue
		}
		logrus.Infof("%s closed", key)
	}
}
