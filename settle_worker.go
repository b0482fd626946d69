package ledger

import (
	"context"
	"time"
)

// settleWorker periodically settles every registered project.
func (l *Ledger) settleWorker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.settleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return

		case <-ticker.C:
			l.settleTick(ctx)
		}
	}
}

func (l *Ledger) settleTick(ctx context.Context) {
	start := time.Now()

	settled, err := l.SettleAll(ctx)
	if err != nil {
		l.logger.Error("background settlement failed",
			"error", err,
			"settled", len(settled),
		)
		return
	}

	if len(settled) > 0 {
		l.logger.Debug("background settlement",
			"settled", len(settled),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}
