package cashbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rapidroute/cashbox/internal/notification"
)

// RunReconciler reconciles once, then every interval until ctx is canceled. Cycle
// failures are logged and do not stop the loop.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %v", interval)
	}
	ctx = s.log.WithField(ctx, "job", "reconcile")
	s.reconcileCycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.reconcileCycle(ctx)
		}
	}
}

func (s *Service) reconcileCycle(ctx context.Context) {
	check, err := s.Reconcile(ctx)
	if err != nil {
		return
	}
	if check.OK() {
		ctx = s.log.WithFields(ctx, map[string]any{"accounts": check.Accounts, "entries": check.Entries})
		s.log.Info(ctx, "ledger reconciled")
		return
	}
	if s.alerts == nil {
		return
	}
	msg := notification.Message{
		Kind:        notification.KindLedgerMismatch,
		Destination: "finance",
		Body:        fmt.Sprintf("ledger reconciliation found %d mismatch(es)", len(check.Mismatches)),
		Details:     check.Mismatches,
		RaisedAt:    check.CheckedAt,
	}
	if err := s.alerts.Send(ctx, msg); err != nil {
		s.log.Error(ctx, "failed to send reconciliation alert", err)
	}
}
