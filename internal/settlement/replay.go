package settlement

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Settler performs the deduction and flags the session as paid.
type Settler interface {
	SubtractBalance(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal) error
	MarkSessionPaid(ctx context.Context, id uuid.UUID) error
}

// ReplayResult summarises one replay pass.
type ReplayResult struct {
	Settled int
	Failed  int
	// Unresolved counts pending entries whose outcome is unknown.
	Unresolved int
}

// Replay re-attempts failed deductions. Pending entries are reported but not
// charged again, since the deduction may already have been applied.
func (j *Journal) Replay(ctx context.Context, settler Settler) (ReplayResult, error) {
	var result ReplayResult

	pending, err := j.List(ctx, StatusPending)
	if err != nil {
		return result, err
	}
	for _, e := range pending {
		result.Unresolved++
		j.logger.Warn("settlement outcome unknown, operator reconciliation required",
			zap.Stringer("session_id", e.SessionID),
			zap.Stringer("customer_id", e.CustomerID),
			zap.String("amount", e.Amount.StringFixed(2)))
	}

	failed, err := j.List(ctx, StatusFailed)
	if err != nil {
		return result, err
	}
	for _, e := range failed {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if !e.Amount.IsPositive() {
			if err := j.MarkDone(ctx, e.SessionID); err != nil {
				return result, err
			}
			result.Settled++
			continue
		}

		if err := settler.SubtractBalance(ctx, e.CustomerID, e.Amount); err != nil {
			result.Failed++
			j.logger.Warn("settlement replay failed",
				zap.Stringer("session_id", e.SessionID),
				zap.Int("attempts", e.Attempts+1),
				zap.Error(err))
			if err := j.MarkFailed(ctx, e.SessionID, err); err != nil {
				return result, err
			}
			continue
		}

		if err := j.MarkDone(ctx, e.SessionID); err != nil {
			return result, err
		}
		result.Settled++

		if err := settler.MarkSessionPaid(ctx, e.SessionID); err != nil {
			j.logger.Warn("failed to mark replayed session paid",
				zap.Stringer("session_id", e.SessionID), zap.Error(err))
		}
	}

	return result, nil
}
