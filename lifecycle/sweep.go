/*
sweep.go - Overdue payment sweep

PURPOSE:
  Batch process that scans contracts still pending payment past their
  deadline and drives each through the cancellation + penalty path:

    (pending_payment, pending|reported) -> (cancelled, overdue) + penalty

DEADLINE SEMANTICS:
  Date-only comparison in UTC with same-day grace: a contract is overdue
  once the deadline day has fully passed, i.e. deadline < asOf. On the
  deadline day itself the pharmacy can still pay.

IDEMPOTENCY:
  Safe under at-least-once invocation. The guard re-checks
  status = pending_payment per contract inside the transaction, so a
  contract swept by a previous (possibly partially crashed) run no longer
  matches and no second penalty is created.

FAILURE ISOLATION:
  A failing record is logged and skipped; the batch continues. Zero
  matching contracts is a normal, silent outcome.

SEE ALSO:
  - api/scheduler.go: Periodic trigger
  - engine.go: User-driven transitions the sweep races against
*/
package lifecycle

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// OverdueCancellationReason is recorded on every contract the sweep cancels.
const OverdueCancellationReason = "payment overdue: auto-cancelled"

// SweepResult identifies one contract the sweep cancelled.
type SweepResult struct {
	ContractID ContractID
	PharmacyID PharmacyID
}

// RunOverdueSweep cancels and penalizes every contract whose platform fee
// lapsed as of the given date. The asOf date is an explicit parameter rather
// than wall-clock time so runs are deterministic and testable. An error is
// returned only if the initial scan fails; per-contract failures are logged
// and skipped.
func (e *Engine) RunOverdueSweep(ctx context.Context, asOf Date) ([]SweepResult, error) {
	started := e.now()
	due, err := e.Store.ListContractsDue(ctx, asOf)
	if err != nil {
		e.recordSweepRun(ctx, SweepRun{
			ID:        uuid.NewString(),
			AsOf:      asOf,
			Error:     err.Error(),
			StartedAt: started,
		})
		return nil, err
	}

	results := make([]SweepResult, 0, len(due))
	for _, c := range due {
		if err := e.sweepContract(ctx, c.ID, asOf); err != nil {
			log.Printf("[Sweep] skipping contract %s: %v", c.ID, err)
			continue
		}
		results = append(results, SweepResult{ContractID: c.ID, PharmacyID: c.PharmacyID})
	}

	completed := e.now()
	e.recordSweepRun(ctx, SweepRun{
		ID:          uuid.NewString(),
		AsOf:        asOf,
		Matched:     len(due),
		Cancelled:   len(results),
		StartedAt:   started,
		CompletedAt: &completed,
	})

	if len(results) > 0 {
		log.Printf("[Sweep] cancelled %d of %d overdue contracts as of %s", len(results), len(due), asOf)
	}
	return results, nil
}

// sweepContract atomically cancels one contract, marks its payment overdue
// and imposes the penalty. The guard is re-checked inside the transaction;
// a contract that moved since the scan (paid, confirmed, already swept) is
// skipped with ErrConcurrentModification.
func (e *Engine) sweepContract(ctx context.Context, id ContractID, asOf Date) error {
	return e.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetContract(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{Entity: "contract", ID: string(id)}
		}
		if c.Status != ContractPendingPayment || !c.PaymentDeadline.Before(asOf) {
			return ErrConcurrentModification
		}

		now := e.now()
		c.Status = ContractCancelled
		c.CancellationReason = OverdueCancellationReason
		c.CancelledAt = &now
		if err := s.UpdateContract(ctx, *c, ContractPendingPayment); err != nil {
			return err
		}

		p, err := s.GetPaymentByContract(ctx, c.ID)
		if err != nil {
			return err
		}
		if p == nil {
			return &NotFoundError{Entity: "payment", ID: "for contract " + string(c.ID)}
		}
		// Both pending and reported payments lapse: a report that was never
		// confirmed does not stop the deadline.
		prev := p.Status
		if prev != PaymentPending && prev != PaymentReported {
			return ErrConcurrentModification
		}
		p.Status = PaymentOverdue
		if err := s.UpdatePayment(ctx, *p, prev); err != nil {
			return err
		}

		contractID := c.ID
		return s.SavePenalty(ctx, Penalty{
			ID:         PenaltyID(uuid.NewString()),
			PharmacyID: c.PharmacyID,
			ContractID: &contractID,
			Type:       PenaltyPaymentOverdue,
			Reason:     "platform fee unpaid past deadline " + c.PaymentDeadline.String(),
			Status:     PenaltyActive,
			ImposedAt:  now,
		})
	})
}

// recordSweepRun persists the run record for observability. Best-effort: a
// failure to record never fails the sweep itself.
func (e *Engine) recordSweepRun(ctx context.Context, run SweepRun) {
	if err := e.Store.SaveSweepRun(ctx, run); err != nil {
		log.Printf("[Sweep] failed to record run %s: %v", run.ID, err)
	}
}
