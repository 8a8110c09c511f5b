/*
engine.go - The lifecycle state machine

PURPOSE:
  Implements every legal transition over the (Contract.Status,
  Payment.Status) pair:

    (none, -)                    CreateContract   -> (pending_approval, -)
    (pending_approval, -)        ApproveContract  -> (pending_payment, pending)
    (pending_approval, -)        RejectContract   -> (cancelled, -)
    (pending_payment, pending)   ReportPayment    -> (pending_payment, reported)
    (pending_payment, reported)  ConfirmPayment   -> (active, confirmed)
    (pending_payment, pending|reported) overdue sweep -> (cancelled, overdue) + penalty
    (active, confirmed)          CompleteContract -> (completed, confirmed)

GUARANTEES:
  - Every operation is all-or-nothing: it runs inside a single store
    transaction, and any guard failure leaves all entities untouched.
  - Guards are exact. A transition requested from any other state fails
    with InvalidStateError naming the current state. Duplicate requests
    are rejected rather than silently accepted.
  - The invoice emission on approval is best-effort and fully isolated;
    it cannot roll back or delay the approval (see invoice.go).

SEE ALSO:
  - sweep.go: Overdue batch path
  - penalty.go: Penalty resolution sub-machine
  - finance.go: Derived contract terms
*/
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine enacts lifecycle transitions. All writes go through Store inside
// WithTx; Invoices is the only non-store side effect and is optional.
type Engine struct {
	Store    TxStore
	Invoices InvoiceEmitter

	// InvoiceTimeout bounds a single emitter call. Zero means the default.
	InvoiceTimeout time.Duration

	// Now supplies timestamps for audit fields. Overridable in tests.
	Now func() time.Time

	wg sync.WaitGroup
}

// NewEngine creates an engine backed by the given store. The emitter may be
// nil, in which case approvals simply skip invoice emission.
func NewEngine(store TxStore, invoices InvoiceEmitter) *Engine {
	return &Engine{
		Store:    store,
		Invoices: invoices,
		Now:      time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// =============================================================================
// CREATE CONTRACT - Pharmacy offers an engagement from an application
// =============================================================================

// CreateContractInput carries the externally negotiated engagement terms.
// The start date comes out of the messaging/negotiation flow as an opaque
// agreed value; the engine does not second-guess it.
type CreateContractInput struct {
	ApplicationID   ApplicationID
	PharmacyID      PharmacyID
	InitialWorkDate Date
	WorkDays        int
	WorkHours       string // optional
	DailyWage       int64
}

// CreateContract creates a pending_approval contract for an application and
// marks the application offered. Fails with NotFound if the application does
// not exist and Conflict if a contract already exists for it, regardless of
// that contract's current status.
func (e *Engine) CreateContract(ctx context.Context, in CreateContractInput) (*Contract, error) {
	terms, err := DeriveTerms(in.DailyWage, in.WorkDays, in.InitialWorkDate)
	if err != nil {
		return nil, err
	}

	var created *Contract
	err = e.Store.WithTx(ctx, func(s Store) error {
		app, err := s.GetApplication(ctx, in.ApplicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return &NotFoundError{Entity: "application", ID: string(in.ApplicationID)}
		}

		existing, err := s.GetContractByApplication(ctx, in.ApplicationID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &ConflictError{Entity: "contract", Against: "application " + string(in.ApplicationID)}
		}

		posting, err := s.GetJobPosting(ctx, app.JobPostingID)
		if err != nil {
			return err
		}
		pharmacyID := in.PharmacyID
		if posting != nil && pharmacyID == "" {
			pharmacyID = posting.PharmacyID
		}

		now := e.now()
		c := Contract{
			ID:            ContractID(uuid.NewString()),
			ApplicationID: app.ID,
			PharmacyID:    pharmacyID,
			PharmacistID:  app.PharmacistID,
			JobPostingID:  app.JobPostingID,

			InitialWorkDate: in.InitialWorkDate,
			WorkDays:        in.WorkDays,
			WorkHours:       in.WorkHours,
			DailyWage:       in.DailyWage,

			TotalCompensation: terms.TotalCompensation,
			PlatformFee:       terms.PlatformFee,
			PaymentDeadline:   terms.PaymentDeadline,

			Status:    ContractPendingApproval,
			CreatedAt: now,
		}
		if err := s.SaveContract(ctx, c); err != nil {
			return err
		}

		prev := app.Status
		app.Status = ApplicationOffered
		app.OfferedAt = &now
		if err := s.UpdateApplication(ctx, *app, prev); err != nil {
			return err
		}

		created = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// =============================================================================
// APPROVE CONTRACT - Pharmacist accepts the offer
// =============================================================================

// ApproveContract moves a contract from pending_approval to pending_payment,
// marks the application accepted and creates the platform-fee Payment. Only
// the pharmacist named on the contract may approve. On success an invoice is
// dispatched best-effort.
func (e *Engine) ApproveContract(ctx context.Context, contractID ContractID, pharmacistID PharmacistID) (*Contract, error) {
	var (
		approved *Contract
		inv      InvoiceData
	)
	err := e.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{Entity: "contract", ID: string(contractID)}
		}
		if c.PharmacistID != pharmacistID {
			return &ForbiddenError{Entity: "contract", ID: string(contractID), Role: "pharmacist"}
		}
		if c.Status != ContractPendingApproval {
			return &InvalidStateError{
				Entity:   "contract",
				ID:       string(contractID),
				Current:  string(c.Status),
				Required: string(ContractPendingApproval),
			}
		}

		now := e.now()
		c.Status = ContractPendingPayment
		c.ApprovedAt = &now
		if err := s.UpdateContract(ctx, *c, ContractPendingApproval); err != nil {
			return err
		}

		app, err := s.GetApplication(ctx, c.ApplicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return &NotFoundError{Entity: "application", ID: string(c.ApplicationID)}
		}
		prev := app.Status
		app.Status = ApplicationAccepted
		app.RespondedAt = &now
		if err := s.UpdateApplication(ctx, *app, prev); err != nil {
			return err
		}

		p := Payment{
			ID:         PaymentID(uuid.NewString()),
			ContractID: c.ID,
			PharmacyID: c.PharmacyID,
			Amount:     c.PlatformFee,
			Status:     PaymentPending,
			CreatedAt:  now,
		}
		if err := s.SavePayment(ctx, p); err != nil {
			return err
		}

		inv, err = e.buildInvoice(ctx, s, *c)
		if err != nil {
			return err
		}
		approved = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	// After commit only: a rolled-back approval must never produce an invoice.
	e.dispatchInvoice(inv)
	return approved, nil
}

// buildInvoice assembles the billing artifact data from the contract and the
// directory records. Missing directory entries leave the name fields blank
// rather than failing the approval.
func (e *Engine) buildInvoice(ctx context.Context, s Store, c Contract) (InvoiceData, error) {
	issued := DateOf(e.now())
	inv := InvoiceData{
		InvoiceNumber:     InvoiceNumber(issued, c.ID),
		ContractID:        c.ID,
		IssuedOn:          issued,
		WorkDays:          c.WorkDays,
		InitialWorkDate:   c.InitialWorkDate,
		TotalCompensation: c.TotalCompensation,
		PlatformFee:       c.PlatformFee,
		PaymentDeadline:   c.PaymentDeadline,
	}

	if ph, err := s.GetPharmacy(ctx, c.PharmacyID); err == nil && ph != nil {
		inv.PharmacyName = ph.Name
		inv.PharmacyAddress = ph.Address
	}
	if pt, err := s.GetPharmacist(ctx, c.PharmacistID); err == nil && pt != nil {
		inv.PharmacistName = pt.Name
	}
	return inv, nil
}

// =============================================================================
// REJECT CONTRACT - Pharmacist declines the offer
// =============================================================================

// RejectContract cancels a pending_approval contract and marks the
// application rejected. Only the pharmacist named on the contract may reject.
func (e *Engine) RejectContract(ctx context.Context, contractID ContractID, pharmacistID PharmacistID) error {
	return e.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{Entity: "contract", ID: string(contractID)}
		}
		if c.PharmacistID != pharmacistID {
			return &ForbiddenError{Entity: "contract", ID: string(contractID), Role: "pharmacist"}
		}
		if c.Status != ContractPendingApproval {
			return &InvalidStateError{
				Entity:   "contract",
				ID:       string(contractID),
				Current:  string(c.Status),
				Required: string(ContractPendingApproval),
			}
		}

		now := e.now()
		c.Status = ContractCancelled
		c.CancellationReason = "pharmacist declined"
		c.CancelledAt = &now
		if err := s.UpdateContract(ctx, *c, ContractPendingApproval); err != nil {
			return err
		}

		app, err := s.GetApplication(ctx, c.ApplicationID)
		if err != nil {
			return err
		}
		if app == nil {
			return &NotFoundError{Entity: "application", ID: string(c.ApplicationID)}
		}
		prev := app.Status
		app.Status = ApplicationRejected
		app.RespondedAt = &now
		return s.UpdateApplication(ctx, *app, prev)
	})
}

// =============================================================================
// REPORT PAYMENT - Pharmacy self-reports the bank transfer
// =============================================================================

// ReportPaymentInput carries the self-reported transfer details.
type ReportPaymentInput struct {
	PaymentID    PaymentID
	PharmacyID   PharmacyID
	PaymentDate  Date
	TransferName string
	Note         string // optional
}

// ReportPayment records the pharmacy's self-reported transfer. The payment
// must be exactly pending: reporting twice is rejected.
func (e *Engine) ReportPayment(ctx context.Context, in ReportPaymentInput) (*Payment, error) {
	if in.PaymentDate.IsZero() {
		return nil, fmt.Errorf("%w: payment date is required", ErrInvalidInput)
	}
	if in.TransferName == "" {
		return nil, fmt.Errorf("%w: transfer name is required", ErrInvalidInput)
	}

	var reported *Payment
	err := e.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPayment(ctx, in.PaymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return &NotFoundError{Entity: "payment", ID: string(in.PaymentID)}
		}
		if p.PharmacyID != in.PharmacyID {
			return &ForbiddenError{Entity: "payment", ID: string(in.PaymentID), Role: "pharmacy"}
		}
		if p.Status != PaymentPending {
			return &InvalidStateError{
				Entity:   "payment",
				ID:       string(in.PaymentID),
				Current:  string(p.Status),
				Required: string(PaymentPending),
			}
		}

		now := e.now()
		date := in.PaymentDate
		p.Status = PaymentReported
		p.PaymentDate = &date
		p.TransferName = in.TransferName
		p.ConfirmationNote = in.Note
		p.ReportedAt = &now
		if err := s.UpdatePayment(ctx, *p, PaymentPending); err != nil {
			return err
		}
		reported = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reported, nil
}

// =============================================================================
// CONFIRM PAYMENT - Administrator confirms the reported transfer
// =============================================================================

// ConfirmPayment flips a reported payment to confirmed and its contract to
// active. Admin-only: role enforcement happens at the transport boundary,
// the engine enforces only the state guard ("payment not yet reported").
func (e *Engine) ConfirmPayment(ctx context.Context, paymentID PaymentID, note string) (*Payment, error) {
	var confirmed *Payment
	err := e.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p == nil {
			return &NotFoundError{Entity: "payment", ID: string(paymentID)}
		}
		if p.Status != PaymentReported {
			return &InvalidStateError{
				Entity:   "payment",
				ID:       string(paymentID),
				Current:  string(p.Status),
				Required: string(PaymentReported),
			}
		}

		c, err := s.GetContract(ctx, p.ContractID)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{Entity: "contract", ID: string(p.ContractID)}
		}
		if c.Status != ContractPendingPayment {
			return &InvalidStateError{
				Entity:   "contract",
				ID:       string(c.ID),
				Current:  string(c.Status),
				Required: string(ContractPendingPayment),
			}
		}

		now := e.now()
		p.Status = PaymentConfirmed
		if note != "" {
			p.ConfirmationNote = note
		}
		p.ConfirmedAt = &now
		if err := s.UpdatePayment(ctx, *p, PaymentReported); err != nil {
			return err
		}

		c.Status = ContractActive
		c.PaymentConfirmedAt = &now
		if err := s.UpdateContract(ctx, *c, ContractPendingPayment); err != nil {
			return err
		}
		confirmed = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// =============================================================================
// COMPLETE CONTRACT - Close out an engagement after the work period
// =============================================================================

// CompleteContract marks an active contract completed once its work period
// has fully elapsed (asOf on or after the day following the last work day).
func (e *Engine) CompleteContract(ctx context.Context, contractID ContractID, asOf Date) (*Contract, error) {
	var completed *Contract
	err := e.Store.WithTx(ctx, func(s Store) error {
		c, err := s.GetContract(ctx, contractID)
		if err != nil {
			return err
		}
		if c == nil {
			return &NotFoundError{Entity: "contract", ID: string(contractID)}
		}
		if c.Status != ContractActive {
			return &InvalidStateError{
				Entity:   "contract",
				ID:       string(contractID),
				Current:  string(c.Status),
				Required: string(ContractActive),
			}
		}
		if asOf.Before(c.WorkPeriodEnd()) {
			return fmt.Errorf("%w: work period runs through %s", ErrInvalidState, c.WorkPeriodEnd().AddDays(-1))
		}

		now := e.now()
		c.Status = ContractCompleted
		c.CompletedAt = &now
		if err := s.UpdateContract(ctx, *c, ContractActive); err != nil {
			return err
		}
		completed = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}
