package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmabridge/engagement-engine/lifecycle"
	"github.com/pharmabridge/engagement-engine/lifecycle/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*lifecycle.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := lifecycle.NewEngine(mem, nil)
	engine.Now = func() time.Time {
		return time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)
	}
	return engine, mem
}

// seedApplication inserts the directory records and an applied application.
func seedApplication(t *testing.T, s lifecycle.Store, appID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SavePharmacy(ctx, lifecycle.Pharmacy{
		ID: "ph-1", Name: "Sakura Pharmacy", Address: "1-2-3 Ginza, Tokyo",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.SavePharmacist(ctx, lifecycle.Pharmacist{
		ID: "pt-1", Name: "Aoi Tanaka", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.SaveJobPosting(ctx, lifecycle.JobPosting{
		ID: "jp-1", PharmacyID: "ph-1", Title: "Weekend pharmacist",
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.SaveApplication(ctx, lifecycle.Application{
		ID:           lifecycle.ApplicationID(appID),
		JobPostingID: "jp-1",
		PharmacistID: "pt-1",
		Status:       lifecycle.ApplicationApplied,
		AppliedAt:    time.Now().UTC(),
	}))
}

func createTestContract(t *testing.T, engine *lifecycle.Engine, appID string) *lifecycle.Contract {
	t.Helper()
	c, err := engine.CreateContract(context.Background(), lifecycle.CreateContractInput{
		ApplicationID:   lifecycle.ApplicationID(appID),
		PharmacyID:      "ph-1",
		InitialWorkDate: lifecycle.NewDate(2025, time.April, 10),
		WorkDays:        30,
		WorkHours:       "9:00-18:00",
		DailyWage:       25000,
	})
	require.NoError(t, err)
	return c
}

// =============================================================================
// CREATE CONTRACT
// =============================================================================

func TestCreateContract_DerivesTermsAndMarksApplicationOffered(t *testing.T) {
	// GIVEN: An applied application
	// WHEN: The pharmacy offers a contract
	// THEN: Terms are derived, contract is pending_approval, application offered

	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	c := createTestContract(t, engine, "app-1")

	assert.Equal(t, lifecycle.ContractPendingApproval, c.Status)
	assert.Equal(t, int64(750000), c.TotalCompensation)
	assert.Equal(t, int64(300000), c.PlatformFee)
	assert.Equal(t, "2025-04-07", c.PaymentDeadline.String())
	assert.Equal(t, lifecycle.PharmacistID("pt-1"), c.PharmacistID)

	app, err := mem.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ApplicationOffered, app.Status)
	assert.NotNil(t, app.OfferedAt)
}

func TestCreateContract_UnknownApplication_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.CreateContract(context.Background(), lifecycle.CreateContractInput{
		ApplicationID:   "missing",
		InitialWorkDate: lifecycle.NewDate(2025, time.April, 10),
		WorkDays:        10,
		DailyWage:       20000,
	})
	assert.True(t, lifecycle.IsNotFound(err))
}

func TestCreateContract_SecondContractForApplication_Conflict(t *testing.T) {
	// GIVEN: A contract already exists for the application
	// WHEN: Offering again, even after the first was cancelled
	// THEN: Conflict, and nothing is written

	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	c := createTestContract(t, engine, "app-1")
	require.NoError(t, engine.RejectContract(ctx, c.ID, "pt-1"))

	_, err := engine.CreateContract(ctx, lifecycle.CreateContractInput{
		ApplicationID:   "app-1",
		PharmacyID:      "ph-1",
		InitialWorkDate: lifecycle.NewDate(2025, time.May, 1),
		WorkDays:        10,
		DailyWage:       20000,
	})
	assert.True(t, lifecycle.IsConflict(err), "one contract per application, ever")
}

func TestCreateContract_InvalidTerms_NothingWritten(t *testing.T) {
	// GIVEN: A valid application but a non-positive wage
	// WHEN: Creating the contract
	// THEN: Invalid input, and the application stays applied

	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	_, err := engine.CreateContract(ctx, lifecycle.CreateContractInput{
		ApplicationID:   "app-1",
		PharmacyID:      "ph-1",
		InitialWorkDate: lifecycle.NewDate(2025, time.April, 10),
		WorkDays:        30,
		DailyWage:       0,
	})
	assert.True(t, lifecycle.IsInvalidInput(err))

	app, err := mem.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ApplicationApplied, app.Status)

	existing, err := mem.GetContractByApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Nil(t, existing)
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func TestApproveContract_CreatesPaymentObligation(t *testing.T) {
	// GIVEN: A pending_approval contract
	// WHEN: The named pharmacist approves
	// THEN: Contract pending_payment, application accepted, payment pending
	//       for exactly the platform fee

	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	c := createTestContract(t, engine, "app-1")
	approved, err := engine.ApproveContract(ctx, c.ID, "pt-1")
	require.NoError(t, err)

	assert.Equal(t, lifecycle.ContractPendingPayment, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)

	app, err := mem.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ApplicationAccepted, app.Status)

	p, err := mem.GetPaymentByContract(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, lifecycle.PaymentPending, p.Status)
	assert.Equal(t, int64(300000), p.Amount)
	assert.Equal(t, lifecycle.PharmacyID("ph-1"), p.PharmacyID)
}

func TestApproveContract_WrongPharmacist_Forbidden(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")

	c := createTestContract(t, engine, "app-1")
	_, err := engine.ApproveContract(context.Background(), c.ID, "pt-other")
	assert.True(t, lifecycle.IsForbidden(err))
}

func TestApproveContract_DuplicateApproval_Rejected(t *testing.T) {
	// GIVEN: An already approved contract
	// WHEN: Approving again
	// THEN: Invalid state naming the current status, and no second payment

	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	c := createTestContract(t, engine, "app-1")
	_, err := engine.ApproveContract(ctx, c.ID, "pt-1")
	require.NoError(t, err)

	_, err = engine.ApproveContract(ctx, c.ID, "pt-1")
	assert.True(t, lifecycle.IsInvalidState(err))

	var stateErr *lifecycle.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(lifecycle.ContractPendingPayment), stateErr.Current)
}

func TestRejectContract_CancelsAndMarksApplicationRejected(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	c := createTestContract(t, engine, "app-1")
	require.NoError(t, engine.RejectContract(ctx, c.ID, "pt-1"))

	got, err := mem.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ContractCancelled, got.Status)
	assert.NotEmpty(t, got.CancellationReason)
	assert.NotNil(t, got.CancelledAt)

	app, err := mem.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ApplicationRejected, app.Status)

	// No payment obligation for a rejected offer
	p, err := mem.GetPaymentByContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestRejectContract_AfterApproval_Rejected(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	c := createTestContract(t, engine, "app-1")
	_, err := engine.ApproveContract(ctx, c.ID, "pt-1")
	require.NoError(t, err)

	err = engine.RejectContract(ctx, c.ID, "pt-1")
	assert.True(t, lifecycle.IsInvalidState(err), "reject is only legal from pending_approval")
}

// =============================================================================
// REPORT / CONFIRM PAYMENT
// =============================================================================

func approveTestContract(t *testing.T, engine *lifecycle.Engine, mem *store.Memory, appID string) (*lifecycle.Contract, *lifecycle.Payment) {
	t.Helper()
	ctx := context.Background()
	c := createTestContract(t, engine, appID)
	approved, err := engine.ApproveContract(ctx, c.ID, "pt-1")
	require.NoError(t, err)
	p, err := mem.GetPaymentByContract(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	return approved, p
}

func TestReportPayment_MovesToReported(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	_, p := approveTestContract(t, engine, mem, "app-1")

	reported, err := engine.ReportPayment(ctx, lifecycle.ReportPaymentInput{
		PaymentID:    p.ID,
		PharmacyID:   "ph-1",
		PaymentDate:  lifecycle.NewDate(2025, time.April, 5),
		TransferName: "SAKURA PHARMACY KK",
	})
	require.NoError(t, err)

	assert.Equal(t, lifecycle.PaymentReported, reported.Status)
	require.NotNil(t, reported.PaymentDate)
	assert.Equal(t, "2025-04-05", reported.PaymentDate.String())
	assert.Equal(t, "SAKURA PHARMACY KK", reported.TransferName)
	assert.NotNil(t, reported.ReportedAt)
}

func TestReportPayment_MissingFields_InvalidInput(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	_, p := approveTestContract(t, engine, mem, "app-1")

	_, err := engine.ReportPayment(ctx, lifecycle.ReportPaymentInput{
		PaymentID:    p.ID,
		PharmacyID:   "ph-1",
		TransferName: "SAKURA PHARMACY KK",
	})
	assert.True(t, lifecycle.IsInvalidInput(err), "payment date is required")

	_, err = engine.ReportPayment(ctx, lifecycle.ReportPaymentInput{
		PaymentID:   p.ID,
		PharmacyID:  "ph-1",
		PaymentDate: lifecycle.NewDate(2025, time.April, 5),
	})
	assert.True(t, lifecycle.IsInvalidInput(err), "transfer name is required")
}

func TestReportPayment_WrongPharmacy_Forbidden(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")

	_, p := approveTestContract(t, engine, mem, "app-1")

	_, err := engine.ReportPayment(context.Background(), lifecycle.ReportPaymentInput{
		PaymentID:    p.ID,
		PharmacyID:   "ph-other",
		PaymentDate:  lifecycle.NewDate(2025, time.April, 5),
		TransferName: "SOMEONE ELSE",
	})
	assert.True(t, lifecycle.IsForbidden(err))
}

func TestReportPayment_Twice_Rejected(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	_, p := approveTestContract(t, engine, mem, "app-1")

	in := lifecycle.ReportPaymentInput{
		PaymentID:    p.ID,
		PharmacyID:   "ph-1",
		PaymentDate:  lifecycle.NewDate(2025, time.April, 5),
		TransferName: "SAKURA PHARMACY KK",
	}
	_, err := engine.ReportPayment(ctx, in)
	require.NoError(t, err)

	_, err = engine.ReportPayment(ctx, in)
	assert.True(t, lifecycle.IsInvalidState(err), "duplicate reports are rejected, not merged")
}

func TestConfirmPayment_ActivatesContract(t *testing.T) {
	// GIVEN: A reported payment
	// WHEN: The administrator confirms
	// THEN: Payment confirmed, contract active

	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	c, p := approveTestContract(t, engine, mem, "app-1")
	_, err := engine.ReportPayment(ctx, lifecycle.ReportPaymentInput{
		PaymentID:    p.ID,
		PharmacyID:   "ph-1",
		PaymentDate:  lifecycle.NewDate(2025, time.April, 5),
		TransferName: "SAKURA PHARMACY KK",
	})
	require.NoError(t, err)

	confirmed, err := engine.ConfirmPayment(ctx, p.ID, "matched statement line 42")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.PaymentConfirmed, confirmed.Status)
	assert.Equal(t, "matched statement line 42", confirmed.ConfirmationNote)
	assert.NotNil(t, confirmed.ConfirmedAt)

	got, err := mem.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ContractActive, got.Status)
	assert.NotNil(t, got.PaymentConfirmedAt)
}

func TestConfirmPayment_BeforeReport_Rejected(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")

	_, p := approveTestContract(t, engine, mem, "app-1")

	_, err := engine.ConfirmPayment(context.Background(), p.ID, "")
	assert.True(t, lifecycle.IsInvalidState(err), "pending payments cannot be confirmed")
}

func TestConfirmPayment_Twice_Rejected(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	_, p := approveTestContract(t, engine, mem, "app-1")
	_, err := engine.ReportPayment(ctx, lifecycle.ReportPaymentInput{
		PaymentID:    p.ID,
		PharmacyID:   "ph-1",
		PaymentDate:  lifecycle.NewDate(2025, time.April, 5),
		TransferName: "SAKURA PHARMACY KK",
	})
	require.NoError(t, err)

	_, err = engine.ConfirmPayment(ctx, p.ID, "")
	require.NoError(t, err)

	_, err = engine.ConfirmPayment(ctx, p.ID, "")
	assert.True(t, lifecycle.IsInvalidState(err))
}

// =============================================================================
// COMPLETE CONTRACT
// =============================================================================

func TestCompleteContract_AfterWorkPeriod(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	c, p := approveTestContract(t, engine, mem, "app-1")
	_, err := engine.ReportPayment(ctx, lifecycle.ReportPaymentInput{
		PaymentID:    p.ID,
		PharmacyID:   "ph-1",
		PaymentDate:  lifecycle.NewDate(2025, time.April, 5),
		TransferName: "SAKURA PHARMACY KK",
	})
	require.NoError(t, err)
	_, err = engine.ConfirmPayment(ctx, p.ID, "")
	require.NoError(t, err)

	// Work runs 2025-04-10 for 30 days; the period ends 2025-05-10.
	_, err = engine.CompleteContract(ctx, c.ID, lifecycle.NewDate(2025, time.May, 9))
	assert.True(t, lifecycle.IsInvalidState(err), "cannot complete mid-period")

	done, err := engine.CompleteContract(ctx, c.ID, lifecycle.NewDate(2025, time.May, 10))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ContractCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)
}

func TestCompleteContract_NotActive_Rejected(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedApplication(t, mem, "app-1")

	c := createTestContract(t, engine, "app-1")
	_, err := engine.CompleteContract(context.Background(), c.ID, lifecycle.NewDate(2025, time.June, 1))
	assert.True(t, lifecycle.IsInvalidState(err))
}

// =============================================================================
// INVOICE EMISSION
// =============================================================================

// recordingEmitter captures emitted invoices for assertions.
type recordingEmitter struct {
	mu       sync.Mutex
	invoices []lifecycle.InvoiceData
}

func (r *recordingEmitter) Emit(_ context.Context, inv lifecycle.InvoiceData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices = append(r.invoices, inv)
	return nil
}

func (r *recordingEmitter) all() []lifecycle.InvoiceData {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lifecycle.InvoiceData(nil), r.invoices...)
}

func TestApproveContract_EmitsInvoice(t *testing.T) {
	// GIVEN: An engine with an invoice emitter
	// WHEN: A contract is approved
	// THEN: Exactly one invoice with the contract's financials is emitted

	mem := store.NewMemory()
	emitter := &recordingEmitter{}
	engine := lifecycle.NewEngine(mem, emitter)
	engine.Now = func() time.Time {
		return time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)
	}
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	c := createTestContract(t, engine, "app-1")
	_, err := engine.ApproveContract(ctx, c.ID, "pt-1")
	require.NoError(t, err)
	engine.Flush()

	invoices := emitter.all()
	require.Len(t, invoices, 1)
	inv := invoices[0]
	assert.Equal(t, "INV-20250401-"+string(c.ID), inv.InvoiceNumber)
	assert.Equal(t, c.ID, inv.ContractID)
	assert.Equal(t, int64(300000), inv.PlatformFee)
	assert.Equal(t, int64(750000), inv.TotalCompensation)
	assert.Equal(t, "Sakura Pharmacy", inv.PharmacyName)
	assert.Equal(t, "Aoi Tanaka", inv.PharmacistName)
	assert.Equal(t, "2025-04-07", inv.PaymentDeadline.String())
}

// panickingEmitter blows up on every call.
type panickingEmitter struct{}

func (panickingEmitter) Emit(context.Context, lifecycle.InvoiceData) error {
	panic("render crashed")
}

func TestApproveContract_EmitterPanicDoesNotAffectApproval(t *testing.T) {
	// GIVEN: An emitter that panics
	// WHEN: Approving a contract
	// THEN: The approval stands; the panic is contained

	mem := store.NewMemory()
	engine := lifecycle.NewEngine(mem, panickingEmitter{})
	seedApplication(t, mem, "app-1")
	ctx := context.Background()

	c := createTestContract(t, engine, "app-1")
	approved, err := engine.ApproveContract(ctx, c.ID, "pt-1")
	require.NoError(t, err)
	engine.Flush()

	assert.Equal(t, lifecycle.ContractPendingPayment, approved.Status)

	got, err := mem.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ContractPendingPayment, got.Status)
}

func TestRejectContract_NoInvoice(t *testing.T) {
	mem := store.NewMemory()
	emitter := &recordingEmitter{}
	engine := lifecycle.NewEngine(mem, emitter)
	seedApplication(t, mem, "app-1")

	c := createTestContract(t, engine, "app-1")
	require.NoError(t, engine.RejectContract(context.Background(), c.ID, "pt-1"))
	engine.Flush()

	assert.Empty(t, emitter.all())
}
