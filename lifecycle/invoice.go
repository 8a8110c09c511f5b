package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"
)

// =============================================================================
// INVOICE EMITTER - Best-effort boundary, triggered on contract approval
// =============================================================================

// InvoiceData is everything the external emitter needs to render a billing
// artifact for the platform fee.
type InvoiceData struct {
	InvoiceNumber   string
	ContractID      ContractID
	IssuedOn        Date
	PharmacyName    string
	PharmacyAddress string
	PharmacistName  string

	WorkDays          int
	InitialWorkDate   Date
	TotalCompensation int64
	PlatformFee       int64
	PaymentDeadline   Date
}

// InvoiceEmitter renders and stores the billing artifact. Implementations
// live outside this package (PDF rendering, file storage); the lifecycle
// only owns the trigger point and its failure isolation.
type InvoiceEmitter interface {
	Emit(ctx context.Context, inv InvoiceData) error
}

// InvoiceNumber derives a deterministic invoice number from the issue date
// and contract id, so re-emission for the same approval produces the same
// artifact name.
func InvoiceNumber(issuedOn Date, contractID ContractID) string {
	return fmt.Sprintf("INV-%s-%s", issuedOn.Time().Format("20060102"), contractID)
}

// dispatchInvoice hands the invoice to the emitter on a supervised goroutine.
// Approval is the authoritative business event: emitter failures (or panics)
// are logged and never surface to the caller, and the call is time-bounded so
// a stuck emitter cannot pile up goroutines forever.
func (e *Engine) dispatchInvoice(inv InvoiceData) {
	if e.Invoices == nil {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Invoice] emitter panicked for %s: %v", inv.ContractID, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), e.invoiceTimeout())
		defer cancel()

		if err := e.Invoices.Emit(ctx, inv); err != nil {
			log.Printf("[Invoice] emit failed for %s (%s): %v", inv.ContractID, inv.InvoiceNumber, err)
			return
		}
		log.Printf("[Invoice] emitted %s for contract %s", inv.InvoiceNumber, inv.ContractID)
	}()
}

func (e *Engine) invoiceTimeout() time.Duration {
	if e.InvoiceTimeout > 0 {
		return e.InvoiceTimeout
	}
	return 10 * time.Second
}

// Flush waits for in-flight invoice emissions. Called during shutdown and
// by tests that assert on emitted artifacts.
func (e *Engine) Flush() {
	e.wg.Wait()
}
