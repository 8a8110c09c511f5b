/*
Package invoice renders billing artifacts for confirmed platform-fee
obligations.

PURPOSE:
  Implements lifecycle.InvoiceEmitter. The production deployment renders
  PDFs through an external service; this package ships a file-based
  emitter that writes one JSON artifact per invoice, which is also what
  the tests assert against.

NAMING:
  Artifacts are written as <dir>/<invoice-number>.json. Invoice numbers
  are deterministic (see lifecycle.InvoiceNumber), so re-emitting for the
  same approval overwrites the same file instead of accumulating
  duplicates.

SEE ALSO:
  - lifecycle/invoice.go: Dispatch, supervision and failure isolation
*/
package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pharmabridge/engagement-engine/lifecycle"
)

// FileEmitter writes invoice artifacts as JSON files under Dir.
type FileEmitter struct {
	Dir string
}

// NewFileEmitter creates the artifact directory if needed.
func NewFileEmitter(dir string) (*FileEmitter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create invoice directory: %w", err)
	}
	return &FileEmitter{Dir: dir}, nil
}

// artifact is the on-disk shape. Field names are part of the contract with
// the downstream rendering job, change with care.
type artifact struct {
	InvoiceNumber   string `json:"invoice_number"`
	ContractID      string `json:"contract_id"`
	IssuedOn        string `json:"issued_on"`
	PharmacyName    string `json:"pharmacy_name"`
	PharmacyAddress string `json:"pharmacy_address,omitempty"`
	PharmacistName  string `json:"pharmacist_name"`

	WorkDays          int    `json:"work_days"`
	InitialWorkDate   string `json:"initial_work_date"`
	TotalCompensation int64  `json:"total_compensation"`
	PlatformFee       int64  `json:"platform_fee"`
	PaymentDeadline   string `json:"payment_deadline"`
}

// Emit writes the invoice artifact. The write goes through a temp file and
// rename so a crash mid-write never leaves a truncated artifact behind.
func (e *FileEmitter) Emit(ctx context.Context, inv lifecycle.InvoiceData) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(artifact{
		InvoiceNumber:     inv.InvoiceNumber,
		ContractID:        string(inv.ContractID),
		IssuedOn:          inv.IssuedOn.String(),
		PharmacyName:      inv.PharmacyName,
		PharmacyAddress:   inv.PharmacyAddress,
		PharmacistName:    inv.PharmacistName,
		WorkDays:          inv.WorkDays,
		InitialWorkDate:   inv.InitialWorkDate.String(),
		TotalCompensation: inv.TotalCompensation,
		PlatformFee:       inv.PlatformFee,
		PaymentDeadline:   inv.PaymentDeadline.String(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal invoice %s: %w", inv.InvoiceNumber, err)
	}

	final := filepath.Join(e.Dir, inv.InvoiceNumber+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write invoice %s: %w", inv.InvoiceNumber, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to finalize invoice %s: %w", inv.InvoiceNumber, err)
	}
	return nil
}

// Path returns where the artifact for the given invoice number lives.
func (e *FileEmitter) Path(invoiceNumber string) string {
	return filepath.Join(e.Dir, invoiceNumber+".json")
}
