/*
store.go - Persistence interfaces for lifecycle entities

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Per-entity load/save plus status-conditioned updates
  TxStore: Transactional wrapper for atomic multi-entity transitions

STATUS-CONDITIONED UPDATES:
  Every entity update names the status the row is expected to be in
  ("update where id = ? and status = ?"). A write that matches zero rows
  fails with ErrConcurrentModification. Combined with WithTx this makes
  each transition an atomic read-modify-write and makes duplicate requests
  fail instead of double-applying.

ATOMIC TRANSITIONS:
  Compound mutations (contract + payment, or contract + payment + penalty
  during the sweep) run inside WithTx: either every write lands or none do.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - lifecycle/store/memory.go: In-memory for tests

SEE ALSO:
  - engine.go: The only writer of lifecycle entities
*/
package lifecycle

import "context"

// =============================================================================
// STORE - Entity persistence
// =============================================================================

type Store interface {
	// Applications
	SaveApplication(ctx context.Context, app Application) error
	GetApplication(ctx context.Context, id ApplicationID) (*Application, error)
	// UpdateApplication persists app only if the stored row is still in
	// status from. Zero matched rows -> ErrConcurrentModification.
	UpdateApplication(ctx context.Context, app Application, from ApplicationStatus) error

	// Contracts
	SaveContract(ctx context.Context, c Contract) error
	GetContract(ctx context.Context, id ContractID) (*Contract, error)
	GetContractByApplication(ctx context.Context, id ApplicationID) (*Contract, error)
	UpdateContract(ctx context.Context, c Contract, from ContractStatus) error
	ListContracts(ctx context.Context, f ContractFilter) ([]Contract, error)
	// ListContractsDue returns contracts still pending payment whose deadline
	// day has fully passed as of the given date (deadline strictly before asOf).
	ListContractsDue(ctx context.Context, asOf Date) ([]Contract, error)

	// Payments
	SavePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	GetPaymentByContract(ctx context.Context, id ContractID) (*Payment, error)
	UpdatePayment(ctx context.Context, p Payment, from PaymentStatus) error
	ListPayments(ctx context.Context, pharmacyID PharmacyID) ([]Payment, error)

	// Penalties
	SavePenalty(ctx context.Context, p Penalty) error
	GetPenalty(ctx context.Context, id PenaltyID) (*Penalty, error)
	UpdatePenalty(ctx context.Context, p Penalty, from PenaltyStatus) error
	ListPenalties(ctx context.Context, pharmacyID PharmacyID) ([]Penalty, error)

	// Directory (read models owned by the profile subsystem)
	SavePharmacy(ctx context.Context, p Pharmacy) error
	GetPharmacy(ctx context.Context, id PharmacyID) (*Pharmacy, error)
	SavePharmacist(ctx context.Context, p Pharmacist) error
	GetPharmacist(ctx context.Context, id PharmacistID) (*Pharmacist, error)
	SaveJobPosting(ctx context.Context, jp JobPosting) error
	GetJobPosting(ctx context.Context, id JobPostingID) (*JobPosting, error)

	// Sweep observability
	SaveSweepRun(ctx context.Context, run SweepRun) error
	ListSweepRuns(ctx context.Context) ([]SweepRun, error)
}

// ContractFilter narrows ListContracts. Zero values mean "any".
type ContractFilter struct {
	PharmacyID   PharmacyID
	PharmacistID PharmacistID
	Status       ContractStatus
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic multi-entity transitions
// =============================================================================

// TxStore wraps Store with transaction support. The engine requires it:
// every transition is a single WithTx unit.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Implementations
	// also serialize WithTx calls so guard checks cannot interleave with
	// concurrent writes.
	WithTx(ctx context.Context, fn func(Store) error) error
}
