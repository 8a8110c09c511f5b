/*
Package lifecycle implements the engagement lifecycle core of the
pharmacy/pharmacist marketplace.

PURPOSE:
  This package contains the ledger entities and the state machine that
  drives a trial-to-hire engagement from application to active contract:

    Application -> Contract -> Payment -> (Penalty on lapse)

  A pharmacy creates a Contract from an Application, the pharmacist approves
  or rejects it, on approval a platform-fee Payment obligation is created and
  an invoice is emitted, the pharmacy self-reports the bank transfer, and an
  administrator confirms it. Contracts that pass their payment deadline while
  still unpaid are force-cancelled and penalized by the overdue sweep.

KEY CONCEPTS IN THIS FILE (types.go):
  - Application/Contract/Payment/Penalty: passive ledger records
  - Typed status constants: every legal state has a named constant
  - Typed identifiers: prevents mixing contract and payment ids
  - Directory records: Pharmacy/Pharmacist/JobPosting read models

DESIGN PRINCIPLES:
  1. Entities carry no behavior; all transitions live in the Engine
  2. Contract.Status and Payment.Status together form one logical state;
     both are persisted so external readers keep working
  3. Derived money fields (total, fee, deadline) are computed once at
     contract creation and never recomputed

SEE ALSO:
  - engine.go: Legal transitions over these records
  - finance.go: Derivation of total/fee/deadline
  - store.go: Persistence interfaces
*/
package lifecycle

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ApplicationID string
type ContractID string
type PaymentID string
type PenaltyID string
type PharmacyID string
type PharmacistID string
type JobPostingID string

// =============================================================================
// APPLICATION - A pharmacist's application to a job posting
// =============================================================================

type ApplicationStatus string

const (
	ApplicationApplied  ApplicationStatus = "applied"
	ApplicationOffered  ApplicationStatus = "offered"  // a contract offer exists
	ApplicationAccepted ApplicationStatus = "accepted" // pharmacist approved the contract
	ApplicationRejected ApplicationStatus = "rejected" // pharmacist declined the contract
)

type Application struct {
	ID           ApplicationID
	JobPostingID JobPostingID
	PharmacistID PharmacistID
	Status       ApplicationStatus
	AppliedAt    time.Time
	OfferedAt    *time.Time
	RespondedAt  *time.Time
}

// =============================================================================
// CONTRACT - A trial-to-hire engagement offer
// =============================================================================

type ContractStatus string

const (
	ContractPendingApproval ContractStatus = "pending_approval"
	ContractPendingPayment  ContractStatus = "pending_payment"
	ContractActive          ContractStatus = "active"
	ContractCancelled       ContractStatus = "cancelled"
	ContractCompleted       ContractStatus = "completed"
)

// Contract money fields are integer yen. TotalCompensation, PlatformFee and
// PaymentDeadline are derived at creation (see finance.go) and are immutable
// afterward; there is no contract amendment operation.
type Contract struct {
	ID            ContractID
	ApplicationID ApplicationID // owning reference, unique per application
	PharmacyID    PharmacyID
	PharmacistID  PharmacistID
	JobPostingID  JobPostingID

	InitialWorkDate Date // externally negotiated start date
	WorkDays        int
	WorkHours       string // free text, e.g. "9:00-18:00"; optional
	DailyWage       int64

	TotalCompensation int64
	PlatformFee       int64
	PaymentDeadline   Date // InitialWorkDate - 3 calendar days

	Status             ContractStatus
	CancellationReason string

	CreatedAt          time.Time
	ApprovedAt         *time.Time
	PaymentConfirmedAt *time.Time
	CancelledAt        *time.Time
	CompletedAt        *time.Time
}

// WorkPeriodEnd is the first day after the engagement's work period.
// Used as the completion guard: a contract can complete only once the
// work period has fully elapsed.
func (c Contract) WorkPeriodEnd() Date {
	return c.InitialWorkDate.AddDays(c.WorkDays)
}

// =============================================================================
// PAYMENT - Platform-fee obligation, created on contract approval (1:1)
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentReported  PaymentStatus = "reported" // pharmacy self-reported the transfer
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentOverdue   PaymentStatus = "overdue"
)

type Payment struct {
	ID         PaymentID
	ContractID ContractID // unique: one payment per contract
	PharmacyID PharmacyID
	Amount     int64 // equals the contract's PlatformFee

	Status           PaymentStatus
	PaymentDate      *Date  // self-reported transfer date
	TransferName     string // self-reported sender name
	ConfirmationNote string

	CreatedAt   time.Time
	ReportedAt  *time.Time
	ConfirmedAt *time.Time
}

// =============================================================================
// PENALTY - Sanction against a pharmacy, e.g. for a lapsed platform fee
// =============================================================================

type PenaltyType string

const (
	PenaltyPaymentOverdue PenaltyType = "payment_overdue"
)

type PenaltyStatus string

const (
	PenaltyActive              PenaltyStatus = "active"
	PenaltyResolutionRequested PenaltyStatus = "resolution_requested"
	PenaltyResolved            PenaltyStatus = "resolved"
)

type Penalty struct {
	ID         PenaltyID
	PharmacyID PharmacyID
	ContractID *ContractID // set 1:1 for payment_overdue penalties
	Type       PenaltyType
	Reason     string

	Status                PenaltyStatus
	ResolutionRequestNote string
	ResolutionNote        string

	ImposedAt             time.Time
	ResolutionRequestedAt *time.Time
	ResolvedAt            *time.Time
}

// =============================================================================
// DIRECTORY RECORDS - Read-only collaborators referenced by id
// =============================================================================

// Pharmacy and Pharmacist profiles are owned by the profile subsystem; the
// lifecycle only reads the fields it needs for authorization and invoicing.

type Pharmacy struct {
	ID        PharmacyID
	Name      string
	Address   string
	CreatedAt time.Time
}

type Pharmacist struct {
	ID        PharmacistID
	Name      string
	CreatedAt time.Time
}

type JobPosting struct {
	ID         JobPostingID
	PharmacyID PharmacyID
	Title      string
	CreatedAt  time.Time
}

// =============================================================================
// SWEEP RUN - Observability record for overdue sweep executions
// =============================================================================

type SweepRun struct {
	ID          string
	AsOf        Date
	Matched     int // contracts selected by the deadline scan
	Cancelled   int // contracts actually cancelled this run
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
