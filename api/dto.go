/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the lifecycle entities from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATE FIELDS:
  Calendar dates (work start, payment deadline, reported transfer date)
  travel as "YYYY-MM-DD" strings. Timestamps travel as RFC3339.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - lifecycle/types.go: The entities these project
*/
package api

import (
	"time"

	"github.com/pharmabridge/engagement-engine/lifecycle"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// ContractDTO represents a contract in API responses.
type ContractDTO struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	PharmacyID    string `json:"pharmacy_id"`
	PharmacistID  string `json:"pharmacist_id"`
	JobPostingID  string `json:"job_posting_id"`

	InitialWorkDate string `json:"initial_work_date"`
	WorkDays        int    `json:"work_days"`
	WorkHours       string `json:"work_hours,omitempty"`
	DailyWage       int64  `json:"daily_wage"`

	TotalCompensation int64  `json:"total_compensation"`
	PlatformFee       int64  `json:"platform_fee"`
	PaymentDeadline   string `json:"payment_deadline"`

	Status             string `json:"status"`
	CancellationReason string `json:"cancellation_reason,omitempty"`

	CreatedAt          string  `json:"created_at"`
	ApprovedAt         *string `json:"approved_at,omitempty"`
	PaymentConfirmedAt *string `json:"payment_confirmed_at,omitempty"`
	CancelledAt        *string `json:"cancelled_at,omitempty"`
	CompletedAt        *string `json:"completed_at,omitempty"`
}

// CreateContractRequest is the request to offer a contract for an application.
type CreateContractRequest struct {
	ApplicationID   string `json:"application_id"`
	PharmacyID      string `json:"pharmacy_id"`
	InitialWorkDate string `json:"initial_work_date"`
	WorkDays        int    `json:"work_days"`
	WorkHours       string `json:"work_hours,omitempty"`
	DailyWage       int64  `json:"daily_wage"`
}

// ContractActionRequest identifies the acting pharmacist for approve/reject.
type ContractActionRequest struct {
	PharmacistID string `json:"pharmacist_id"`
}

// CompleteContractRequest optionally pins the completion date, for backfill.
type CompleteContractRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentDTO represents a platform-fee payment in API responses.
type PaymentDTO struct {
	ID         string `json:"id"`
	ContractID string `json:"contract_id"`
	PharmacyID string `json:"pharmacy_id"`
	Amount     int64  `json:"amount"`

	Status           string `json:"status"`
	PaymentDate      string `json:"payment_date,omitempty"`
	TransferName     string `json:"transfer_name,omitempty"`
	ConfirmationNote string `json:"confirmation_note,omitempty"`

	CreatedAt   string  `json:"created_at"`
	ReportedAt  *string `json:"reported_at,omitempty"`
	ConfirmedAt *string `json:"confirmed_at,omitempty"`
}

// ReportPaymentRequest is the pharmacy's self-report of the bank transfer.
type ReportPaymentRequest struct {
	PharmacyID   string `json:"pharmacy_id"`
	PaymentDate  string `json:"payment_date"`
	TransferName string `json:"transfer_name"`
	Note         string `json:"note,omitempty"`
}

// ConfirmPaymentRequest is the administrator's confirmation.
type ConfirmPaymentRequest struct {
	Note string `json:"note,omitempty"`
}

// =============================================================================
// PENALTIES
// =============================================================================

// PenaltyDTO represents a penalty in API responses.
type PenaltyDTO struct {
	ID         string  `json:"id"`
	PharmacyID string  `json:"pharmacy_id"`
	ContractID *string `json:"contract_id,omitempty"`
	Type       string  `json:"type"`
	Reason     string  `json:"reason"`

	Status                string `json:"status"`
	ResolutionRequestNote string `json:"resolution_request_note,omitempty"`
	ResolutionNote        string `json:"resolution_note,omitempty"`

	ImposedAt             string  `json:"imposed_at"`
	ResolutionRequestedAt *string `json:"resolution_requested_at,omitempty"`
	ResolvedAt            *string `json:"resolved_at,omitempty"`
}

// PenaltyResolutionRequest carries the pharmacy's plea or the admin's verdict.
type PenaltyResolutionRequest struct {
	PharmacyID string `json:"pharmacy_id,omitempty"`
	Note       string `json:"note"`
}

// =============================================================================
// SWEEP
// =============================================================================

// RunSweepRequest optionally pins the sweep date, for backfill and tests.
type RunSweepRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

// SweepResultDTO is one cancellation produced by a sweep call.
type SweepResultDTO struct {
	ContractID string `json:"contract_id"`
	PharmacyID string `json:"pharmacy_id"`
}

// SweepRunDTO is a historical sweep execution record.
type SweepRunDTO struct {
	ID          string  `json:"id"`
	AsOf        string  `json:"as_of"`
	Matched     int     `json:"matched"`
	Cancelled   int     `json:"cancelled"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// =============================================================================
// DIRECTORY
// =============================================================================

// CreateApplicationRequest records a pharmacist's application to a posting.
type CreateApplicationRequest struct {
	ID           string `json:"id,omitempty"`
	JobPostingID string `json:"job_posting_id"`
	PharmacistID string `json:"pharmacist_id"`
}

// ApplicationDTO represents an application in API responses.
type ApplicationDTO struct {
	ID           string  `json:"id"`
	JobPostingID string  `json:"job_posting_id"`
	PharmacistID string  `json:"pharmacist_id"`
	Status       string  `json:"status"`
	AppliedAt    string  `json:"applied_at"`
	OfferedAt    *string `json:"offered_at,omitempty"`
	RespondedAt  *string `json:"responded_at,omitempty"`
}

// CreatePharmacyRequest seeds a pharmacy directory record.
type CreatePharmacyRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// CreatePharmacistRequest seeds a pharmacist directory record.
type CreatePharmacistRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateJobPostingRequest seeds a job posting directory record.
type CreateJobPostingRequest struct {
	ID         string `json:"id"`
	PharmacyID string `json:"pharmacy_id"`
	Title      string `json:"title"`
}

// PharmacyDTO is the API representation of a pharmacy directory record.
type PharmacyDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"created_at"`
}

// PharmacistDTO is the API representation of a pharmacist directory record.
type PharmacistDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// JobPostingDTO is the API representation of a job posting directory record.
type JobPostingDTO struct {
	ID         string `json:"id"`
	PharmacyID string `json:"pharmacy_id"`
	Title      string `json:"title,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func timestampPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toContractDTO(c lifecycle.Contract) ContractDTO {
	return ContractDTO{
		ID:            string(c.ID),
		ApplicationID: string(c.ApplicationID),
		PharmacyID:    string(c.PharmacyID),
		PharmacistID:  string(c.PharmacistID),
		JobPostingID:  string(c.JobPostingID),

		InitialWorkDate: c.InitialWorkDate.String(),
		WorkDays:        c.WorkDays,
		WorkHours:       c.WorkHours,
		DailyWage:       c.DailyWage,

		TotalCompensation: c.TotalCompensation,
		PlatformFee:       c.PlatformFee,
		PaymentDeadline:   c.PaymentDeadline.String(),

		Status:             string(c.Status),
		CancellationReason: c.CancellationReason,

		CreatedAt:          c.CreatedAt.Format(time.RFC3339),
		ApprovedAt:         timestampPtr(c.ApprovedAt),
		PaymentConfirmedAt: timestampPtr(c.PaymentConfirmedAt),
		CancelledAt:        timestampPtr(c.CancelledAt),
		CompletedAt:        timestampPtr(c.CompletedAt),
	}
}

func toPaymentDTO(p lifecycle.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:         string(p.ID),
		ContractID: string(p.ContractID),
		PharmacyID: string(p.PharmacyID),
		Amount:     p.Amount,

		Status:           string(p.Status),
		TransferName:     p.TransferName,
		ConfirmationNote: p.ConfirmationNote,

		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		ReportedAt:  timestampPtr(p.ReportedAt),
		ConfirmedAt: timestampPtr(p.ConfirmedAt),
	}
	if p.PaymentDate != nil {
		dto.PaymentDate = p.PaymentDate.String()
	}
	return dto
}

func toPenaltyDTO(p lifecycle.Penalty) PenaltyDTO {
	dto := PenaltyDTO{
		ID:         string(p.ID),
		PharmacyID: string(p.PharmacyID),
		Type:       string(p.Type),
		Reason:     p.Reason,

		Status:                string(p.Status),
		ResolutionRequestNote: p.ResolutionRequestNote,
		ResolutionNote:        p.ResolutionNote,

		ImposedAt:             p.ImposedAt.Format(time.RFC3339),
		ResolutionRequestedAt: timestampPtr(p.ResolutionRequestedAt),
		ResolvedAt:            timestampPtr(p.ResolvedAt),
	}
	if p.ContractID != nil {
		s := string(*p.ContractID)
		dto.ContractID = &s
	}
	return dto
}

func toApplicationDTO(a lifecycle.Application) ApplicationDTO {
	return ApplicationDTO{
		ID:           string(a.ID),
		JobPostingID: string(a.JobPostingID),
		PharmacistID: string(a.PharmacistID),
		Status:       string(a.Status),
		AppliedAt:    a.AppliedAt.Format(time.RFC3339),
		OfferedAt:    timestampPtr(a.OfferedAt),
		RespondedAt:  timestampPtr(a.RespondedAt),
	}
}

func toPharmacyDTO(p lifecycle.Pharmacy) PharmacyDTO {
	return PharmacyDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		Address:   p.Address,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func toPharmacistDTO(p lifecycle.Pharmacist) PharmacistDTO {
	return PharmacistDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func toJobPostingDTO(jp lifecycle.JobPosting) JobPostingDTO {
	return JobPostingDTO{
		ID:         string(jp.ID),
		PharmacyID: string(jp.PharmacyID),
		Title:      jp.Title,
		CreatedAt:  jp.CreatedAt.Format(time.RFC3339),
	}
}

func toSweepRunDTO(run lifecycle.SweepRun) SweepRunDTO {
	return SweepRunDTO{
		ID:          run.ID,
		AsOf:        run.AsOf.String(),
		Matched:     run.Matched,
		Cancelled:   run.Cancelled,
		Error:       run.Error,
		StartedAt:   run.StartedAt.Format(time.RFC3339),
		CompletedAt: timestampPtr(run.CompletedAt),
	}
}
