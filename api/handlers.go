/*
handlers.go - HTTP API handlers for the engagement lifecycle

PURPOSE:
  Exposes the lifecycle engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine for all transitions.

ENDPOINTS:
  Applications:
    POST   /api/applications                 Record a new application
    GET    /api/applications/{id}            Get application details

  Contracts:
    GET    /api/contracts                    List contracts (filterable)
    POST   /api/contracts                    Offer a contract for an application
    GET    /api/contracts/{id}               Get contract details
    GET    /api/contracts/{id}/payment       Get the contract's payment
    POST   /api/contracts/{id}/approve       Pharmacist accepts the offer
    POST   /api/contracts/{id}/reject        Pharmacist declines the offer
    POST   /api/contracts/{id}/complete      Close out after the work period

  Payments:
    GET    /api/payments                     List payments (filterable)
    GET    /api/payments/{id}                Get payment details
    POST   /api/payments/{id}/report         Pharmacy self-reports transfer
    POST   /api/payments/{id}/confirm        Admin confirms transfer

  Penalties:
    GET    /api/penalties                    List penalties (filterable)
    GET    /api/penalties/{id}               Get penalty details
    POST   /api/penalties/{id}/request-resolution  Pharmacy pleads
    POST   /api/penalties/{id}/resolve       Admin resolves

  Admin:
    POST   /api/admin/sweep                  Trigger the overdue sweep
    GET    /api/admin/sweep/runs             Sweep execution history
    POST   /api/admin/pharmacies             Seed directory records
    POST   /api/admin/pharmacists
    POST   /api/admin/job-postings

ERROR HANDLING:
  Engine errors map to HTTP status by kind:
  - 400: Invalid input (malformed dates, missing fields)
  - 403: Actor not permitted on the entity
  - 404: Entity not found
  - 409: Wrong state for the transition, duplicates, lost races
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - lifecycle/engine.go: The transitions these handlers front
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pharmabridge/engagement-engine/lifecycle"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  lifecycle.TxStore
	Engine *lifecycle.Engine
}

// NewHandler creates a new handler over the given engine.
func NewHandler(engine *lifecycle.Engine) *Handler {
	return &Handler{
		Store:  engine.Store,
		Engine: engine,
	}
}

// =============================================================================
// APPLICATION HANDLERS
// =============================================================================

// CreateApplication records a pharmacist's application to a job posting.
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var req CreateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.JobPostingID == "" || req.PharmacistID == "" {
		writeError(w, http.StatusBadRequest, "job_posting_id and pharmacist_id are required", nil)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	app := lifecycle.Application{
		ID:           lifecycle.ApplicationID(id),
		JobPostingID: lifecycle.JobPostingID(req.JobPostingID),
		PharmacistID: lifecycle.PharmacistID(req.PharmacistID),
		Status:       lifecycle.ApplicationApplied,
		AppliedAt:    time.Now().UTC(),
	}
	if err := h.Store.SaveApplication(r.Context(), app); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save application", err)
		return
	}

	writeJSON(w, http.StatusCreated, toApplicationDTO(app))
}

// GetApplication returns a single application.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	app, err := h.Store.GetApplication(r.Context(), lifecycle.ApplicationID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get application", err)
		return
	}
	if app == nil {
		writeError(w, http.StatusNotFound, "Application not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toApplicationDTO(*app))
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// ListContracts returns contracts, optionally filtered by query parameters
// pharmacy_id, pharmacist_id and status.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := lifecycle.ContractFilter{
		PharmacyID:   lifecycle.PharmacyID(q.Get("pharmacy_id")),
		PharmacistID: lifecycle.PharmacistID(q.Get("pharmacist_id")),
		Status:       lifecycle.ContractStatus(q.Get("status")),
	}

	contracts, err := h.Store.ListContracts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contracts", err)
		return
	}

	dtos := make([]ContractDTO, len(contracts))
	for i, c := range contracts {
		dtos[i] = toContractDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContract offers a contract for an application.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ApplicationID == "" {
		writeError(w, http.StatusBadRequest, "application_id is required", nil)
		return
	}
	workDate, err := lifecycle.ParseDate(req.InitialWorkDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid initial_work_date format (use YYYY-MM-DD)", err)
		return
	}

	c, err := h.Engine.CreateContract(r.Context(), lifecycle.CreateContractInput{
		ApplicationID:   lifecycle.ApplicationID(req.ApplicationID),
		PharmacyID:      lifecycle.PharmacyID(req.PharmacyID),
		InitialWorkDate: workDate,
		WorkDays:        req.WorkDays,
		WorkHours:       req.WorkHours,
		DailyWage:       req.DailyWage,
	})
	if err != nil {
		writeEngineError(w, "Failed to create contract", err)
		return
	}

	writeJSON(w, http.StatusCreated, toContractDTO(*c))
}

// GetContract returns a single contract.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.Store.GetContract(r.Context(), lifecycle.ContractID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get contract", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Contract not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// GetContractPayment returns the platform-fee payment attached to a contract.
func (h *Handler) GetContractPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Store.GetPaymentByContract(r.Context(), lifecycle.ContractID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payment", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "No payment for contract", nil)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// ApproveContract is the pharmacist accepting the offer.
func (h *Handler) ApproveContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ContractActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PharmacistID == "" {
		writeError(w, http.StatusBadRequest, "pharmacist_id is required", nil)
		return
	}

	c, err := h.Engine.ApproveContract(r.Context(),
		lifecycle.ContractID(id), lifecycle.PharmacistID(req.PharmacistID))
	if err != nil {
		writeEngineError(w, "Failed to approve contract", err)
		return
	}

	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// RejectContract is the pharmacist declining the offer.
func (h *Handler) RejectContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ContractActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PharmacistID == "" {
		writeError(w, http.StatusBadRequest, "pharmacist_id is required", nil)
		return
	}

	if err := h.Engine.RejectContract(r.Context(),
		lifecycle.ContractID(id), lifecycle.PharmacistID(req.PharmacistID)); err != nil {
		writeEngineError(w, "Failed to reject contract", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contract_id": id,
		"status":      string(lifecycle.ContractCancelled),
	})
}

// CompleteContract closes out an active contract after the work period.
func (h *Handler) CompleteContract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CompleteContractRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	asOf := lifecycle.TodayUTC()
	if req.AsOf != "" {
		var err error
		asOf, err = lifecycle.ParseDate(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
	}

	c, err := h.Engine.CompleteContract(r.Context(), lifecycle.ContractID(id), asOf)
	if err != nil {
		writeEngineError(w, "Failed to complete contract", err)
		return
	}

	writeJSON(w, http.StatusOK, toContractDTO(*c))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns payments, optionally filtered by pharmacy_id.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	pharmacyID := lifecycle.PharmacyID(r.URL.Query().Get("pharmacy_id"))

	payments, err := h.Store.ListPayments(r.Context(), pharmacyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPayment returns a single payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Store.GetPayment(r.Context(), lifecycle.PaymentID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get payment", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// ReportPayment records the pharmacy's self-reported bank transfer.
func (h *Handler) ReportPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ReportPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var paymentDate lifecycle.Date
	if req.PaymentDate != "" {
		var err error
		paymentDate, err = lifecycle.ParseDate(req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date format (use YYYY-MM-DD)", err)
			return
		}
	}

	p, err := h.Engine.ReportPayment(r.Context(), lifecycle.ReportPaymentInput{
		PaymentID:    lifecycle.PaymentID(id),
		PharmacyID:   lifecycle.PharmacyID(req.PharmacyID),
		PaymentDate:  paymentDate,
		TransferName: req.TransferName,
		Note:         req.Note,
	})
	if err != nil {
		writeEngineError(w, "Failed to report payment", err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// ConfirmPayment is the administrator confirming a reported transfer.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ConfirmPaymentRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	p, err := h.Engine.ConfirmPayment(r.Context(), lifecycle.PaymentID(id), req.Note)
	if err != nil {
		writeEngineError(w, "Failed to confirm payment", err)
		return
	}

	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// =============================================================================
// PENALTY HANDLERS
// =============================================================================

// ListPenalties returns penalties, optionally filtered by pharmacy_id.
func (h *Handler) ListPenalties(w http.ResponseWriter, r *http.Request) {
	pharmacyID := lifecycle.PharmacyID(r.URL.Query().Get("pharmacy_id"))

	penalties, err := h.Store.ListPenalties(r.Context(), pharmacyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list penalties", err)
		return
	}

	dtos := make([]PenaltyDTO, len(penalties))
	for i, p := range penalties {
		dtos[i] = toPenaltyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPenalty returns a single penalty.
func (h *Handler) GetPenalty(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Store.GetPenalty(r.Context(), lifecycle.PenaltyID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get penalty", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Penalty not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toPenaltyDTO(*p))
}

// RequestPenaltyResolution is the pharmacy asking for its penalty to be lifted.
func (h *Handler) RequestPenaltyResolution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PenaltyResolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PharmacyID == "" {
		writeError(w, http.StatusBadRequest, "pharmacy_id is required", nil)
		return
	}

	p, err := h.Engine.RequestPenaltyResolution(r.Context(),
		lifecycle.PenaltyID(id), lifecycle.PharmacyID(req.PharmacyID), req.Note)
	if err != nil {
		writeEngineError(w, "Failed to request resolution", err)
		return
	}

	writeJSON(w, http.StatusOK, toPenaltyDTO(*p))
}

// ResolvePenalty is the administrator lifting a penalty.
func (h *Handler) ResolvePenalty(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PenaltyResolutionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	p, err := h.Engine.ResolvePenalty(r.Context(), lifecycle.PenaltyID(id), req.Note)
	if err != nil {
		writeEngineError(w, "Failed to resolve penalty", err)
		return
	}

	writeJSON(w, http.StatusOK, toPenaltyDTO(*p))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunSweep triggers the overdue sweep immediately.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	var req RunSweepRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	asOf := lifecycle.TodayUTC()
	if req.AsOf != "" {
		var err error
		asOf, err = lifecycle.ParseDate(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of format (use YYYY-MM-DD)", err)
			return
		}
	}

	results, err := h.Engine.RunOverdueSweep(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}

	dtos := make([]SweepResultDTO, len(results))
	for i, res := range results {
		dtos[i] = SweepResultDTO{
			ContractID: string(res.ContractID),
			PharmacyID: string(res.PharmacyID),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"as_of":     asOf.String(),
		"cancelled": dtos,
	})
}

// ListSweepRuns returns the sweep execution history, newest first.
func (h *Handler) ListSweepRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListSweepRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sweep runs", err)
		return
	}

	dtos := make([]SweepRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSweepRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// CreatePharmacy seeds a pharmacy directory record.
func (h *Handler) CreatePharmacy(w http.ResponseWriter, r *http.Request) {
	var req CreatePharmacyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	p := lifecycle.Pharmacy{
		ID:        lifecycle.PharmacyID(req.ID),
		Name:      req.Name,
		Address:   req.Address,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SavePharmacy(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save pharmacy", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// GetPharmacy returns a pharmacy directory record by ID.
func (h *Handler) GetPharmacy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Store.GetPharmacy(r.Context(), lifecycle.PharmacyID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get pharmacy", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Pharmacy not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toPharmacyDTO(*p))
}

// CreatePharmacist seeds a pharmacist directory record.
func (h *Handler) CreatePharmacist(w http.ResponseWriter, r *http.Request) {
	var req CreatePharmacistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	p := lifecycle.Pharmacist{
		ID:        lifecycle.PharmacistID(req.ID),
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SavePharmacist(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save pharmacist", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// GetPharmacist returns a pharmacist directory record by ID.
func (h *Handler) GetPharmacist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.Store.GetPharmacist(r.Context(), lifecycle.PharmacistID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get pharmacist", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Pharmacist not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toPharmacistDTO(*p))
}

// CreateJobPosting seeds a job posting directory record.
func (h *Handler) CreateJobPosting(w http.ResponseWriter, r *http.Request) {
	var req CreateJobPostingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.PharmacyID == "" {
		writeError(w, http.StatusBadRequest, "id and pharmacy_id are required", nil)
		return
	}

	jp := lifecycle.JobPosting{
		ID:         lifecycle.JobPostingID(req.ID),
		PharmacyID: lifecycle.PharmacyID(req.PharmacyID),
		Title:      req.Title,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.SaveJobPosting(r.Context(), jp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save job posting", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

// GetJobPosting returns a job posting directory record by ID.
func (h *Handler) GetJobPosting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	jp, err := h.Store.GetJobPosting(r.Context(), lifecycle.JobPostingID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get job posting", err)
		return
	}
	if jp == nil {
		writeError(w, http.StatusNotFound, "Job posting not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toJobPostingDTO(*jp))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine error kinds onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case lifecycle.IsNotFound(err):
		status = http.StatusNotFound
	case lifecycle.IsForbidden(err):
		status = http.StatusForbidden
	case lifecycle.IsInvalidInput(err):
		status = http.StatusBadRequest
	case lifecycle.IsInvalidState(err), lifecycle.IsConflict(err):
		status = http.StatusConflict
	}
	writeError(w, status, fmt.Sprintf("%s: %v", message, err), nil)
}
