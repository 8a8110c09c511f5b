package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmabridge/engagement-engine/api"
	"github.com/pharmabridge/engagement-engine/lifecycle"
	"github.com/pharmabridge/engagement-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*chiServer, *lifecycle.Engine) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := lifecycle.NewEngine(store, nil)
	handler := api.NewHandler(engine)
	return &chiServer{t: t, router: api.NewRouter(handler)}, engine
}

type chiServer struct {
	t      *testing.T
	router http.Handler
}

// do issues a request with a JSON body and returns the recorded response.
func (s *chiServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

// seedDirectory creates a pharmacy, pharmacist, posting and application.
func seedDirectory(t *testing.T, s *chiServer) {
	t.Helper()
	rec := s.do("POST", "/api/admin/pharmacies", map[string]string{
		"id": "ph-1", "name": "Sakura Pharmacy", "address": "1-2-3 Ginza, Tokyo",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do("POST", "/api/admin/pharmacists", map[string]string{
		"id": "pt-1", "name": "Aoi Tanaka",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do("POST", "/api/admin/job-postings", map[string]string{
		"id": "jp-1", "pharmacy_id": "ph-1", "title": "Weekend pharmacist",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do("POST", "/api/applications", map[string]string{
		"id": "app-1", "job_posting_id": "jp-1", "pharmacist_id": "pt-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func createContractViaAPI(t *testing.T, s *chiServer) api.ContractDTO {
	t.Helper()
	rec := s.do("POST", "/api/contracts", api.CreateContractRequest{
		ApplicationID:   "app-1",
		PharmacyID:      "ph-1",
		InitialWorkDate: "2025-06-01",
		WorkDays:        10,
		DailyWage:       20000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.ContractDTO](t, rec)
}

// =============================================================================
// CONTRACT ENDPOINTS
// =============================================================================

func TestAPI_CreateContract(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)

	c := createContractViaAPI(t, s)

	assert.Equal(t, "pending_approval", c.Status)
	assert.Equal(t, int64(200000), c.TotalCompensation)
	assert.Equal(t, int64(80000), c.PlatformFee)
	assert.Equal(t, "2025-05-29", c.PaymentDeadline)
	assert.Equal(t, "pt-1", c.PharmacistID)
}

func TestAPI_CreateContract_BadDate(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)

	rec := s.do("POST", "/api/contracts", api.CreateContractRequest{
		ApplicationID:   "app-1",
		InitialWorkDate: "01/06/2025",
		WorkDays:        10,
		DailyWage:       20000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CreateContract_DuplicateApplication_Conflict(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)
	createContractViaAPI(t, s)

	rec := s.do("POST", "/api/contracts", api.CreateContractRequest{
		ApplicationID:   "app-1",
		InitialWorkDate: "2025-07-01",
		WorkDays:        5,
		DailyWage:       20000,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_CreateContract_UnknownApplication_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec := s.do("POST", "/api/contracts", api.CreateContractRequest{
		ApplicationID:   "missing",
		InitialWorkDate: "2025-06-01",
		WorkDays:        10,
		DailyWage:       20000,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ApproveContract(t *testing.T) {
	// GIVEN: A pending_approval contract
	// WHEN: POST /approve by the named pharmacist
	// THEN: 200 pending_payment, and a payment exists for the fee

	s, _ := newTestServer(t)
	seedDirectory(t, s)
	c := createContractViaAPI(t, s)

	rec := s.do("POST", "/api/contracts/"+c.ID+"/approve", api.ContractActionRequest{PharmacistID: "pt-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[api.ContractDTO](t, rec)
	assert.Equal(t, "pending_payment", approved.Status)

	rec = s.do("GET", "/api/contracts/"+c.ID+"/payment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[api.PaymentDTO](t, rec)
	assert.Equal(t, int64(80000), p.Amount)
	assert.Equal(t, "pending", p.Status)
}

func TestAPI_ApproveContract_WrongPharmacist_Forbidden(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)
	c := createContractViaAPI(t, s)

	rec := s.do("POST", "/api/contracts/"+c.ID+"/approve", api.ContractActionRequest{PharmacistID: "pt-other"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_ApproveContract_Twice_Conflict(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)
	c := createContractViaAPI(t, s)

	rec := s.do("POST", "/api/contracts/"+c.ID+"/approve", api.ContractActionRequest{PharmacistID: "pt-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("POST", "/api/contracts/"+c.ID+"/approve", api.ContractActionRequest{PharmacistID: "pt-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_RejectContract(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)
	c := createContractViaAPI(t, s)

	rec := s.do("POST", "/api/contracts/"+c.ID+"/reject", api.ContractActionRequest{PharmacistID: "pt-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("GET", "/api/contracts/"+c.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.ContractDTO](t, rec)
	assert.Equal(t, "cancelled", got.Status)
	assert.NotEmpty(t, got.CancellationReason)
}

func TestAPI_ListContracts_FilterByStatus(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)
	createContractViaAPI(t, s)

	rec := s.do("GET", "/api/contracts?status=pending_approval", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]api.ContractDTO](t, rec)
	assert.Len(t, list, 1)

	rec = s.do("GET", "/api/contracts?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[[]api.ContractDTO](t, rec)
	assert.Empty(t, list)
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

func approvedPayment(t *testing.T, s *chiServer) (api.ContractDTO, api.PaymentDTO) {
	t.Helper()
	c := createContractViaAPI(t, s)
	rec := s.do("POST", "/api/contracts/"+c.ID+"/approve", api.ContractActionRequest{PharmacistID: "pt-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("GET", "/api/contracts/"+c.ID+"/payment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return c, decode[api.PaymentDTO](t, rec)
}

func TestAPI_ReportAndConfirmPayment(t *testing.T) {
	// Full payment flow through the HTTP boundary.
	s, _ := newTestServer(t)
	seedDirectory(t, s)
	c, p := approvedPayment(t, s)

	rec := s.do("POST", "/api/payments/"+p.ID+"/report", api.ReportPaymentRequest{
		PharmacyID:   "ph-1",
		PaymentDate:  "2025-05-27",
		TransferName: "SAKURA PHARMACY KK",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reported := decode[api.PaymentDTO](t, rec)
	assert.Equal(t, "reported", reported.Status)
	assert.Equal(t, "2025-05-27", reported.PaymentDate)

	rec = s.do("POST", "/api/payments/"+p.ID+"/confirm", api.ConfirmPaymentRequest{Note: "statement checked"})
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decode[api.PaymentDTO](t, rec)
	assert.Equal(t, "confirmed", confirmed.Status)

	rec = s.do("GET", "/api/contracts/"+c.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[api.ContractDTO](t, rec)
	assert.Equal(t, "active", got.Status)
}

func TestAPI_ReportPayment_MissingTransferName_BadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)
	_, p := approvedPayment(t, s)

	rec := s.do("POST", "/api/payments/"+p.ID+"/report", api.ReportPaymentRequest{
		PharmacyID:  "ph-1",
		PaymentDate: "2025-05-27",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ConfirmPayment_BeforeReport_Conflict(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)
	_, p := approvedPayment(t, s)

	rec := s.do("POST", "/api/payments/"+p.ID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// SWEEP AND PENALTY ENDPOINTS
// =============================================================================

func TestAPI_SweepAndPenaltyResolution(t *testing.T) {
	// GIVEN: An approved contract whose fee deadline (2025-05-29) passed
	// WHEN: Triggering the sweep for 2025-05-30 and resolving the penalty
	// THEN: Cancellation, penalty and both resolution steps flow end to end

	s, _ := newTestServer(t)
	seedDirectory(t, s)
	c, _ := approvedPayment(t, s)

	rec := s.do("POST", "/api/admin/sweep", api.RunSweepRequest{AsOf: "2025-05-30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sweepResp struct {
		AsOf      string               `json:"as_of"`
		Cancelled []api.SweepResultDTO `json:"cancelled"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sweepResp))
	require.Len(t, sweepResp.Cancelled, 1)
	assert.Equal(t, c.ID, sweepResp.Cancelled[0].ContractID)

	// Penalty exists for the pharmacy
	rec = s.do("GET", "/api/penalties?pharmacy_id=ph-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	penalties := decode[[]api.PenaltyDTO](t, rec)
	require.Len(t, penalties, 1)
	pen := penalties[0]
	assert.Equal(t, "active", pen.Status)
	assert.Equal(t, "payment_overdue", pen.Type)

	// Pharmacy pleads
	rec = s.do("POST", "/api/penalties/"+pen.ID+"/request-resolution", api.PenaltyResolutionRequest{
		PharmacyID: "ph-1", Note: "fee settled out of band",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "resolution_requested", decode[api.PenaltyDTO](t, rec).Status)

	// Admin resolves
	rec = s.do("POST", "/api/penalties/"+pen.ID+"/resolve", api.PenaltyResolutionRequest{Note: "verified"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "resolved", decode[api.PenaltyDTO](t, rec).Status)

	// Sweep history recorded
	rec = s.do("GET", "/api/admin/sweep/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runsResp struct {
		Runs []api.SweepRunDTO `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runsResp))
	require.NotEmpty(t, runsResp.Runs)
	assert.Equal(t, "2025-05-30", runsResp.Runs[0].AsOf)
}

func TestAPI_Sweep_Idempotent(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)
	approvedPayment(t, s)

	rec := s.do("POST", "/api/admin/sweep", api.RunSweepRequest{AsOf: "2025-05-30"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("POST", "/api/admin/sweep", api.RunSweepRequest{AsOf: "2025-05-30"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Cancelled []api.SweepResultDTO `json:"cancelled"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Cancelled)

	rec = s.do("GET", "/api/penalties?pharmacy_id=ph-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.PenaltyDTO](t, rec), 1)
}

// =============================================================================
// ERROR SHAPES
// =============================================================================

func TestAPI_NotFoundShapes(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{
		"/api/contracts/missing",
		"/api/payments/missing",
		"/api/penalties/missing",
		"/api/applications/missing",
	} {
		rec := s.do("GET", path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, fmt.Sprintf("GET %s", path))
		resp := decode[api.ErrorResponse](t, rec)
		assert.NotEmpty(t, resp.Error)
	}
}

func TestAPI_DirectoryLookup(t *testing.T) {
	s, _ := newTestServer(t)
	seedDirectory(t, s)

	rec := s.do("GET", "/api/admin/pharmacies/ph-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pharmacy := decode[api.PharmacyDTO](t, rec)
	assert.Equal(t, "Sakura Pharmacy", pharmacy.Name)
	assert.Equal(t, "1-2-3 Ginza, Tokyo", pharmacy.Address)

	rec = s.do("GET", "/api/admin/pharmacists/pt-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Aoi Tanaka", decode[api.PharmacistDTO](t, rec).Name)

	rec = s.do("GET", "/api/admin/job-postings/jp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	posting := decode[api.JobPostingDTO](t, rec)
	assert.Equal(t, "ph-1", posting.PharmacyID)

	rec = s.do("GET", "/api/admin/pharmacies/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
