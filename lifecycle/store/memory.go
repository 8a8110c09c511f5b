// Package store provides lifecycle.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pharmabridge/engagement-engine/lifecycle"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements lifecycle.TxStore with copy-on-write transactions:
// WithTx runs against a clone of the tables and commits by swapping it in,
// so a failed transition leaves every entity untouched.
type Memory struct {
	mu sync.RWMutex
	t  *tables
}

func NewMemory() *Memory {
	return &Memory{t: newTables()}
}

// WithTx executes fn atomically. The mutex also serializes WithTx calls, so
// guard checks inside fn cannot interleave with concurrent writers.
func (m *Memory) WithTx(_ context.Context, fn func(lifecycle.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := m.t.clone()
	if err := fn(clone); err != nil {
		return err
	}
	m.t = clone
	return nil
}

// =============================================================================
// TABLES - The actual state, unlocked; Memory wraps with locking
// =============================================================================

type tables struct {
	applications map[lifecycle.ApplicationID]lifecycle.Application
	contracts    map[lifecycle.ContractID]lifecycle.Contract
	byApp        map[lifecycle.ApplicationID]lifecycle.ContractID
	payments     map[lifecycle.PaymentID]lifecycle.Payment
	byContract   map[lifecycle.ContractID]lifecycle.PaymentID
	penalties    map[lifecycle.PenaltyID]lifecycle.Penalty
	pharmacies   map[lifecycle.PharmacyID]lifecycle.Pharmacy
	pharmacists  map[lifecycle.PharmacistID]lifecycle.Pharmacist
	postings     map[lifecycle.JobPostingID]lifecycle.JobPosting
	sweepRuns    []lifecycle.SweepRun
}

func newTables() *tables {
	return &tables{
		applications: make(map[lifecycle.ApplicationID]lifecycle.Application),
		contracts:    make(map[lifecycle.ContractID]lifecycle.Contract),
		byApp:        make(map[lifecycle.ApplicationID]lifecycle.ContractID),
		payments:     make(map[lifecycle.PaymentID]lifecycle.Payment),
		byContract:   make(map[lifecycle.ContractID]lifecycle.PaymentID),
		penalties:    make(map[lifecycle.PenaltyID]lifecycle.Penalty),
		pharmacies:   make(map[lifecycle.PharmacyID]lifecycle.Pharmacy),
		pharmacists:  make(map[lifecycle.PharmacistID]lifecycle.Pharmacist),
		postings:     make(map[lifecycle.JobPostingID]lifecycle.JobPosting),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.applications {
		c.applications[k] = v
	}
	for k, v := range t.contracts {
		c.contracts[k] = v
	}
	for k, v := range t.byApp {
		c.byApp[k] = v
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	for k, v := range t.byContract {
		c.byContract[k] = v
	}
	for k, v := range t.penalties {
		c.penalties[k] = v
	}
	for k, v := range t.pharmacies {
		c.pharmacies[k] = v
	}
	for k, v := range t.pharmacists {
		c.pharmacists[k] = v
	}
	for k, v := range t.postings {
		c.postings[k] = v
	}
	c.sweepRuns = append(c.sweepRuns, t.sweepRuns...)
	return c
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func (t *tables) SaveApplication(_ context.Context, app lifecycle.Application) error {
	t.applications[app.ID] = app
	return nil
}

func (t *tables) GetApplication(_ context.Context, id lifecycle.ApplicationID) (*lifecycle.Application, error) {
	if app, ok := t.applications[id]; ok {
		return &app, nil
	}
	return nil, nil
}

func (t *tables) UpdateApplication(_ context.Context, app lifecycle.Application, from lifecycle.ApplicationStatus) error {
	current, ok := t.applications[app.ID]
	if !ok || current.Status != from {
		return lifecycle.ErrConcurrentModification
	}
	t.applications[app.ID] = app
	return nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (t *tables) SaveContract(_ context.Context, c lifecycle.Contract) error {
	if _, exists := t.byApp[c.ApplicationID]; exists {
		return &lifecycle.ConflictError{Entity: "contract", Against: "application " + string(c.ApplicationID)}
	}
	t.contracts[c.ID] = c
	t.byApp[c.ApplicationID] = c.ID
	return nil
}

func (t *tables) GetContract(_ context.Context, id lifecycle.ContractID) (*lifecycle.Contract, error) {
	if c, ok := t.contracts[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (t *tables) GetContractByApplication(_ context.Context, id lifecycle.ApplicationID) (*lifecycle.Contract, error) {
	cid, ok := t.byApp[id]
	if !ok {
		return nil, nil
	}
	c := t.contracts[cid]
	return &c, nil
}

func (t *tables) UpdateContract(_ context.Context, c lifecycle.Contract, from lifecycle.ContractStatus) error {
	current, ok := t.contracts[c.ID]
	if !ok || current.Status != from {
		return lifecycle.ErrConcurrentModification
	}
	t.contracts[c.ID] = c
	return nil
}

func (t *tables) ListContracts(_ context.Context, f lifecycle.ContractFilter) ([]lifecycle.Contract, error) {
	var out []lifecycle.Contract
	for _, c := range t.contracts {
		if f.PharmacyID != "" && c.PharmacyID != f.PharmacyID {
			continue
		}
		if f.PharmacistID != "" && c.PharmacistID != f.PharmacistID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tables) ListContractsDue(_ context.Context, asOf lifecycle.Date) ([]lifecycle.Contract, error) {
	var out []lifecycle.Contract
	for _, c := range t.contracts {
		if c.Status == lifecycle.ContractPendingPayment && c.PaymentDeadline.Before(asOf) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (t *tables) SavePayment(_ context.Context, p lifecycle.Payment) error {
	if _, exists := t.byContract[p.ContractID]; exists {
		return &lifecycle.ConflictError{Entity: "payment", Against: "contract " + string(p.ContractID)}
	}
	t.payments[p.ID] = p
	t.byContract[p.ContractID] = p.ID
	return nil
}

func (t *tables) GetPayment(_ context.Context, id lifecycle.PaymentID) (*lifecycle.Payment, error) {
	if p, ok := t.payments[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (t *tables) GetPaymentByContract(_ context.Context, id lifecycle.ContractID) (*lifecycle.Payment, error) {
	pid, ok := t.byContract[id]
	if !ok {
		return nil, nil
	}
	p := t.payments[pid]
	return &p, nil
}

func (t *tables) UpdatePayment(_ context.Context, p lifecycle.Payment, from lifecycle.PaymentStatus) error {
	current, ok := t.payments[p.ID]
	if !ok || current.Status != from {
		return lifecycle.ErrConcurrentModification
	}
	t.payments[p.ID] = p
	return nil
}

func (t *tables) ListPayments(_ context.Context, pharmacyID lifecycle.PharmacyID) ([]lifecycle.Payment, error) {
	var out []lifecycle.Payment
	for _, p := range t.payments {
		if pharmacyID == "" || p.PharmacyID == pharmacyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// PENALTIES
// =============================================================================

func (t *tables) SavePenalty(_ context.Context, p lifecycle.Penalty) error {
	t.penalties[p.ID] = p
	return nil
}

func (t *tables) GetPenalty(_ context.Context, id lifecycle.PenaltyID) (*lifecycle.Penalty, error) {
	if p, ok := t.penalties[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (t *tables) UpdatePenalty(_ context.Context, p lifecycle.Penalty, from lifecycle.PenaltyStatus) error {
	current, ok := t.penalties[p.ID]
	if !ok || current.Status != from {
		return lifecycle.ErrConcurrentModification
	}
	t.penalties[p.ID] = p
	return nil
}

func (t *tables) ListPenalties(_ context.Context, pharmacyID lifecycle.PharmacyID) ([]lifecycle.Penalty, error) {
	var out []lifecycle.Penalty
	for _, p := range t.penalties {
		if pharmacyID == "" || p.PharmacyID == pharmacyID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImposedAt.Before(out[j].ImposedAt) })
	return out, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (t *tables) SavePharmacy(_ context.Context, p lifecycle.Pharmacy) error {
	t.pharmacies[p.ID] = p
	return nil
}

func (t *tables) GetPharmacy(_ context.Context, id lifecycle.PharmacyID) (*lifecycle.Pharmacy, error) {
	if p, ok := t.pharmacies[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (t *tables) SavePharmacist(_ context.Context, p lifecycle.Pharmacist) error {
	t.pharmacists[p.ID] = p
	return nil
}

func (t *tables) GetPharmacist(_ context.Context, id lifecycle.PharmacistID) (*lifecycle.Pharmacist, error) {
	if p, ok := t.pharmacists[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (t *tables) SaveJobPosting(_ context.Context, jp lifecycle.JobPosting) error {
	t.postings[jp.ID] = jp
	return nil
}

func (t *tables) GetJobPosting(_ context.Context, id lifecycle.JobPostingID) (*lifecycle.JobPosting, error) {
	if jp, ok := t.postings[id]; ok {
		return &jp, nil
	}
	return nil, nil
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

func (t *tables) SaveSweepRun(_ context.Context, run lifecycle.SweepRun) error {
	t.sweepRuns = append(t.sweepRuns, run)
	return nil
}

func (t *tables) ListSweepRuns(_ context.Context) ([]lifecycle.SweepRun, error) {
	out := make([]lifecycle.SweepRun, len(t.sweepRuns))
	copy(out, t.sweepRuns)
	return out, nil
}

// =============================================================================
// LOCKED DELEGATION - Memory's lifecycle.Store surface
// =============================================================================

func (m *Memory) SaveApplication(ctx context.Context, app lifecycle.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveApplication(ctx, app)
}

func (m *Memory) GetApplication(ctx context.Context, id lifecycle.ApplicationID) (*lifecycle.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetApplication(ctx, id)
}

func (m *Memory) UpdateApplication(ctx context.Context, app lifecycle.Application, from lifecycle.ApplicationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdateApplication(ctx, app, from)
}

func (m *Memory) SaveContract(ctx context.Context, c lifecycle.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveContract(ctx, c)
}

func (m *Memory) GetContract(ctx context.Context, id lifecycle.ContractID) (*lifecycle.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetContract(ctx, id)
}

func (m *Memory) GetContractByApplication(ctx context.Context, id lifecycle.ApplicationID) (*lifecycle.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetContractByApplication(ctx, id)
}

func (m *Memory) UpdateContract(ctx context.Context, c lifecycle.Contract, from lifecycle.ContractStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdateContract(ctx, c, from)
}

func (m *Memory) ListContracts(ctx context.Context, f lifecycle.ContractFilter) ([]lifecycle.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListContracts(ctx, f)
}

func (m *Memory) ListContractsDue(ctx context.Context, asOf lifecycle.Date) ([]lifecycle.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListContractsDue(ctx, asOf)
}

func (m *Memory) SavePayment(ctx context.Context, p lifecycle.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SavePayment(ctx, p)
}

func (m *Memory) GetPayment(ctx context.Context, id lifecycle.PaymentID) (*lifecycle.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetPayment(ctx, id)
}

func (m *Memory) GetPaymentByContract(ctx context.Context, id lifecycle.ContractID) (*lifecycle.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetPaymentByContract(ctx, id)
}

func (m *Memory) UpdatePayment(ctx context.Context, p lifecycle.Payment, from lifecycle.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdatePayment(ctx, p, from)
}

func (m *Memory) ListPayments(ctx context.Context, pharmacyID lifecycle.PharmacyID) ([]lifecycle.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListPayments(ctx, pharmacyID)
}

func (m *Memory) SavePenalty(ctx context.Context, p lifecycle.Penalty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SavePenalty(ctx, p)
}

func (m *Memory) GetPenalty(ctx context.Context, id lifecycle.PenaltyID) (*lifecycle.Penalty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetPenalty(ctx, id)
}

func (m *Memory) UpdatePenalty(ctx context.Context, p lifecycle.Penalty, from lifecycle.PenaltyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdatePenalty(ctx, p, from)
}

func (m *Memory) ListPenalties(ctx context.Context, pharmacyID lifecycle.PharmacyID) ([]lifecycle.Penalty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListPenalties(ctx, pharmacyID)
}

func (m *Memory) SavePharmacy(ctx context.Context, p lifecycle.Pharmacy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SavePharmacy(ctx, p)
}

func (m *Memory) GetPharmacy(ctx context.Context, id lifecycle.PharmacyID) (*lifecycle.Pharmacy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetPharmacy(ctx, id)
}

func (m *Memory) SavePharmacist(ctx context.Context, p lifecycle.Pharmacist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SavePharmacist(ctx, p)
}

func (m *Memory) GetPharmacist(ctx context.Context, id lifecycle.PharmacistID) (*lifecycle.Pharmacist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetPharmacist(ctx, id)
}

func (m *Memory) SaveJobPosting(ctx context.Context, jp lifecycle.JobPosting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveJobPosting(ctx, jp)
}

func (m *Memory) GetJobPosting(ctx context.Context, id lifecycle.JobPostingID) (*lifecycle.JobPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetJobPosting(ctx, id)
}

func (m *Memory) SaveSweepRun(ctx context.Context, run lifecycle.SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveSweepRun(ctx, run)
}

func (m *Memory) ListSweepRuns(ctx context.Context) ([]lifecycle.SweepRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListSweepRuns(ctx)
}
