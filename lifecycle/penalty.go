package lifecycle

import "context"

// =============================================================================
// PENALTY RESOLUTION - Forward-only sub-state machine
// =============================================================================
//
//   active -> resolution_requested -> resolved
//
// Only the pharmacy named on the penalty may request resolution; only an
// administrator resolves. There is no path back once resolved.

// RequestPenaltyResolution records the pharmacy's plea against an active
// penalty. Requesting twice, or against a resolved penalty, is rejected.
func (e *Engine) RequestPenaltyResolution(ctx context.Context, penaltyID PenaltyID, pharmacyID PharmacyID, note string) (*Penalty, error) {
	var out *Penalty
	err := e.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPenalty(ctx, penaltyID)
		if err != nil {
			return err
		}
		if p == nil {
			return &NotFoundError{Entity: "penalty", ID: string(penaltyID)}
		}
		if p.PharmacyID != pharmacyID {
			return &ForbiddenError{Entity: "penalty", ID: string(penaltyID), Role: "pharmacy"}
		}
		if p.Status != PenaltyActive {
			return &InvalidStateError{
				Entity:   "penalty",
				ID:       string(penaltyID),
				Current:  string(p.Status),
				Required: string(PenaltyActive),
			}
		}

		now := e.now()
		p.Status = PenaltyResolutionRequested
		p.ResolutionRequestNote = note
		p.ResolutionRequestedAt = &now
		if err := s.UpdatePenalty(ctx, *p, PenaltyActive); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolvePenalty closes out a penalty, with an optional resolution note.
// Admin-only at the transport boundary. Allowed from active or
// resolution_requested; a resolved penalty never transitions again.
func (e *Engine) ResolvePenalty(ctx context.Context, penaltyID PenaltyID, note string) (*Penalty, error) {
	var out *Penalty
	err := e.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPenalty(ctx, penaltyID)
		if err != nil {
			return err
		}
		if p == nil {
			return &NotFoundError{Entity: "penalty", ID: string(penaltyID)}
		}
		if p.Status == PenaltyResolved {
			return &InvalidStateError{
				Entity:   "penalty",
				ID:       string(penaltyID),
				Current:  string(p.Status),
				Required: string(PenaltyActive) + " or " + string(PenaltyResolutionRequested),
			}
		}

		now := e.now()
		prev := p.Status
		p.Status = PenaltyResolved
		p.ResolutionNote = note
		p.ResolvedAt = &now
		if err := s.UpdatePenalty(ctx, *p, prev); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
