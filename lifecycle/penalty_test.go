package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmabridge/engagement-engine/lifecycle"
	"github.com/pharmabridge/engagement-engine/lifecycle/store"
)

// =============================================================================
// PENALTY RESOLUTION TESTS
// =============================================================================

// imposeTestPenalty produces an active penalty by letting a contract lapse.
func imposeTestPenalty(t *testing.T, engine *lifecycle.Engine, mem *store.Memory) lifecycle.Penalty {
	t.Helper()
	ctx := context.Background()

	seedApplication(t, mem, "app-1")
	setupPendingPayment(t, engine, mem, "app-1")

	_, err := engine.RunOverdueSweep(ctx, lifecycle.NewDate(2025, time.June, 10))
	require.NoError(t, err)

	penalties, err := mem.ListPenalties(ctx, "ph-1")
	require.NoError(t, err)
	require.Len(t, penalties, 1)
	return penalties[0]
}

func TestRequestPenaltyResolution(t *testing.T) {
	// GIVEN: An active penalty
	// WHEN: The penalized pharmacy requests resolution
	// THEN: Status moves to resolution_requested with the plea recorded

	engine, mem := newTestEngine(t)
	pen := imposeTestPenalty(t, engine, mem)

	out, err := engine.RequestPenaltyResolution(context.Background(), pen.ID, "ph-1", "fee settled out of band, see receipt 881")
	require.NoError(t, err)

	assert.Equal(t, lifecycle.PenaltyResolutionRequested, out.Status)
	assert.Equal(t, "fee settled out of band, see receipt 881", out.ResolutionRequestNote)
	assert.NotNil(t, out.ResolutionRequestedAt)
}

func TestRequestPenaltyResolution_WrongPharmacy_Forbidden(t *testing.T) {
	engine, mem := newTestEngine(t)
	pen := imposeTestPenalty(t, engine, mem)

	_, err := engine.RequestPenaltyResolution(context.Background(), pen.ID, "ph-other", "not mine")
	assert.True(t, lifecycle.IsForbidden(err))
}

func TestRequestPenaltyResolution_Twice_Rejected(t *testing.T) {
	engine, mem := newTestEngine(t)
	pen := imposeTestPenalty(t, engine, mem)
	ctx := context.Background()

	_, err := engine.RequestPenaltyResolution(ctx, pen.ID, "ph-1", "first plea")
	require.NoError(t, err)

	_, err = engine.RequestPenaltyResolution(ctx, pen.ID, "ph-1", "second plea")
	assert.True(t, lifecycle.IsInvalidState(err))
}

func TestResolvePenalty_FromActive(t *testing.T) {
	// An admin may resolve directly, without a pharmacy request first.
	engine, mem := newTestEngine(t)
	pen := imposeTestPenalty(t, engine, mem)

	out, err := engine.ResolvePenalty(context.Background(), pen.ID, "waived, first offense")
	require.NoError(t, err)

	assert.Equal(t, lifecycle.PenaltyResolved, out.Status)
	assert.Equal(t, "waived, first offense", out.ResolutionNote)
	assert.NotNil(t, out.ResolvedAt)
}

func TestResolvePenalty_FromResolutionRequested(t *testing.T) {
	engine, mem := newTestEngine(t)
	pen := imposeTestPenalty(t, engine, mem)
	ctx := context.Background()

	_, err := engine.RequestPenaltyResolution(ctx, pen.ID, "ph-1", "fee settled")
	require.NoError(t, err)

	out, err := engine.ResolvePenalty(ctx, pen.ID, "verified")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.PenaltyResolved, out.Status)
}

func TestResolvePenalty_ForwardOnly(t *testing.T) {
	// GIVEN: A resolved penalty
	// WHEN: Resolving again or requesting resolution
	// THEN: Both are rejected; there is no path out of resolved

	engine, mem := newTestEngine(t)
	pen := imposeTestPenalty(t, engine, mem)
	ctx := context.Background()

	_, err := engine.ResolvePenalty(ctx, pen.ID, "done")
	require.NoError(t, err)

	_, err = engine.ResolvePenalty(ctx, pen.ID, "again")
	assert.True(t, lifecycle.IsInvalidState(err))

	_, err = engine.RequestPenaltyResolution(ctx, pen.ID, "ph-1", "reopen please")
	assert.True(t, lifecycle.IsInvalidState(err))
}

func TestResolvePenalty_Unknown_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.ResolvePenalty(context.Background(), "missing", "")
	assert.True(t, lifecycle.IsNotFound(err))
}
