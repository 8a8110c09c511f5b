package lifecycle

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FINANCIAL CALCULATOR - Pure derivations, used at contract creation only
// =============================================================================

// platformFeeRate is the marketplace's cut of the total compensation.
var platformFeeRate = decimal.RequireFromString("0.4")

// paymentLeadDays is how many calendar days before the work start date the
// platform fee must be settled. No business-day adjustment.
const paymentLeadDays = 3

// TotalCompensation returns dailyWage * workDays.
// Both inputs must be positive.
func TotalCompensation(dailyWage int64, workDays int) (int64, error) {
	if dailyWage <= 0 {
		return 0, fmt.Errorf("%w: daily wage must be positive, got %d", ErrInvalidInput, dailyWage)
	}
	if workDays <= 0 {
		return 0, fmt.Errorf("%w: work days must be positive, got %d", ErrInvalidInput, workDays)
	}
	return dailyWage * int64(workDays), nil
}

// PlatformFee returns floor(total * 0.4). Rounding is always toward zero;
// the pharmacy is never charged the rounded-up yen.
func PlatformFee(total int64) int64 {
	return decimal.NewFromInt(total).Mul(platformFeeRate).Floor().IntPart()
}

// PaymentDeadline returns the calendar day the platform fee is due:
// three days before the work start date.
func PaymentDeadline(initialWorkDate Date) Date {
	return initialWorkDate.AddDays(-paymentLeadDays)
}

// ContractTerms bundles the derived financial fields of a contract.
type ContractTerms struct {
	TotalCompensation int64
	PlatformFee       int64
	PaymentDeadline   Date
}

// DeriveTerms computes all derived contract fields in one step. This runs
// exactly once, at contract creation; re-approval never recomputes.
func DeriveTerms(dailyWage int64, workDays int, initialWorkDate Date) (ContractTerms, error) {
	if initialWorkDate.IsZero() {
		return ContractTerms{}, fmt.Errorf("%w: initial work date is required", ErrInvalidInput)
	}
	total, err := TotalCompensation(dailyWage, workDays)
	if err != nil {
		return ContractTerms{}, err
	}
	return ContractTerms{
		TotalCompensation: total,
		PlatformFee:       PlatformFee(total),
		PaymentDeadline:   PaymentDeadline(initialWorkDate),
	}, nil
}
