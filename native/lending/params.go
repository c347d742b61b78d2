package lending

import "math"

const (
	// RateFactor is the denominator for every rate in the ledger: rates are
	// integers expressed in parts per RateFactor.
	RateFactor uint64 = 1_000_000_000

	// MaxTimestamp is the largest timestamp representable in the serialized
	// 32-bit event fields.
	MaxTimestamp uint64 = math.MaxUint32

	// MaxDuration bounds a sub-loan duration in days.
	MaxDuration uint64 = math.MaxUint16

	dayLength int64 = 86_400
)

const (
	defaultAccuracyUnit       uint64 = 10_000
	defaultDayBoundaryOffset  int64  = -10_800
	defaultSubLoanCountMax    int    = 100
	defaultSubLoanAutoIDStart uint64 = 1 << 32
)
