package lending

import "errors"

var (
	ErrBlockTimestampExcess    = errors.New("lending: block timestamp exceeds serialized range")
	ErrBlockTimestampUnset     = errors.New("lending: block timestamp not configured")
	ErrOperationTimestampExcess = errors.New("lending: operation timestamp exceeds serialized range")

	ErrAddressZero = errors.New("lending: address zero")

	ErrProgramNonexistent = errors.New("lending: program nonexistent")
	ErrProgramExists      = errors.New("lending: program already exists")
	ErrProgramNotActive   = errors.New("lending: program not active")
	ErrProgramClosed      = errors.New("lending: program already closed")

	ErrSubLoanNonexistent = errors.New("lending: sub-loan nonexistent")
	ErrSubLoanNotOngoing  = errors.New("lending: sub-loan not ongoing")

	ErrBorrowerAddressZero     = errors.New("lending: borrower address zero")
	ErrLoanAmountZero          = errors.New("lending: loan amount zero")
	ErrSubLoanCountZero        = errors.New("lending: sub-loan list empty")
	ErrSubLoanCountExcess      = errors.New("lending: sub-loan count exceeds maximum")
	ErrStartTimestampInvalid   = errors.New("lending: loan start timestamp invalid")
	ErrDurationExcess          = errors.New("lending: duration out of range")
	ErrDurationsUnsorted       = errors.New("lending: sub-loan durations not ascending")
	ErrRateExcess              = errors.New("lending: rate exceeds rate factor")
	ErrLoanAlreadyRevoked      = errors.New("lending: loan already revoked")

	ErrOperationNonexistent            = errors.New("lending: operation nonexistent")
	ErrOperationRevokedAlready         = errors.New("lending: operation already revoked")
	ErrOperationDismissedAlready       = errors.New("lending: operation already dismissed")
	ErrOperationKindInvalid            = errors.New("lending: operation kind invalid")
	ErrOperationKindNotSubmittable     = errors.New("lending: operation kind not externally submittable")
	ErrOperationKindProhibitedInFuture = errors.New("lending: operation kind prohibited in the future")
	ErrOperationAccountNonzero         = errors.New("lending: operation account must be zero")
	ErrOperationAccountZero            = errors.New("lending: operation account required")
	ErrOperationValueInvalid           = errors.New("lending: operation value invalid")
	ErrOperationApplyingTimestampTooEarly = errors.New("lending: applying timestamp precedes sub-loan start")

	ErrAmountZero      = errors.New("lending: amount must be positive")
	ErrAmountUnrounded = errors.New("lending: amount not a multiple of the accuracy unit")

	ErrSubLoanRepaymentExcess = errors.New("lending: repayment exceeds outstanding balance")
	ErrSubLoanDiscountExcess  = errors.New("lending: discount exceeds tracked amount")
	ErrSubLoanFrozenAlready   = errors.New("lending: sub-loan already frozen")
	ErrSubLoanNotFrozen       = errors.New("lending: sub-loan not frozen")

	ErrCollaboratorNotRegistered = errors.New("lending: collaborator not registered")

	errNilState = errors.New("lending: state not configured")
)
