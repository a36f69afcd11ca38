package domain

import "errors"

// Kind classifies an engine error so transports can map it without string matching.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindNotFound      Kind = "not_found"
	KindTransfer      Kind = "transfer"
)

type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

var (
	ErrZeroAmount       = newError(KindValidation, "ZeroAmount", "amount must be greater than zero")
	ErrDeadlineInPast   = newError(KindValidation, "DeadlineInPast", "deadline must be in the future")
	ErrInvalidSplit     = newError(KindValidation, "InvalidSplit", "institution split must be between 0 and 10000 bps")
	ErrEmptyInstitution = newError(KindValidation, "EmptyInstitution", "institution name required")
	ErrInvalidAddress   = newError(KindValidation, "InvalidAddress", "address must be a non-zero wallet address")
	ErrInvalidShare     = newError(KindValidation, "InvalidShare", "share must be between 1 and 10000 bps")
	ErrShareOverflow    = newError(KindValidation, "ShareOverflow", "approved shares would exceed 10000 bps")

	ErrUnauthorized = newError(KindAuthorization, "Unauthorized", "caller is not allowed to perform this action")

	ErrBountyNotFound = newError(KindNotFound, "BountyNotFound", "bounty not found")
	ErrClaimNotFound  = newError(KindNotFound, "ClaimNotFound", "claim not found")
	ErrEscrowNotFound = newError(KindNotFound, "EscrowNotFound", "escrow entry not found")

	ErrBountyNotOpen      = newError(KindState, "BountyNotOpen", "bounty is not open")
	ErrClaimNotPending    = newError(KindState, "ClaimNotPending", "claim is not pending")
	ErrSharesIncomplete   = newError(KindState, "SharesIncomplete", "approved shares must total exactly 10000 bps")
	ErrDeadlineNotReached = newError(KindState, "DeadlineNotReached", "deadline has not been reached")
	ErrEscrowClaimed      = newError(KindState, "EscrowClaimed", "escrow entry already claimed")

	ErrInsufficientFunds = newError(KindTransfer, "InsufficientFunds", "insufficient funds")
	ErrTransferFailed    = newError(KindTransfer, "TransferFailed", "transfer failed")
)

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
