package raffle

import "errors"

// Kind classifies a failure so callers can tell "retry later" from
// "configuration error" from "invariant breach".
type Kind string

const (
	KindPrecondition Kind = "precondition"
	KindAuth         Kind = "auth"
	KindExternal     Kind = "external"
	KindInvariant    Kind = "invariant"
	KindNotFound     Kind = "not_found"
)

// Error is a named engine failure.
type Error struct {
	Code    string
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(code string, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Message: msg}
}

// Precondition violations.
var (
	ErrInvalidState      = newError("INVALID_STATE", KindPrecondition, "game is not in the required state")
	ErrDrawWindowOpen    = newError("DRAW_WINDOW_OPEN", KindPrecondition, "deposit window has not elapsed")
	ErrEmptyPool         = newError("EMPTY_POOL", KindPrecondition, "game pool is empty")
	ErrParticipantCap    = newError("PARTICIPANT_CAP", KindPrecondition, "participant cap reached")
	ErrTokenNotAllowed   = newError("TOKEN_NOT_ALLOWED", KindPrecondition, "token is not allowed")
	ErrDepositTooSmall   = newError("DEPOSIT_TOO_SMALL", KindPrecondition, "deposit value below minimum")
	ErrInvalidAmount     = newError("INVALID_AMOUNT", KindPrecondition, "amount must be positive")
	ErrRandomNotReady    = newError("RANDOM_NOT_READY", KindPrecondition, "random word not fulfilled")
	ErrAlreadySettled    = newError("ALREADY_SETTLED", KindPrecondition, "game already settled")
	ErrGameNotSettled    = newError("GAME_NOT_SETTLED", KindPrecondition, "previous game is not settled")
	ErrNothingToClaim    = newError("NOTHING_TO_CLAIM", KindPrecondition, "nothing to claim")
	ErrFeeTooHigh        = newError("FEE_TOO_HIGH", KindPrecondition, "combined fee exceeds cap")
	ErrNoRandomWords     = newError("NO_RANDOM_WORDS", KindPrecondition, "fulfillment carried no random words")
	ErrDuplicateRequest  = newError("DUPLICATE_REQUEST", KindPrecondition, "request id already bound")
	ErrReentrantCall     = newError("REENTRANT_CALL", KindPrecondition, "reentrant call rejected")
	ErrInvalidConfig     = newError("INVALID_CONFIG", KindPrecondition, "invalid configuration")
	ErrInvalidAddress    = newError("INVALID_ADDRESS", KindPrecondition, "address is required")
	ErrUnknownRequest    = newError("UNKNOWN_REQUEST", KindNotFound, "unknown randomness request")
	ErrGameNotFound      = newError("GAME_NOT_FOUND", KindNotFound, "game not found")
	ErrNoGame            = newError("NO_GAME", KindNotFound, "no game has been started")
)

// Authentication violations.
var (
	ErrUnauthorized         = newError("UNAUTHORIZED", KindAuth, "caller is not the operator")
	ErrUnauthorizedCallback = newError("UNAUTHORIZED_CALLBACK", KindAuth, "caller is not the randomness coordinator")
)

// External dependency failures.
var (
	ErrStalePrice       = newError("STALE_PRICE", KindExternal, "price quote is stale or non-positive")
	ErrPriceFeed        = newError("PRICE_FEED", KindExternal, "price feed read failed")
	ErrSwapFailed       = newError("SWAP_FAILED", KindExternal, "swap failed")
	ErrSlippage         = newError("SLIPPAGE", KindExternal, "swap output below floor")
	ErrTransferFailed   = newError("TRANSFER_FAILED", KindExternal, "token transfer failed")
	ErrRandomnessFailed = newError("RANDOMNESS_FAILED", KindExternal, "randomness request failed")
)

// Internal-consistency failures.
var (
	ErrInvariantViolation = newError("INVARIANT_VIOLATION", KindInvariant, "ledger invariant violated")
)

// KindOf returns the kind of the first engine error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the first engine error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}
