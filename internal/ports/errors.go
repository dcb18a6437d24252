package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown         = errors.New("unknown error occurred")
	ErrInvalidRequest  = errors.New("invalid request parameters or format")
	ErrNotFound        = errors.New("resource not found")
	ErrTimeout         = errors.New("operation timed out")
	ErrContextCanceled = errors.New("operation canceled via context")

	// Ledger Errors
	ErrInsufficientBalance = errors.New("insufficient balance for margin and fee")
	ErrPositionClosed      = errors.New("position is not open")
	ErrInvalidPosition     = errors.New("invalid position parameters")

	// Market Data Errors
	ErrPriceUnavailable    = errors.New("price unavailable from provider")
	ErrPriceStale          = errors.New("cached price exceeds staleness ceiling")
	ErrUnsupportedExchange = errors.New("exchange is not supported")

	// Decision Engine Errors
	ErrDecisionEngine = errors.New("decision engine failure")

	// Persistence Errors
	ErrPersistence    = errors.New("persistence operation failed")
	ErrDuplicateEntry = errors.New("record already exists")
)
