package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidProposal = errors.New("invalid proposal")
	ErrLockHeld        = errors.New("lock already held")
	ErrTradeNotOpen    = errors.New("trade not open")
	ErrOrderRejected   = errors.New("order rejected")
	ErrTiersExhausted  = errors.New("execution tiers exhausted")
	ErrQuarantined     = errors.New("record quarantined")
)
