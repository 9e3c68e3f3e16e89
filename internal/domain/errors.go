package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrNotOwner        = errors.New("not the owner")
	ErrNotPending      = errors.New("query is not pending")
	ErrQueryClaimed    = errors.New("query already claimed")
	ErrAlreadyResolved = errors.New("market already resolved")
	ErrNotOracle       = errors.New("configured wallet is not the market oracle")
	ErrNoOutcome       = errors.New("no outcome could be extracted")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrPaymentRequired = errors.New("payment required")
	ErrPaymentInvalid  = errors.New("payment proof rejected")
	ErrNonceInvalid    = errors.New("nonce missing or expired")
	ErrLockHeld        = errors.New("lock already held")
)
