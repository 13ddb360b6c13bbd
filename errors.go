package main

import (
	"errors"
	"fmt"
)

// Expected outcomes returned to callers. Only ErrStorageUnavailable is an
// infrastructure fault; everything else is a normal rejection the
// presentation layer turns into a concrete reply.
var (
	ErrInsufficientFunds = errors.New("INSUFFICIENT_FUNDS")
	ErrInvalidOperand    = errors.New("INVALID_OPERAND")
	ErrNotFound          = errors.New("NOT_FOUND")
	ErrExhausted         = errors.New("CODE_EXHAUSTED")
	ErrNoActiveSpawn     = errors.New("NO_ACTIVE_SPAWN")
	ErrWrongGuess        = errors.New("WRONG_GUESS")
	ErrBidTooLow         = errors.New("BID_TOO_LOW")
	ErrAuctionActive     = errors.New("AUCTION_ACTIVE")
	ErrNoAuction         = errors.New("NO_AUCTION")

	ErrStorageUnavailable = errors.New("STORAGE_UNAVAILABLE")
)

// CooldownError reports how long until the action becomes available again.
type CooldownError struct {
	RemainingSeconds int64
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("COOLDOWN_ACTIVE: %ds remaining", e.RemainingSeconds)
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
