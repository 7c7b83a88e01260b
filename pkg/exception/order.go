package exception

import "errors"

var (
	ErrInvalidTransition = errors.New("order: invalid state transition")
	ErrInvalidState      = errors.New("order: invalid state for operation")
	ErrOrderNotFound     = errors.New("order: not found")
	ErrOrderQueueFull    = errors.New("order: submit queue full")
	ErrRiskRejected      = errors.New("order: rejected by risk check")
	ErrUpstreamTimeout   = errors.New("order: exchange submission timed out")
	ErrFillOverflow      = errors.New("order: fill exceeds remaining volume")
)
