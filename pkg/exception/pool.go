package exception

import "errors"

var (
	ErrPoolExhausted       = errors.New("pool: exhausted")
	ErrPoolClosed          = errors.New("pool: closed")
	ErrConnectionUnhealthy = errors.New("pool: connection unhealthy")
	ErrNilFactory          = errors.New("pool: nil factory")
	ErrInvalidPoolConfig   = errors.New("pool: invalid config")
)
