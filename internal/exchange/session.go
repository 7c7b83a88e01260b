package exchange

import (
	"context"
	"sync/atomic"

	"tradegate/internal/pool"
	"tradegate/pkg/exception"
)

// Session is one leased venue connection. The simulator has no real
// wire underneath, so health is a local flag.
type Session struct {
	closed atomic.Bool
}

func (s *Session) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return exception.ErrConnectionUnhealthy
	}
	return ctx.Err()
}

func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

// SessionFactory dials simulator sessions for the connection pool.
func SessionFactory() pool.Factory {
	return pool.FactoryFunc(func(ctx context.Context) (pool.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Session{}, nil
	})
}
