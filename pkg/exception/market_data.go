package exception

import "errors"

var (
	ErrInvalidTick     = errors.New("market data: invalid tick")
	ErrInvalidDepth    = errors.New("market data: invalid depth")
	ErrPipelineStopped = errors.New("market data: pipeline stopped")
	ErrSubscriberGone  = errors.New("market data: subscriber gone")
	ErrPersistence     = errors.New("persistence: save failed")
)
