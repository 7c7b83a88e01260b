package model

import (
	"time"

	"tradegate/internal/model/enum"
)

// Envelope wraps one push payload for delivery to a client.
type Envelope struct {
	Type      enum.EnvelopeType `json:"type"`
	Symbol    string            `json:"symbol,omitempty"`
	Data      any               `json:"data"`
	Timestamp int64             `json:"timestamp"`
}

// NewEnvelope stamps an envelope with the current time.
func NewEnvelope(t enum.EnvelopeType, symbol string, data any) Envelope {
	return Envelope{
		Type:      t,
		Symbol:    symbol,
		Data:      data,
		Timestamp: time.Now().UTC().UnixNano(),
	}
}
