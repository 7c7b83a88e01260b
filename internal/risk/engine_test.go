package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"tradegate/internal/model"
	"tradegate/internal/model/enum"
	"tradegate/pkg/exception"
)

func validRequest() model.OrderRequest {
	return model.OrderRequest{
		Symbol:    "rb2501",
		Exchange:  "SHFE",
		Direction: enum.DirectionBuy,
		Offset:    enum.OffsetOpen,
		Price:     100,
		Volume:    10,
	}
}

func TestCheckValidation(t *testing.T) {
	e := NewEngine(Config{}, nil)

	req := validRequest()
	req.Symbol = ""
	assert.ErrorIs(t, e.Check("u1", req), exception.ErrValidation)

	req = validRequest()
	req.Volume = 0
	assert.ErrorIs(t, e.Check("u1", req), exception.ErrValidation)

	req = validRequest()
	req.Price = -1
	assert.ErrorIs(t, e.Check("u1", req), exception.ErrValidation)

	assert.NoError(t, e.Check("u1", validRequest()))
}

func TestCheckKillSwitch(t *testing.T) {
	e := NewEngine(Config{KillSwitch: true}, nil)
	assert.ErrorIs(t, e.Check("u1", validRequest()), exception.ErrRiskRejected)
}

func TestCheckLimits(t *testing.T) {
	e := NewEngine(Config{MaxOrderVolume: 5}, nil)
	assert.ErrorIs(t, e.Check("u1", validRequest()), exception.ErrRiskRejected)

	e = NewEngine(Config{MaxOrderNotional: 500}, nil)
	assert.ErrorIs(t, e.Check("u1", validRequest()), exception.ErrRiskRejected)
}

func TestCheckPositionLimit(t *testing.T) {
	positions := func(userID, symbol string) int64 { return 95 }
	e := NewEngine(Config{MaxPosition: 100}, positions)

	assert.ErrorIs(t, e.Check("u1", validRequest()), exception.ErrRiskRejected)

	closing := validRequest()
	closing.Direction = enum.DirectionSell
	closing.Offset = enum.OffsetClose
	assert.NoError(t, e.Check("u1", closing))
}

func TestCheckRateLimit(t *testing.T) {
	e := NewEngine(Config{OrderRate: rate.Limit(1), OrderBurst: 2}, nil)

	assert.NoError(t, e.Check("u1", validRequest()))
	assert.NoError(t, e.Check("u1", validRequest()))
	assert.ErrorIs(t, e.Check("u1", validRequest()), exception.ErrRiskRejected)

	// Independent limiter per user.
	assert.NoError(t, e.Check("u2", validRequest()))
}
