package feed

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"tradegate/internal/model"
)

// Client multiplexes symbol subscriptions over one websocket to the
// upstream market data gateway. It satisfies the pipeline's Feed
// interface; raw messages are normalized before they leave this
// package.
type Client struct {
	wss    *ws.WebSocket
	reqSeq atomic.Int64
}

// NewClient prepares a client for the given feed URL.
func NewClient(ctx context.Context, url string) *Client {
	return &Client{
		wss: ws.New(ctx, url),
	}
}

// Start opens the websocket.
func (c *Client) Start(ctx context.Context) error {
	if err := c.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start feed websocket")
	}
	return nil
}

// Len returns the live observer count.
func (c *Client) Len() int {
	return c.wss.Len()
}

// Close tears the websocket down.
func (c *Client) Close() {
	c.wss.Close()
}

type feedRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
	ID   int64    `json:"id"`
}

type feedResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// Subscribe asks the upstream gateway to start streaming a symbol.
func (c *Client) Subscribe(ctx context.Context, symbol string) error {
	return c.send(ctx, "subscribe", symbol)
}

// Unsubscribe stops the upstream stream for a symbol.
func (c *Client) Unsubscribe(ctx context.Context, symbol string) error {
	return c.send(ctx, "unsubscribe", symbol)
}

func (c *Client) send(ctx context.Context, op, symbol string) error {
	reqID := c.reqSeq.Add(1)
	appendIntoRegister := op == "subscribe"
	if err := c.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, wss *ws.WebSocket) error {
			payload := feedRequest{
				Op:   op,
				Args: []string{symbol},
				ID:   reqID,
			}
			if err := wss.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write "+op+" payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp feedResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != reqID {
				return false, nil
			}
			if resp.Result != nil {
				return false, errors.Errorf("%s %s, err: %+v", op, symbol, resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}

// rawTick is the wire layout of an upstream tick. Prices travel as
// decimal strings.
type rawTick struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Exchange  string          `json:"exchange"`
	Last      decimal.Decimal `json:"last"`
	Volume    int64           `json:"volume"`
	Turnover  decimal.Decimal `json:"turnover"`
	BidPrice  decimal.Decimal `json:"bidPrice"`
	BidVolume int64           `json:"bidVolume"`
	AskPrice  decimal.Decimal `json:"askPrice"`
	AskVolume int64           `json:"askVolume"`
	Time      int64           `json:"time"`
}

// rawDepth is the wire layout of an upstream depth update.
// Rows are [price, volume] pairs of decimal strings.
type rawDepth struct {
	Type     string               `json:"type"`
	Symbol   string               `json:"symbol"`
	Exchange string               `json:"exchange"`
	Bids     [][2]decimal.Decimal `json:"bids"`
	Asks     [][2]decimal.Decimal `json:"asks"`
	Time     int64                `json:"time"`
}

// ObserveTicks decodes incoming ticks and hands them to handler until
// the returned cancel runs or ctx ends.
func (c *Client) ObserveTicks(ctx context.Context, handler func(model.Tick)) (unsubscribe func()) {
	ch, cancel := c.wss.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				var raw rawTick
				if err := m.Unmarshal(&raw); err != nil || raw.Type != "tick" {
					continue
				}
				tick, err := normalizeTick(raw)
				if err != nil {
					logs.Errorf("normalize tick, err: %+v", err)
					continue
				}
				handler(tick)
			}
		}
	}()
	return cancel
}

// ObserveDepth decodes incoming depth updates and hands them to handler.
func (c *Client) ObserveDepth(ctx context.Context, handler func(model.Depth)) (unsubscribe func()) {
	ch, cancel := c.wss.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				var raw rawDepth
				if err := m.Unmarshal(&raw); err != nil || raw.Type != "depth" {
					continue
				}
				depth, err := normalizeDepth(raw)
				if err != nil {
					logs.Errorf("normalize depth, err: %+v", err)
					continue
				}
				handler(depth)
			}
		}
	}()
	return cancel
}

func normalizeTick(raw rawTick) (model.Tick, error) {
	last, err := toFloat(raw.Last)
	if err != nil {
		return model.Tick{}, errors.Wrap(err, "last price")
	}
	turnover, err := toFloat(raw.Turnover)
	if err != nil {
		return model.Tick{}, errors.Wrap(err, "turnover")
	}
	bid, err := toFloat(raw.BidPrice)
	if err != nil {
		return model.Tick{}, errors.Wrap(err, "bid price")
	}
	ask, err := toFloat(raw.AskPrice)
	if err != nil {
		return model.Tick{}, errors.Wrap(err, "ask price")
	}

	return model.Tick{
		Symbol:    raw.Symbol,
		Exchange:  raw.Exchange,
		LastPrice: last,
		Volume:    raw.Volume,
		Turnover:  turnover,
		BidPrice:  bid,
		BidVolume: raw.BidVolume,
		AskPrice:  ask,
		AskVolume: raw.AskVolume,
		Timestamp: time.UnixMilli(raw.Time).UTC(),
	}, nil
}

func normalizeDepth(raw rawDepth) (model.Depth, error) {
	depth := model.Depth{
		Symbol:    raw.Symbol,
		Exchange:  raw.Exchange,
		Bids:      make([]model.PriceLevel, 0, len(raw.Bids)),
		Asks:      make([]model.PriceLevel, 0, len(raw.Asks)),
		Timestamp: time.UnixMilli(raw.Time).UTC(),
	}
	for _, row := range raw.Bids {
		level, err := toLevel(row)
		if err != nil {
			return model.Depth{}, errors.Wrap(err, "bid row")
		}
		depth.Bids = append(depth.Bids, level)
	}
	for _, row := range raw.Asks {
		level, err := toLevel(row)
		if err != nil {
			return model.Depth{}, errors.Wrap(err, "ask row")
		}
		depth.Asks = append(depth.Asks, level)
	}
	return depth, nil
}

func toLevel(row [2]decimal.Decimal) (model.PriceLevel, error) {
	price, err := toFloat(row[0])
	if err != nil {
		return model.PriceLevel{}, err
	}
	volume, err := toFloat(row[1])
	if err != nil {
		return model.PriceLevel{}, err
	}
	return model.PriceLevel{Price: price, Volume: int64(volume)}, nil
}

func toFloat(d decimal.Decimal) (float64, error) {
	s := d.String()
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
