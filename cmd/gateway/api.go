package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/yanun0323/logs"

	"tradegate/internal/engine"
	"tradegate/internal/market"
	"tradegate/internal/model"
	"tradegate/internal/model/enum"
)

// api exposes the order entry and query surface over HTTP JSON.
type api struct {
	engine   *engine.Engine
	pipeline *market.Pipeline
}

func registerRoutes(mux *http.ServeMux, a *api) {
	mux.HandleFunc("POST /api/orders", a.submitOrder)
	mux.HandleFunc("POST /api/orders/{ref}/cancel", a.cancelOrder)
	mux.HandleFunc("GET /api/orders/{ref}", a.getOrder)
	mux.HandleFunc("GET /api/positions", a.getPositions)
	mux.HandleFunc("GET /api/ticks", a.getTicks)
	mux.HandleFunc("GET /healthz", a.health)
}

type submitRequest struct {
	UserID    string  `json:"userId"`
	Symbol    string  `json:"symbol"`
	Exchange  string  `json:"exchange"`
	Direction string  `json:"direction"`
	Offset    string  `json:"offset"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
}

func (a *api) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	direction, ok := parseDirection(req.Direction)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid direction")
		return
	}
	offset, ok := parseOffset(req.Offset)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	orderRef, err := a.engine.SubmitOrder(r.Context(), req.UserID, model.OrderRequest{
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Direction: direction,
		Offset:    offset,
		Price:     req.Price,
		Volume:    req.Volume,
	})
	if err != nil {
		logs.Warnf("submit order for %s, err: %+v", req.UserID, err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"orderRef": orderRef})
}

func (a *api) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderRef := r.PathValue("ref")
	if err := a.engine.CancelOrder(r.Context(), orderRef); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"orderRef": orderRef})
}

func (a *api) getOrder(w http.ResponseWriter, r *http.Request) {
	orderRef := r.PathValue("ref")
	order, ok := a.engine.Order(orderRef)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order":  order,
		"status": order.Status.String(),
		"trades": a.engine.Trades(orderRef),
	})
}

func (a *api) getPositions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user")
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Positions(userID))
}

func (a *api) getTicks(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, a.pipeline.RecentTicks(symbol, limit))
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"market": a.pipeline.Stats(),
	})
}

func parseDirection(s string) (enum.Direction, bool) {
	switch s {
	case "buy":
		return enum.DirectionBuy, true
	case "sell":
		return enum.DirectionSell, true
	default:
		return 0, false
	}
}

func parseOffset(s string) (enum.Offset, bool) {
	switch s {
	case "open":
		return enum.OffsetOpen, true
	case "close":
		return enum.OffsetClose, true
	case "close_today":
		return enum.OffsetCloseToday, true
	case "close_yesterday":
		return enum.OffsetCloseYesterday, true
	default:
		return 0, false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logs.Errorf("encode response, err: %+v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
