package order

import (
	"errors"
	"fmt"
	"strings"

	"autotrader/pkg/exchanges/common"
)

// ErrRejected means the venue refused, canceled or expired the order.
var ErrRejected = errors.New("order rejected")

// Mode selects the venue orders are routed to.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// ParseMode accepts "paper" or "live" in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePaper, ModeLive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown trading mode %q", s)
	}
}

// Request is an order intent from the scheduler or emergency control.
type Request struct {
	StrategyID string
	Symbol     string
	Side       common.Side
	Type       common.OrderType
	Shares     float64
	// Price is the limit price; ignored for market orders.
	Price float64
	// RefPrice is used as the fill price when the venue reports none.
	RefPrice float64
}

// Result is the confirmed outcome of a placement.
type Result struct {
	OrderID         string             `json:"order_id"`
	ExchangeOrderID string             `json:"exchange_order_id"`
	Status          common.OrderStatus `json:"status"`
	FilledQty       float64            `json:"filled_qty"`
	FillPrice       float64            `json:"fill_price"`
	Venue           string             `json:"venue"`
}
