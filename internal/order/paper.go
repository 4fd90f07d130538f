package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"autotrader/pkg/exchanges/common"
)

// PriceSource resolves the latest mark. *market.Marks implements it.
type PriceSource interface {
	Get(symbol string) (float64, bool)
}

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	StartingCash float64
	SlippageBps  float64
	FeeRate      float64
}

// PaperBroker simulates a spot account: market orders fill immediately at
// the latest mark moved against the taker by the configured slippage, with a
// proportional fee charged in cash. It never goes short.
type PaperBroker struct {
	prices PriceSource
	cfg    PaperConfig

	mu       sync.Mutex
	cash     float64
	holdings map[string]float64
	lastFill map[string]float64
	orders   map[string]common.OrderStatus
	seq      int64
}

var (
	_ common.Venue          = (*PaperBroker)(nil)
	_ common.HoldingsReader = (*PaperBroker)(nil)
)

// NewPaperBroker creates a paper account funded with cfg.StartingCash.
func NewPaperBroker(prices PriceSource, cfg PaperConfig) *PaperBroker {
	return &PaperBroker{
		prices:   prices,
		cfg:      cfg,
		cash:     cfg.StartingCash,
		holdings: make(map[string]float64),
		lastFill: make(map[string]float64),
		orders:   make(map[string]common.OrderStatus),
	}
}

func (p *PaperBroker) Name() string { return "paper" }

func (p *PaperBroker) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return common.OrderResult{}, err
	}
	if req.Qty <= 0 {
		return common.OrderResult{}, fmt.Errorf("paper: invalid quantity %v", req.Qty)
	}

	mark, ok := p.price(req)
	if !ok {
		return common.OrderResult{}, fmt.Errorf("paper: no price for %s", req.Symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	id := strconv.FormatInt(p.seq, 10)
	res := common.OrderResult{ExchangeOrderID: id, ClientID: req.ClientID}

	slip := mark * p.cfg.SlippageBps / 10000
	switch req.Side {
	case common.SideBuy:
		fill := mark + slip
		cost := req.Qty * fill
		fee := cost * p.cfg.FeeRate
		if cost+fee > p.cash {
			res.Status = common.StatusRejected
			p.orders[id] = res.Status
			return res, nil
		}
		p.cash -= cost + fee
		p.holdings[req.Symbol] += req.Qty
		res.AvgPrice = fill
	case common.SideSell:
		if req.Qty > p.holdings[req.Symbol]+1e-9 {
			res.Status = common.StatusRejected
			p.orders[id] = res.Status
			return res, nil
		}
		fill := mark - slip
		proceeds := req.Qty * fill
		p.cash += proceeds - proceeds*p.cfg.FeeRate
		p.holdings[req.Symbol] -= req.Qty
		if p.holdings[req.Symbol] <= 1e-9 {
			delete(p.holdings, req.Symbol)
		}
		res.AvgPrice = fill
	default:
		return common.OrderResult{}, fmt.Errorf("paper: unknown side %q", req.Side)
	}

	p.lastFill[req.Symbol] = res.AvgPrice
	res.Status = common.StatusFilled
	res.ExecutedQty = req.Qty
	p.orders[id] = res.Status
	return res, nil
}

// price uses the mark, then the limit price of the request.
func (p *PaperBroker) price(req common.OrderRequest) (float64, bool) {
	if p.prices != nil {
		if px, ok := p.prices.Get(req.Symbol); ok && px > 0 {
			return px, true
		}
	}
	if req.Price > 0 {
		return req.Price, true
	}
	return 0, false
}

// CancelOrder only succeeds for resting orders. Paper market orders fill on
// submission, so canceling one reports its final status.
func (p *PaperBroker) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", exchangeOrderID)
	}
	if st == common.StatusNew || st == common.StatusPartial {
		p.orders[exchangeOrderID] = common.StatusCanceled
		return nil
	}
	return fmt.Errorf("paper: order %s is %s: %w", exchangeOrderID, st, errNotCancelable)
}

var errNotCancelable = errors.New("order is not open")

// Equity is cash plus holdings at their latest mark, falling back to the
// last fill price for symbols without a mark.
func (p *PaperBroker) Equity(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.cash
	for sym, qty := range p.holdings {
		px, ok := 0.0, false
		if p.prices != nil {
			px, ok = p.prices.Get(sym)
		}
		if !ok {
			px = p.lastFill[sym]
		}
		total += qty * px
	}
	return total, nil
}

// Cash returns the uninvested balance.
func (p *PaperBroker) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Holdings implements common.HoldingsReader.
func (p *PaperBroker) Holdings(ctx context.Context) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.holdings))
	for sym, qty := range p.holdings {
		out[sym] = qty
	}
	return out, nil
}

// Holding returns the simulated quantity held for symbol.
func (p *PaperBroker) Holding(symbol string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[symbol]
}
