package market

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	binance "autotrader/pkg/market/binance"
)

// BinanceGateway serves bars from the Binance klines endpoint.
type BinanceGateway struct {
	Client *binance.Client
}

// NewBinanceGateway wraps a REST client.
func NewBinanceGateway(client *binance.Client) *BinanceGateway {
	return &BinanceGateway{Client: client}
}

// LatestBars implements Gateway. Network errors, throttling and server-side
// failures are reported as ErrUnavailable.
func (g *BinanceGateway) LatestBars(ctx context.Context, symbol, timeframe string, lookback int) ([]Bar, error) {
	klines, err := g.Client.GetKlines(ctx, symbol, timeframe, lookback, 0, 0)
	if err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, symbol, timeframe, err)
		}
		return nil, fmt.Errorf("klines %s %s: %w", symbol, timeframe, err)
	}
	if len(klines) == 0 {
		return nil, fmt.Errorf("%w: %s %s: empty response", ErrUnavailable, symbol, timeframe)
	}

	bars := make([]Bar, len(klines))
	for i, k := range klines {
		bars[i] = Bar{
			Time:   time.UnixMilli(k.OpenTime).UTC(),
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
		}
	}
	return bars, nil
}

func isTransient(err error) bool {
	var se *binance.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
