package common

import "context"

// Gateway abstracts a trading venue.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
}

// Account reports the account value used for sizing and daily loss checks.
type Account interface {
	Equity(ctx context.Context) (float64, error)
}

// Venue is a gateway that can also value its account.
type Venue interface {
	Gateway
	Account
	Name() string
}

// HoldingsReader reports base-asset quantities held per trading symbol, for
// example {"BTCUSDT": 0.5}.
type HoldingsReader interface {
	Holdings(ctx context.Context) (map[string]float64, error)
}
