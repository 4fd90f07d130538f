package audit

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Stats summarizes closed trades, i.e. entries carrying a realized P&L.
// WinRate is a percentage. AvgLoss is a positive magnitude while
// LargestLoss keeps its sign.
type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	ClosedTrades  int     `json:"closed_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
}

const statsPlaces = 8

// ComputeStats sums in decimal so long histories do not drift. With no
// closed trades every metric is zero; with no losses ProfitFactor is zero.
func ComputeStats(trades []Trade) Stats {
	s := Stats{TotalTrades: len(trades)}

	var (
		total, wins, losses decimal.Decimal
		largestWin          decimal.Decimal
		largestLoss         decimal.Decimal
	)
	for _, t := range trades {
		if t.RealizedPnL == nil {
			continue
		}
		pnl := decimal.NewFromFloat(*t.RealizedPnL)
		s.ClosedTrades++
		total = total.Add(pnl)
		switch pnl.Sign() {
		case 1:
			s.WinningTrades++
			wins = wins.Add(pnl)
			if pnl.GreaterThan(largestWin) {
				largestWin = pnl
			}
		case -1:
			s.LosingTrades++
			losses = losses.Add(pnl.Abs())
			if pnl.LessThan(largestLoss) {
				largestLoss = pnl
			}
		}
	}
	if s.ClosedTrades == 0 {
		return s
	}

	closed := decimal.NewFromInt(int64(s.ClosedTrades))
	s.WinRate = ratio(decimal.NewFromInt(int64(s.WinningTrades)).Mul(decimal.NewFromInt(100)), closed)
	s.TotalPnL = total.Round(statsPlaces).InexactFloat64()
	s.AvgPnL = ratio(total, closed)
	if s.WinningTrades > 0 {
		s.AvgWin = ratio(wins, decimal.NewFromInt(int64(s.WinningTrades)))
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = ratio(losses, decimal.NewFromInt(int64(s.LosingTrades)))
		s.ProfitFactor = ratio(wins, losses)
	}
	s.LargestWin = largestWin.InexactFloat64()
	s.LargestLoss = largestLoss.InexactFloat64()
	return s
}

func ratio(num, den decimal.Decimal) float64 {
	if den.IsZero() {
		return 0
	}
	return num.DivRound(den, statsPlaces).InexactFloat64()
}

var csvHeader = []string{"id", "time", "strategy_id", "symbol", "side", "shares", "price", "realized_pnl", "reason", "order_id"}

// WriteCSV writes trades with a header row. Realized P&L is empty for entries.
func WriteCSV(w io.Writer, trades []Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range trades {
		pnl := ""
		if t.RealizedPnL != nil {
			pnl = strconv.FormatFloat(*t.RealizedPnL, 'f', -1, 64)
		}
		rec := []string{
			t.ID,
			t.Time.UTC().Format(time.RFC3339Nano),
			t.StrategyID,
			t.Symbol,
			t.Side,
			strconv.FormatFloat(t.Shares, 'f', -1, 64),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			pnl,
			t.Reason,
			t.OrderID,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
