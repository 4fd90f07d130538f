// Package report renders audit trades and their statistics for operators.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"autotrader/internal/audit"
)

// RenderStats writes the performance summary as a two-column table.
func RenderStats(w io.Writer, title string, s audit.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Total trades", s.TotalTrades},
		{"Closed trades", s.ClosedTrades},
		{"Winning / losing", fmt.Sprintf("%d / %d", s.WinningTrades, s.LosingTrades)},
		{"Win rate", fmt.Sprintf("%.2f%%", s.WinRate)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Total PnL", money(s.TotalPnL)},
		{"Average PnL", money(s.AvgPnL)},
		{"Average win", money(s.AvgWin)},
		{"Average loss", money(s.AvgLoss)},
		{"Largest win", money(s.LargestWin)},
		{"Largest loss", money(s.LargestLoss)},
		{"Profit factor", strconv.FormatFloat(s.ProfitFactor, 'f', 2, 64)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 14, Align: text.AlignRight},
	})
	t.Render()
}

// RenderTrades writes one row per trade, newest last.
func RenderTrades(w io.Writer, trades []audit.Trade) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("TRADES")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Strategy", "Symbol", "Side", "Shares", "Price", "PnL", "Reason"})

	for _, tr := range trades {
		pnl := "-"
		if tr.RealizedPnL != nil {
			pnl = money(*tr.RealizedPnL)
		}
		t.AppendRow(table.Row{
			tr.Time.UTC().Format(time.DateTime),
			tr.StrategyID,
			tr.Symbol,
			tr.Side,
			strconv.FormatFloat(tr.Shares, 'f', -1, 64),
			strconv.FormatFloat(tr.Price, 'f', -1, 64),
			pnl,
			tr.Reason,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", fmt.Sprintf("%d trades", len(trades))})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	t.Render()
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
