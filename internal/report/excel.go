package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"autotrader/internal/audit"
)

const (
	tradesSheet  = "Trades"
	summarySheet = "Summary"
)

var tradeColumns = []string{"Time", "Strategy", "Symbol", "Side", "Shares", "Price", "Realized PnL", "Reason", "Trade ID", "Order ID"}

// WriteXLSX exports trades and their statistics to a workbook at path.
func WriteXLSX(path string, trades []audit.Trade, stats audit.Stats) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	if err := fx.SetSheetName(fx.GetSheetName(0), tradesSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	header, err := fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	profit, err := fx.NewStyle(&excelize.Style{NumFmt: 4, Font: &excelize.Font{Color: "008000"}})
	if err != nil {
		return err
	}
	loss, err := fx.NewStyle(&excelize.Style{NumFmt: 4, Font: &excelize.Font{Color: "C00000"}})
	if err != nil {
		return err
	}

	if err := writeTrades(fx, trades, header, profit, loss); err != nil {
		return err
	}
	if err := writeSummary(fx, stats, header); err != nil {
		return err
	}

	if err := fx.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func writeTrades(fx *excelize.File, trades []audit.Trade, header, profit, loss int) error {
	headerRow := make([]any, len(tradeColumns))
	for i, c := range tradeColumns {
		headerRow[i] = c
	}
	if err := fx.SetSheetRow(tradesSheet, "A1", &headerRow); err != nil {
		return err
	}
	if err := fx.SetCellStyle(tradesSheet, "A1", "J1", header); err != nil {
		return err
	}

	for i, tr := range trades {
		row := i + 2
		var pnl any
		if tr.RealizedPnL != nil {
			pnl = *tr.RealizedPnL
		}
		values := []any{
			tr.Time.UTC().Format("2006-01-02 15:04:05"),
			tr.StrategyID, tr.Symbol, tr.Side, tr.Shares, tr.Price, pnl,
			tr.Reason, tr.ID, tr.OrderID,
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := fx.SetSheetRow(tradesSheet, cell, &values); err != nil {
			return err
		}
		if tr.RealizedPnL != nil {
			style := profit
			if *tr.RealizedPnL < 0 {
				style = loss
			}
			pnlCell := fmt.Sprintf("G%d", row)
			if err := fx.SetCellStyle(tradesSheet, pnlCell, pnlCell, style); err != nil {
				return err
			}
		}
	}

	_ = fx.SetColWidth(tradesSheet, "A", "A", 20)
	_ = fx.SetColWidth(tradesSheet, "B", "C", 14)
	_ = fx.SetColWidth(tradesSheet, "G", "H", 14)
	_ = fx.SetColWidth(tradesSheet, "I", "J", 38)
	return fx.SetPanes(tradesSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeSummary(fx *excelize.File, s audit.Stats, header int) error {
	rows := [][]any{
		{"Metric", "Value"},
		{"Total trades", s.TotalTrades},
		{"Closed trades", s.ClosedTrades},
		{"Winning trades", s.WinningTrades},
		{"Losing trades", s.LosingTrades},
		{"Win rate %", s.WinRate},
		{"Total PnL", s.TotalPnL},
		{"Average PnL", s.AvgPnL},
		{"Average win", s.AvgWin},
		{"Average loss", s.AvgLoss},
		{"Largest win", s.LargestWin},
		{"Largest loss", s.LargestLoss},
		{"Profit factor", s.ProfitFactor},
	}
	for i, r := range rows {
		if err := fx.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &r); err != nil {
			return err
		}
	}
	_ = fx.SetColWidth(summarySheet, "A", "A", 18)
	_ = fx.SetColWidth(summarySheet, "B", "B", 14)
	return fx.SetCellStyle(summarySheet, "A1", "B1", header)
}
