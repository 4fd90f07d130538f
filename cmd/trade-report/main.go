// Command trade-report prints statistics and trades from the runner's SQLite
// trade log, and can export them to an XLSX workbook.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"autotrader/internal/audit"
	"autotrader/internal/report"
	"autotrader/pkg/config"
	"autotrader/pkg/db"
	"autotrader/pkg/logger"
)

func main() {
	var (
		dbPath     = flag.String("db", envOr("DB_PATH", "./data/autotrader.db"), "Path to the SQLite database")
		strategyID = flag.String("strategy", "", "Only trades of this strategy id")
		symbol     = flag.String("symbol", "", "Only trades of this symbol")
		from       = flag.String("from", "", "Start date (YYYY-MM-DD or RFC3339)")
		to         = flag.String("to", "", "End date, exclusive (YYYY-MM-DD or RFC3339)")
		limit      = flag.Int("limit", 0, "Maximum number of trades (0 = all)")
		showTrades = flag.Bool("trades", false, "Print every trade, not only the summary")
		xlsxPath   = flag.String("xlsx", "", "Also write an XLSX workbook to this path")
	)
	flag.Parse()

	log, err := logger.New(config.LogConfig{Level: "warn", Encoding: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	filter := audit.Filter{StrategyID: *strategyID, Symbol: *symbol, Limit: *limit}
	if filter.From, err = parseDate(*from); err != nil {
		log.Fatal("invalid -from", zap.Error(err))
	}
	if filter.To, err = parseDate(*to); err != nil {
		log.Fatal("invalid -to", zap.Error(err))
	}

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatal("database not found", zap.String("path", *dbPath), zap.Error(err))
	}
	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatal("open database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	trades, err := audit.NewLog(database.Queries(), nil, log).Query(ctx, filter)
	if err != nil {
		log.Fatal("query trades", zap.Error(err))
	}
	stats := audit.ComputeStats(trades)

	report.RenderStats(os.Stdout, title(filter), stats)
	if *showTrades {
		fmt.Println()
		report.RenderTrades(os.Stdout, trades)
	}

	if *xlsxPath != "" {
		if err := report.WriteXLSX(*xlsxPath, trades, stats); err != nil {
			log.Fatal("write xlsx", zap.Error(err))
		}
		fmt.Printf("\nworkbook written to %s\n", *xlsxPath)
	}
}

func title(f audit.Filter) string {
	t := "TRADE PERFORMANCE"
	if f.StrategyID != "" {
		t += " | " + f.StrategyID
	}
	if f.Symbol != "" {
		t += " | " + f.Symbol
	}
	return t
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
