package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"autotrader/internal/audit"
	"autotrader/internal/engine"
	"autotrader/internal/order"
	"autotrader/internal/scheduler"
	"autotrader/internal/strategy"
)

type createStrategyRequest struct {
	ID        string         `json:"id" binding:"required,min=1,max=64"`
	Name      string         `json:"name" binding:"max=120"`
	Type      string         `json:"type" binding:"required,min=1"`
	Symbols   []string       `json:"symbols" binding:"required,min=1"`
	Timeframe string         `json:"timeframe" binding:"required,min=1"`
	Params    map[string]any `json:"params"`
}

type tradesQuery struct {
	StrategyID string `form:"strategy_id"`
	Symbol     string `form:"symbol"`
	From       string `form:"from"`
	To         string `form:"to"`
	Limit      int    `form:"limit"`
}

type haltRequest struct {
	Reason string `json:"reason"`
}

type tradingModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine and scheduler errors onto HTTP statuses.
func respondEngineError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, scheduler.ErrExists):
		respondError(c, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, scheduler.ErrInvalidDefinition):
		respondError(c, http.StatusBadRequest, "INVALID_DEFINITION", err.Error())
	case errors.Is(err, scheduler.ErrInvalidTransition):
		respondError(c, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, scheduler.ErrStrategyRunning):
		respondError(c, http.StatusConflict, "STRATEGY_RUNNING", err.Error())
	case errors.Is(err, scheduler.ErrOpenPositions):
		respondError(c, http.StatusConflict, "OPEN_POSITIONS", err.Error())
	case errors.Is(err, engine.ErrStrategiesActive):
		respondError(c, http.StatusConflict, "STRATEGIES_ACTIVE", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

// --- Strategies ---

func (s *Server) getStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.ListStrategies(c.Request.Context()))
}

func (s *Server) getStrategy(c *gin.Context) {
	info, err := s.Engine.GetStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// createStrategy registers a new strategy in STOPPED state.
func (s *Server) createStrategy(c *gin.Context) {
	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	info, err := s.Engine.CreateStrategy(c.Request.Context(), strategy.Definition{
		ID:        strings.TrimSpace(req.ID),
		Name:      req.Name,
		Type:      strategy.Type(strings.ToLower(strings.TrimSpace(req.Type))),
		Symbols:   req.Symbols,
		Timeframe: req.Timeframe,
		Params:    strategy.Params(req.Params),
	})
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) deleteStrategy(c *gin.Context) {
	if err := s.Engine.DeleteStrategy(c.Request.Context(), c.Param("id")); err != nil {
		respondEngineError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) startStrategy(c *gin.Context) {
	s.transition(c, s.Engine.StartStrategy)
}

func (s *Server) pauseStrategy(c *gin.Context) {
	s.transition(c, s.Engine.PauseStrategy)
}

func (s *Server) stopStrategy(c *gin.Context) {
	s.transition(c, s.Engine.StopStrategy)
}

func (s *Server) transition(c *gin.Context, fn func(context.Context, string) error) {
	id := c.Param("id")
	if err := fn(c.Request.Context(), id); err != nil {
		respondEngineError(c, err)
		return
	}
	info, err := s.Engine.GetStrategy(c.Request.Context(), id)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// --- Emergency ---

// emergencyStop runs to completion even if the client disconnects.
func (s *Server) emergencyStop(c *gin.Context) {
	report, err := s.Engine.EmergencyStop(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		_ = c.Error(err)
		body := gin.H{"code": "EMERGENCY_INCOMPLETE", "error": err.Error(), "report": report}
		var lerr *engine.LiquidationError
		if errors.As(err, &lerr) {
			remaining := make([]string, len(lerr.Remaining))
			for i, k := range lerr.Remaining {
				remaining[i] = k.String()
			}
			body["remaining"] = remaining
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, report)
}

// --- Positions & Trades ---

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetPositions(c.Request.Context()))
}

func (s *Server) getTrades(c *gin.Context) {
	f, ok := bindTradeFilter(c)
	if !ok {
		return
	}
	trades, err := s.Engine.GetTradeHistory(c.Request.Context(), f)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	if trades == nil {
		trades = []audit.Trade{}
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) getTradeStats(c *gin.Context) {
	f, ok := bindTradeFilter(c)
	if !ok {
		return
	}
	stats, err := s.Engine.GetTradeStats(c.Request.Context(), f)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) exportTrades(c *gin.Context) {
	f, ok := bindTradeFilter(c)
	if !ok {
		return
	}
	trades, err := s.Engine.GetTradeHistory(c.Request.Context(), f)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	name := fmt.Sprintf("trades-%s.csv", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Status(http.StatusOK)
	if err := audit.WriteCSV(c.Writer, trades); err != nil {
		_ = c.Error(err)
	}
}

func bindTradeFilter(c *gin.Context) (audit.Filter, bool) {
	var q tradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return audit.Filter{}, false
	}
	from, err := parseTime(q.From)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "from: "+err.Error())
		return audit.Filter{}, false
	}
	to, err := parseTime(q.To)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "to: "+err.Error())
		return audit.Filter{}, false
	}
	if q.Limit < 0 {
		q.Limit = 0
	}
	return audit.Filter{StrategyID: q.StrategyID, Symbol: q.Symbol, From: from, To: to, Limit: q.Limit}, true
}

// parseTime accepts RFC3339, a plain date or unix seconds. Empty means unset.
func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

// --- Risk ---

func (s *Server) getDailyRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetDailyRiskState(c.Request.Context()))
}

func (s *Server) resumeTrading(c *gin.Context) {
	if err := s.Engine.ResumeTrading(c.Request.Context()); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.GetDailyRiskState(c.Request.Context()))
}

func (s *Server) haltTrading(c *gin.Context) {
	var req haltRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	if err := s.Engine.HaltTrading(c.Request.Context(), req.Reason); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.GetDailyRiskState(c.Request.Context()))
}

func (s *Server) getPortfolioHeat(c *gin.Context) {
	heat, err := s.Engine.GetPortfolioHeat(c.Request.Context())
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, heat)
}

// --- System ---

func (s *Server) setTradingMode(c *gin.Context) {
	var req tradingModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	mode, err := order.ParseMode(req.Mode)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_MODE", err.Error())
		return
	}
	if err := s.Engine.SetTradingMode(c.Request.Context(), mode); err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}
