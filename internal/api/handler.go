package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"autotrader/internal/engine"
	"autotrader/internal/events"
)

// Subscriber is the read side of the event bus. *events.Bus implements it.
type Subscriber interface {
	SubscribeMany(topics []events.Event, buffer int) (<-chan any, func())
}

// Options configures a Server. Bus and Metrics are optional.
type Options struct {
	Engine         engine.Service
	Bus            Subscriber
	Metrics        http.Handler
	Log            *zap.Logger
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
}

// Server wires HTTP endpoints around the engine service.
type Server struct {
	Router  *gin.Engine
	Engine  engine.Service
	Bus     Subscriber
	Metrics http.Handler
	log     *zap.Logger
}

func NewServer(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.CustomRecovery(recoveryHandler(log)))
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(newIPLimiter(opts.RateLimit, opts.RateBurst, 5*time.Minute), log))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		Engine:  opts.Engine,
		Bus:     opts.Bus,
		Metrics: opts.Metrics,
		log:     log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)

		api.GET("/strategies", s.getStrategies)
		api.POST("/strategies", s.createStrategy)
		api.GET("/strategies/:id", s.getStrategy)
		api.DELETE("/strategies/:id", s.deleteStrategy)
		api.POST("/strategies/:id/start", s.startStrategy)
		api.POST("/strategies/:id/pause", s.pauseStrategy)
		api.POST("/strategies/:id/stop", s.stopStrategy)

		api.POST("/emergency-stop", s.emergencyStop)
		api.GET("/positions", s.getPositions)

		api.GET("/trades", s.getTrades)
		api.GET("/trades/stats", s.getTradeStats)
		api.GET("/trades/export", s.exportTrades)

		api.GET("/risk/daily", s.getDailyRisk)
		api.POST("/risk/resume", s.resumeTrading)
		api.POST("/risk/halt", s.haltTrading)
		api.GET("/risk/heat", s.getPortfolioHeat)

		api.PUT("/trading-mode", s.setTradingMode)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler exposes the router for an http.Server owned by the caller.
func (s *Server) Handler() http.Handler { return s.Router }

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
