package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"papertrade-core/internal/events"
	"papertrade-core/internal/monitor"
	"papertrade-core/internal/papertrade"
	"papertrade-core/internal/persistence"
	"papertrade-core/internal/reconciliation"
	"papertrade-core/internal/safety"
	"papertrade-core/pkg/db"
)

// Server wires HTTP endpoints around the paper-trading service.
type Server struct {
	Router      *gin.Engine
	Svc         *papertrade.Service
	Dispatcher  *papertrade.Dispatcher
	Guard       *safety.Guard
	Bus         *events.Bus
	DB          *db.Database
	Metrics     *monitor.SimulationMetrics
	Reconciler  *reconciliation.Service
	Journal     *persistence.BatchWriter
	JWTSecret   string
	AdminSecret string
	Meta        SystemMeta

	log      *zap.Logger
	limiters *ipLimiters
}

// Deps are the collaborators NewServer needs. Bus, Metrics, Reconciler and
// Journal are optional.
type Deps struct {
	Svc         *papertrade.Service
	Dispatcher  *papertrade.Dispatcher
	Guard       *safety.Guard
	Bus         *events.Bus
	DB          *db.Database
	Metrics     *monitor.SimulationMetrics
	Reconciler  *reconciliation.Service
	Journal     *persistence.BatchWriter
	JWTSecret   string
	AdminSecret string // empty disables the admin routes
	Logger      *zap.Logger
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	PaperTradingMode bool     `json:"paperTradingMode"`
	Exchanges        []string `json:"exchanges"`
	Symbols          []string `json:"symbols"`
	UseMockFeed      bool     `json:"useMockFeed"`
	Version          string   `json:"version"`
}

func NewServer(deps Deps, meta SystemMeta) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiters := newIPLimiters(rate.Limit(20), 50)

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(limiters, logger))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:      r,
		Svc:         deps.Svc,
		Dispatcher:  deps.Dispatcher,
		Guard:       deps.Guard,
		Bus:         deps.Bus,
		DB:          deps.DB,
		Metrics:     deps.Metrics,
		Reconciler:  deps.Reconciler,
		Journal:     deps.Journal,
		JWTSecret:   deps.JWTSecret,
		AdminSecret: deps.AdminSecret,
		Meta:        meta,
		log:         logger,
		limiters:    limiters,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws/events", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Every authenticated route is certified by the guard first.
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret), SafetyMiddleware(s.Guard))
		{
			protected.POST("/portfolio/init", s.initPortfolio)
			protected.GET("/portfolio", s.getPortfolio)
			protected.GET("/portfolio/trades", s.getTrades)

			protected.POST("/orders", s.placeOrder)
			protected.POST("/orders/batch", s.placeBatch)
			protected.GET("/orders", s.listOrders)
			protected.GET("/orders/:id", s.getOrder)
			protected.DELETE("/orders/:id", s.cancelOrder)

			protected.GET("/market/:symbol/conditions", s.getConditions)

			protected.GET("/journal/orders", s.journalOrders)
			protected.GET("/journal/trades", s.journalTrades)

			protected.POST("/credentials", s.registerCredential)
			protected.GET("/credentials/:exchange", s.getCredential)
			protected.DELETE("/credentials/:exchange", s.deleteCredential)
			protected.GET("/security/score", s.getSafetyScore)
		}

		if s.AdminSecret != "" {
			admin := api.Group("/admin")
			admin.Use(AdminMiddleware(s.AdminSecret), SafetyMiddleware(s.Guard))
			{
				admin.POST("/portfolios/:userId/reset", s.resetPortfolio)
				admin.PUT("/market/:symbol/conditions", s.updateConditions)
				admin.GET("/audit/export", s.exportAudit)
				admin.GET("/audit/events", s.listAuditEvents)
				admin.GET("/audit/summary", s.auditSummary)
				admin.GET("/reports/paper-trades", s.getAuditReport)
				admin.POST("/reconcile", s.reconcile)
			}
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "paperTradingMode": true})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.limiters.sweep(ctx, 5*time.Minute)

	srv := &http.Server{Addr: addr, Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
