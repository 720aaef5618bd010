// Package server wires the payments service together: stores, engines,
// HTTP routes, and background workers.
package server

import (
	"context"
	"crypto/hmac"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amplygigs/payments/internal/config"
	"github.com/amplygigs/payments/internal/escrow"
	"github.com/amplygigs/payments/internal/health"
	"github.com/amplygigs/payments/internal/idgen"
	"github.com/amplygigs/payments/internal/ledger"
	"github.com/amplygigs/payments/internal/logging"
	"github.com/amplygigs/payments/internal/metrics"
	"github.com/amplygigs/payments/internal/notify"
	"github.com/amplygigs/payments/internal/paygate"
	"github.com/amplygigs/payments/internal/payout"
	"github.com/amplygigs/payments/internal/ratelimit"
	"github.com/amplygigs/payments/internal/realtime"
	"github.com/amplygigs/payments/internal/reconciliation"
	"github.com/amplygigs/payments/internal/security"
	"github.com/amplygigs/payments/internal/validation"
	"github.com/amplygigs/payments/internal/withdrawal"
)

// Server is the assembled payments service.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *gin.Engine
	http   *http.Server

	hub           *realtime.Hub
	reconciler    *reconciliation.Worker
	limiter       *ratelimit.Limiter
	notifications notify.Store

	Ledger      *ledger.Ledger
	Escrow      *escrow.Service
	Withdrawals *withdrawal.Service
}

// New assembles the service. db may be nil, in which case all state lives
// in memory (local development and tests).
func New(cfg *config.Config, db *sql.DB, logger *slog.Logger) *Server {
	var (
		ledgerStore     ledger.Store
		notifyStore     notify.Store
		withdrawalStore withdrawal.Store
	)
	if db != nil {
		ledgerStore = ledger.NewPostgresStore(db)
		notifyStore = notify.NewPostgresStore(db)
		withdrawalStore = withdrawal.NewPostgresStore(db)
	} else {
		ledgerStore = ledger.NewMemoryStore()
		notifyStore = notify.NewMemoryStore()
		withdrawalStore = withdrawal.NewMemoryStore()
	}

	hub := realtime.NewHub(logger)
	sink := notify.NewSink(notifyStore, hub)
	led := ledger.New(ledgerStore)

	gateway := payout.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.Currency)
	escrowSvc := escrow.NewService(led, sink, cfg.PlatformFeePercent)
	withdrawalSvc := withdrawal.NewService(withdrawalStore, ledgerStore, gateway, sink)
	verifier := paygate.New(cfg.PaystackSecretKey, cfg.FlutterwaveSecretHash)

	s := &Server{
		cfg:           cfg,
		logger:        logger,
		hub:           hub,
		reconciler:    reconciliation.NewWorker(led, sink, 5*time.Minute),
		limiter:       ratelimit.New(ratelimit.Config{RequestsPerMinute: cfg.RateLimitRPM}),
		notifications: notifyStore,
		Ledger:        led,
		Escrow:        escrowSvc,
		Withdrawals:   withdrawalSvc,
	}

	s.router = s.buildRouter(db, verifier)
	s.http = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// settlerAdapter routes transfer settlement webhooks into the withdrawal
// engine, translating its not-found into the webhook-side sentinel so
// settlements for other environments are acked instead of retried forever.
type settlerAdapter struct {
	svc *withdrawal.Service
}

func (a settlerAdapter) Complete(ctx context.Context, reference string) error {
	err := a.svc.Complete(ctx, reference)
	if errors.Is(err, withdrawal.ErrNotFound) {
		return escrow.ErrSettlementUnknown
	}
	return err
}

func (a settlerAdapter) FailSettlement(ctx context.Context, reference, reason string) error {
	err := a.svc.FailSettlement(ctx, reference, reason)
	if errors.Is(err, withdrawal.ErrNotFound) {
		return escrow.ErrSettlementUnknown
	}
	return err
}

func (s *Server) buildRouter(db *sql.DB, verifier escrow.Verifier) *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestContextMiddleware())
	r.Use(metrics.Middleware())
	r.Use(security.HeadersMiddleware())
	r.Use(security.CORSMiddleware(nil))
	r.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	registry := health.NewRegistry()
	if db != nil {
		registry.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	r.GET("/health", s.healthHandler(registry))
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	r.GET("/health/ready", s.healthHandler(registry))
	r.GET("/metrics", metrics.Handler())

	escrowHandler := escrow.NewHandler(s.Escrow, verifier, settlerAdapter{s.Withdrawals})
	withdrawalHandler := withdrawal.NewHandler(s.Withdrawals)

	// Webhooks are authenticated by signature, not throttled: a provider
	// retry burst must never be turned away.
	hooks := r.Group("/v1")
	hooks.POST("/webhooks/payments", escrowHandler.HandleWebhook)

	api := r.Group("/v1")
	api.Use(s.limiter.Middleware())
	api.GET("/escrow/:id", escrowHandler.GetEscrow)
	withdrawalHandler.RegisterRoutes(api)
	s.registerWalletRoutes(api)
	s.registerNotificationRoutes(api)
	api.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	admin := r.Group("/v1")
	admin.Use(s.adminMiddleware())
	escrowHandler.RegisterAdminRoutes(admin)

	return r
}

// requestContextMiddleware tags every request with an id, threads the
// logger through the request context, and writes an access log line.
func (s *Server) requestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req")
		}
		c.Header("X-Request-ID", requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		s.logger.Info("request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// adminMiddleware gates release and other privileged routes behind the
// shared admin secret.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.cfg.AdminSecret
		if secret == "" || !hmac.Equal([]byte(c.GetHeader("X-Admin-Secret")), []byte(secret)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin credentials required",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) healthHandler(registry *health.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		healthy, statuses := registry.CheckAll(c.Request.Context())
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"healthy": healthy, "checks": statuses})
	}
}

func (s *Server) registerWalletRoutes(r *gin.RouterGroup) {
	r.GET("/musicians/:id/wallet", func(c *gin.Context) {
		wallet, err := s.Ledger.Wallet(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"wallet": wallet})
	})

	r.GET("/musicians/:id/ledger", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		entries, err := s.Ledger.History(c.Request.Context(), c.Param("id"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
	})

	r.GET("/transactions/:reference", func(c *gin.Context) {
		tx, err := s.Ledger.TransactionByReference(c.Request.Context(), c.Param("reference"))
		if err != nil {
			if errors.Is(err, ledger.ErrTransactionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Transaction not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": tx})
	})
}

func (s *Server) registerNotificationRoutes(r *gin.RouterGroup) {
	store := s.notifications
	r.GET("/users/:id/notifications", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		list, err := store.ByUser(c.Request.Context(), c.Param("id"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"notifications": list, "count": len(list)})
	})

	r.POST("/notifications/:id/read", func(c *gin.Context) {
		if err := store.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Notification not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "read"})
	})
}

// Router exposes the assembled handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run starts the background workers and serves HTTP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.reconciler.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()
	s.logger.Info("server listening", "port", s.cfg.Port, "env", s.cfg.Env)

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.limiter.Stop()
	return s.http.Shutdown(ctx)
}
