package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/farellandr/orderpay/config"
	"github.com/farellandr/orderpay/internal/checkout"
	"github.com/farellandr/orderpay/internal/handlers"
	"github.com/farellandr/orderpay/internal/idempotency"
	"github.com/farellandr/orderpay/internal/loyalty"
	"github.com/farellandr/orderpay/internal/middleware"
	"github.com/farellandr/orderpay/internal/payments"
	"github.com/farellandr/orderpay/internal/webhook"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Start serves the API until ctx is cancelled, then drains in-flight
// requests.
func Start(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := config.InitDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	provider, err := config.InitPaymentProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize payment provider: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, db, provider, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "provider", provider.Name())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// NewRouter wires the services over db and provider and registers every
// route.
func NewRouter(cfg *config.Config, db *gorm.DB, provider checkout.Provider, logger *slog.Logger) *gin.Engine {
	paymentLedger := payments.NewLedger(logger)
	loyaltyLedger := loyalty.NewLedger(logger)
	orchestrator := checkout.NewOrchestrator(
		db,
		checkout.NewGormOrderDirectory(db),
		provider,
		idempotency.NewGuard(cfg.IdempotencyTTL, logger),
		paymentLedger,
		cfg.ProviderTimeout,
		logger,
	)
	processor := webhook.NewProcessor(db, provider, paymentLedger, loyaltyLedger, webhook.Config{
		Secret:          cfg.StripeWebhookSecret,
		PointsPerUnit:   cfg.PointsPerUnit,
		ProviderTimeout: cfg.ProviderTimeout,
	}, logger)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	setupRoutes(r, routeHandlers{
		payment: handlers.NewPaymentHandler(db, orchestrator, paymentLedger, processor),
		webhook: handlers.NewWebhookHandler(processor),
		loyalty: handlers.NewLoyaltyHandler(db, loyaltyLedger),
	}, cfg)

	if mock, ok := provider.(*checkout.MockProvider); ok {
		setupMockRoutes(r, handlers.NewMockHandler(mock, processor, cfg.StripeWebhookSecret))
	}

	return r
}

type routeHandlers struct {
	payment *handlers.PaymentHandler
	webhook *handlers.WebhookHandler
	loyalty *handlers.LoyaltyHandler
}

func setupRoutes(r *gin.Engine, h routeHandlers, cfg *config.Config) {
	limited := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware()

	public := r.Group("/v1")
	{
		public.POST("/payments/webhook", h.webhook.HandleWebhook)
	}

	protected := r.Group("/v1")
	protected.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	{
		paymentRoutes := protected.Group("/payments")
		{
			paymentRoutes.POST("/checkout-session", limited, h.payment.CreateCheckoutSession)
			paymentRoutes.GET("/:id", h.payment.GetPayment)
			paymentRoutes.GET("/by-order/:orderId", h.payment.GetPaymentByOrder)
			paymentRoutes.GET("/by-user/:userId", h.payment.ListPaymentsByUser)
			paymentRoutes.GET("/verify/:sessionId", h.payment.VerifySession)
		}

		loyaltyRoutes := protected.Group("/loyalty")
		{
			loyaltyRoutes.POST("/accounts", limited, h.loyalty.CreateAccount)
			loyaltyRoutes.GET("/accounts", h.loyalty.ListAccounts)
			loyaltyRoutes.GET("/accounts/:id", h.loyalty.GetAccount)
			loyaltyRoutes.PATCH("/accounts/:id", limited, h.loyalty.UpdateAccount)
			loyaltyRoutes.GET("/users/:userId", h.loyalty.GetUserAccount)
			loyaltyRoutes.GET("/users/:userId/balance", h.loyalty.GetUserBalance)
			loyaltyRoutes.GET("/users/:userId/details", h.loyalty.GetUserDetails)
			loyaltyRoutes.POST("/add-points", limited, h.loyalty.AddPoints)
			loyaltyRoutes.POST("/redeem-points", limited, h.loyalty.RedeemPoints)
		}
	}
}

func setupMockRoutes(r *gin.Engine, h *handlers.MockHandler) {
	r.GET("/mock-checkout/:id", h.GetCheckoutPage)

	mock := r.Group("/v1/mock/sessions")
	{
		mock.POST("/:id/complete", h.CompleteSession)
		mock.POST("/:id/expire", h.ExpireSession)
	}
}
