package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"pospay.backend/internal/interfaces/http/handlers"
	"pospay.backend/internal/interfaces/http/middleware"
)

const (
	serviceName    = "pospay-backend"
	serviceVersion = "0.3.0"
)

type routeDeps struct {
	paymentRequestHandler *handlers.PaymentRequestHandler
	offlinePaymentHandler *handlers.OfflinePaymentHandler
	watchHandler          *handlers.WatchHandler
	authMiddleware        gin.HandlerFunc
	idempotencyTTL        time.Duration
}

func registerAPIV1Routes(r *gin.Engine, d routeDeps) {
	v1 := r.Group("/api/v1")
	v1.Use(d.authMiddleware)
	{
		v1.GET("/pos/signing-key", d.paymentRequestHandler.GetSigningKey)

		paymentRequests := v1.Group("/payment-requests")
		{
			paymentRequests.POST("", middleware.RequireMerchant(), middleware.IdempotencyMiddleware(d.idempotencyTTL), d.paymentRequestHandler.CreatePaymentRequest)
			paymentRequests.GET("", middleware.RequireMerchant(), d.paymentRequestHandler.ListPaymentRequests)
			paymentRequests.POST("/resolve", d.paymentRequestHandler.ResolvePaymentRequest)
			paymentRequests.GET("/:id", d.paymentRequestHandler.GetPaymentRequest)
			paymentRequests.GET("/:id/watch", d.watchHandler.Watch)
			paymentRequests.POST("/:id/settle", middleware.RequirePayer(), d.paymentRequestHandler.SettlePaymentRequest)
			paymentRequests.POST("/:id/cancel", middleware.RequireMerchant(), d.paymentRequestHandler.CancelPaymentRequest)
		}

		offlinePayments := v1.Group("/offline-payments")
		offlinePayments.Use(middleware.RequireMerchant())
		{
			offlinePayments.POST("", middleware.IdempotencyMiddleware(d.idempotencyTTL), d.offlinePaymentHandler.SubmitOfflinePayment)
		}
	}
}

func applyCORSMiddleware(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, "+middleware.IdempotencyHeader+", "+middleware.RequestIDHeader)
		c.Header("Access-Control-Expose-Headers", middleware.RequestIDHeader+", "+middleware.IdempotencyHitHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
}

func registerHealthRoute(r *gin.Engine, db *sql.DB) {
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":   "ok",
			"service":  serviceName,
			"version":  serviceVersion,
			"database": "up",
		}
		if db == nil {
			body["database"] = "unknown"
			c.JSON(http.StatusOK, body)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = "down"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	})
}

func registerMetricsRoute(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
