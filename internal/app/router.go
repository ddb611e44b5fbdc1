package app

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"rental/internal/handler"
	"rental/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	ReservationHandler *handler.ReservationHandler
	ContractHandler    *handler.ContractHandler
	PaymentHandler     *handler.PaymentHandler
	RedisClient        redis.Cmdable // nil disables Idempotency-Key replay
	Gatherer           prometheus.Gatherer
	CORSOrigins        []string
	NewRelicApp        *newrelic.Application
	Log                zerolog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.CORSOrigins))
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}
	router.Use(middleware.RequestLogger(deps.Log))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Gateway callbacks carry their own event IDs and bypass client idempotency.
	router.POST("/v1/webhooks/stripe", deps.PaymentHandler.StripeWebhook)

	v1 := router.Group("/v1")
	if deps.RedisClient != nil {
		v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Log))
	}
	{
		v1.POST("/quotes", deps.ReservationHandler.Quote)

		reservations := v1.Group("/reservations")
		{
			reservations.POST("", deps.ReservationHandler.CreateReservation)
			reservations.GET("/:id", deps.ReservationHandler.GetReservation)
			reservations.PATCH("/:id", deps.ReservationHandler.UpdateReservation)
			reservations.POST("/:id/confirm", deps.ReservationHandler.ConfirmReservation)
			reservations.POST("/:id/reject", deps.ReservationHandler.RejectReservation)
			reservations.POST("/:id/cancel", deps.ReservationHandler.CancelReservation)
			reservations.POST("/:id/start", deps.ReservationHandler.StartReservation)
			reservations.POST("/:id/complete", deps.ReservationHandler.CompleteReservation)

			reservations.POST("/:id/contract", deps.ContractHandler.OpenContract)
			reservations.GET("/:id/contract", deps.ContractHandler.GetReservationContract)
			reservations.POST("/:id/payment-intent", deps.PaymentHandler.CreatePaymentIntent)
		}

		v1.GET("/customers/:id/reservations", deps.ReservationHandler.ListCustomerReservations)

		contracts := v1.Group("/contracts")
		{
			contracts.GET("/:id", deps.ContractHandler.GetContract)
			contracts.POST("/:id/sign", deps.ContractHandler.SignContract)
			contracts.POST("/:id/submit", deps.ContractHandler.SubmitContract)
			contracts.POST("/:id/activate", deps.ContractHandler.ActivateContract)
			contracts.POST("/:id/external-status", deps.ContractHandler.ReconcileExternalStatus)
		}
	}

	return router
}

// corsMiddleware allows any origin unless an allow-list is configured.
func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return cors.Default()
	}
	cc := cors.DefaultConfig()
	cc.AllowOrigins = origins
	cc.AllowMethods = append(cc.AllowMethods, http.MethodPatch)
	cc.AllowHeaders = append(cc.AllowHeaders, "Authorization", "Idempotency-Key", "X-Actor-ID", "X-Actor-Role", "X-Request-ID")
	cc.ExposeHeaders = append(cc.ExposeHeaders, "X-Request-ID", "Idempotent-Replayed")
	return cors.New(cc)
}
