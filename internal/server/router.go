package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olegin77/TUSD-sub001/internal/handler"
	"github.com/olegin77/TUSD-sub001/pkg/monitor"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Deposit *handler.DepositHandler
	Boost   *handler.BoostHandler
	Bridge  *handler.BridgeHandler
	Oracle  *handler.OracleHandler
}

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h Handlers) *gin.Engine {
	monitor.Init()

	r := gin.Default()
	r.Use(monitor.PrometheusMiddleware())

	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		deposits := api.Group("/deposits")
		{
			deposits.POST("", h.Deposit.Create)
			deposits.POST("/:id/principal", h.Deposit.ConfirmPrincipal)
			deposits.POST("/:id/boost", h.Deposit.ConfirmBoost)
			deposits.POST("/:id/mint", h.Deposit.ConfirmMint)
			deposits.POST("/:id/fail", h.Deposit.Fail)
			deposits.GET("/:id", h.Deposit.Get)
		}
		api.GET("/users/:address/deposits", h.Deposit.ListByUser)

		api.POST("/boosts/quote", h.Boost.Quote)

		bridge := api.Group("/bridge/intents")
		{
			bridge.GET("/:id", h.Bridge.Get)
			bridge.POST("/:id/confirm", h.Bridge.Confirm)
		}

		api.GET("/prices/:mint", h.Oracle.Get)
	}

	return r
}
