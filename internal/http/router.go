// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dishpatch/internal/http/handlers"
	"dishpatch/internal/http/middleware"
	"dishpatch/internal/modules/dispatch"
	"dishpatch/internal/modules/driver"
	"dishpatch/internal/modules/order"
)

func NewRouter(
	orderService *order.Service,
	driverService *driver.Service,
	dispatchService *dispatch.Service,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging(), middleware.Actor())

	orderHandler := handlers.NewOrderHandler(orderService)
	driverHandler := handlers.NewDriverHandler(driverService, dispatchService)

	api := r.Group("/api")

	orders := api.Group("/orders")
	orders.POST("", orderHandler.Create)
	orders.GET("", orderHandler.List)
	orders.GET("/:id", orderHandler.Get)
	orders.GET("/:id/trail", orderHandler.Trail)
	orders.POST("/:id/confirm", orderHandler.Confirm)
	orders.POST("/:id/preparing", orderHandler.StartPreparing)
	orders.POST("/:id/ready", orderHandler.MarkReady)
	orders.POST("/:id/accept", driverHandler.Accept)
	orders.POST("/:id/pickup", orderHandler.PickUp)
	orders.POST("/:id/depart", orderHandler.Depart)
	orders.POST("/:id/deliver", orderHandler.Deliver)
	orders.POST("/:id/complete", orderHandler.Complete)
	orders.POST("/:id/cancel", orderHandler.Cancel)
	orders.POST("/:id/rate", orderHandler.Rate)

	drivers := api.Group("/drivers")
	drivers.POST("", driverHandler.Register)
	drivers.GET("/:id", driverHandler.Get)
	drivers.PUT("/:id/availability", driverHandler.SetAvailability)
	drivers.PUT("/:id/location", driverHandler.UpdateLocation)
	drivers.DELETE("/:id", driverHandler.Deactivate)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	return r
}
