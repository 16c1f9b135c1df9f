package routes

import (
	"github.com/gin-gonic/gin"

	"go-restaurant-orderhub/controllers"
	"go-restaurant-orderhub/middleware"
)

// OrderRoutes mounts the order endpoints. Submitting and reading a single
// order are open to customers; everything else needs an admin token.
func OrderRoutes(incomingRoutes *gin.Engine, oc *controllers.OrderController, tv middleware.TokenValidator) {
	incomingRoutes.POST("/orders", oc.CreateOrder())
	incomingRoutes.GET("/orders/:order_id", oc.GetOrder())

	admin := incomingRoutes.Group("/orders", middleware.Authentication(tv), middleware.RequireAdmin())
	admin.GET("", oc.GetActiveOrders())
	admin.GET("/archive", oc.GetArchivedOrders())
	admin.PATCH("/:order_id", oc.UpdateOrder())
	admin.DELETE("/:order_id", oc.DiscardOrder())
}
