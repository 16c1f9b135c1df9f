package routes

import (
	"github.com/gin-gonic/gin"

	"go-restaurant-orderhub/controllers"
	"go-restaurant-orderhub/middleware"
)

func AdminRoutes(incomingRoutes *gin.Engine, ac *controllers.AdminController) {
	incomingRoutes.POST("/admin/login", ac.Login())
}

func SocketRoutes(incomingRoutes *gin.Engine, sc *controllers.SocketController, tv middleware.TokenValidator) {
	incomingRoutes.GET("/ws", middleware.OptionalAuthentication(tv), sc.HandleWebSocket())
}
