package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/slideguard/slidereview/api/handlers"
	"github.com/slideguard/slidereview/api/middleware"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	// 全局中间件
	r.Use(middleware.CORS())
	r.Use(middleware.RequestID())

	// API 版本组
	v1 := r.Group("/api/v1")

	// 审核流水线路由组
	review := v1.Group("/review")
	{
		review.POST("/upload", h.Review.Upload)
		review.GET("/status", h.Review.Status)
		review.GET("/images", h.Review.Image)
	}
}
