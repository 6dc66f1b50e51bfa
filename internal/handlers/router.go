package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jonno85/columbiastream-uploader/internal/middleware"
)

func NewRouter(v1Handler *V1Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(logger), gin.Recovery())

	r.GET("/health", HealthCheck)
	v1 := r.Group("/v1/upload")
	v1.GET("/status", v1Handler.Status)
	v1.POST("/reset", v1Handler.Reset)
	v1.GET("/jobs/:name", v1Handler.Job)
	return r
}
