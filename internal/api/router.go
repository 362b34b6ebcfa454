package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter builds the HTTP API
func NewRouter(service Service, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Logger(logger.With().Str("component", "api").Logger()))
	r.Use(Metrics())

	r.GET("/health", Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(service)
	wallets := r.Group("/api/v1/wallets/:address")
	{
		wallets.POST("/initialize", h.Initialize)
		wallets.POST("/track", h.Track)
		wallets.GET("/roundups", h.Roundups)
		wallets.GET("/total", h.Total)
	}

	return r
}
