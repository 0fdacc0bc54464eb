// Package http exposes the small operational surface: liveness and a status
// snapshot of the running configuration.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"courier.app/courier/internal/provider"
)

func NewRouter(prov provider.Provider) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	startedAt := time.Now()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"provider":       prov.Name(),
			"model":          prov.Model(),
			"uptime_seconds": int64(time.Since(startedAt).Seconds()),
		})
	})

	return router
}
