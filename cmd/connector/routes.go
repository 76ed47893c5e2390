package main

import (
	"time"

	"cvg-connector/internal/config"
	"cvg-connector/internal/engine"
	"cvg-connector/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to
// internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, eng engine.Handler, rdb *redis.Client) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	h := &webhook.Handler{
		Engine:      eng,
		StartIntent: cfg.CVG.StartIntent,
		Proxy:       cfg.CVG.Proxy,
		Blocking:    cfg.CVG.BlockingEndpoints,
	}

	wh := r.Group("/webhook")
	wh.Use(webhook.ValidateRequest(cfg.CVG.Token))

	// The in-flight cap protects the engine from event floods on a single
	// dialog. Session events are exempt so a new call can always start.
	capMW := func(c *gin.Context) { c.Next() }
	if rdb != nil {
		capMW = webhook.InflightCap(rdb, cfg.Webhook.DialogCap, 2*time.Minute)
	}

	wh.POST("/session", h.Session)
	wh.POST("/message", capMW, h.Message)
	wh.POST("/answer", capMW, h.Answer)
	wh.POST("/inactivity", capMW, h.Inactivity)
	wh.POST("/terminated", capMW, h.Terminated)
	wh.POST("/recording", capMW, h.Recording)
}
