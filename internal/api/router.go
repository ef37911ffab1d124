// Package api exposes the operator-facing HTTP surface (spec.md §6):
// liveness/readiness probes, a read-only robot roster, and Prometheus
// metrics. This is explicitly NOT the fleet-client mission API — that
// control plane belongs to the external Object Store — this surface
// exists purely for operating the controller process itself.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/amr-saas/missiondispatch/internal/middleware"
	"github.com/amr-saas/missiondispatch/internal/robot"
	"github.com/amr-saas/missiondispatch/internal/transport"
)

// Handler bundles the dependencies the routes read from, grounded on the
// teacher's api/handler.go Handler-struct-plus-SetupRouter shape.
type Handler struct {
	supervisor *robot.Supervisor
	transport  transport.Publisher
	startedAt  time.Time
	logger     *zap.Logger
}

// NewRouter builds the configured gin.Engine.
func NewRouter(sup *robot.Supervisor, pub transport.Publisher, logger *zap.Logger, rateLimitPerMinute int) *gin.Engine {
	h := &Handler{supervisor: sup, transport: pub, startedAt: time.Now(), logger: logger}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logging(logger))
	router.Use(middleware.NewRateLimiter(rateLimitPerMinute, logger).Middleware())

	router.GET("/healthz", h.Healthz)
	router.GET("/readyz", h.Readyz)
	router.GET("/robots", h.ListRobots)
	router.GET("/robots/:name", h.GetRobot)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// Healthz reports process liveness unconditionally once the process has
// started serving.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}

// Readyz reports whether the controller has a live MQTT connection —
// without it no robot can be dispatched to.
func (h *Handler) Readyz(c *gin.Context) {
	if !h.transport.IsConnected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": "mqtt disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// ListRobots returns every tracked robot's current aggregate status.
func (h *Handler) ListRobots(c *gin.Context) {
	names := h.supervisor.Names()
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		status, ok := h.supervisor.Status(name)
		if !ok {
			continue
		}
		out = append(out, gin.H{"name": name, "status": status})
	}
	c.JSON(http.StatusOK, gin.H{"total": len(out), "robots": out})
}

// GetRobot returns a single tracked robot's current aggregate status.
func (h *Handler) GetRobot(c *gin.Context) {
	name := c.Param("name")
	status, ok := h.supervisor.Status(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "robot not tracked"})
		return
	}
	c.JSON(http.StatusOK, status)
}
