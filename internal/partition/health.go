package partition

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

const healthShutdownTimeout = 5 * time.Second

// healthServer serves /health, /ready, /stats and /metrics for one partition.
type healthServer struct {
	srv    *http.Server
	logger *logger.Logger
}

func newHealthServer(port int, rt *Runtime) *healthServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", rt.healthHandler)
	engine.GET("/ready", rt.readyHandler)
	engine.GET("/stats", rt.statsHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rt.metrics.Registry, promhttp.HandlerOpts{})))

	return &healthServer{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: engine,
		},
		logger: rt.logger.Named("health"),
	}
}

func (h *healthServer) start() {
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("Health server failed", zap.Error(err))
		}
	}()
	h.logger.Info("Health server listening", zap.String("addr", h.srv.Addr))
}

func (h *healthServer) stop(ctx context.Context) {
	shutCtx, cancel := context.WithTimeout(ctx, healthShutdownTimeout)
	defer cancel()
	if err := h.srv.Shutdown(shutCtx); err != nil {
		h.logger.Warn("Health server shutdown failed", zap.Error(err))
	}
}

func (r *Runtime) healthHandler(c *gin.Context) {
	payload := gin.H{
		"status":      "healthy",
		"instance":    r.cfg.InstanceID,
		"region":      r.cfg.RegionID,
		"environment": r.cfg.Environment,
		"chains":      r.cfg.PartitionChains,
		"uptimeSec":   int64(time.Since(r.startedAt).Seconds()),
		"breakerOpen": r.det.Breaker().IsOpen(),
	}
	// Provider probes can hit the RPC, so only cross-region monitors that
	// asked for them pay that cost.
	if r.cfg.EnableCrossRegionHealth {
		payload["providers"] = r.providers.HealthSnapshot()
	}
	c.JSON(http.StatusOK, payload)
}

func (r *Runtime) readyHandler(c *gin.Context) {
	if r.ready.Load() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}

func (r *Runtime) statsHandler(c *gin.Context) {
	detStats := r.det.Stats()
	gateStats := r.gate.Stats()
	c.JSON(http.StatusOK, gin.H{
		"detectionCycles": detStats.DetectionCount,
		"skippedCycles":   detStats.SkippedCount,
		"breakerFailures": r.det.Breaker().Failures(),
		"trackedPairs":    r.store.GetPairCount(),
		"storeVersion":    r.store.Version(),
		"dedupeCacheSize": r.pub.CacheSize(),
		"simulations": gin.H{
			"performed": gateStats.SimulationsPerformed,
			"skipped":   gateStats.SimulationsSkipped,
			"errors":    gateStats.SimulationErrors,
			"reverts":   gateStats.PredictedReverts,
			"gasSpikes": gateStats.GasSpikeAborts,
		},
	})
}
