package router

import (
	"context"
	"net/http"
	"time"

	"wallet-engine/internal/middleware"
	"wallet-engine/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthSource reports resource health across the wallet pool
type HealthSource interface {
	Snapshot(ctx context.Context) (*services.HealthSnapshot, error)
}

// Deps what the status server reads from
type Deps struct {
	Health     HealthSource
	Schedulers map[string]*services.ActivityScheduler
	AllowedIPs []string
	Log        *logrus.Logger
}

// SetupRouter builds the status server routes
func SetupRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if len(deps.AllowedIPs) > 0 {
		deps.Log.WithFields(logrus.Fields{
			"allowed_ips": deps.AllowedIPs,
			"count":       len(deps.AllowedIPs),
		}).Info("Status API IP whitelist configured")
	} else {
		deps.Log.Info("No status_server.allowed_ips configured, using localhost-only mode")
	}
	localhostOnly := middleware.NewLocalhostOnly(deps.Log, deps.AllowedIPs)

	// ============ Health Check ============
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "wallet-engine",
		})
	})

	// ============ Prometheus Metrics ============
	r.GET("/metrics", localhostOnly.Restrict(), gin.WrapH(promhttp.Handler()))

	// ============ API Routes ============
	api := r.Group("/api/v1", localhostOnly.Restrict())
	api.GET("/wallets/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		snap, err := deps.Health.Snapshot(ctx)
		if err != nil {
			deps.Log.WithError(err).Error("❌ Failed to read wallet health")
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   "failed to read wallet health",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    snap,
		})
	})
	api.GET("/scheduler", func(c *gin.Context) {
		out := make(map[string]gin.H, len(deps.Schedulers))
		for name, s := range deps.Schedulers {
			out[name] = gin.H{
				"rounds":       s.Rounds(),
				"threads":      s.Pool().Size(),
				"active":       s.Pool().Active(),
				"peak_workers": s.Pool().Peak(),
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    out,
		})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message": "Endpoint not found",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
