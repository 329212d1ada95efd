package routers

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/haierkeys/fast-backup-service/internal/app"
	"github.com/haierkeys/fast-backup-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// DefaultPrefix url prefix of pprof
	DefaultPrefix = "/debug/pprof"

	healthTimeout = 3 * time.Second
)

// NewPrivateRouter creates the private router: metrics, health and (debug only) pprof
// NewPrivateRouter 创建私有路由
func NewPrivateRouter(a *app.App, runMode string, logger *zap.Logger) *gin.Engine {
	r := gin.New()

	if runMode == "debug" {
		r.Use(gin.Recovery())
	} else {
		r.Use(middleware.RecoveryWithLogger(logger))
	}
	r.Use(middleware.AccessLogWithLogger(logger))

	// prom监控
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.Metrics, promhttp.HandlerOpts{Registry: a.Metrics})))
	r.GET("/healthz", healthz(a))
	r.GET("/status", status(a))

	if runMode == "debug" {
		p := r.Group(DefaultPrefix)
		{
			p.GET("/", pprofHandler(pprof.Index))
			p.GET("/cmdline", pprofHandler(pprof.Cmdline))
			p.GET("/profile", pprofHandler(pprof.Profile))
			p.POST("/symbol", pprofHandler(pprof.Symbol))
			p.GET("/symbol", pprofHandler(pprof.Symbol))
			p.GET("/trace", pprofHandler(pprof.Trace))
			p.GET("/allocs", pprofHandler(pprof.Handler("allocs").ServeHTTP))
			p.GET("/block", pprofHandler(pprof.Handler("block").ServeHTTP))
			p.GET("/goroutine", pprofHandler(pprof.Handler("goroutine").ServeHTTP))
			p.GET("/heap", pprofHandler(pprof.Handler("heap").ServeHTTP))
			p.GET("/mutex", pprofHandler(pprof.Handler("mutex").ServeHTTP))
			p.GET("/threadcreate", pprofHandler(pprof.Handler("threadcreate").ServeHTTP))
		}
	}

	return r
}

// healthz 数据库可达即健康
func healthz(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()

		sqlDB, err := a.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// status running backups and worker pool counters
func status(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		running := a.BackupService.Running()
		pool := a.WorkerPool().GetMetrics()
		c.JSON(http.StatusOK, gin.H{
			"version":       app.Version,
			"running":       running,
			"lockedKeys":    a.Locks.KeyCount(),
			"cachedEntries": a.Cache.Len(),
			"workerPool": gin.H{
				"active": pool.ActiveCount,
				"failed": pool.FailedCount,
				"queued": pool.QueuedCount,
				"closed": pool.IsClosed,
			},
		})
	}
}

func pprofHandler(h http.HandlerFunc) gin.HandlerFunc {
	handler := h
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
