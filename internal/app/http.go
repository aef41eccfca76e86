package app

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/altafino/thread-archiver/internal/batch"
	"github.com/altafino/thread-archiver/internal/errorlog"
)

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Configs   map[string]string `json:"configs"`
}

type configStatus struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	DryRun  bool      `json:"dry_run"`
	NextRun time.Time `json:"next_run,omitempty"`
}

func (a *App) startHTTP(addr, metricsPath string) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), a.requestLogger())
	a.routes(router, metricsPath)

	a.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		a.logger.Info("http server listening", "addr", addr, "metrics_path", metricsPath)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", "error", err)
		}
	}()
}

func (a *App) routes(router *gin.Engine, metricsPath string) {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	router.GET("/healthz", a.health)
	router.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/configs", a.listConfigs)
		api.GET("/configs/:id/stats", a.stats)
		api.GET("/configs/:id/errors", a.listErrors)
		api.POST("/configs/:id/run", a.run)
	}
}

func (a *App) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (a *App) health(c *gin.Context) {
	resp := healthResponse{Status: "ok", Timestamp: time.Now(), Configs: make(map[string]string)}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for id, arch := range a.archivers {
		if err := arch.Ping(c.Request.Context()); err != nil {
			resp.Status = "error"
			resp.Configs[id] = "database unreachable"
			a.logger.Error("database health check failed", "config_id", id, "error", err)
			continue
		}
		resp.Configs[id] = "ok"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (a *App) listConfigs(c *gin.Context) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]configStatus, 0, len(a.archivers))
	for id, arch := range a.archivers {
		st := configStatus{ID: id, Name: arch.Config.Meta.Name, DryRun: arch.Config.Upload.DryRun}
		if next, err := a.scheduler.NextRun(id); err == nil {
			st.NextRun = next
		}
		out = append(out, st)
	}
	c.JSON(http.StatusOK, out)
}

func (a *App) lookup(c *gin.Context) (*Archiver, bool) {
	arch, ok := a.archiver(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown configuration"})
	}
	return arch, ok
}

func (a *App) stats(c *gin.Context) {
	arch, ok := a.lookup(c)
	if !ok {
		return
	}
	snap, err := arch.Metrics.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *App) listErrors(c *gin.Context) {
	arch, ok := a.lookup(c)
	if !ok {
		return
	}
	filter := errorlog.Filter{ConfigID: arch.Config.Meta.ID, ItemID: c.Query("item_id"), Kind: c.Query("kind")}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = t
	}
	entries, err := arch.Journal.GetErrors(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a *App) run(c *gin.Context) {
	arch, ok := a.lookup(c)
	if !ok {
		return
	}
	var (
		report batch.Report
		err    error
	)
	if c.Query("once") == "true" {
		report, err = arch.Runner.RunOnce(c.Request.Context())
	} else {
		report, err = arch.Runner.RunBatch(c.Request.Context())
	}
	switch {
	case errors.Is(err, batch.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
	default:
		c.JSON(http.StatusOK, report)
	}
}
