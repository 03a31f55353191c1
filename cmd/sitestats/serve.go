package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/walinekit/sitestats"
	"github.com/walinekit/sitestats/display"
	statsprom "github.com/walinekit/sitestats/internal/stats/prometheus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the statistics over HTTP",
	Long: `Serve the statistics over HTTP.

Endpoints:
  GET    /stats?page=<url>   download the page and return both widgets as JSON;
                             only --site pages, or public hosts without it
  POST   /stats?page=<url>   same, with the page HTML as the request body
  DELETE /cache              delete the cached statistics
  GET    /metrics            Prometheus metrics
  GET    /healthz            liveness probe

Examples:
  sitestats serve --addr :8080 --server https://waline.example --site https://blog.example`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

// maxPageSize bounds POSTed pages.
const maxPageSize = 10 << 20

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().String("site", "", "only download pages under this origin (config: site_url)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := statsprom.New(registry)

	pages, err := newPagePolicy(cfg.SiteURL)
	if err != nil {
		return err
	}

	client, err := newClient(ctx, cfg, logger, collector)
	if err != nil {
		return err
	}
	defer client.Close()

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	h := &handler{
		client: client,
		logger: logger.Named("serve"),
		pages:  pages,
		fetch:  pages.fetcher(),
	}
	router := newRouter(h, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", serveAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// statsSource is the part of *sitestats.Client the HTTP handlers use.
type statsSource interface {
	display.Source
	ClearCache(ctx context.Context) error
}

type handler struct {
	client statsSource
	logger *zap.Logger
	pages  *pagePolicy

	// fetch downloads a page; replaced in tests.
	fetch func(ctx context.Context, url string) ([]byte, error)
}

func newRouter(h *handler, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/stats", h.stats)
	router.POST("/stats", h.stats)
	router.DELETE("/cache", h.clearCache)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}

func (h *handler) stats(c *gin.Context) {
	ctx := c.Request.Context()
	page := sitestats.Page{URL: c.Query("page")}
	if page.URL == "" {
		writeError(c, http.StatusBadRequest, "missing page parameter")
		return
	}

	var (
		data []byte
		err  error
	)
	if c.Request.Method == http.MethodPost {
		data, err = io.ReadAll(io.LimitReader(c.Request.Body, maxPageSize))
	} else {
		data, err = h.download(ctx, page.URL)
	}
	if err != nil {
		h.logger.Warn("loading page", zap.String("page", page.URL), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, errPageForbidden) {
			status = http.StatusForbidden
		}
		writeError(c, status, "loading page: "+err.Error())
		return
	}
	page.HTML = string(data)

	pv, uv := &display.Recorder{}, &display.Recorder{}
	display.New(h.client,
		display.WithPageviews(pv),
		display.WithActivity(uv),
		display.WithLogger(h.logger),
	).Update(ctx, page)

	c.JSON(http.StatusOK, widgetStates{Pageviews: pv.State(), Activity: uv.State()})
}

func (h *handler) download(ctx context.Context, pageURL string) ([]byte, error) {
	pages := h.pages
	if pages == nil {
		pages = &pagePolicy{}
	}
	if err := pages.check(pageURL); err != nil {
		return nil, err
	}
	fetch := h.fetch
	if fetch == nil {
		fetch = pages.fetcher()
	}
	return fetch(ctx, pageURL)
}

func (h *handler) clearCache(c *gin.Context) {
	if err := h.client.ClearCache(c.Request.Context()); err != nil {
		h.logger.Error("clearing cache", zap.Error(err))
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": message,
		},
	})
}
