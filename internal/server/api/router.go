package api

import (
	"net/http"

	"relay/internal/server/config"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the echo router with all routes and
// middleware. A nil gatherer leaves /metrics unmounted.
func SetupRouter(handler *Handler, cfg *config.Config, sessions *Sessions, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(RequestID(uuid.NewString))
	e.Use(RequestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestedWith},
	}))

	session := sessions.Middleware()

	// Page
	e.GET("/", handler.HandleIndex, session, NoCache())

	// Upload (rate-limited)
	e.POST("/upload", handler.HandleUpload,
		NewUploadRateLimiter(cfg.Upload.RateLimitRPS, cfg.Upload.RateLimitBurst),
		UploadSizeLimit(cfg.Upload.MaxBytes),
		session,
	)

	// Download
	e.GET("/download/file/:filename", handler.HandleDownloadFile)
	e.GET("/download/zip/:token", handler.HandleDownloadZip)
	e.GET("/d/:token", handler.HandleLink)
	e.POST("/download/pickup", handler.HandlePickup)

	// History, health & stats
	e.GET("/api/history", handler.HandleHistory, session)
	e.GET("/api/stats", handler.HandleStats)
	e.GET("/health", handler.HandleHealth)

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return e
}
