package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"medianest/internal/config"
	"medianest/internal/downloader"
	"medianest/internal/handlers"
	"medianest/internal/hub"
	"medianest/internal/models"
	"medianest/internal/queue"
	"medianest/internal/quota"
	"medianest/internal/storage"
	"medianest/internal/version"
)

func main() {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := os.MkdirAll(cfg.DownloadDir, 0755); err != nil {
		log.Fatalf("Failed to create download directory: %v", err)
	}

	jobRepo := storage.NewJobRepository(db)
	quotaRepo := storage.NewQuotaRepository(db)
	ledger := quota.NewLedger(quotaRepo, cfg.QuotaLimit, cfg.QuotaWindow)
	adapter := downloader.NewYouTube(cfg.DownloadDir)

	broadcast := hub.New(func(userID string) ([]*models.DownloadJob, error) {
		return jobRepo.ListByUser(context.Background(), userID, storage.ListOptions{Limit: 200})
	}, cfg.ProgressInterval)

	q := queue.New(jobRepo, ledger, adapter, broadcast, queue.Options{
		Workers:        cfg.MaxConcurrentDownloads,
		RefundOnCancel: cfg.QuotaRefundOnCancel,
	})
	if err := q.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start queue: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	downloads := handlers.NewDownloadHandler(q)
	quotaHandler := handlers.NewQuotaHandler(ledger)
	ws := handlers.NewWSHandler(broadcast)

	api := e.Group("/api")
	api.POST("/downloads", downloads.Create)
	api.GET("/downloads", downloads.List)
	api.GET("/downloads/stats", downloads.Stats)
	api.GET("/downloads/:id", downloads.Get)
	api.GET("/downloads/:id/file", downloads.File)
	api.POST("/downloads/:id/cancel", downloads.Cancel)
	api.POST("/downloads/:id/retry", downloads.Retry)
	api.DELETE("/downloads/:id", downloads.Delete)
	api.GET("/quota", quotaHandler.Get)
	api.GET("/ws", ws.Serve)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})

	go func() {
		log.Printf("Starting Medianest v%s on port %s", version.Version, cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	if err := q.Stop(shutdownCtx); err != nil {
		log.Printf("Queue stop: %v", err)
	}
	log.Println("Server stopped")
}
