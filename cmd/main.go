package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"

	"luckydraw/internal/config"
	"luckydraw/internal/handlers"
	"luckydraw/internal/reel"
	"luckydraw/internal/services"
	"luckydraw/web"
)

func main() {
	// 1. Load configuration and set up logging
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logOut := io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Fatalf("Failed to open log file: %v", err)
		}
		logOut = f
	}
	defer logger.Init("luckydraw", cfg.LogVerbose, false, logOut).Close()

	// 2. Initialize the Lottery Service
	source := cfg.Source()
	lotteryService := services.NewLotteryService(cfg.ServiceOptions(source))
	logger.Infof("Prize tiers: %s", strings.Join(cfg.TierLabels(), ", "))
	if cfg.RandSeed != 0 {
		logger.Warningf("Draws are reproducible: LOTTERY_RAND_SEED=%d", cfg.RandSeed)
	}

	// 3. Load HTML templates from the embedded filesystem.
	templates, err := web.ParseTemplates()
	if err != nil {
		logger.Fatalf("Failed to parse templates: %v", err)
	}

	// 4. Initialize the HTTP Handler
	httpHandler := handlers.NewHTTPHandler(lotteryService, templates, reel.New(cfg.Reel(), cfg.ReelSource()), cfg.DiscloseEligibility)

	// 5. Set up the Gin router
	gin.SetMode(cfg.GinMode)
	r := gin.Default()

	// 6. Serve static files from the embedded filesystem.
	assetsSubFS, err := web.AssetsFS()
	if err != nil {
		logger.Fatalf("Failed to create assets sub-filesystem: %v", err)
	}
	r.StaticFS("/assets", http.FS(assetsSubFS))

	// 7. Register public routes (before middleware)
	httpHandler.RegisterPublicRoutes(r)

	// 8. Group routes that require tenant identification and apply middleware
	tenantRoutes := r.Group("/")
	tenantRoutes.Use(httpHandler.TenantMiddleware())
	httpHandler.RegisterTenantRoutes(tenantRoutes)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 9. Start the background janitor to clean up inactive sessions
	go func() {
		ticker := time.NewTicker(cfg.JanitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := lotteryService.CleanUpInactiveSessions(cfg.SessionTTL); n > 0 {
					logger.Infof("Performed cleanup of %d inactive sessions.", n)
				}
			}
		}
	}()

	// 10. Run the server
	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		logger.Infof("Server starting on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to run server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown: %v", err)
	}
}
