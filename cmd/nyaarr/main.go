package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amaumene/nyaarr/internal/config"
	"github.com/amaumene/nyaarr/internal/database"
	"github.com/amaumene/nyaarr/internal/handlers"
	"github.com/amaumene/nyaarr/internal/middleware"
	"github.com/amaumene/nyaarr/internal/services"
	"github.com/amaumene/nyaarr/pkg/logger"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[app] invalid configuration: %v", err)
	}

	db, err := database.New(cfg.DataDir)
	if err != nil {
		log.Fatalf("[app] failed to open database: %v", err)
	}
	defer db.Close()

	container := services.NewContainer(cfg, db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The offline catalog must be present before the first search; updates
	// after that run in the background.
	if err := container.AnimeDB.Initialize(ctx); err != nil {
		log.Fatalf("[app] failed to initialize anime catalog: %v", err)
	}
	go refreshCatalog(ctx, cfg, container)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Gzip())
	r.Use(middleware.CORS())

	handler := handlers.New(container, cfg)
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Infof("[app] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[app] server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("[app] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[app] shutdown error: %v", err)
	}
}

// refreshCatalog re-downloads the offline catalog on the configured
// interval until the process stops.
func refreshCatalog(ctx context.Context, cfg *config.Config, container *services.Container) {
	ticker := time.NewTicker(cfg.AnimeDBInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			container.AnimeDB.Update(ctx)
		case <-ctx.Done():
			return
		}
	}
}
