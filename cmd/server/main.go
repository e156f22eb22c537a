package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/timechange/api/handlers"
	"github.com/feichai0017/timechange/api/routes"
	"github.com/feichai0017/timechange/config"
	"github.com/feichai0017/timechange/internal/app"
	"github.com/feichai0017/timechange/internal/service/project"
	"github.com/feichai0017/timechange/pkg/logger"
	"github.com/feichai0017/timechange/pkg/queue"
	"github.com/feichai0017/timechange/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := app.NewLogger(cfg, "server")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	p, err := app.OpenProject(cfg, log)
	if err != nil {
		log.Fatal("Failed to open project", logger.Error(err))
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		manager *project.Manager
		w       worker.Worker
	)
	managerOpts := []project.Option{project.WithConfig(&project.ManagerConfig{MaxFileSize: cfg.Server.MaxUploadMB << 20})}
	if p.Journal != nil {
		managerOpts = append(managerOpts, project.WithJournal(p.Journal))
	}

	switch cfg.Queue.Mode {
	case config.QueueModeRedis:
		qc := app.QueueConfig(cfg)
		commands := queue.NewAsynqCommands(qc)
		defer commands.Close()
		results := app.RedisResults(qc)
		defer results.Close()
		manager = project.NewManager(p.Store, commands, results, log, managerOpts...)
		log.Info("Commands go to the redis worker", logger.String("redis", qc.RedisAddr))
	default:
		broker := queue.NewMemoryBroker()
		manager = project.NewManager(p.Store, broker, broker, log, managerOpts...)
		pw, err := app.NewWorker(ctx, cfg, p, log)
		if err != nil {
			log.Fatal("Failed to create worker", logger.Error(err))
		}
		w = worker.NewLoop(pw, broker, broker)
		if err := w.Start(ctx); err != nil {
			log.Fatal("Failed to start worker", logger.Error(err))
		}
	}

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	routes.SetupRoutes(r, handlers.NewHandlers(manager, log), log, cfg.Server.AllowOrigins...)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr), logger.String("project", manager.Paths().Root))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}

	if w != nil {
		// the running job finishes first
		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Error("Failed to stop worker", logger.Error(err))
		}
		<-w.Done()
		log.Info("Worker stopped")
	}
}
