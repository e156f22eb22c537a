package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/timechange/config"
	"github.com/feichai0017/timechange/internal/app"
	"github.com/feichai0017/timechange/pkg/logger"
	"github.com/feichai0017/timechange/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := app.NewLogger(cfg, "worker")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	p, err := app.OpenProject(cfg, log)
	if err != nil {
		log.Error("Failed to open project", logger.Error(err))
		os.Exit(1)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pw, err := app.NewWorker(ctx, cfg, p, log)
	if err != nil {
		log.Error("Failed to create project worker", logger.Error(err))
		os.Exit(1)
	}

	qc := app.QueueConfig(cfg)
	results := app.RedisResults(qc)
	defer results.Close()

	w := worker.NewAsynqWorker(qc, pw, results, log)
	if err := w.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started", logger.String("redis", qc.RedisAddr), logger.String("project", p.Store.Paths().Root))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		log.Info("Shutting down worker...")
		cancel()
	case <-w.Done():
	}

	<-w.Done()
	log.Info("Worker stopped")
}
