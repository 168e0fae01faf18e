package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfg "github.com/slideguard/slidereview/config"
	"github.com/slideguard/slidereview/internal/inference"
	"github.com/slideguard/slidereview/internal/pipeline"
	"github.com/slideguard/slidereview/internal/review"
	"github.com/slideguard/slidereview/pkg/logger"
	"github.com/slideguard/slidereview/pkg/storage"
	"github.com/slideguard/slidereview/pkg/worker"
)

func main() {
	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// init orchestrator
	orchestrator, err := pipeline.GetOrchestrator(log)
	if err != nil {
		log.Fatal("Failed to init orchestrator:", logger.Error(err))
	}

	// init reviewer
	model, err := inference.GetModel(log)
	if err != nil {
		log.Fatal("Failed to init inference model:", logger.Error(err))
	}
	pipelineCfg := cfg.GetPipelineConfig()
	objects, err := storage.NewStorage(storage.StorageType(pipelineCfg.StorageType), log)
	if err != nil {
		log.Fatal("Failed to init storage:", logger.Error(err))
	}
	reviewer := review.NewReviewer(model, objects, log)

	// init worker
	redisCfg := cfg.GetRedisConfig()
	w, err := worker.NewReviewWorker(&worker.Config{
		RedisAddr:   redisCfg.Addr,
		RedisPass:   redisCfg.Password,
		RedisDB:     redisCfg.DB,
		Concurrency: 10,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
	}, orchestrator, reviewer, log)
	if err != nil {
		log.Fatal("Failed to init worker:", logger.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		log.Fatal("Failed to start worker:", logger.Error(err))
	}
	log.Info("Worker started")

	// 周期清理超过保留期的存储对象，与状态记录的 TTL 对齐
	go func() {
		ticker := time.NewTicker(12 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				threshold := time.Now().Add(-redisCfg.RecordTTL)
				if err := objects.CleanupBefore(ctx, threshold); err != nil {
					log.Error("Retention cleanup failed", logger.Error(err))
				}
			}
		}
	}()

	// wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker...")
	cancel()
	w.Stop()
}
