package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/database"
	"github.com/qs3c/kanchana_server/internal/pkg/crypto"
	"github.com/qs3c/kanchana_server/internal/pkg/embedding"
	"github.com/qs3c/kanchana_server/internal/pkg/provider"
	"github.com/qs3c/kanchana_server/internal/pkg/queue"
	"github.com/qs3c/kanchana_server/internal/pkg/vector"
	"github.com/qs3c/kanchana_server/internal/repository"
	"github.com/qs3c/kanchana_server/internal/service"
	"github.com/qs3c/kanchana_server/internal/worker"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Redis.Enabled() {
		log.Fatalf("Worker requires redis, memory indexing runs in-process without it")
	}

	// 初始化数据库
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	cipher, err := crypto.NewCipher(cfg.Encryption.KeySeed)
	if err != nil {
		log.Fatalf("Failed to init message cipher: %v", err)
	}

	// 初始化向量化和索引
	httpClient := &http.Client{}
	gemini := provider.NewGemini(&cfg.Providers.Gemini, httpClient)
	embedder := embedding.New(&cfg.Memory, gemini, httpClient)
	if embedder == nil || (embedder == gemini && !gemini.Configured()) {
		log.Fatalf("Long-term memory is disabled or has no embedder configured")
	}

	store := service.NewConversationStore(repository.NewMessageRepository(db), cipher)
	index := vector.NewIndex(repository.NewVectorRepository(db))
	memory := service.NewMemoryService(embedder, index, store, cfg.Memory.TopK)

	jobQueue := queue.NewQueue(rdb, cfg.Queue.MemoryQueue)
	processor := worker.NewProcessor(memory)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	log.Printf("Worker started, queue: %s, max workers: %d", cfg.Queue.MemoryQueue, cfg.Queue.MaxWorkers)
	logBacklog(jobQueue, "startup")
	processor.Run(ctx, jobQueue, cfg.Queue.MaxWorkers)
	logBacklog(jobQueue, "shutdown")
	log.Println("Worker shutdown complete")
}

// logBacklog 打印队列积压，停机时剩余任务留给下一个 worker
func logBacklog(q *queue.Queue, stage string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	n, err := q.Length(ctx)
	if err != nil {
		log.Printf("Failed to read memory queue backlog at %s: %v", stage, err)
		return
	}
	log.Printf("Memory queue backlog at %s: %d", stage, n)
}
