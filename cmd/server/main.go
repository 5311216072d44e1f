package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/api"
	"github.com/qs3c/kanchana_server/internal/api/handler"
	"github.com/qs3c/kanchana_server/internal/database"
	"github.com/qs3c/kanchana_server/internal/pkg/cron"
	"github.com/qs3c/kanchana_server/internal/pkg/crypto"
	"github.com/qs3c/kanchana_server/internal/pkg/embedding"
	"github.com/qs3c/kanchana_server/internal/pkg/oss"
	"github.com/qs3c/kanchana_server/internal/pkg/provider"
	"github.com/qs3c/kanchana_server/internal/pkg/pubsub"
	"github.com/qs3c/kanchana_server/internal/pkg/queue"
	"github.com/qs3c/kanchana_server/internal/pkg/ratelimit"
	"github.com/qs3c/kanchana_server/internal/pkg/s3store"
	"github.com/qs3c/kanchana_server/internal/pkg/vector"
	"github.com/qs3c/kanchana_server/internal/pkg/ws"
	"github.com/qs3c/kanchana_server/internal/repository"
	"github.com/qs3c/kanchana_server/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Printf("Database connected (driver=%s)", cfg.Database.Driver)

	// 初始化 Redis（可选）
	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = database.NewRedis(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect redis: %v", err)
		}
		log.Println("Redis connected")
	} else {
		log.Println("Redis not configured, using in-process queue, events and rate limits")
	}

	cipher, err := crypto.NewCipher(cfg.Encryption.KeySeed)
	if err != nil {
		log.Fatalf("Failed to init message cipher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub()

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	modeRepo := repository.NewModeUsageRepository(db)
	guestRepo := repository.NewGuestUsageRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// 初始化 provider 链路
	httpClient := &http.Client{}
	gemini := provider.NewGemini(&cfg.Providers.Gemini, httpClient)
	router := provider.NewRouter(provider.RouterOptions{
		Order: cfg.Providers.Order,
		Free: []provider.TextProvider{
			provider.NewGroq(&cfg.Providers.Groq, httpClient),
			provider.NewExternal(&cfg.Providers.External, httpClient),
		},
		Premium:    gemini,
		Image:      gemini,
		Classifier: provider.NewKeywordClassifier(cfg.Providers.ImageKeywords),
		Assets:     newAssetStore(ctx, cfg),
		Backoff:    provider.NewBackoff(),
		Timeout:    time.Duration(cfg.Providers.TimeoutSeconds) * time.Second,
		Budgets: provider.BudgetSet{
			Free:     cfg.Providers.FreeBudget,
			Premium:  cfg.Providers.PremiumBudget,
			External: cfg.Providers.ExternalBudget,
		},
		AssistantName: cfg.Chat.AssistantName,
	})
	log.Printf("Provider chain: %v (free configured: %v)", router.Order(), router.HasFreeProviders())

	// 初始化 Service
	ledger := service.NewUsageLedger(userRepo, modeRepo, guestRepo)
	store := service.NewConversationStore(messageRepo, cipher)
	memory := newMemoryService(cfg, db, gemini, httpClient, store)

	var events pubsub.EventPublisher
	var jobs service.JobQueue
	var chatStore, guestStore ratelimit.Store
	var sweepers []cron.Sweeper
	if rdb != nil {
		events = pubsub.NewPublisher(rdb)
		jobs = queue.NewQueue(rdb, cfg.Queue.MemoryQueue)
		chatStore = ratelimit.NewRedisStore(rdb)
		guestStore = chatStore

		subscriber := pubsub.NewSubscriber(rdb)
		go func() {
			if err := subscriber.Subscribe(ctx, wsHub.ForwardChatEvent); err != nil && ctx.Err() == nil {
				log.Printf("Chat event subscription stopped: %v", err)
			}
		}()
	} else {
		events = pubsub.NewLocal(wsHub.ForwardChatEvent)
		memStore := ratelimit.NewMemoryStore()
		chatStore, guestStore = memStore, memStore
		sweepers = append(sweepers, memStore)
	}

	chatService := service.NewChatService(cfg, userRepo, ledger, store, memory, router, jobs, events)
	userService := service.NewUserService(userRepo, modeRepo, cfg)

	// 预热和限流清理
	cronService := cron.NewService(router, messageRepo, cipher, cron.Options{
		Enabled:      cfg.KeepAlive.Enabled,
		Interval:     time.Duration(cfg.KeepAlive.IntervalSeconds) * time.Second,
		HistoryLimit: cfg.KeepAlive.HistoryLimit,
	}, sweepers...)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Handler
	chatHandler := handler.NewChatHandler(chatService, cfg.Chat)
	quotaHandler := handler.NewQuotaHandler(chatService)
	modesHandler := handler.NewModesHandler(chatService, cfg.Chat.DefaultMode)
	userHandler := handler.NewUserHandler(userService)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret)

	// 初始化 Router
	apiRouter := api.NewRouter(
		chatHandler,
		quotaHandler,
		modesHandler,
		userHandler,
		websocketHandler,
		ratelimit.New(chatStore, "chat_rate", cfg.Quota.ChatPerMinute, time.Minute),
		ratelimit.New(guestStore, "guest_chat_rate", cfg.Quota.GuestChatPerMinute, time.Minute),
		cfg,
	)
	engine := apiRouter.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// newAssetStore 优先使用 OSS，其次 S3 兼容存储；都未配置时返回 nil
func newAssetStore(ctx context.Context, cfg *config.Config) provider.AssetStore {
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		client, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			log.Println("OSS asset store initialized")
			return client
		}
	}

	if cfg.S3.Endpoint != "" && cfg.S3.AccessKeyID != "" {
		store, err := s3store.New(&cfg.S3)
		if err != nil {
			log.Printf("Warning: Failed to init S3 client: %v", err)
			return nil
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.Printf("Warning: Failed to ensure S3 bucket: %v", err)
			return nil
		}
		log.Println("S3 asset store initialized")
		return store
	}

	log.Println("No asset store configured, generated images stay inline")
	return nil
}

// newMemoryService 长期记忆未启用时返回关闭状态的服务
func newMemoryService(cfg *config.Config, db *gorm.DB, gemini *provider.Gemini, httpClient *http.Client, store *service.ConversationStore) *service.MemoryService {
	embedder := embedding.New(&cfg.Memory, gemini, httpClient)
	if embedder == gemini && !gemini.Configured() {
		embedder = nil
	}
	if embedder == nil {
		log.Println("Long-term memory disabled")
		return service.NewMemoryService(nil, nil, store, cfg.Memory.TopK)
	}
	log.Printf("Long-term memory enabled (embedder=%s, top_k=%d)", cfg.Memory.Embedder, cfg.Memory.TopK)
	return service.NewMemoryService(embedder, vector.NewIndex(repository.NewVectorRepository(db)), store, cfg.Memory.TopK)
}
