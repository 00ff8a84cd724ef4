// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"cms-assistant-go/internal/config"
	"cms-assistant-go/internal/handler"
	"cms-assistant-go/internal/middleware"
	"cms-assistant-go/internal/model"
	"cms-assistant-go/internal/pipeline"
	"cms-assistant-go/internal/repository"
	"cms-assistant-go/internal/service"
	"cms-assistant-go/pkg/database"
	"cms-assistant-go/pkg/kafka"
	"cms-assistant-go/pkg/llm"
	"cms-assistant-go/pkg/log"
	"cms-assistant-go/pkg/storage"
	"cms-assistant-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	var models []interface{}
	if cfg.Database.MySQL.AutoMigrate {
		models = []interface{}{
			&model.User{}, &model.ContentType{}, &model.Content{}, &model.Element{}, &model.Component{},
			&model.Conversation{}, &model.Message{}, &model.Media{}, &model.UsageRecord{},
		}
	}
	database.InitMySQL(cfg.Database.MySQL.DSN, models...)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	fileStore := storage.NewMinIOStore(storage.MinioClient, cfg.MinIO.BucketName)

	// 4. 初始化模型服务商
	timeout := llm.ClampTimeout(cfg.LLM.TimeoutSeconds)
	registry := llm.NewRegistry(
		llm.NewAnthropicProvider(cfg.LLM.Anthropic, timeout),
		llm.NewOpenAIProvider(cfg.LLM.OpenAI, timeout),
	)

	// 5. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	contentRepo := repository.NewContentRepository(database.DB)
	catalogueRepo := repository.NewCatalogueRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	mediaRepo := repository.NewMediaRepository(database.DB)
	usageRepo := repository.NewUsageRepository(database.DB)
	settingsRepo := repository.NewSettingsRepository(database.RDB)

	// 6. 用量事件：Kafka 生产者与后台消费者
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	publisher := service.NopPublisher
	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		publisher = producer
		go kafka.StartConsumer(consumerCtx, cfg.Kafka, database.RDB, pipeline.NewProcessor(usageRepo))
	} else {
		log.Warnf("未配置 Kafka brokers，用量事件不会被投递")
	}

	// 7. 初始化 Service (依赖注入)
	conversationService := service.NewConversationService(conversationRepo, registry, publisher, cfg.AI.CompactKeepLast)
	attachmentPipeline := service.NewAttachmentPipeline(fileStore, mediaRepo, cfg.AI.MaxImageBytes, cfg.AI.MediaBaseURL)
	modelService := service.NewModelService(registry, settingsRepo, cfg.LLM.Anthropic.DefaultModel)
	orchestrator := service.NewOrchestrator(conversationService, attachmentPipeline, registry, publisher, cfg.AI)
	pageService := service.NewPageGeneratorService(orchestrator, conversationService, attachmentPipeline, modelService, contentRepo, catalogueRepo, cfg.AI)
	assistantService := service.NewAssistantService(orchestrator, conversationService, modelService, contentRepo, catalogueRepo)
	mediaService := service.NewMediaService(fileStore, mediaRepo, registry, cfg.AI.MaxImageBytes, cfg.AI.MediaBaseURL)

	jwtManager := token.NewJWTManager(cfg.JWT.Secret)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	handler.RegisterRoutes(r, handler.Handlers{
		Assistant:     handler.NewAssistantHandler(assistantService),
		PageGenerator: handler.NewPageGeneratorHandler(pageService),
		Conversation:  handler.NewConversationHandler(conversationService),
		Admin:         handler.NewAdminHandler(modelService),
		Media:         handler.NewMediaHandler(mediaService),
	}, handler.Middlewares{
		Auth:  middleware.AuthMiddleware(jwtManager, userRepo),
		CSRF:  middleware.CSRFMiddleware(),
		Admin: middleware.AdminAuthMiddleware(),
	})

	// 启动 HTTP 服务器并实现优雅停机。写超时要覆盖一次完整的模型调用
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: timeout + 30*time.Second,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	stopConsumer()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}
