// Package main 是应用程序的入口点。
package main

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"pai-context-go/internal/config"
	"pai-context-go/internal/decoder"
	"pai-context-go/internal/handler"
	"pai-context-go/internal/middleware"
	"pai-context-go/internal/model"
	"pai-context-go/internal/pipeline"
	"pai-context-go/internal/ratelimit"
	"pai-context-go/internal/repository"
	"pai-context-go/internal/service"
	"pai-context-go/pkg/database"
	"pai-context-go/pkg/embedding"
	"pai-context-go/pkg/es"
	"pai-context-go/pkg/kafka"
	"pai-context-go/pkg/llm"
	"pai-context-go/pkg/log"
	"pai-context-go/pkg/storage"
	"pai-context-go/pkg/tika"
	"pai-context-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. 初始化数据库、Redis、ES
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}
	if err := database.AutoMigrate(db, &model.Source{}, &model.Checksum{}, &model.Section{}, &model.Transcript{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	rdb, err := database.NewRedis(rootCtx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	esClient, err := es.NewClient(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatal("ES 初始化失败", err)
	}
	if err := esClient.EnsureIndex(rootCtx); err != nil {
		log.Fatal("ES 索引初始化失败", err)
	}

	// MinIO 与 Kafka 是可选的，未配置时关闭快照与异步摄取
	var store *storage.Store
	if cfg.MinIO.Endpoint != "" {
		if store, err = storage.NewStore(rootCtx, cfg.MinIO); err != nil {
			log.Fatal("MinIO 初始化失败", err)
		}
	}
	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
	}

	// 4. 初始化 Repository
	sourceRepo := repository.NewSourceRepository(db)
	checksumRepo := repository.NewChecksumRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	transcriptRepo := repository.NewTranscriptRepository(db)
	usageRepo := repository.NewUsageRepository(rdb)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	deps := pipeline.IndexerDeps{
		Embedder:  embeddingClient,
		Vectors:   esClient,
		Sections:  sectionRepo,
		Checksums: checksumRepo,
		Usage:     usageRepo,
	}
	if cfg.Tika.ServerURL != "" {
		deps.Extractor = tika.NewClient(cfg.Tika)
	}
	indexer := pipeline.NewIndexer(deps, pipeline.IndexerConfig{
		ChunkSize:         cfg.Ingestion.ChunkSize,
		ChunkOverlap:      cfg.Ingestion.ChunkOverlap,
		CharsPerToken:     cfg.Completion.CharsPerToken,
		ContentTokenQuota: cfg.Quota.ContentTokens,
		ModelVersion:      cfg.Embedding.Model,
	})
	views := cfg.Ingestion.RefreshViews
	if len(views) == 0 {
		views = []string{esClient.Index()}
	}
	controller, err := pipeline.NewController(indexer, checksumRepo,
		pipeline.WithConcurrency(cfg.Ingestion.Concurrency),
		pipeline.WithRefresher(esClient, views...),
	)
	if err != nil {
		log.Fatal("摄取控制器初始化失败", err)
	}

	var objectStore service.ObjectStore
	if store != nil {
		objectStore = store
	}
	var taskProducer service.TaskProducer
	if producer != nil {
		taskProducer = producer
	}
	if err := (decoder.GlobFilter{Include: cfg.Ingestion.Include, Exclude: cfg.Ingestion.Exclude}).Validate(); err != nil {
		log.Fatal("摄取 glob 配置无效", err)
	}
	ingestService := service.NewIngestService(controller, sourceRepo, objectStore, taskProducer, cfg.Ingestion)
	retrievalService := service.NewRetrievalService(embeddingClient, esClient, usageRepo, cfg.Quota.CompletionTokens)
	completionService := service.NewCompletionService(retrievalService, llmClient, transcriptRepo, usageRepo, cfg.Completion)

	// 6. 启动后台 Kafka 消费者
	if cfg.Kafka.Brokers != "" && store != nil {
		consumer := kafka.NewConsumer(cfg.Kafka, ingestService, rdb)
		go func() {
			if err := consumer.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("[Kafka] 消费者退出: %v", err)
			}
		}()
	}

	// 6.1 导入种子目录，已导入且未变化的文件由校验和跳过
	if cfg.Server.SeedProject != "" {
		go initSeedFiles(rootCtx, cfg.Server.SeedDir, cfg.Server.SeedProject, ingestService)
	}

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(rdb), cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)
	ingestHandler := handler.NewIngestHandler(ingestService, cfg.Server.MaxBodyBytes)
	completionHandler := handler.NewCompletionHandler(completionService)

	// 8. 注册路由
	r.GET("/healthz", handler.Healthz)
	r.GET("/chat/:token", handler.NewChatHandler(completionService, jwtManager, cfg.Completion.Separator).Handle)

	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		auth.Use(middleware.AdminKeyMiddleware(cfg.JWT.AdminKey))
		{
			auth.POST("/token", handler.NewAuthHandler(jwtManager).IssueToken)
		}

		authed := apiV1.Group("/")
		authed.Use(middleware.AuthMiddleware(jwtManager), middleware.RateLimit(limiter))
		{
			authed.POST("/sources/:sourceType/ingest", ingestHandler.Ingest)
			authed.POST("/sources/:sourceType/ingest/async", ingestHandler.IngestAsync)
			authed.POST("/completions", completionHandler.Complete)
			authed.GET("/transcripts", handler.NewTranscriptHandler(transcriptRepo).List)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停止消费者与种子导入
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// initSeedFiles 把目录打包为 zip，作为一次 file-upload 摄取交给同一个控制器。
func initSeedFiles(ctx context.Context, dir, projectID string, ingestSvc service.IngestService) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("[Seed] 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	payload, n, err := zipDir(dir)
	if err != nil {
		log.Warnf("[Seed] 打包目录失败: %v", err)
		return
	}
	if n == 0 {
		log.Infof("[Seed] 目录 '%s' 为空，跳过", dir)
		return
	}

	res, err := ingestSvc.Ingest(ctx, service.IngestRequest{
		ProjectID:   projectID,
		SourceType:  model.SourceFileUpload,
		SourceName:  "seed",
		ContentType: "application/zip",
		Payload:     payload,
	})
	if err != nil {
		log.Warnf("[Seed] 导入失败: %v", err)
		return
	}
	log.Infof("[Seed] 导入完成, files: %d, outcome: %s, success: %d", n, res.Outcome, res.SuccessCount)
}

// zipDir 在内存中打包 dir 下的所有常规文件，返回 zip 字节与文件数。
func zipDir(dir string) ([]byte, int, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	count := 0
	walkErr := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			log.Warnf("[Seed] 打开文件失败: %s, err=%v", p, err)
			return nil
		}
		defer f.Close()
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, f); err != nil {
			return err
		}
		count++
		return nil
	})
	if walkErr != nil {
		return nil, 0, walkErr
	}
	if err := zw.Close(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), count, nil
}
