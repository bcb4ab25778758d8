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

	"research-companion-go/internal/config"
	"research-companion-go/internal/handler"
	"research-companion-go/internal/middleware"
	"research-companion-go/internal/model"
	"research-companion-go/internal/pipeline"
	"research-companion-go/internal/repository"
	"research-companion-go/internal/service"
	"research-companion-go/pkg/database"
	"research-companion-go/pkg/embedding"
	"research-companion-go/pkg/kafka"
	"research-companion-go/pkg/llm"
	"research-companion-go/pkg/log"
	"research-companion-go/pkg/scraper"
	"research-companion-go/pkg/storage"
	"research-companion-go/pkg/token"
	"research-companion-go/pkg/vectorindex"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、MinIO、Elasticsearch 与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.User{}, &model.Article{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	snapshots, err := storage.NewSnapshotStore(cfg.MinIO)
	if err != nil {
		log.Fatalf("MinIO 初始化失败: %v", err)
	}

	esClient, err := vectorindex.NewESClient(cfg.Elasticsearch)
	if err != nil {
		log.Fatalf("Elasticsearch 客户端初始化失败: %v", err)
	}
	index, err := vectorindex.NewESIndex(esClient, cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatalf("向量索引初始化失败: %v", err)
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	articleRepo := repository.NewArticleRepository(database.DB)
	qaHistoryRepo := repository.NewQAHistoryRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	scraperClient := scraper.NewClient(cfg.Scraper)

	userService := service.NewUserService(userRepo, jwtManager)
	articleService := service.NewArticleService(articleRepo, scraperClient, snapshots, index)
	searchService := service.NewSearchService(embeddingClient, index, articleRepo, cfg.Retrieval)
	qaService := service.NewQAService(searchService, llmClient, articleRepo, qaHistoryRepo, cfg.Retrieval, cfg.LLM)

	// 6. 初始化文章索引管线 (Processor)
	processor := pipeline.NewProcessor(embeddingClient, index, articleRepo, cfg.Retrieval, cfg.Embedding)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	userHandler := handler.NewUserHandler(userService)
	authHandler := handler.NewAuthHandler(userService)
	articleHandler := handler.NewArticleHandler(articleService)
	searchHandler := handler.NewSearchHandler(searchService)
	qaHandler := handler.NewQAHandler(qaService, userService, jwtManager)

	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/register", userHandler.Register)
			auth.POST("/login", userHandler.Login)
			auth.POST("/refreshToken", authHandler.RefreshToken)
		}

		// Users 路由组，需要认证
		users := apiV1.Group("/users")
		users.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			users.GET("/me", userHandler.GetProfile)
		}

		// Articles 路由组，需要认证
		articles := apiV1.Group("/articles")
		articles.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			articles.POST("", articleHandler.Create)
			articles.GET("", articleHandler.List)
			articles.GET("/:id", articleHandler.Get)
			articles.DELETE("/:id", articleHandler.Delete)
			articles.POST("/:id/reindex", articleHandler.Reindex)
		}

		// Search 路由，需要认证
		search := apiV1.Group("/search")
		search.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			search.GET("", searchHandler.Search)
		}

		// QA 路由组
		qa := apiV1.Group("/qa")
		{
			qa.GET("/websocket-token", qaHandler.GetWebsocketStopToken)

			authed := qa.Group("")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.POST("", qaHandler.Ask)
				authed.GET("/history", qaHandler.History)
			}
		}
		// QA 流式路由 (WebSocket)，token 经路径传递
		r.GET("/qa/stream/:token", qaHandler.Stream)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
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

	// Kafka 消费循环随进程退出自然结束，无需额外关闭逻辑
	log.Info("服务已优雅关闭")
}
