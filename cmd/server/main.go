package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"expedify/internal/config"
	"expedify/internal/handlers"
	"expedify/internal/middleware"
	"expedify/internal/models"
	"expedify/internal/observability"
	"expedify/internal/services"
	"expedify/pkg/llm"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// Read config.yml from the working directory, env vars override.
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("tracing disabled: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormtracing.NewPlugin()); err != nil {
			appLogger.Warnf("gorm tracing plugin: %v", err)
		}
	}
	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&models.Company{}, &models.Client{}, &models.Project{}, &models.Invoice{},
		&models.FollowUp{}, &models.Dispute{},
		&models.AutomationRule{}, &models.AutomationLogEntry{},
		&models.PaymentPromise{}, &models.CollectionTask{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	generator := llm.NewClient(&llm.Config{
		BaseURL:     cfg.AI.OpenAI.BaseURL,
		APIKey:      cfg.AI.OpenAI.APIKey,
		Model:       cfg.AI.OpenAI.Model,
		Temperature: cfg.AI.OpenAI.Temperature,
		MaxTokens:   cfg.AI.OpenAI.MaxTokens,
		Timeout:     cfg.AI.OpenAI.Timeout,
		MaxRetries:  cfg.AI.OpenAI.MaxRetries,
		RetryDelay:  cfg.AI.OpenAI.RetryDelay,
	}, appLogger)

	hub := services.NewActivityHub(appLogger)
	go hub.Run()

	engine := services.NewCollectionsEngine(db, appLogger, generator, hub, cfg.Engine.Approval)
	ruleService := services.NewRuleService(db, appLogger)
	approvalService := services.NewApprovalService(db, appLogger, hub)
	extractionService := services.NewExtractionService(db, appLogger, generator, hub)
	promiseService := services.NewPromiseService(db, appLogger, hub)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.Engine.WorkerEnabled && cfg.Engine.WorkerInterval > 0 {
		go engine.StartWorker(workerCtx, cfg.Engine.WorkerInterval)
	}

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	if cfg.Security.CORS.Enabled {
		r.Use(corsMiddleware(cfg.Security.CORS))
	}
	r.Use(middleware.RateLimitMiddleware(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	handlers.RegisterHealthRoutes(r, handlers.NewHealthHandler(db))
	r.GET("/ws/activity", hub.HandleWebSocket)

	auth := middleware.AuthMiddleware(cfg)
	api := r.Group("/api")
	handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(engine, ruleService, approvalService), auth)
	handlers.RegisterCollectionsRoutes(api, handlers.NewCollectionsHandler(extractionService, promiseService), auth)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: r}
	go func() {
		appLogger.Infof("Starting server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")
	stopWorker()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		appLogger.Warnf("Tracing shutdown: %v", err)
	}
	appLogger.Info("Server exited")
}

// corsMiddleware applies the configured CORS headers for the dashboard
// frontend.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	origin := "*"
	if len(cfg.AllowedOrigins) == 1 {
		origin = cfg.AllowedOrigins[0]
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	if headers == "" {
		headers = "Origin, Content-Type, Authorization"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", headers)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
