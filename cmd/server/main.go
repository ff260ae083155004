package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/webdav-provider/internal/auth"
	"github.com/webdav-provider/internal/config"
	"github.com/webdav-provider/internal/dav"
	"github.com/webdav-provider/internal/dav/fs"
	"github.com/webdav-provider/internal/dav/object"
	"github.com/webdav-provider/internal/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logger
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	// Storage backend resolver
	resolver, err := buildResolver(cfg)
	if err != nil {
		logger.Fatalf("Failed to create storage resolver: %v", err)
	}
	logger.Infof("Storage backend initialized (%s)", cfg.Storage.Type)

	// Lock manager with persistence
	lockStore, err := buildLockStore(cfg)
	if err != nil {
		logger.Fatalf("Failed to create lock store: %v", err)
	}
	lockManager := dav.NewMemoryLockManager(lockStore, logger)
	lockManager.SetMaxTimeout(cfg.Dav.MaxLockTimeout)
	lockManager.SetAllowInfinite(cfg.Dav.AllowInfiniteLocks)
	defer lockManager.Close()
	logger.Info("Lock manager initialized")

	// Dead property manager
	propManager, err := dav.NewSQLPropertyManager(cfg.DatabaseDriver(), cfg.GetDSN())
	if err != nil {
		logger.Fatalf("Failed to create property manager: %v", err)
	}
	defer propManager.Close()
	logger.Info("Property manager initialized")

	// Provider facade
	provider := dav.NewProvider(resolver)
	provider.SetMountPath(cfg.Dav.MountPath)
	provider.SetSharePath(cfg.Dav.SharePath)
	provider.SetLockManager(lockManager)
	provider.SetPropManager(propManager)
	provider.SetLogger(logger)
	provider.SetVerbose(cfg.Dav.Verbose)

	davHandler := dav.NewHandler(provider, lockManager)

	// Auth service; initial users come from environment
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	seedUsers(authService, logger)

	// Setup Gin
	gin.SetMode(cfg.GetGINMode())
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.CORSMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	// Auth routes
	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/login", handleLogin(authService))
		authGroup.GET("/me", middleware.AuthMiddleware(authService), handleGetMe())
	}

	// WebDAV routes
	davGroup := router.Group(cfg.Dav.MountPath)
	if cfg.Auth.Enabled {
		davGroup.Use(middleware.AuthMiddleware(authService))
	}
	davHandler.Register(davGroup)

	// Setup HTTP server
	srv := &http.Server{
		Addr:           cfg.Server.Address,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	// Graceful shutdown
	go func() {
		logger.Infof("Starting server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

// buildResolver 按配置构造存储后端解析器
func buildResolver(cfg *config.Config) (dav.Resolver, error) {
	switch cfg.Storage.Type {
	case "object":
		store, err := object.NewStore(object.StoreConfig{
			Endpoint:  cfg.Storage.Object.Endpoint,
			AccessKey: cfg.Storage.Object.AccessKey,
			SecretKey: cfg.Storage.Object.SecretKey,
			UseSSL:    cfg.Storage.Object.UseSSL,
			Bucket:    cfg.Storage.Object.BucketName,
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return object.NewResolver(store), nil
	default:
		if err := os.MkdirAll(cfg.Storage.Local.RootPath, 0755); err != nil {
			return nil, err
		}
		return fs.NewResolver(cfg.Storage.Local.RootPath)
	}
}

// buildLockStore 按配置构造锁持久化存储
func buildLockStore(cfg *config.Config) (dav.LockStore, error) {
	if cfg.Cache.LockStore == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return dav.NewRedisLockStore(client), nil
	}
	return dav.NewSQLLockStore(cfg.DatabaseDriver(), cfg.GetDSN())
}

// seedUsers 从环境变量创建初始用户
func seedUsers(authService *auth.Service, logger *logrus.Logger) {
	username := os.Getenv("DAV_USERNAME")
	password := os.Getenv("DAV_PASSWORD")
	if username == "" || password == "" {
		logger.Warn("DAV_USERNAME/DAV_PASSWORD not set, no users seeded")
		return
	}
	if _, err := authService.AddUser(username, password); err != nil {
		logger.WithError(err).Error("failed to seed user")
		return
	}
	logger.Infof("Seeded user %s", username)
}
