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
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/evsched/evsched/internal/api/handlers"
	"github.com/evsched/evsched/internal/config"
	"github.com/evsched/evsched/internal/curve"
	"github.com/evsched/evsched/internal/orchestrator"
	"github.com/evsched/evsched/internal/planner"
	"github.com/evsched/evsched/internal/repository"
	"github.com/evsched/evsched/internal/state"
	"github.com/evsched/evsched/internal/stats"
	"github.com/evsched/evsched/internal/telemetry"
	"github.com/evsched/evsched/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting evsched", zap.String("port", cfg.ServerPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL, cfg.DatabaseSSL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 持久化网关
	gateway := repository.NewGateway(db)

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 引擎装配：曲线学习、阈值统计、规划、编排
	learner := curve.NewLearner(gateway, logger)
	statsEngine := stats.NewEngine(gateway, logger)
	plannerEngine := planner.New(gateway, learner, statsEngine, wsHub, logger)
	orch := orchestrator.New(plannerEngine, gateway, logger)

	machines := state.NewManager(func(vehicleID uuid.UUID, from, to string) {
		logger.Debug("车辆状态迁移",
			zap.String("vehicle_id", vehicleID.String()),
			zap.String("from", from),
			zap.String("to", to))
	})
	ingestor := telemetry.NewIngestor(gateway, learner, statsEngine, orch, machines, logger)

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, cfg, gateway, ingestor, orch, wsHub)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    cfg.ServerIP + ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// 先等在途重规划收尾，再关 HTTP
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("Orchestrator forced to shutdown", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Internal-Auth")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
