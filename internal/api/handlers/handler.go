package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/evsched/evsched/internal/config"
	"github.com/evsched/evsched/internal/orchestrator"
	"github.com/evsched/evsched/internal/repository"
	"github.com/evsched/evsched/internal/telemetry"
	"github.com/evsched/evsched/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	cfg      *config.Config
	gateway  *repository.Gateway
	ingestor *telemetry.Ingestor
	orch     *orchestrator.Orchestrator
	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	cfg *config.Config,
	gateway *repository.Gateway,
	ingestor *telemetry.Ingestor,
	orch *orchestrator.Orchestrator,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:   logger,
		cfg:      cfg,
		gateway:  gateway,
		ingestor: ingestor,
		orch:     orch,
		wsHub:    wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 遥测与电价（适配器内部接口）
		api.POST("/telemetry", h.UpdateVehicleData)
		api.POST("/prices/:code", h.UpdatePrice)

		// 车辆
		api.GET("/vehicles", h.ListVehicles)
		api.GET("/vehicles/:id", h.GetVehicle)
		api.PATCH("/vehicles/:id", h.UpdateVehicle)
		api.GET("/vehicles/:id/plan", h.GetChargePlan)
		api.GET("/vehicles/:id/actions", h.ListActions)
		api.POST("/vehicles/:id/replan", h.Replan)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// statusFor 错误分类到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, repository.ErrAuthDenied):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}
