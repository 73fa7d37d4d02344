package handlers

import (
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/evsched/evsched/internal/models"
)

// priceScale 电价以 currency/kWh ×100000 的整数存储
const priceScale = 100000

// updatePriceRequest 电价更新请求
type updatePriceRequest struct {
	Prices []struct {
		StartAt time.Time `json:"startAt" binding:"required"`
		Price   float64   `json:"price"`
	} `json:"prices" binding:"required"`
}

// UpdatePrice 载入一个价格代码的整点电价并触发重规划
// POST /api/prices/:code
// 仅限内部服务身份调用
func (h *Handler) UpdatePrice(c *gin.Context) {
	if c.GetHeader("X-Internal-Auth") != h.cfg.SingleUserPassword {
		c.JSON(http.StatusForbidden, gin.H{"error": "Internal identity required"})
		return
	}

	code := c.Param("code")
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid price payload"})
		return
	}

	points := make([]models.PricePoint, 0, len(req.Prices))
	for _, p := range req.Prices {
		points = append(points, models.PricePoint{
			PriceCode: code,
			TS:        p.StartAt.UTC().Truncate(time.Hour),
			Price:     int64(math.Round(p.Price * priceScale)),
		})
	}

	if err := h.gateway.UpdatePriceList(c.Request.Context(), code, points); err != nil {
		h.logger.Error("Failed to update price list",
			zap.String("price_code", code),
			zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": "Failed to update price list"})
		return
	}

	if err := h.orch.PriceListRefreshed(c.Request.Context(), code); err != nil {
		h.logger.Error("Failed to trigger replans",
			zap.String("price_code", code),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Price list updated",
		"points":  len(points),
	})
}
