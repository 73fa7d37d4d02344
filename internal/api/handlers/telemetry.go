package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/evsched/evsched/internal/telemetry"
)

// UpdateVehicleData 摄取一次遥测样本
// POST /api/telemetry
// 同一辆车的样本在车辆临界区内串行处理；坏样本整体丢弃并记录日志
func (h *Handler) UpdateVehicleData(c *gin.Context) {
	var sample telemetry.Sample
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid telemetry payload"})
		return
	}

	err := h.orch.WithVehicleLock(sample.ID, func() error {
		return h.ingestor.Ingest(c.Request.Context(), &sample)
	})
	if err != nil {
		h.logger.Error("Failed to ingest telemetry",
			zap.String("vehicle_id", sample.ID.String()),
			zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": "Failed to ingest telemetry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
