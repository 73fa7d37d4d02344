package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evsched/evsched/internal/models"
)

// ListVehicles 获取账户下车辆列表
// GET /api/vehicles?account_id=...
func (h *Handler) ListVehicles(c *gin.Context) {
	accountID, err := uuid.Parse(c.Query("account_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID"})
		return
	}

	vehicles, err := h.gateway.ListVehiclesByAccount(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("Failed to list vehicles", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": "Failed to list vehicles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": vehicles})
}

// GetVehicle 获取车辆详情
func (h *Handler) GetVehicle(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	v, err := h.gateway.GetVehicle(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Vehicle not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": v})
}

// tripScheduleInput 预定行程
type tripScheduleInput struct {
	Level int       `json:"level" binding:"min=0,max=100"`
	Time  time.Time `json:"time" binding:"required"`
}

// updateVehicleRequest 用户可写的配置子集，缺省字段不变
type updateVehicleRequest struct {
	Name         *string              `json:"name"`
	MinimumLevel *int                 `json:"minimumLevel"`
	MaximumLevel *int                 `json:"maximumLevel"`
	AnxietyLevel *int                 `json:"anxietyLevel"`
	TripSchedule *tripScheduleInput   `json:"tripSchedule"`
	ClearTrip    bool                 `json:"clearTrip"`
	PausedUntil  *time.Time           `json:"pausedUntil"`
	Status       *string              `json:"status"`
	ProviderData *models.ProviderData `json:"providerData"`
}

// UpdateVehicle 更新车辆配置并触发重规划
// PATCH /api/vehicles/:id
func (h *Handler) UpdateVehicle(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	var req updateVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle payload"})
		return
	}

	err = h.orch.WithVehicleLock(id, func() error {
		v, err := h.gateway.GetVehicle(c.Request.Context(), id)
		if err != nil {
			return err
		}
		if req.Name != nil {
			v.Name = *req.Name
		}
		if req.MinimumLevel != nil {
			v.MinimumCharge = *req.MinimumLevel
		}
		if req.MaximumLevel != nil {
			v.MaximumCharge = *req.MaximumLevel
		}
		if req.AnxietyLevel != nil {
			v.AnxietyLevel = *req.AnxietyLevel
		}
		if req.TripSchedule != nil {
			level := req.TripSchedule.Level
			ts := req.TripSchedule.Time.UTC()
			v.TripLevel = &level
			v.TripTime = &ts
		}
		if req.ClearTrip {
			v.TripLevel = nil
			v.TripTime = nil
		}
		if req.PausedUntil != nil {
			ts := req.PausedUntil.UTC()
			v.PausedUntil = &ts
		}
		if req.Status != nil {
			v.Status = *req.Status
		}
		if req.ProviderData != nil {
			v.ProviderData = *req.ProviderData
		}
		return h.gateway.UpdateVehicleConfig(c.Request.Context(), v)
	})
	if err != nil {
		h.logger.Error("Failed to update vehicle",
			zap.String("vehicle_id", id.String()),
			zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": "Failed to update vehicle"})
		return
	}

	h.orch.Refresh(id)
	c.JSON(http.StatusOK, gin.H{"message": "Vehicle updated"})
}

// GetChargePlan 获取当前充电计划
// GET /api/vehicles/:id/plan
func (h *Handler) GetChargePlan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	v, err := h.gateway.GetVehicle(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Vehicle not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"charge_plan":  v.ChargePlan,
			"smart_status": v.SmartStatus,
		},
	})
}

// ListActions 获取车辆最近的适配器动作
// GET /api/vehicles/:id/actions
func (h *Handler) ListActions(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	actions, err := h.gateway.Actions.ListByTarget(c.Request.Context(), id, 50)
	if err != nil {
		h.logger.Error("Failed to list actions", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": "Failed to list actions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": actions})
}

// Replan 手动触发一辆车的重规划
// POST /api/vehicles/:id/replan
func (h *Handler) Replan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vehicle ID"})
		return
	}

	h.orch.Refresh(id)
	c.JSON(http.StatusAccepted, gin.H{"message": "Replan queued"})
}
