package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/olegin77/TUSD-sub001/internal/handler/response"
	"github.com/olegin77/TUSD-sub001/internal/service"
)

// BridgeHandler 跨链意向查询接口
type BridgeHandler struct {
	bridge *service.BridgeService
}

func NewBridgeHandler(bridge *service.BridgeService) *BridgeHandler {
	return &BridgeHandler{bridge: bridge}
}

// Get 查询意向状态
// GET /api/v1/bridge/intents/:id
func (h *BridgeHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	intent, err := h.bridge.Status(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, intent)
}

// Confirm 记录一次验证者确认
// POST /api/v1/bridge/intents/:id/confirm
func (h *BridgeHandler) Confirm(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	intent, err := h.bridge.ConfirmIntent(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, intent)
}
