package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/olegin77/TUSD-sub001/internal/handler/request"
	"github.com/olegin77/TUSD-sub001/internal/handler/response"
	"github.com/olegin77/TUSD-sub001/internal/service"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
)

// BoostHandler 加成估值接口
type BoostHandler struct {
	boost *service.BoostService
}

func NewBoostHandler(boost *service.BoostService) *BoostHandler {
	return &BoostHandler{boost: boost}
}

// Quote 预估一笔加成锁仓的 APY 效果
// POST /api/v1/boosts/quote
func (h *BoostHandler) Quote(c *gin.Context) {
	var req request.BoostQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	quote, err := h.boost.Quote(c.Request.Context(), req.WexelID, req.TokenMint, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, quote)
}
