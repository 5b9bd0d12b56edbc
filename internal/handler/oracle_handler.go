package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/olegin77/TUSD-sub001/internal/handler/response"
	"github.com/olegin77/TUSD-sub001/internal/service/oracle"
)

// OracleHandler 价格查询接口
type OracleHandler struct {
	prices *oracle.Aggregator
}

func NewOracleHandler(prices *oracle.Aggregator) *OracleHandler {
	return &OracleHandler{prices: prices}
}

// Get 查询聚合价格
// GET /api/v1/prices/:mint
func (h *OracleHandler) Get(c *gin.Context) {
	price, err := h.prices.GetPrice(c.Request.Context(), c.Param("mint"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, price)
}
