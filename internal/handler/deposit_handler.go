package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/olegin77/TUSD-sub001/internal/handler/request"
	"github.com/olegin77/TUSD-sub001/internal/handler/response"
	"github.com/olegin77/TUSD-sub001/internal/service"
	"github.com/olegin77/TUSD-sub001/pkg/errno"
)

// DepositHandler 入金生命周期接口
type DepositHandler struct {
	deposits *service.DepositService
}

func NewDepositHandler(deposits *service.DepositService) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

// Create 发起入金
// POST /api/v1/deposits
func (h *DepositHandler) Create(c *gin.Context) {
	var req request.InitiateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	instructions, err := h.deposits.InitiateDeposit(c.Request.Context(), &service.InitiateDepositRequest{
		VaultID:         req.VaultID,
		UserSolAddress:  req.UserSolAddress,
		UserEvmAddress:  req.UserEvmAddress,
		AmountUsd:       req.AmountUsd,
		PayoutFrequency: req.PayoutFrequency,
		WantBoost:       req.WantBoost,
		BoostTokenMint:  req.BoostTokenMint,
		BoostAmount:     req.BoostAmount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, instructions)
}

// ConfirmPrincipal 确认本金转账
// POST /api/v1/deposits/:id/principal
func (h *DepositHandler) ConfirmPrincipal(c *gin.Context) {
	id, req, ok := bindConfirm(c)
	if !ok {
		return
	}
	deposit, err := h.deposits.ConfirmPrincipal(c.Request.Context(), id, req.TxHash)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, deposit)
}

// ConfirmBoost 确认加成代币锁仓
// POST /api/v1/deposits/:id/boost
func (h *DepositHandler) ConfirmBoost(c *gin.Context) {
	id, req, ok := bindConfirm(c)
	if !ok {
		return
	}
	deposit, err := h.deposits.ConfirmBoostLock(c.Request.Context(), id, &service.BoostLockConfirmation{
		TxHash:    req.TxHash,
		TokenMint: req.TokenMint,
		Amount:    req.Amount,
		PriceUsd:  req.PriceUsd,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, deposit)
}

// ConfirmMint 确认凭证铸造
// POST /api/v1/deposits/:id/mint
func (h *DepositHandler) ConfirmMint(c *gin.Context) {
	id, req, ok := bindConfirm(c)
	if !ok {
		return
	}
	if req.WexelID == 0 {
		response.Error(c, errno.ErrBind)
		return
	}
	deposit, err := h.deposits.ConfirmPositionMint(c.Request.Context(), id, req.TxHash, req.WexelID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, deposit)
}

// Fail 标记当前步骤失败
// POST /api/v1/deposits/:id/fail
func (h *DepositHandler) Fail(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	deposit, err := h.deposits.MarkStepFailed(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, deposit)
}

// Get 查询入金
// GET /api/v1/deposits/:id
func (h *DepositHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	deposit, err := h.deposits.GetDeposit(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, deposit)
}

// ListByUser 查询用户的所有入金
// GET /api/v1/users/:address/deposits
func (h *DepositHandler) ListByUser(c *gin.Context) {
	deposits, err := h.deposits.ListUserDeposits(c.Request.Context(), c.Param("address"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, deposits)
}

func pathID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return 0, false
	}
	return id, true
}

func bindConfirm(c *gin.Context) (uint64, *request.ConfirmStepRequest, bool) {
	id, ok := pathID(c)
	if !ok {
		return 0, nil, false
	}
	var req request.ConfirmStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return 0, nil, false
	}
	return id, &req, true
}
