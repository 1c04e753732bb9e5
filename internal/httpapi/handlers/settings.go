package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/opencrew/agent-mesh/internal/apperr"
	"github.com/opencrew/agent-mesh/internal/auth"
	"github.com/opencrew/agent-mesh/internal/common"
)

type setTokenReq struct {
	TokenID string `json:"tokenId"`
}

// SetProjectToken rebinds a project's token, refusing an inactive or
// foreign one (spec.md §4.1's Settings contract).
func (h *Handler) SetProjectToken(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	p, err := h.loadOwnedProject(c, c.Param("id"), userID)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	var req setTokenReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}

	tok, err := h.loadOwnedToken(c, req.TokenID, userID)
	if err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "tokenId does not reference a token you own"))
		return
	}
	if !tok.Active {
		common.FailErr(c, apperr.New(apperr.KindValidation, "token is inactive"))
		return
	}

	if err := h.DB.WithContext(c.Request.Context()).Model(p).Update("token_id", tok.ID).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to update project token", err))
		return
	}
	p.TokenID = &tok.ID
	common.OK(c, projectDTO(*p))
}

// SetProjectPause is the settings-namespace alias of SetProjectStatus.
func (h *Handler) SetProjectPause(c *gin.Context) {
	var req statusReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	h.setProjectPaused(c, c.Param("id"), req.Paused)
}

type setLimitReq struct {
	Limit int `json:"limit"`
}

// SetProjectLimit sets the remaining message budget, capped for the demo
// user per spec.md §4.1.
func (h *Handler) SetProjectLimit(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	p, err := h.loadOwnedProject(c, c.Param("id"), userID)
	if err != nil {
		common.FailErr(c, err)
		return
	}

	var req setLimitReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	if req.Limit < 0 {
		common.FailErr(c, apperr.New(apperr.KindValidation, "limit must be >= 0"))
		return
	}
	limit := h.budgetCeilingFor(userID, req.Limit)

	if err := h.DB.WithContext(c.Request.Context()).Model(p).Update("remaining_budget", limit).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to update project limit", err))
		return
	}
	p.RemainingBudget = limit
	common.OK(c, projectDTO(*p))
}
