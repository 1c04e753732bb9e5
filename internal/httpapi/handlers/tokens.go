package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opencrew/agent-mesh/internal/apperr"
	"github.com/opencrew/agent-mesh/internal/auth"
	"github.com/opencrew/agent-mesh/internal/common"
	"github.com/opencrew/agent-mesh/internal/models"
	"github.com/opencrew/agent-mesh/internal/store"
)

func tokenDTO(t models.Token) gin.H {
	return gin.H{
		"id":        t.ID,
		"label":     t.Label,
		"active":    t.Active,
		"createdAt": t.CreatedAt,
	}
}

// ListTokens returns the caller's tokens, secrets never included.
func (h *Handler) ListTokens(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var tokens []models.Token
	if err := h.DB.WithContext(c.Request.Context()).Where("owner_user_id = ?", userID).Order("created_at ASC").Find(&tokens).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to list tokens", err))
		return
	}
	out := make([]gin.H, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenDTO(t))
	}
	common.OK(c, out)
}

type createTokenReq struct {
	Name   string `json:"name"`
	APIKey string `json:"apiKey"`
}

// CreateToken encrypts the plaintext secret with the process key before
// it ever touches the database (spec.md §4.7).
func (h *Handler) CreateToken(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)

	var req createTokenReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || strings.TrimSpace(req.APIKey) == "" {
		common.FailErr(c, apperr.New(apperr.KindValidation, "name and apiKey are required"))
		return
	}

	ciphertext, err := h.Cipher.Encrypt(req.APIKey)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to encrypt token", err))
		return
	}

	token := models.Token{
		ID:          store.NewUUID(),
		OwnerUserID: userID,
		Label:       req.Name,
		Ciphertext:  ciphertext,
		Active:      true,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&token).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to create token", err))
		return
	}

	common.OK(c, tokenDTO(token))
}

// loadOwnedToken loads a token by id and confirms the caller owns it.
func (h *Handler) loadOwnedToken(c *gin.Context, id, userID string) (*models.Token, error) {
	var t models.Token
	if err := h.DB.WithContext(c.Request.Context()).First(&t, "id = ?", id).Error; err != nil {
		return nil, apperr.ErrNotFound
	}
	if t.OwnerUserID != userID {
		return nil, apperr.ErrNotFound
	}
	return &t, nil
}

// DeleteToken refuses to delete the protected demo token or a token still
// bound to a project.
func (h *Handler) DeleteToken(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	id := c.Param("id")

	tok, err := h.loadOwnedToken(c, id, userID)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	if h.isDemoToken(tok.ID) {
		common.FailErr(c, apperr.ErrForbiddenDemo)
		return
	}

	var inUse int64
	if err := h.DB.WithContext(c.Request.Context()).Model(&models.Project{}).Where("token_id = ?", tok.ID).Count(&inUse).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to check token usage", err))
		return
	}
	if inUse > 0 {
		common.FailErr(c, apperr.New(apperr.KindConflict, "token is bound to a project"))
		return
	}

	if err := h.DB.WithContext(c.Request.Context()).Delete(&models.Token{}, "id = ?", tok.ID).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to delete token", err))
		return
	}
	common.OK(c, gin.H{})
}

func (h *Handler) setTokenActive(c *gin.Context, active bool) {
	userID, _ := auth.UserIDFromContext(c)
	id := c.Param("id")

	tok, err := h.loadOwnedToken(c, id, userID)
	if err != nil {
		common.FailErr(c, err)
		return
	}
	if h.isDemoToken(tok.ID) && !active {
		common.FailErr(c, apperr.ErrForbiddenDemo)
		return
	}

	if err := h.DB.WithContext(c.Request.Context()).Model(tok).Update("active", active).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to update token", err))
		return
	}
	tok.Active = active
	common.OK(c, tokenDTO(*tok))
}

func (h *Handler) EnableToken(c *gin.Context)  { h.setTokenActive(c, true) }
func (h *Handler) DisableToken(c *gin.Context) { h.setTokenActive(c, false) }
