package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opencrew/agent-mesh/internal/apperr"
	"github.com/opencrew/agent-mesh/internal/auth"
	"github.com/opencrew/agent-mesh/internal/common"
	"github.com/opencrew/agent-mesh/internal/crypto"
	"github.com/opencrew/agent-mesh/internal/models"
	"github.com/opencrew/agent-mesh/internal/store"
)

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func userDTO(u models.User) gin.H {
	return gin.H{
		"id":          u.ID,
		"displayName": u.DisplayName,
		"email":       u.Email,
		"createdAt":   u.CreatedAt,
	}
}

func (h *Handler) issueSession(c *gin.Context, u models.User) {
	token, err := auth.SignSession(u.ID, h.Cfg.SessionSigningKey, h.Cfg.SessionTTL)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to sign session", err))
		return
	}
	auth.SetSessionCookie(c, token, h.Cfg.SessionTTL)
	common.OK(c, gin.H{"user": userDTO(u)})
}

// Register creates a user with a bcrypt-hashed password and signs them in
// immediately (spec.md §4.1's Auth contract).
func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Password == "" || req.Username == "" {
		common.FailErr(c, apperr.New(apperr.KindValidation, "username, email and password are required"))
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "failed to hash password", err))
		return
	}

	user := models.User{
		ID:           store.NewUUID(),
		DisplayName:  req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindConflict, "email already in use", err))
		return
	}

	h.issueSession(c, user)
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials and issues a fresh session cookie.
func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := common.DecodeJSON(c, &req); err != nil {
		common.FailErr(c, apperr.New(apperr.KindValidation, "invalid request body"))
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	var user models.User
	err := h.DB.WithContext(c.Request.Context()).First(&user, "email = ?", req.Email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !crypto.CheckPassword(user.PasswordHash, req.Password)) {
		common.FailErr(c, apperr.New(apperr.KindAuth, "invalid email or password"))
		return
	}
	if err != nil {
		common.FailErr(c, apperr.Wrap(apperr.KindInternal, "login lookup failed", err))
		return
	}

	h.issueSession(c, user)
}

// Logout clears the session cookie. Sessions are stateless JWTs, so
// logout is purely client-side revocation — there is nothing server-side
// to invalidate.
func (h *Handler) Logout(c *gin.Context) {
	auth.ClearSessionCookie(c)
	common.OK(c, gin.H{})
}

// Me returns the authenticated caller's identity.
func (h *Handler) Me(c *gin.Context) {
	userID, _ := auth.UserIDFromContext(c)
	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, "id = ?", userID).Error; err != nil {
		common.FailErr(c, apperr.ErrUnauthorized)
		return
	}
	common.OK(c, gin.H{"user": userDTO(user)})
}
