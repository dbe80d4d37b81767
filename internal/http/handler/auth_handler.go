package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/bazar-auth/internal/domain"
	"github.com/smallbiznis/bazar-auth/internal/http/middleware"
	"github.com/smallbiznis/bazar-auth/internal/service"
)

// AuthHandler exposes the public auth flows over HTTP.
type AuthHandler struct {
	Auth *service.AuthService
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

// WebAppLogin authenticates a signed chat-app payload.
func (h *AuthHandler) WebAppLogin(c *gin.Context) {
	var req struct {
		InitData string `json:"init_data" binding:"required"`
		Phone    string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "init_data is required."})
		return
	}

	result, err := h.Auth.LoginViaChatApp(c.Request.Context(), req.InitData, req.Phone)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PhoneCodeRequest issues a one-time code for a phone number.
func (h *AuthHandler) PhoneCodeRequest(c *gin.Context) {
	var req struct {
		Phone   string `json:"phone" binding:"required"`
		Purpose string `json:"purpose"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "phone is required."})
		return
	}

	result, err := h.Auth.RequestPhoneCode(c.Request.Context(), req.Phone, domain.CodePurpose(req.Purpose))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PhoneCodeVerify checks a login code and signs the caller in.
func (h *AuthHandler) PhoneCodeVerify(c *gin.Context) {
	var req struct {
		Phone string `json:"phone" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "phone and code are required."})
		return
	}

	result, err := h.Auth.VerifyPhoneCode(c.Request.Context(), req.Phone, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PhoneLink attaches a code-proven phone to the authenticated user, merging
// an existing phone account into it when one exists.
func (h *AuthHandler) PhoneLink(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}

	var req struct {
		Phone string `json:"phone" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "phone and code are required."})
		return
	}

	result, err := h.Auth.LinkPhone(c.Request.Context(), session.UserID, req.Phone, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Me returns the sanitized current user.
func (h *AuthHandler) Me(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return
	}

	view, err := h.Auth.CurrentUser(c.Request.Context(), session.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": view})
}

// Healthz is the liveness probe.
func (h *AuthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	var authErr *service.AuthError
	if errors.As(err, &authErr) {
		body := gin.H{"error": authErr.Code, "error_description": authErr.Description}
		if authErr.RetryAfter > 0 {
			seconds := int(authErr.RetryAfter.Seconds() + 0.5)
			body["retry_after"] = seconds
			c.Header("Retry-After", strconv.Itoa(seconds))
		}
		c.JSON(authErr.Status, body)
		return
	}
	zap.L().Error("auth service failure", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}
