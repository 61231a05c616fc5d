package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"authsvc/internal/apperr"
	"authsvc/internal/middleware"
	"authsvc/internal/models"
	"authsvc/internal/service"
)

const refreshCookiePath = "/api/v1/auth"

type signupRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	AccessToken string       `json:"accessToken"`
	ExpiresAt   time.Time    `json:"expiresAt"`
	User        userResponse `json:"user"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  *string   `json:"lastName,omitempty"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      string(u.Role),
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
	}
}

func (h HandlerSet) Signup(c *gin.Context) {
	var req signupRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.auth.Signup(c.Request.Context(), service.SignupInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	}, client(c))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusCreated, result)
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, client(c))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusOK, result)
}

// Refresh reads the refresh token from its cookie, falling back to the body
// for clients that cannot hold cookies.
func (h HandlerSet) Refresh(c *gin.Context) {
	raw, _ := c.Cookie(h.cfg.Security.RefreshCookie)
	if raw == "" {
		var req refreshRequest
		_ = c.ShouldBindJSON(&req)
		raw = req.RefreshToken
	}

	result, err := h.auth.Refresh(c.Request.Context(), raw, client(c))
	if err != nil {
		if apperr.StatusOf(err) == http.StatusUnauthorized {
			h.clearCookies(c)
		}
		middleware.AbortWithError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusOK, result)
}

func (h HandlerSet) Logout(c *gin.Context) {
	raw, _ := c.Cookie(h.cfg.Security.RefreshCookie)
	if raw == "" {
		var req refreshRequest
		_ = c.ShouldBindJSON(&req)
		raw = req.RefreshToken
	}

	if err := h.auth.Logout(c.Request.Context(), raw); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	h.clearCookies(c)
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) LogoutAll(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)
	if err := h.auth.LogoutAll(c.Request.Context(), identity.ID); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	h.clearCookies(c)
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.auth.VerifyEmail(c.Request.Context(), req.Token, client(c))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusOK, result)
}

func (h HandlerSet) ResendVerification(c *gin.Context) {
	var req emailRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.auth.ResendVerification(c.Request.Context(), req.Email); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, messageResponse{Message: "If the account exists and is unverified, a new link has been sent"})
}

func (h HandlerSet) RequestPasswordReset(c *gin.Context) {
	var req emailRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.auth.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, messageResponse{Message: "If the account exists, a reset link has been sent"})
}

func (h HandlerSet) ConfirmPasswordReset(c *gin.Context) {
	var req resetRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.auth.ResetPassword(c.Request.Context(), req.Token, req.Password, client(c))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	h.sendAuthResponse(c, http.StatusOK, result)
}

func (h HandlerSet) sendAuthResponse(c *gin.Context, status int, result service.AuthResult) {
	sec := h.cfg.Security
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sec.AccessCookie, result.AccessToken, maxAge(result.AccessExpiresAt), "/", sec.CookieDomain, sec.CookieSecure, true)
	c.SetCookie(sec.RefreshCookie, result.RefreshToken, maxAge(result.RefreshExpiresAt), refreshCookiePath, sec.CookieDomain, sec.CookieSecure, true)

	c.JSON(status, authResponse{
		AccessToken: result.AccessToken,
		ExpiresAt:   result.AccessExpiresAt,
		User:        toUserResponse(result.User),
	})
}

func (h HandlerSet) clearCookies(c *gin.Context) {
	sec := h.cfg.Security
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sec.AccessCookie, "", -1, "/", sec.CookieDomain, sec.CookieSecure, true)
	c.SetCookie(sec.RefreshCookie, "", -1, refreshCookiePath, sec.CookieDomain, sec.CookieSecure, true)
}

func maxAge(expiresAt time.Time) int {
	return max(int(time.Until(expiresAt).Seconds()), 1)
}
