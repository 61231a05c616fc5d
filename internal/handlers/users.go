package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"authsvc/internal/middleware"
	"authsvc/internal/service"
)

type updateProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type sessionResponse struct {
	ID        int64     `json:"id"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h HandlerSet) Me(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)
	user, err := h.auth.Me(c.Request.Context(), identity.ID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (h HandlerSet) UpdateMe(c *gin.Context) {
	var req updateProfileRequest
	if !bindJSON(c, &req) {
		return
	}

	identity, _ := middleware.IdentityFrom(c)
	user, err := h.auth.UpdateMe(c.Request.Context(), identity.ID, service.UpdateProfileInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (h HandlerSet) ListSessions(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)
	sessions, err := h.auth.ListSessions(c.Request.Context(), identity.ID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	items := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionResponse{
			ID:        s.ID,
			IPAddress: s.IPAddress,
			UserAgent: s.UserAgent,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
