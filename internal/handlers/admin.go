package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"authsvc/internal/apperr"
	"authsvc/internal/middleware"
	"authsvc/internal/models"
)

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h HandlerSet) AdminListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	result, err := h.admin.ListUsers(c.Request.Context(), page, pageSize)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	items := make([]userResponse, 0, len(result.Users))
	for _, u := range result.Users {
		items = append(items, toUserResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"page":     result.Page,
		"pageSize": result.PageSize,
	})
}

func (h HandlerSet) AdminSetStatus(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}

	actor, _ := middleware.IdentityFrom(c)
	user, err := h.admin.SetStatus(c.Request.Context(), actor, id, models.UserStatus(req.Status))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (h HandlerSet) AdminRevokeSessions(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}

	actor, _ := middleware.IdentityFrom(c)
	if err := h.admin.RevokeSessions(c.Request.Context(), actor, id); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h HandlerSet) OwnerSetRole(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	var req roleRequest
	if !bindJSON(c, &req) {
		return
	}

	actor, _ := middleware.IdentityFrom(c)
	user, err := h.admin.SetRole(c.Request.Context(), actor, id, models.UserRole(req.Role))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.AbortWithError(c, apperr.New(apperr.BadRequest, "Invalid user id"))
		return 0, false
	}
	return id, true
}
