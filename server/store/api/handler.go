package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rtc_server/server/common/transport/httpresp"
	"rtc_server/server/store/repository"
)

type storeRepository interface {
	FindConversationParticipants(ctx context.Context, conversationID string) ([]string, bool, error)
	SetUserPresence(ctx context.Context, userID string, online bool) error
	SetUserLastSeen(ctx context.Context, userID string, at time.Time) error
}

type Handler struct {
	repo storeRepository
	ping func(ctx context.Context) error
}

func NewHandler(repo storeRepository, ping func(ctx context.Context) error) *Handler {
	return &Handler{repo: repo, ping: ping}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	internal := r.Group("/api/internal/v1/store")
	{
		internal.POST("/conversations/participants", h.findConversationParticipants)
		internal.POST("/users/presence", h.setUserPresence)
		internal.POST("/users/last-seen", h.setUserLastSeen)
	}
}

func (h *Handler) health(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) findConversationParticipants(c *gin.Context) {
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	participants, isGroup, err := h.repo.FindConversationParticipants(c.Request.Context(), req.ConversationID)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrConversationNotFound))
			return
		}
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"participant_ids": participants, "is_group": isGroup})
}

func (h *Handler) setUserPresence(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Online *bool  `json:"online" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if err := h.repo.SetUserPresence(c.Request.Context(), req.UserID, *req.Online); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) setUserLastSeen(c *gin.Context) {
	var req struct {
		UserID     string    `json:"user_id" binding:"required"`
		LastSeenAt time.Time `json:"last_seen_at" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if err := h.repo.SetUserLastSeen(c.Request.Context(), req.UserID, req.LastSeenAt); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}
