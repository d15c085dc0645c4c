package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	commonauth "rtc_server/server/common/auth"
	"rtc_server/server/common/middleware"
	"rtc_server/server/common/transport/httpresp"
	"rtc_server/server/realtime/domain"
	"rtc_server/server/realtime/service"
)

type Handler struct {
	coord *service.Coordinator
	auth  *commonauth.Service
}

func NewHandler(coord *service.Coordinator, auth *commonauth.Service) *Handler {
	return &Handler{coord: coord, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws/realtime", h.handleRealtimeWS)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.POST("/calls/token", h.issueCallToken)
		api.GET("/presence/online", h.listOnlineUsers)
	}

	internal := r.Group("/api/internal/v1/realtime")
	internal.Use(middleware.AuthRequired(h.auth))
	{
		internal.POST("/message", h.deliverMessage)
		internal.POST("/message-deleted", h.deliverDeletion)
	}
}

func (h *Handler) issueCallToken(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		Channel string `json:"channel" binding:"required"`
		Subject string `json:"subject"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = userID
	}
	token, err := h.coord.IssueToken(req.Channel, subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrMediaNotConfigured))
		return
	}
	c.JSON(http.StatusOK, token)
}

func (h *Handler) listOnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_ids": h.coord.OnlineUsers()})
}

func (h *Handler) deliverMessage(c *gin.Context) {
	var in domain.DeliverInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if err := h.coord.Deliver(c.Request.Context(), in); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) deliverDeletion(c *gin.Context) {
	var in domain.DeleteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if err := h.coord.DeliverDeletion(in); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

var realtimeUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (h *Handler) handleRealtimeWS(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	claims, err := h.auth.ParseToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
		return
	}
	userID := claims.UserID

	conn, err := realtimeUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}

	connID := uuid.NewString()
	h.coord.Register(connID, conn)
	defer h.coord.Unregister(connID)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(90 * time.Second)); err != nil {
			return
		}
		var event domain.Envelope
		if err := conn.ReadJSON(&event); err != nil {
			return
		}
		h.dispatch(c, connID, userID, event)
	}
}

// dispatch is the single switch over the closed inbound event set. The
// authenticated user id always wins over whatever the frame claims.
// Replies go back through the coordinator so they share the connection's
// write lock with broadcasts.
func (h *Handler) dispatch(c *gin.Context, connID, userID string, event domain.Envelope) {
	switch event.Type {
	case domain.EventSetup:
		h.coord.Identify(connID, userID)
		h.coord.SendTo(connID, domain.Envelope{Type: domain.EventUserReady, UserID: userID})
	case domain.EventJoinRoom:
		h.coord.JoinRoom(c.Request.Context(), event.RoomID, connID, userID)
	case domain.EventLeaveRoom:
		h.coord.LeaveRoom(event.RoomID, connID)
	case domain.EventTyping:
		h.coord.Typing(event.RoomID, connID, userID, true)
	case domain.EventStopTyping:
		h.coord.Typing(event.RoomID, connID, userID, false)
	case domain.EventCallInvite:
		h.coord.Invite(event.CallID, userID, event.TargetID, event.Channel, event.CallKind)
	case domain.EventCallAccept:
		if err := h.coord.Accept(event.CallID); err != nil {
			h.sendEventError(connID, event.CallID, err)
		}
	case domain.EventCallDecline:
		h.coord.Decline(event.CallID, event.Reason)
	case domain.EventCallEnd:
		if err := h.coord.End(event.CallID); err != nil {
			h.sendEventError(connID, event.CallID, err)
		}
	default:
		h.coord.SendTo(connID, domain.Envelope{Type: domain.EventError, Error: "unknown event type"})
	}
}

func (h *Handler) sendEventError(connID, callID string, err error) {
	message := err.Error()
	if errors.Is(err, service.ErrUnknownCall) {
		message = httpresp.ErrUnknownCall
	}
	h.coord.SendTo(connID, domain.Envelope{Type: domain.EventError, CallID: callID, Error: message})
}
