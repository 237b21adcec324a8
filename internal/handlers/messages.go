package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/models"
)

// MessageHandler serves direct and group messages and their receipts.
type MessageHandler struct {
	messaging Messaging
	receipts  Receipts
	notifier  Notifier
}

// NewMessageHandler builds a MessageHandler. notifier may be nil.
func NewMessageHandler(messaging Messaging, receipts Receipts, notifier Notifier) *MessageHandler {
	return &MessageHandler{
		messaging: messaging,
		receipts:  receipts,
		notifier:  notifierOrNop(notifier),
	}
}

// SendDirectMessage handles POST /messaging/direct.
func (h *MessageHandler) SendDirectMessage(c *gin.Context) {
	var req struct {
		RecipientID int64  `json:"recipient_id" binding:"required"`
		Content     string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messaging.SendDirectMessage(c.Request.Context(), currentUser(c), req.RecipientID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	h.notifier.MessageSent(msg)
	c.JSON(http.StatusCreated, msg)
}

// GetDirectMessages handles GET /messaging/direct.
func (h *MessageHandler) GetDirectMessages(c *gin.Context) {
	msgs, err := h.messaging.GetDirectMessages(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetUnreadCount handles GET /messaging/direct/unread-count.
func (h *MessageHandler) GetUnreadCount(c *gin.Context) {
	count, err := h.messaging.GetUnreadCount(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// SendGroupMessage handles POST /messaging/group.
func (h *MessageHandler) SendGroupMessage(c *gin.Context) {
	var req struct {
		GroupID int64  `json:"group_id" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messaging.SendGroupMessage(c.Request.Context(), currentUser(c), req.GroupID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	h.notifier.MessageSent(msg)
	c.JSON(http.StatusCreated, msg)
}

// GetGroupMessages handles GET /messaging/groups/:group_id/messages.
func (h *MessageHandler) GetGroupMessages(c *gin.Context) {
	groupID, ok := parseIDParam(c, "group_id")
	if !ok {
		return
	}
	msgs, err := h.messaging.GetGroupMessages(c.Request.Context(), groupID, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// MarkAsRead handles POST /messaging/messages/:message_id/read.
func (h *MessageHandler) MarkAsRead(c *gin.Context) {
	h.mark(c, h.receipts.MarkAsRead)
}

// MarkAsDelivered handles POST /messaging/messages/:message_id/delivered.
func (h *MessageHandler) MarkAsDelivered(c *gin.Context) {
	h.mark(c, h.receipts.MarkAsDelivered)
}

func (h *MessageHandler) mark(c *gin.Context, apply func(ctx context.Context, messageID, userID int64) (models.Message, bool, error)) {
	messageID, ok := parseIDParam(c, "message_id")
	if !ok {
		return
	}
	msg, changed, err := apply(c.Request.Context(), messageID, currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if changed {
		h.notifier.ReceiptUpdated(msg)
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "changed": changed})
}
