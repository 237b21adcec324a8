package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

// Messaging is the conversation service behind the HTTP API.
type Messaging interface {
	SendDirectMessage(ctx context.Context, senderID, recipientID int64, content string) (models.Message, error)
	SendGroupMessage(ctx context.Context, senderID, groupID int64, content string) (models.Message, error)
	GetDirectMessages(ctx context.Context, userID int64) ([]models.Message, error)
	GetGroupMessages(ctx context.Context, groupID, userID int64) ([]models.Message, error)
	GetUnreadCount(ctx context.Context, userID int64) (int, error)
	CreateGroup(ctx context.Context, creatorID int64, name string, description *string) (models.Group, models.GroupMembership, error)
	ListUserGroups(ctx context.Context, userID int64) ([]models.Group, error)
	RequestToJoinGroup(ctx context.Context, userID, groupID int64) (models.GroupJoinRequest, error)
	ListPendingJoinRequests(ctx context.Context, adminID, groupID int64) ([]models.GroupJoinRequest, error)
	ProcessJoinRequest(ctx context.Context, adminID, requestID int64, accept bool) (models.GroupJoinRequest, *models.GroupMembership, error)
}

// Receipts is the delivery tracker behind the receipt endpoints.
type Receipts interface {
	MarkAsRead(ctx context.Context, messageID, userID int64) (models.Message, bool, error)
	MarkAsDelivered(ctx context.Context, messageID, userID int64) (models.Message, bool, error)
}

// Notifier pushes HTTP-originated changes to live websocket connections.
type Notifier interface {
	MessageSent(msg models.Message)
	ReceiptUpdated(msg models.Message)
	MembershipGranted(membership models.GroupMembership)
}

type nopNotifier struct{}

func (nopNotifier) MessageSent(models.Message)               {}
func (nopNotifier) ReceiptUpdated(models.Message)            {}
func (nopNotifier) MembershipGranted(models.GroupMembership) {}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": apperr.PublicMessage(err)})
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64("userID")
}

func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
