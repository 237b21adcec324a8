package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/telemetry"
)

// GroupHandler manages groups and join requests.
type GroupHandler struct {
	messaging Messaging
	notifier  Notifier
	audit     *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler. notifier and audit may be nil.
func NewGroupHandler(messaging Messaging, notifier Notifier, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{
		messaging: messaging,
		notifier:  notifierOrNop(notifier),
		audit:     audit,
	}
}

// CreateGroup handles POST /messaging/groups.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name        string  `json:"name" binding:"required"`
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, admin, err := h.messaging.CreateGroup(c.Request.Context(), currentUser(c), req.Name, req.Description)
	if err != nil {
		h.auditFailure(c, err)
		writeError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "Group created")
	c.JSON(http.StatusCreated, gin.H{"group": group, "membership": admin})
}

// ListGroups returns groups the caller belongs to.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.messaging.ListUserGroups(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// RequestToJoin handles POST /messaging/groups/:group_id/join.
func (h *GroupHandler) RequestToJoin(c *gin.Context) {
	groupID, ok := parseIDParam(c, "group_id")
	if !ok {
		return
	}

	joinReq, err := h.messaging.RequestToJoinGroup(c.Request.Context(), currentUser(c), groupID)
	if err != nil {
		h.auditFailure(c, err)
		writeError(c, err)
		return
	}

	h.emitAudit(c, "INFO", "Join request created")
	c.JSON(http.StatusCreated, joinReq)
}

// ListPendingRequests lets a group admin see open join requests.
func (h *GroupHandler) ListPendingRequests(c *gin.Context) {
	groupID, ok := parseIDParam(c, "group_id")
	if !ok {
		return
	}

	reqs, err := h.messaging.ListPendingJoinRequests(c.Request.Context(), currentUser(c), groupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// ProcessJoinRequest accepts or rejects a pending request. Accepting joins the
// new member's live connections to the group room.
func (h *GroupHandler) ProcessJoinRequest(c *gin.Context) {
	requestID, ok := parseIDParam(c, "request_id")
	if !ok {
		return
	}

	var req struct {
		Accept *bool `json:"accept" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	joinReq, membership, err := h.messaging.ProcessJoinRequest(c.Request.Context(), currentUser(c), requestID, *req.Accept)
	if err != nil {
		h.auditFailure(c, err)
		writeError(c, err)
		return
	}

	if membership != nil {
		h.notifier.MembershipGranted(*membership)
		h.emitAudit(c, "INFO", "Join request accepted")
	} else {
		h.emitAudit(c, "INFO", "Join request rejected")
	}
	c.JSON(http.StatusOK, gin.H{"request": joinReq, "membership": membership})
}

func (h *GroupHandler) auditFailure(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindForbidden:
		h.emitAudit(c, "ERROR", "not allowed")
	case apperr.KindNotFound:
		h.emitAudit(c, "ERROR", "not found")
	case apperr.KindValidation, apperr.KindConflict:
		h.emitAudit(c, "WARN", apperr.PublicMessage(err))
	default:
		h.emitAudit(c, "ERROR", "internal error")
	}
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
