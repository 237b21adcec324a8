package service

import (
	"context"
	"errors"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

type sendDirectCommand struct {
	SenderID    int64  `json:"sender_id" validate:"required"`
	RecipientID int64  `json:"recipient_id" validate:"required"`
	Content     string `json:"content" validate:"required,max=4000"`
}

type sendGroupCommand struct {
	SenderID int64  `json:"sender_id" validate:"required"`
	GroupID  int64  `json:"group_id" validate:"required"`
	Content  string `json:"content" validate:"required,max=4000"`
}

type createGroupCommand struct {
	CreatorID   int64  `json:"creator_id" validate:"required"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=1000"`
}

type groupRefCommand struct {
	UserID  int64 `json:"user_id" validate:"required"`
	GroupID int64 `json:"group_id" validate:"required"`
}

// MessagingService creates messages, groups and join requests and answers the
// history queries.
type MessagingService struct {
	messages     repositories.MessageRepository
	groups       repositories.GroupRepository
	joinRequests repositories.JoinRequestRepository
	clock        clock.Clock
	events       EventSink
	validate     *validator.Validate
	log          *zap.Logger
	tracer       trace.Tracer
}

// NewMessagingService builds a MessagingService. events may be nil.
func NewMessagingService(
	messages repositories.MessageRepository,
	groups repositories.GroupRepository,
	joinRequests repositories.JoinRequestRepository,
	clk clock.Clock,
	events EventSink,
	log *zap.Logger,
) *MessagingService {
	return &MessagingService{
		messages:     messages,
		groups:       groups,
		joinRequests: joinRequests,
		clock:        clk,
		events:       sinkOrNop(events),
		validate:     newValidator(),
		log:          log.Named("messaging"),
		tracer:       tracer(),
	}
}

// SendDirectMessage stores a message addressed to a single recipient.
func (s *MessagingService) SendDirectMessage(ctx context.Context, senderID, recipientID int64, content string) (msg models.Message, err error) {
	ctx, span := s.tracer.Start(ctx, "MessagingService.SendDirectMessage", trace.WithAttributes(
		attribute.Int64("sender.id", senderID),
		attribute.Int64("recipient.id", recipientID),
	))
	defer func() { endSpan(span, err) }()

	if err := checkCommand(s.validate, sendDirectCommand{SenderID: senderID, RecipientID: recipientID, Content: strings.TrimSpace(content)}); err != nil {
		return models.Message{}, err
	}

	now := s.clock.Now().UTC()
	msg, err = s.messages.CreateMessage(ctx, models.Message{
		Content:        content,
		SenderID:       senderID,
		Target:         models.DirectTarget{RecipientID: recipientID},
		CreatedAt:      now,
		UpdatedAt:      now,
		DeliveryStatus: models.DeliverySent,
	})
	if err != nil {
		return models.Message{}, translate(s.log, "create direct message", err)
	}

	observability.IncMessagesSent("direct")
	s.events.Emit(ctx, observability.EventMessageSent, msg)
	return msg, nil
}

// SendGroupMessage stores a message addressed to a group the sender belongs to.
func (s *MessagingService) SendGroupMessage(ctx context.Context, senderID, groupID int64, content string) (msg models.Message, err error) {
	ctx, span := s.tracer.Start(ctx, "MessagingService.SendGroupMessage", trace.WithAttributes(
		attribute.Int64("sender.id", senderID),
		attribute.Int64("group.id", groupID),
	))
	defer func() { endSpan(span, err) }()

	if err := checkCommand(s.validate, sendGroupCommand{SenderID: senderID, GroupID: groupID, Content: strings.TrimSpace(content)}); err != nil {
		return models.Message{}, err
	}
	if _, err := s.groups.GetGroup(ctx, groupID); err != nil {
		return models.Message{}, translate(s.log, "get group", err)
	}
	if _, err := s.requireMembership(ctx, groupID, senderID, "not a member of this group"); err != nil {
		return models.Message{}, err
	}

	now := s.clock.Now().UTC()
	msg, err = s.messages.CreateMessage(ctx, models.Message{
		Content:        content,
		SenderID:       senderID,
		Target:         models.GroupTarget{GroupID: groupID},
		CreatedAt:      now,
		UpdatedAt:      now,
		DeliveryStatus: models.DeliverySent,
	})
	if err != nil {
		return models.Message{}, translate(s.log, "create group message", err)
	}

	observability.IncMessagesSent("group")
	s.events.Emit(ctx, observability.EventMessageSent, msg)
	return msg, nil
}

// CreateGroup creates a group whose creator becomes its first admin.
func (s *MessagingService) CreateGroup(ctx context.Context, creatorID int64, name string, description *string) (group models.Group, admin models.GroupMembership, err error) {
	ctx, span := s.tracer.Start(ctx, "MessagingService.CreateGroup", trace.WithAttributes(attribute.Int64("creator.id", creatorID)))
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	cmd := createGroupCommand{CreatorID: creatorID, Name: name}
	if description != nil {
		cmd.Description = strings.TrimSpace(*description)
	}
	if err := checkCommand(s.validate, cmd); err != nil {
		return models.Group{}, models.GroupMembership{}, err
	}

	now := s.clock.Now().UTC()
	group = models.Group{Name: name, CreatorID: creatorID, CreatedAt: now, UpdatedAt: now}
	if cmd.Description != "" {
		group.Description = &cmd.Description
	}
	group, admin, err = s.groups.CreateGroupWithAdmin(ctx, group)
	if err != nil {
		return models.Group{}, models.GroupMembership{}, translate(s.log, "create group", err)
	}

	s.events.Emit(ctx, observability.EventGroupCreated, group)
	return group, admin, nil
}

// RequestToJoinGroup files a pending join request for a group the user is not in.
func (s *MessagingService) RequestToJoinGroup(ctx context.Context, userID, groupID int64) (req models.GroupJoinRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "MessagingService.RequestToJoinGroup", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("group.id", groupID),
	))
	defer func() { endSpan(span, err) }()

	if err := checkCommand(s.validate, groupRefCommand{UserID: userID, GroupID: groupID}); err != nil {
		return models.GroupJoinRequest{}, err
	}
	if _, err := s.groups.GetGroup(ctx, groupID); err != nil {
		return models.GroupJoinRequest{}, translate(s.log, "get group", err)
	}

	_, err = s.groups.GetMembership(ctx, groupID, userID)
	switch {
	case err == nil:
		return models.GroupJoinRequest{}, apperr.Forbidden("already a member of this group")
	case !errors.Is(err, repositories.ErrMembershipNotFound):
		return models.GroupJoinRequest{}, translate(s.log, "get membership", err)
	}

	_, err = s.joinRequests.FindPendingJoinRequest(ctx, groupID, userID)
	switch {
	case err == nil:
		return models.GroupJoinRequest{}, apperr.Forbidden("a join request is already pending")
	case !errors.Is(err, repositories.ErrJoinRequestNotFound):
		return models.GroupJoinRequest{}, translate(s.log, "find pending join request", err)
	}

	req, err = s.joinRequests.CreateJoinRequest(ctx, models.GroupJoinRequest{
		UserID:    userID,
		GroupID:   groupID,
		Status:    models.JoinRequestPending,
		CreatedAt: s.clock.Now().UTC(),
	})
	if err != nil {
		return models.GroupJoinRequest{}, translate(s.log, "create join request", err)
	}

	s.events.Emit(ctx, observability.EventGroupJoinRequested, req)
	return req, nil
}

// ProcessJoinRequest accepts or rejects a pending request. Only an admin of the
// request's group may do so. The returned membership is non-nil when accepted.
func (s *MessagingService) ProcessJoinRequest(ctx context.Context, adminID, requestID int64, accept bool) (req models.GroupJoinRequest, membership *models.GroupMembership, err error) {
	ctx, span := s.tracer.Start(ctx, "MessagingService.ProcessJoinRequest", trace.WithAttributes(
		attribute.Int64("admin.id", adminID),
		attribute.Int64("request.id", requestID),
		attribute.Bool("accept", accept),
	))
	defer func() { endSpan(span, err) }()

	req, err = s.joinRequests.GetJoinRequest(ctx, requestID)
	if err != nil {
		return models.GroupJoinRequest{}, nil, translate(s.log, "get join request", err)
	}
	if err := s.requireAdmin(ctx, req.GroupID, adminID, "only group admins can process join requests"); err != nil {
		return models.GroupJoinRequest{}, nil, err
	}
	if req.Status != models.JoinRequestPending {
		return models.GroupJoinRequest{}, nil, apperr.Conflict("join request already processed")
	}

	status := models.JoinRequestRejected
	if accept {
		status = models.JoinRequestAccepted
	}
	req, membership, err = s.joinRequests.ResolveJoinRequest(ctx, requestID, status, s.clock.Now().UTC())
	if err != nil {
		return models.GroupJoinRequest{}, nil, translate(s.log, "resolve join request", err)
	}

	s.events.Emit(ctx, observability.EventGroupJoinProcessed, req)
	return req, membership, nil
}

// GetDirectMessages lists direct messages the user sent or received, newest first.
func (s *MessagingService) GetDirectMessages(ctx context.Context, userID int64) ([]models.Message, error) {
	msgs, err := s.messages.ListDirectMessages(ctx, userID)
	if err != nil {
		return nil, translate(s.log, "list direct messages", err)
	}
	return msgs, nil
}

// GetGroupMessages lists a group's messages, newest first, for a member.
func (s *MessagingService) GetGroupMessages(ctx context.Context, groupID, userID int64) ([]models.Message, error) {
	if _, err := s.requireMembership(ctx, groupID, userID, "not a member of this group"); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListGroupMessages(ctx, groupID)
	if err != nil {
		return nil, translate(s.log, "list group messages", err)
	}
	return msgs, nil
}

// GetUserGroupMemberships lists every membership of the user.
func (s *MessagingService) GetUserGroupMemberships(ctx context.Context, userID int64) ([]models.GroupMembership, error) {
	memberships, err := s.groups.ListMembershipsForUser(ctx, userID)
	if err != nil {
		return nil, translate(s.log, "list memberships", err)
	}
	return memberships, nil
}

// IsMember reports whether the user belongs to the group.
func (s *MessagingService) IsMember(ctx context.Context, groupID, userID int64) (bool, error) {
	_, err := s.groups.GetMembership(ctx, groupID, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repositories.ErrMembershipNotFound):
		return false, nil
	default:
		return false, translate(s.log, "get membership", err)
	}
}

func (s *MessagingService) ListUserGroups(ctx context.Context, userID int64) ([]models.Group, error) {
	groups, err := s.groups.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, translate(s.log, "list groups", err)
	}
	return groups, nil
}

// ListPendingJoinRequests lists pending requests of a group for one of its admins.
func (s *MessagingService) ListPendingJoinRequests(ctx context.Context, adminID, groupID int64) ([]models.GroupJoinRequest, error) {
	if err := s.requireAdmin(ctx, groupID, adminID, "only group admins can view join requests"); err != nil {
		return nil, err
	}
	reqs, err := s.joinRequests.ListPendingJoinRequests(ctx, groupID)
	if err != nil {
		return nil, translate(s.log, "list join requests", err)
	}
	return reqs, nil
}

func (s *MessagingService) GetUnreadCount(ctx context.Context, userID int64) (int, error) {
	count, err := s.messages.CountUnread(ctx, userID)
	if err != nil {
		return 0, translate(s.log, "count unread", err)
	}
	return count, nil
}

func (s *MessagingService) requireMembership(ctx context.Context, groupID, userID int64, denied string) (models.GroupMembership, error) {
	membership, err := s.groups.GetMembership(ctx, groupID, userID)
	if errors.Is(err, repositories.ErrMembershipNotFound) {
		return models.GroupMembership{}, apperr.Forbidden(denied)
	}
	if err != nil {
		return models.GroupMembership{}, translate(s.log, "get membership", err)
	}
	return membership, nil
}

func (s *MessagingService) requireAdmin(ctx context.Context, groupID, userID int64, denied string) error {
	membership, err := s.requireMembership(ctx, groupID, userID, denied)
	if err != nil {
		return err
	}
	if !membership.IsAdmin() {
		return apperr.Forbidden(denied)
	}
	return nil
}
