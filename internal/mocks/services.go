package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/models"
)

type MessagingServiceMock struct {
	mock.Mock
}

func (m *MessagingServiceMock) SendDirectMessage(ctx context.Context, senderID, recipientID int64, content string) (models.Message, error) {
	args := m.Called(ctx, senderID, recipientID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessagingServiceMock) SendGroupMessage(ctx context.Context, senderID, groupID int64, content string) (models.Message, error) {
	args := m.Called(ctx, senderID, groupID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessagingServiceMock) GetDirectMessages(ctx context.Context, userID int64) ([]models.Message, error) {
	args := m.Called(ctx, userID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessagingServiceMock) GetGroupMessages(ctx context.Context, groupID, userID int64) ([]models.Message, error) {
	args := m.Called(ctx, groupID, userID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessagingServiceMock) GetUnreadCount(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MessagingServiceMock) CreateGroup(ctx context.Context, creatorID int64, name string, description *string) (models.Group, models.GroupMembership, error) {
	args := m.Called(ctx, creatorID, name, description)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	var admin models.GroupMembership
	if val := args.Get(1); val != nil {
		admin = val.(models.GroupMembership)
	}
	return group, admin, args.Error(2)
}

func (m *MessagingServiceMock) ListUserGroups(ctx context.Context, userID int64) ([]models.Group, error) {
	args := m.Called(ctx, userID)
	var groups []models.Group
	if val := args.Get(0); val != nil {
		groups = val.([]models.Group)
	}
	return groups, args.Error(1)
}

func (m *MessagingServiceMock) RequestToJoinGroup(ctx context.Context, userID, groupID int64) (models.GroupJoinRequest, error) {
	args := m.Called(ctx, userID, groupID)
	var req models.GroupJoinRequest
	if val := args.Get(0); val != nil {
		req = val.(models.GroupJoinRequest)
	}
	return req, args.Error(1)
}

func (m *MessagingServiceMock) ListPendingJoinRequests(ctx context.Context, adminID, groupID int64) ([]models.GroupJoinRequest, error) {
	args := m.Called(ctx, adminID, groupID)
	var reqs []models.GroupJoinRequest
	if val := args.Get(0); val != nil {
		reqs = val.([]models.GroupJoinRequest)
	}
	return reqs, args.Error(1)
}

func (m *MessagingServiceMock) ProcessJoinRequest(ctx context.Context, adminID, requestID int64, accept bool) (models.GroupJoinRequest, *models.GroupMembership, error) {
	args := m.Called(ctx, adminID, requestID, accept)
	var req models.GroupJoinRequest
	if val := args.Get(0); val != nil {
		req = val.(models.GroupJoinRequest)
	}
	var membership *models.GroupMembership
	if val := args.Get(1); val != nil {
		membership = val.(*models.GroupMembership)
	}
	return req, membership, args.Error(2)
}

type ReceiptsMock struct {
	mock.Mock
}

func (m *ReceiptsMock) MarkAsRead(ctx context.Context, messageID, userID int64) (models.Message, bool, error) {
	args := m.Called(ctx, messageID, userID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *ReceiptsMock) MarkAsDelivered(ctx context.Context, messageID, userID int64) (models.Message, bool, error) {
	args := m.Called(ctx, messageID, userID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) MessageSent(msg models.Message) {
	m.Called(msg)
}

func (m *NotifierMock) ReceiptUpdated(msg models.Message) {
	m.Called(msg)
}

func (m *NotifierMock) MembershipGranted(membership models.GroupMembership) {
	m.Called(membership)
}
