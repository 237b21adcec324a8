package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/identity"
	"messaging-service/internal/models"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var created models.Message
	if val := args.Get(0); val != nil {
		created = val.(models.Message)
	}
	return created, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListDirectMessages(ctx context.Context, userID int64) ([]models.Message, error) {
	args := m.Called(ctx, userID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) ListGroupMessages(ctx context.Context, groupID int64) ([]models.Message, error) {
	args := m.Called(ctx, groupID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error) {
	args := m.Called(ctx, messageID, at)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, messageID int64, at time.Time) (models.Message, bool, error) {
	args := m.Called(ctx, messageID, at)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Bool(1), args.Error(2)
}

func (m *MessageRepositoryMock) MarkAllDelivered(ctx context.Context, recipientID int64, at time.Time) ([]models.Message, error) {
	args := m.Called(ctx, recipientID, at)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, recipientID int64) (int, error) {
	args := m.Called(ctx, recipientID)
	return args.Int(0), args.Error(1)
}

type GroupRepositoryMock struct {
	mock.Mock
}

func (m *GroupRepositoryMock) CreateGroupWithAdmin(ctx context.Context, group models.Group) (models.Group, models.GroupMembership, error) {
	args := m.Called(ctx, group)
	var (
		created models.Group
		admin   models.GroupMembership
	)
	if val := args.Get(0); val != nil {
		created = val.(models.Group)
	}
	if val := args.Get(1); val != nil {
		admin = val.(models.GroupMembership)
	}
	return created, admin, args.Error(2)
}

func (m *GroupRepositoryMock) GetGroup(ctx context.Context, groupID int64) (models.Group, error) {
	args := m.Called(ctx, groupID)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupRepositoryMock) ListGroupsForUser(ctx context.Context, userID int64) ([]models.Group, error) {
	args := m.Called(ctx, userID)
	var groups []models.Group
	if val := args.Get(0); val != nil {
		groups = val.([]models.Group)
	}
	return groups, args.Error(1)
}

func (m *GroupRepositoryMock) GetMembership(ctx context.Context, groupID int64, userID int64) (models.GroupMembership, error) {
	args := m.Called(ctx, groupID, userID)
	var membership models.GroupMembership
	if val := args.Get(0); val != nil {
		membership = val.(models.GroupMembership)
	}
	return membership, args.Error(1)
}

func (m *GroupRepositoryMock) ListMembershipsForUser(ctx context.Context, userID int64) ([]models.GroupMembership, error) {
	args := m.Called(ctx, userID)
	var memberships []models.GroupMembership
	if val := args.Get(0); val != nil {
		memberships = val.([]models.GroupMembership)
	}
	return memberships, args.Error(1)
}

type JoinRequestRepositoryMock struct {
	mock.Mock
}

func (m *JoinRequestRepositoryMock) CreateJoinRequest(ctx context.Context, req models.GroupJoinRequest) (models.GroupJoinRequest, error) {
	args := m.Called(ctx, req)
	var created models.GroupJoinRequest
	if val := args.Get(0); val != nil {
		created = val.(models.GroupJoinRequest)
	}
	return created, args.Error(1)
}

func (m *JoinRequestRepositoryMock) GetJoinRequest(ctx context.Context, requestID int64) (models.GroupJoinRequest, error) {
	args := m.Called(ctx, requestID)
	var req models.GroupJoinRequest
	if val := args.Get(0); val != nil {
		req = val.(models.GroupJoinRequest)
	}
	return req, args.Error(1)
}

func (m *JoinRequestRepositoryMock) FindPendingJoinRequest(ctx context.Context, groupID int64, userID int64) (models.GroupJoinRequest, error) {
	args := m.Called(ctx, groupID, userID)
	var req models.GroupJoinRequest
	if val := args.Get(0); val != nil {
		req = val.(models.GroupJoinRequest)
	}
	return req, args.Error(1)
}

func (m *JoinRequestRepositoryMock) ListPendingJoinRequests(ctx context.Context, groupID int64) ([]models.GroupJoinRequest, error) {
	args := m.Called(ctx, groupID)
	var reqs []models.GroupJoinRequest
	if val := args.Get(0); val != nil {
		reqs = val.([]models.GroupJoinRequest)
	}
	return reqs, args.Error(1)
}

func (m *JoinRequestRepositoryMock) ResolveJoinRequest(ctx context.Context, requestID int64, status models.JoinRequestStatus, processedAt time.Time) (models.GroupJoinRequest, *models.GroupMembership, error) {
	args := m.Called(ctx, requestID, status, processedAt)
	var (
		req        models.GroupJoinRequest
		membership *models.GroupMembership
	)
	if val := args.Get(0); val != nil {
		req = val.(models.GroupJoinRequest)
	}
	if val := args.Get(1); val != nil {
		membership = val.(*models.GroupMembership)
	}
	return req, membership, args.Error(2)
}

type IdentityProviderMock struct {
	mock.Mock
}

func (m *IdentityProviderMock) Authenticate(ctx context.Context, token string) (identity.Identity, error) {
	args := m.Called(ctx, token)
	var id identity.Identity
	if val := args.Get(0); val != nil {
		id = val.(identity.Identity)
	}
	return id, args.Error(1)
}
