package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messaging-service/internal/apperr"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/telemetry"
)

func setupGroupRouter(handler *GroupHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", int64(1))
		c.Next()
	})
	r.POST("/messaging/groups", handler.CreateGroup)
	r.GET("/messaging/groups", handler.ListGroups)
	r.POST("/messaging/groups/:group_id/join", handler.RequestToJoin)
	r.GET("/messaging/groups/:group_id/requests", handler.ListPendingRequests)
	r.POST("/messaging/groups/requests/:request_id/process", handler.ProcessJoinRequest)
	return r
}

func auditText(text string) any {
	return mock.MatchedBy(func(env telemetry.AuditEnvelope) bool { return env.Payload.Text == text })
}

func newAudit(publisher telemetry.Publisher) *telemetry.AuditEmitter {
	return telemetry.NewAuditEmitter(publisher, "audit.messaging", "messaging-service", "test", clock.NewMock(), zap.NewNop())
}

func TestCreateGroupSuccess(t *testing.T) {
	messaging := new(mocks.MessagingServiceMock)
	publisher := new(mocks.PublisherMock)
	router := setupGroupRouter(NewGroupHandler(messaging, nil, newAudit(publisher)))

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	group := models.Group{ID: 7, Name: "Team", CreatorID: 1, CreatedAt: now}
	admin := models.GroupMembership{ID: 1, GroupID: 7, UserID: 1, Role: models.RoleAdmin, JoinedAt: now}
	messaging.On("CreateGroup", mock.Anything, int64(1), "Team", (*string)(nil)).Return(group, admin, nil).Once()
	publisher.On("Publish", mock.Anything, "audit.messaging", auditText("Group created")).Return(nil).Once()

	rec := serve(router, http.MethodPost, "/messaging/groups", `{"name":"Team"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"admin"`)
	messaging.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestCreateGroupValidation(t *testing.T) {
	messaging := new(mocks.MessagingServiceMock)
	publisher := new(mocks.PublisherMock)
	router := setupGroupRouter(NewGroupHandler(messaging, nil, newAudit(publisher)))

	publisher.On("Publish", mock.Anything, "audit.messaging", auditText("invalid request payload")).Return(nil).Once()

	rec := serve(router, http.MethodPost, "/messaging/groups", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	publisher.AssertExpectations(t)
}

func TestListGroups(t *testing.T) {
	messaging := new(mocks.MessagingServiceMock)
	router := setupGroupRouter(NewGroupHandler(messaging, nil, nil))
	messaging.On("ListUserGroups", mock.Anything, int64(1)).Return([]models.Group{{ID: 7, Name: "Team"}}, nil).Once()

	rec := serve(router, http.MethodGet, "/messaging/groups", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Team"`)
}

func TestRequestToJoinDuplicate(t *testing.T) {
	messaging := new(mocks.MessagingServiceMock)
	router := setupGroupRouter(NewGroupHandler(messaging, nil, nil))
	messaging.On("RequestToJoinGroup", mock.Anything, int64(1), int64(7)).
		Return(nil, apperr.Forbidden("a join request is already pending")).Once()

	rec := serve(router, http.MethodPost, "/messaging/groups/7/join", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	messaging.AssertExpectations(t)
}

func TestListPendingRequestsNonAdmin(t *testing.T) {
	messaging := new(mocks.MessagingServiceMock)
	router := setupGroupRouter(NewGroupHandler(messaging, nil, nil))
	messaging.On("ListPendingJoinRequests", mock.Anything, int64(1), int64(7)).
		Return(nil, apperr.Forbidden("only group admins can view join requests")).Once()

	rec := serve(router, http.MethodGet, "/messaging/groups/7/requests", "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProcessJoinRequestAcceptJoinsRoom(t *testing.T) {
	messaging := new(mocks.MessagingServiceMock)
	notifier := new(mocks.NotifierMock)
	publisher := new(mocks.PublisherMock)
	router := setupGroupRouter(NewGroupHandler(messaging, notifier, newAudit(publisher)))

	req := models.GroupJoinRequest{ID: 4, GroupID: 7, UserID: 3, Status: models.JoinRequestAccepted}
	membership := &models.GroupMembership{ID: 9, GroupID: 7, UserID: 3, Role: models.RoleMember}
	messaging.On("ProcessJoinRequest", mock.Anything, int64(1), int64(4), true).Return(req, membership, nil).Once()
	notifier.On("MembershipGranted", *membership).Once()
	publisher.On("Publish", mock.Anything, "audit.messaging", auditText("Join request accepted")).Return(nil).Once()

	rec := serve(router, http.MethodPost, "/messaging/groups/requests/4/process", `{"accept":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	messaging.AssertExpectations(t)
	notifier.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestProcessJoinRequestReject(t *testing.T) {
	messaging := new(mocks.MessagingServiceMock)
	notifier := new(mocks.NotifierMock)
	router := setupGroupRouter(NewGroupHandler(messaging, notifier, nil))

	req := models.GroupJoinRequest{ID: 4, GroupID: 7, UserID: 3, Status: models.JoinRequestRejected}
	messaging.On("ProcessJoinRequest", mock.Anything, int64(1), int64(4), false).Return(req, nil, nil).Once()

	rec := serve(router, http.MethodPost, "/messaging/groups/requests/4/process", `{"accept":false}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"membership":null`)
	notifier.AssertNotCalled(t, "MembershipGranted", mock.Anything)
}

func TestProcessJoinRequestErrors(t *testing.T) {
	for err, status := range map[error]int{
		apperr.Forbidden("only group admins can process join requests"): http.StatusForbidden,
		apperr.Conflict("join request already processed"):               http.StatusConflict,
		apperr.NotFound("join request not found"):                       http.StatusNotFound,
	} {
		messaging := new(mocks.MessagingServiceMock)
		publisher := new(mocks.PublisherMock)
		router := setupGroupRouter(NewGroupHandler(messaging, nil, newAudit(publisher)))
		messaging.On("ProcessJoinRequest", mock.Anything, int64(1), int64(4), true).Return(nil, nil, err).Once()
		publisher.On("Publish", mock.Anything, "audit.messaging", mock.Anything).Return(nil).Once()

		rec := serve(router, http.MethodPost, "/messaging/groups/requests/4/process", `{"accept":true}`)

		assert.Equal(t, status, rec.Code, err.Error())
		publisher.AssertExpectations(t)
	}
}

func TestProcessJoinRequestRequiresDecision(t *testing.T) {
	messaging := new(mocks.MessagingServiceMock)
	router := setupGroupRouter(NewGroupHandler(messaging, nil, nil))

	rec := serve(router, http.MethodPost, "/messaging/groups/requests/4/process", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDebugAuditRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.messaging", auditText("audit test")).Return(nil).Once()

	r := gin.New()
	RegisterDebugRoutes(r, newAudit(publisher), true)
	rec := serve(r, http.MethodGet, "/debug/audit-test", "")

	require.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)

	disabled := gin.New()
	RegisterDebugRoutes(disabled, newAudit(publisher), false)
	assert.Equal(t, http.StatusNotFound, serve(disabled, http.MethodGet, "/debug/audit-test", "").Code)
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", Healthz(func() int { return 2 }))

	rec := serve(r, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","connections":2}`, rec.Body.String())
}
