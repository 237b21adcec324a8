package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"messaging-service/internal/identity"
	"messaging-service/internal/mocks"
	"messaging-service/internal/observability"
)

func setupRouter(provider identity.Provider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/me", AuthMiddleware(provider, zap.NewNop()), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":    c.GetInt64(UserIDKey),
			"name":       c.GetString(DisplayNameKey),
			"request_id": observability.RequestIDFromContext(c.Request.Context()),
		})
	})
	return r
}

func TestAuthMiddlewareSetsIdentity(t *testing.T) {
	provider := new(mocks.IdentityProviderMock)
	provider.On("Authenticate", mock.Anything, "abc").Return(identity.Identity{UserID: 5, DisplayName: "eve"}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer abc")
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	setupRouter(provider).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":5,"name":"eve","request_id":"req-1"}`, rec.Body.String())
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	provider.AssertExpectations(t)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	provider := new(mocks.IdentityProviderMock)
	provider.On("Authenticate", mock.Anything, "bad").Return(identity.Identity{}, identity.ErrUnauthenticated).Once()

	for name, header := range map[string]string{
		"missing": "",
		"scheme":  "Token abc",
		"invalid": "Bearer bad",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			setupRouter(provider).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
	provider.AssertExpectations(t)
}

func TestRequestIDGenerated(t *testing.T) {
	provider := new(mocks.IdentityProviderMock)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	rec := httptest.NewRecorder()
	setupRouter(provider).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}
