package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"messaging-service/internal/config"
	"messaging-service/internal/identity"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		ServiceName:      "messaging-service",
		Environment:      "test",
		Port:             "0",
		LogLevel:         "debug",
		StoreDriver:      "sqlite",
		SQLitePath:       "file:" + t.Name() + "?mode=memory&cache=shared",
		EventsExchange:   "messaging.events",
		AuditRoutingKey:  "audit.messaging",
		JWTSecret:        "secret",
		IdentityCacheTTL: time.Minute,
		IdentityCacheLen: 16,
		WSPingInterval:   time.Second,
		WSPongWait:       2 * time.Second,
		WSWriteWait:      time.Second,
		WSSendBuffer:     8,
		WSMaxMessageLen:  4096,
		ShutdownTimeout:  time.Second,
	}
}

func TestOptionsGraphIsComplete(t *testing.T) {
	require.NoError(t, fx.ValidateApp(Options(testConfig(t), zap.NewNop())))
}

func TestAppStartsAndStops(t *testing.T) {
	app := fxtest.New(t, Options(testConfig(t), zap.NewNop()))
	app.RequireStart()
	app.RequireStop()
}

func TestRouterServesAPI(t *testing.T) {
	var router *gin.Engine
	app := fxtest.New(t, Options(testConfig(t), zap.NewNop()), fx.Populate(&router))
	app.RequireStart()
	defer app.RequireStop()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","connections":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messaging/direct", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := identity.NewJWTVerifier("secret", "", clock.New()).Issue(identity.Identity{UserID: 1}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/messaging/direct", bytes.NewBufferString(`{"recipient_id":2,"content":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"conversation_id":"direct:1:2"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "messaging_")
}
