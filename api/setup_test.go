package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"efiling/internal/auth"
	"efiling/internal/config"
	"efiling/internal/filing"
	"efiling/internal/filing/engine"
	"efiling/internal/filing/filingtest"
	"efiling/internal/filing/scanner"
	"efiling/internal/notification"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	router *gin.Engine
	jwt    *auth.JWTService
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	gin.SetMode(gin.TestMode)
	db := filingtest.OpenDB(t)
	filingtest.SeedThreeStage(t, db)
	filingtest.SeedActor(t, db, "clerk", filing.RoleClerk)
	filingtest.SeedActor(t, db, "admin", filing.RoleAdmin)

	log := zaptest.NewLogger(t)
	clock := filing.NewManualClock(filingtest.T0)
	e := engine.New(db, engine.WithClock(clock), engine.WithLogger(log))
	t.Cleanup(e.Wait)
	sc := scanner.New(db, notification.NotifierFunc(func(context.Context, *notification.Notification) error { return nil }), scanner.WithClock(clock), scanner.WithLogger(log))

	jwtService := auth.NewJWTService("test-secret", "efiling", time.Hour, nil)
	router := SetupRouter(Dependencies{
		DB:      db,
		Config:  cfg,
		Engine:  e,
		Scanner: sc,
		JWT:     jwtService,
		Logger:  log,
	})
	return &testServer{router: router, jwt: jwtService}
}

func (s *testServer) call(t *testing.T, method, path, actorID, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actorID != "" {
		token, err := s.jwt.GenerateToken(actorID, role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.call(t, http.MethodGet, "/health", "", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/ready", "", "", "").Code)
	assert.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/metrics", "", "", "").Code)
}

func TestRouter_RequiresToken(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusUnauthorized, s.call(t, http.MethodGet, "/api/v1/files/inbox", "", "", "").Code)
	assert.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/api/v1/files/inbox", "clerk", "CLERK", "").Code)
}

func TestRouter_SubmitThroughAPI(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.call(t, http.MethodPost, "/api/v1/files", "clerk", "CLERK",
		`{"file_number":"NOTE-100","subject":"月度报表","file_type":"NOTE"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"assignee":"clerk"`)
}

func TestRouter_AdminGuard(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusForbidden,
		s.call(t, http.MethodPost, "/api/v1/admin/sla/scan", "clerk", "CLERK", "").Code)

	w := s.call(t, http.MethodPost, "/api/v1/admin/sla/scan", "admin", "ADMIN", `{"lookahead":"2h"}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"files_checked":0`)

	assert.Equal(t, http.StatusServiceUnavailable,
		s.call(t, http.MethodGet, "/api/v1/admin/queues", "admin", "ADMIN", "").Code)
}

func TestRouter_RateLimit(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.RateLimitRPS = 0.001
	cfg.Server.RateLimitBurst = 2
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/api/v1/files/inbox", "clerk", "CLERK", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, s.call(t, http.MethodGet, "/api/v1/files/inbox", "clerk", "CLERK", "").Code)
	assert.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/api/v1/files/inbox", "admin", "ADMIN", "").Code)
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.call(t, http.MethodOptions, "/api/v1/files", "", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
