package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/config"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	router := gin.New()
	teardown, err := Register(router, db, config.Config{
		Environment:   "test",
		JWTSecret:     "test-secret",
		WebhookSecret: "test-webhook-secret",
		FlushInterval: time.Hour,
		BatchSize:     50,
	})
	require.NoError(t, err)
	t.Cleanup(teardown)
	return router
}

func get(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegister_HealthAndMetrics(t *testing.T) {
	router := setupRouter(t)

	w := get(router, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")

	w = get(router, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegister_ProtectedRoutesRequireAuth(t *testing.T) {
	router := setupRouter(t)

	for _, path := range []string{
		"/api/v1/security/events",
		"/api/v1/security/summary",
		"/api/v1/security/incidents",
		"/api/v1/notifications",
	} {
		w := get(router, path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestRegister_RegisterLoginAndReadEvents(t *testing.T) {
	router := setupRouter(t)

	body := `{"email":"admin@example.com","password":"changeme123","name":"Admin"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"admin@example.com","password":"changeme123"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var loginResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loginResp))
	require.NotEmpty(t, loginResp.Token)

	w = get(router, "/api/v1/security/events", loginResp.Token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "events")
}

func TestRegister_AuthEventIngestion(t *testing.T) {
	router := setupRouter(t)

	body := `{"user_id":"user_1","event_type":"login_failed","success":false,"ip_address":"10.0.0.9"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/auth", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}
