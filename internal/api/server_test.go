// internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/starforge/hyperdrive/internal/adapters"
	"github.com/starforge/hyperdrive/internal/config"
	"github.com/starforge/hyperdrive/internal/core"
	"github.com/starforge/hyperdrive/internal/dispatcher"
	"github.com/starforge/hyperdrive/internal/failover"
	"github.com/starforge/hyperdrive/internal/metrics"
	"github.com/starforge/hyperdrive/internal/notify"
	"github.com/starforge/hyperdrive/internal/policy"
	"github.com/starforge/hyperdrive/internal/provider"
	"github.com/starforge/hyperdrive/internal/replication"
	"github.com/starforge/hyperdrive/internal/scoring"
)

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()

	reg := provider.NewRegistry(zap.NewNop())
	reg.Register(adapters.NewMemory(), provider.Signals{})
	require.False(t, reg.Activate(context.Background(), provider.TypeMemory).IsError)

	store := config.NewStore(cfg, zap.NewNop())
	sel := policy.NewSelector(reg, scoring.NewEngine(cfg.Selection, zap.NewNop()), zap.NewNop())
	notifier := notify.NewLogNotifier(zap.NewNop())
	collector := metrics.NewCollector()

	fo := failover.NewOrchestrator(store, reg, sel, notifier, collector, zap.NewNop(),
		failover.WithHopDelay(0, 0))
	repl := replication.NewOrchestrator(store, reg, sel, notifier, collector, zap.NewNop())
	d := dispatcher.New(store, reg, sel, fo, repl, collector, zap.NewNop())

	return NewServer(store, d, reg, zap.NewNop())
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(t, config.Default())

	rec := doJSON(t, srv, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/version", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAvatarLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, config.Default())

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/avatars",
		map[string]string{"username": "mira", "email": "mira@example.com"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		Value core.Avatar `json:"value"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEqual(t, uuid.Nil, created.Value.ID)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/avatars/"+created.Value.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var loaded struct {
		Value core.Avatar `json:"value"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loaded))
	assert.Equal(t, "mira", loaded.Value.Username)

	rec = doJSON(t, srv, http.MethodDelete,
		"/api/v1/avatars/"+created.Value.ID.String()+"?soft=false", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/avatars/"+created.Value.ID.String(), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoadAvatar_MalformedID(t *testing.T) {
	srv := newTestServer(t, config.Default())
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/avatars/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchOverHTTP(t *testing.T) {
	srv := newTestServer(t, config.Default())

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/holons",
		map[string]string{"name": "atlas", "holonType": "zome"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/search?q=atlas&kind=Holon", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Value struct {
			NumResults int `json:"numResults"`
		} `json:"value"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Value.NumResults)
}

func TestListProviders(t *testing.T) {
	srv := newTestServer(t, config.Default())

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/providers", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []providerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "Memory", views[0].Type)
	assert.Equal(t, "active", views[0].Health)
	assert.True(t, views[0].Current)
}

func TestInspectConfig_OmitsSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AuthSecret = ""
	srv := newTestServer(t, cfg)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/config", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "selection")
	assert.Contains(t, body, "replication")
	assert.Contains(t, body, "failover")
	assert.NotContains(t, body, "server")
	assert.NotContains(t, rec.Body.String(), "auth_secret")
}

func TestSetCurrent_RejectsInactiveProvider(t *testing.T) {
	srv := newTestServer(t, config.Default())

	rec := doJSON(t, srv, http.MethodPut, "/api/v1/providers/current",
		map[string]string{"provider": "Redis"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuth_RequiredWhenSecretConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AuthSecret = "test-secret"
	srv := newTestServer(t, cfg)

	// Health stays open; the API tree does not.
	rec := doJSON(t, srv, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/providers", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/providers", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/providers", nil, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}
