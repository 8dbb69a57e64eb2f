package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle_engine/internal/config"
	"github.com/R3E-Network/raffle_engine/internal/metrics"
	"github.com/R3E-Network/raffle_engine/internal/middleware"
	"github.com/R3E-Network/raffle_engine/pkg/logger"
	"github.com/R3E-Network/raffle_engine/services/raffle"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestHandler(t *testing.T) (http.Handler, *raffle.Service) {
	t.Helper()
	cfg := config.Default()
	cfg.DevMode = true
	cfg.Tokens = []config.TokenConfig{{Address: "0xusdc", Decimals: 6}}

	log := logger.NewDiscard("raffled-test")
	engineCfg := cfg.Engine()
	applyDevIdentities(&engineCfg)
	engineCfg.PayoutDecimals = 6

	vault := raffle.NewMemoryVault(engineCfg.Engine)
	svc, err := raffle.New(engineCfg, raffle.Dependencies{
		Randomness: raffle.NewLocalCoordinator(engineCfg.Coordinator),
		Router:     raffle.NewFixedRateRouter(vault),
		Vault:      vault,
		Store:      raffle.NewMemoryStore(),
	}, log)
	require.NoError(t, err)
	require.NoError(t, allowTokens(context.Background(), svc, cfg, engineCfg.Owner, log))

	collector := metrics.NewCollector("raffle_test")
	limiter := middleware.NewRateLimiter(100, 100, log)
	return newRouter(cfg, svc, vault, collector, testSecret, limiter, log), svc
}

func bearer(t *testing.T, address, role string) string {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, address, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouter_PublicEndpoints(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "raffle_test_http_requests_total")
}

func TestRouter_APIRequiresToken(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", bearer(t, "0xalice", middleware.RoleDepositor))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_DevMintAndDeposit(t *testing.T) {
	handler, svc := newTestHandler(t)
	_, err := svc.StartNewGame(context.Background(), "0xoperator")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/dev/mint", strings.NewReader(`{"token":"0xusdc","holder":"0xalice","amount":"5000000"}`))
	req.Header.Set("Authorization", bearer(t, "0xalice", middleware.RoleDepositor))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/dev/mint", strings.NewReader(`{"token":"0xusdc","holder":"0xalice","amount":"5000000"}`))
	req.Header.Set("Authorization", bearer(t, "0xoperator", middleware.RoleOperator))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"balance":"5000000"`)

	req = httptest.NewRequest(http.MethodPost, "/v1/deposits", strings.NewReader(`{"token":"0xusdc","amount":"5000000"}`))
	req.Header.Set("Authorization", bearer(t, "0xalice", middleware.RoleDepositor))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"value_usd":"5"`)

	view, err := svc.CurrentGame()
	require.NoError(t, err)
	assert.Equal(t, 1, view.ParticipantCount)
}

func TestApplyDevIdentities(t *testing.T) {
	c := raffle.Config{Owner: "0xme"}
	applyDevIdentities(&c)
	assert.Equal(t, raffle.Address("0xme"), c.Owner)
	assert.Equal(t, raffle.Address("0xcoordinator"), c.Coordinator)
	assert.Equal(t, raffle.Address("0xusdc"), c.PayoutToken)
}
