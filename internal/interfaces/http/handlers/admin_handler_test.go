package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appservice "github.com/searchguard/searchguard/internal/application/service"
	"github.com/searchguard/searchguard/internal/domain/models"
	"github.com/searchguard/searchguard/internal/infrastructure/audit"
	"github.com/searchguard/searchguard/internal/infrastructure/ratelimit"
	"github.com/searchguard/searchguard/internal/interfaces/http/handlers"
	"github.com/searchguard/searchguard/pkg/constants"
	"github.com/searchguard/searchguard/pkg/logger"
)

type neutralGovernor struct{}

func (neutralGovernor) Factor(context.Context) float64 { return 1.0 }

func adminTable() *models.LimitTable {
	return &models.LimitTable{
		Anonymous: models.BucketLimits{
			constants.BucketSearch: {Requests: 100, Window: time.Hour},
		},
	}
}

func newAdminRouter(t *testing.T) (*gin.Engine, *appservice.RateLimitAppService) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.NewNoopLogger()
	engine := appservice.NewRateLimitAppService(appservice.AppServiceOptions{
		Limiter:       ratelimit.NewSlidingWindowLimiter(client, time.Second, log),
		Blocks:        ratelimit.NewRedisBlockStore(client, log),
		Governor:      neutralGovernor{},
		Audit:         audit.NewNoopAuditService(),
		UsageLog:      ratelimit.NewAPIKeyUsageLog(client, log),
		Logger:        log,
		Table:         adminTable(),
		FallbackLimit: 1000,
	})

	handler := handlers.NewAdminHandler(engine, ratelimit.NewAPIKeyUsageLog(client, log), log)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/v1/usage", handler.Usage)
	r.POST("/admin/v1/reset", handler.Reset)
	r.POST("/admin/v1/blocks", handler.CreateBlock)
	r.GET("/admin/v1/blocks/:type/:identifier", handler.GetBlock)
	r.DELETE("/admin/v1/blocks/:type/:identifier", handler.DeleteBlock)
	r.GET("/admin/v1/limits", handler.GetLimits)
	r.PUT("/admin/v1/limits", handler.UpdateLimits)
	r.GET("/admin/v1/apikeys/:id/stats", handler.APIKeyStats)
	return r, engine
}

func TestAdmin_UsageAndReset(t *testing.T) {
	router, engine := newAdminRouter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		engine.Evaluate(ctx, models.RateLimitContext{
			IPAddress:     "203.0.113.20",
			OperationType: constants.OperationSearch,
		})
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/v1/usage?ip_address=203.0.113.20", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var usageResp struct {
		Usage map[string]int64 `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usageResp))
	assert.Equal(t, int64(2), usageResp.Usage["ip:search"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/v1/reset",
		strings.NewReader(`{"ip_address":"203.0.113.20"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/v1/usage?ip_address=203.0.113.20", nil))
	require.Equal(t, http.StatusOK, w.Code)
	usageResp.Usage = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usageResp))
	assert.Empty(t, usageResp.Usage)
}

func TestAdmin_UsageRequiresAnIdentifier(t *testing.T) {
	router, _ := newAdminRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/v1/usage", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_BlockLifecycle(t *testing.T) {
	router, _ := newAdminRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/v1/blocks",
		strings.NewReader(`{"type":"ip","identifier":"203.0.113.21","duration_seconds":600,"reason":"scraping"}`)))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/v1/blocks/ip/203.0.113.21", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var block models.BlockRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &block))
	assert.Equal(t, "203.0.113.21", block.Identifier)
	assert.Equal(t, "scraping", block.Reason)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/admin/v1/blocks/ip/203.0.113.21", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/v1/blocks/ip/203.0.113.21", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_BlockRejectsUnknownType(t *testing.T) {
	router, _ := newAdminRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/v1/blocks",
		strings.NewReader(`{"type":"tenant","identifier":"x","duration_seconds":60}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_UpdateLimits(t *testing.T) {
	router, engine := newAdminRouter(t)

	payload := `{"anonymous":{"search":{"requests":5,"window_seconds":3600}}}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/admin/v1/limits", strings.NewReader(payload)))
	require.Equal(t, http.StatusOK, w.Code)

	table := engine.Limits()
	assert.Equal(t, 5, table.Anonymous[constants.BucketSearch].Requests)
	assert.Equal(t, time.Hour, table.Anonymous[constants.BucketSearch].Window)
}

func TestAdmin_UpdateLimitsRejectsZeroWindow(t *testing.T) {
	router, engine := newAdminRouter(t)
	before := engine.Limits()

	payload := `{"anonymous":{"search":{"requests":5,"window_seconds":0}}}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/admin/v1/limits", strings.NewReader(payload)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Same(t, before, engine.Limits(), "an invalid table must not become visible")
}

func TestAdmin_GetLimits(t *testing.T) {
	router, _ := newAdminRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/v1/limits", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"requests":100`)
}

func TestAdmin_APIKeyStats(t *testing.T) {
	router, _ := newAdminRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/v1/apikeys/key-1/stats?days=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		APIKeyID string                     `json:"api_key_id"`
		Days     []ratelimit.APIKeyDayStats `json:"days"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "key-1", resp.APIKeyID)
	assert.Len(t, resp.Days, 2)
}
