package routers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/haierkeys/fast-backup-service/internal/app"
	"github.com/haierkeys/fast-backup-service/internal/dao"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouterApp(t *testing.T) *app.App {
	t.Helper()
	cfg, err := app.ParseConfig([]byte("{}"))
	require.NoError(t, err)
	db, err := dao.NewDBEngineWithConfig(dao.DatabaseConfig{
		Type:        "sqlite",
		Path:        filepath.Join(t.TempDir(), "router.sqlite3"),
		AutoMigrate: true,
	}, zap.NewNop())
	require.NoError(t, err)
	a, err := app.NewApp(cfg, zap.NewNop(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestPrivateRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newRouterApp(t)
	r := NewPrivateRouter(a, "release", zap.NewNop())

	w := serve(r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = serve(r, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fast_backup_backup_in_progress")

	w = serve(r, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"running":[]`)

	// pprof only in debug mode
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, DefaultPrefix+"/").Code)
	debug := NewPrivateRouter(a, "debug", zap.NewNop())
	assert.Equal(t, http.StatusOK, serve(debug, http.MethodGet, DefaultPrefix+"/cmdline").Code)
}

func TestHealthzReportsClosedDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newRouterApp(t)
	r := NewPrivateRouter(a, "release", zap.NewNop())
	require.NoError(t, a.Close())

	w := serve(r, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRecoveryReturnsInternalError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := newRouterApp(t)
	r := NewPrivateRouter(a, "release", zap.NewNop())
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	w := serve(r, http.MethodGet, "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "kaboom")
}
