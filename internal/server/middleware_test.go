package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jonesrussell/north-cloud/outreach/internal/config"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
	"github.com/jonesrussell/north-cloud/outreach/internal/server"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(log logger.Logger, origins []string, routes func(*gin.Engine)) *gin.Engine {
	return server.New(config.ServerConfig{CORSOrigins: origins}, false, log, routes).Router()
}

func TestRequestIDMiddleware_Generates(t *testing.T) {
	t.Parallel()

	router := newRouter(logger.NewNop(), nil, func(r *gin.Engine) {
		r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	assert.Len(t, w.Header().Get(server.RequestIDHeader), 36)
}

func TestRequestIDMiddleware_PreservesInboundAndRejectsOversized(t *testing.T) {
	t.Parallel()

	var seen string
	router := newRouter(logger.NewNop(), nil, func(r *gin.Engine) {
		r.GET("/test", func(c *gin.Context) {
			seen = c.GetString(server.RequestIDKey)
			c.String(http.StatusOK, "ok")
		})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set(server.RequestIDHeader, "upstream-123")
	router.ServeHTTP(w, req)
	assert.Equal(t, "upstream-123", w.Header().Get(server.RequestIDHeader))
	assert.Equal(t, "upstream-123", seen)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set(server.RequestIDHeader, strings.Repeat("x", 200))
	router.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get(server.RequestIDHeader), 36)
}

func TestRequestIDMiddleware_ContextLogger(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	log := logger.NewFromZap(zap.New(core))

	router := newRouter(log, nil, func(r *gin.Engine) {
		r.GET("/test", func(c *gin.Context) {
			logger.FromContext(c.Request.Context(), nil).Info("inside handler")
			c.String(http.StatusOK, "ok")
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set(server.RequestIDHeader, "req-42")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("inside handler").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-42", entries[0].ContextMap()[server.RequestIDKey])
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	router := newRouter(logger.NewNop(), nil, func(r *gin.Engine) {
		r.GET("/boom", func(*gin.Context) { panic("kaboom") })
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()

	router := newRouter(logger.NewNop(), []string{"https://app.example.com"}, func(r *gin.Engine) {
		r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	})

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantHeader string
	}{
		{name: "allowed origin", method: http.MethodGet, origin: "https://app.example.com",
			wantStatus: http.StatusOK, wantHeader: "https://app.example.com"},
		{name: "unknown origin", method: http.MethodGet, origin: "https://evil.example.com",
			wantStatus: http.StatusOK, wantHeader: ""},
		{name: "preflight", method: http.MethodOptions, origin: "https://app.example.com",
			wantStatus: http.StatusNoContent, wantHeader: "https://app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/test", http.NoBody)
			req.Header.Set("Origin", tt.origin)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantHeader, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
