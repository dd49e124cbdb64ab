package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/gamelink-project/gamelink/internal/config"
)

func protectedRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	auth := NewAuthMiddleware(cfg)
	router.GET("/guarded", auth.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestRequireAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HubData.AdminToken = "admintok"
	router := protectedRouter(cfg)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic admintok", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer admintok", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestRequireAuthNoTokenConfigured(t *testing.T) {
	cfg := config.DefaultConfig()
	router := protectedRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 when no admin token is set", rec.Code)
	}
}

func TestRequireAuthDisabledBypass(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ApplicationData.Security.AuthDisabled = true
	router := protectedRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if got := extractBearerToken("Bearer abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := extractBearerToken("bearer abc"); got != "abc" {
		t.Fatalf("scheme should be case-insensitive, got %q", got)
	}
	if got := extractBearerToken(""); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := extractBearerToken("abc"); got != "" {
		t.Fatalf("got %q", got)
	}
}
