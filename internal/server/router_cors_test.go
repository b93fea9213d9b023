package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newCORSRouter(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(corsMiddleware(allowedOrigins))
	router.OPTIONS("/admin/images/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func newPreflightRequest(origin string) *http.Request {
	request := httptest.NewRequest(http.MethodOptions, "/admin/images/image-1", http.NoBody)
	request.Header.Set("Origin", origin)
	request.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	return request
}

func TestCORSMiddlewareAllowsAdminMethods(t *testing.T) {
	router := newCORSRouter(nil)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, newPreflightRequest("https://curator.example.com"))

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}

	allowMethods := recorder.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allowMethods, http.MethodDelete) || !strings.Contains(allowMethods, http.MethodPut) {
		t.Fatalf("expected DELETE and PUT to be allowed, got %q", allowMethods)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected a wildcard origin, got %q", origin)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("expected credentials to stay disabled for the wildcard origin")
	}
}

func TestCORSMiddlewareAllowsCredentialsForConfiguredOrigins(t *testing.T) {
	router := newCORSRouter([]string{"https://curator.example.com"})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, newPreflightRequest("https://curator.example.com"))

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "https://curator.example.com" {
		t.Fatalf("expected the configured origin to be echoed, got %q", origin)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}

	foreign := httptest.NewRecorder()
	router.ServeHTTP(foreign, newPreflightRequest("https://elsewhere.example.org"))

	if foreign.Code != http.StatusForbidden {
		t.Fatalf("expected status %d for a foreign origin, got %d", http.StatusForbidden, foreign.Code)
	}
	if origin := foreign.Header().Get("Access-Control-Allow-Origin"); origin != "" {
		t.Fatalf("expected no allowed origin for a foreign origin, got %q", origin)
	}
}
