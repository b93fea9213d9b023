package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/exhibits/internal/auth"
	"github.com/MarcoPoloResearchLab/exhibits/internal/gallery"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey      = "exhibits_user_id"
	defaultMaxUploadBytes = 20 << 20
	// multipartOverhead covers form fields and part headers around the image bytes.
	multipartOverhead = 1 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingGalleryService   = errors.New("gallery service dependency required")
)

// SessionValidator authorizes requests to the admin surface.
type SessionValidator interface {
	RequireRole(r *http.Request, role string) (auth.SessionClaims, error)
}

// GalleryService is the caller-side contract of the media orchestrator.
type GalleryService interface {
	CreateOrUpdateEntryMedia(ctx context.Context, request gallery.MediaRequest) (gallery.MediaResult, error)
	DeleteImage(ctx context.Context, imageID string) error
	ReorderEntries(ctx context.Context, kind string, orderedIDs []string) error
	ReorderImages(ctx context.Context, entryID string, orderedIDs []string) error
	GetEntry(ctx context.Context, slug string) (gallery.EntryView, error)
	ListEntries(ctx context.Context, kind string) ([]gallery.Entry, error)
}

type Dependencies struct {
	SessionValidator SessionValidator
	GalleryService   GalleryService
	Logger           *zap.Logger
	MaxUploadBytes   int64
	// MaxAdditionalImages bounds the additional files accepted in one request.
	MaxAdditionalImages int
	// AllowedOrigins enables credentialed CORS for the listed origins.
	// When empty any origin is allowed without credentials.
	AllowedOrigins []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.GalleryService == nil {
		return nil, errMissingGalleryService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUploadBytes := deps.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	maxAdditional := deps.MaxAdditionalImages
	if maxAdditional <= 0 {
		maxAdditional = defaultMaxAdditionalImages
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:       deps.SessionValidator,
		gallery:        deps.GalleryService,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
		maxAdditional:  maxAdditional,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/entries", handler.handleListEntries)
	router.GET("/entries/:slug", handler.handleGetEntry)

	admin := router.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.POST("/entries/media", handler.handleCreateEntryMedia)
	admin.PUT("/entries/order", handler.handleReorderEntries)
	admin.PUT("/entries/:id/images/order", handler.handleReorderImages)
	admin.DELETE("/images/:id", handler.handleDeleteImage)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions       SessionValidator
	gallery        GalleryService
	logger         *zap.Logger
	maxUploadBytes int64
	maxAdditional  int
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	claims, err := h.sessions.RequireRole(c.Request, auth.RoleAdmin)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingRole):
			h.logger.Warn("admin role required", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		case errors.Is(err, auth.ErrExpiredSessionToken), errors.Is(err, auth.ErrMissingSessionToken):
			h.logger.Info("session validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		}
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}
