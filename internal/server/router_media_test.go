package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/exhibits/internal/auth"
	"github.com/MarcoPoloResearchLab/exhibits/internal/gallery"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessionValidator struct {
	claims auth.SessionClaims
	err    error
}

func (s stubSessionValidator) RequireRole(*http.Request, string) (auth.SessionClaims, error) {
	return s.claims, s.err
}

type stubGalleryService struct {
	mediaRequests []gallery.MediaRequest
	mediaResult   gallery.MediaResult
	deletedIDs    []string
	entryOrders   [][]string
	imageOrders   map[string][]string
	view          gallery.EntryView
	entries       []gallery.Entry
	err           error
}

func (s *stubGalleryService) CreateOrUpdateEntryMedia(_ context.Context, request gallery.MediaRequest) (gallery.MediaResult, error) {
	s.mediaRequests = append(s.mediaRequests, request)
	return s.mediaResult, s.err
}

func (s *stubGalleryService) DeleteImage(_ context.Context, imageID string) error {
	s.deletedIDs = append(s.deletedIDs, imageID)
	return s.err
}

func (s *stubGalleryService) ReorderEntries(_ context.Context, _ string, orderedIDs []string) error {
	s.entryOrders = append(s.entryOrders, orderedIDs)
	return s.err
}

func (s *stubGalleryService) ReorderImages(_ context.Context, entryID string, orderedIDs []string) error {
	if s.imageOrders == nil {
		s.imageOrders = make(map[string][]string)
	}
	s.imageOrders[entryID] = orderedIDs
	return s.err
}

func (s *stubGalleryService) GetEntry(context.Context, string) (gallery.EntryView, error) {
	return s.view, s.err
}

func (s *stubGalleryService) ListEntries(context.Context, string) ([]gallery.Entry, error) {
	return s.entries, s.err
}

func newTestRouter(t *testing.T, sessions SessionValidator, service GalleryService) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: sessions,
		GalleryService:   service,
		Logger:           zap.NewNop(),
		MaxUploadBytes:   1024,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

func adminSessions() stubSessionValidator {
	return stubSessionValidator{claims: auth.SessionClaims{UserID: "curator", UserRoles: []string{auth.RoleAdmin}}}
}

type multipartFile struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func newMultipartRequest(t *testing.T, fields map[string]string, files ...multipartFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.filename))
		header.Set("Content-Type", file.contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		if _, err := part.Write(file.data); err != nil {
			t.Fatalf("failed to write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, "/admin/entries/media", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestCreateEntryMediaPassesMultipartRequest(t *testing.T) {
	createdAt := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)
	service := &stubGalleryService{mediaResult: gallery.MediaResult{
		EntryID:      "entry-1",
		ImageID:      "image-1",
		CreatedAt:    createdAt,
		EntryCreated: true,
	}}
	router := newTestRouter(t, adminSessions(), service)

	request := newMultipartRequest(t,
		map[string]string{"kind": "solo", "title": "Quiet Forms", "caption": "cover", "description": "text"},
		multipartFile{field: "main", filename: "cover.png", contentType: "image/png", data: []byte("main")},
		multipartFile{field: "additional", filename: "a.png", contentType: "image/png", data: []byte("a")},
		multipartFile{field: "additional", filename: "b.jpg", contentType: "image/jpeg", data: []byte("b")},
	)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["entry_id"] != "entry-1" || payload["image_id"] != "image-1" || payload["entry_created"] != true {
		t.Fatalf("unexpected response %v", payload)
	}
	if payload["created_at"] != "2026-10-01T09:30:00Z" {
		t.Fatalf("unexpected created_at %v", payload["created_at"])
	}

	if len(service.mediaRequests) != 1 {
		t.Fatalf("expected one saga call, got %d", len(service.mediaRequests))
	}
	received := service.mediaRequests[0]
	if received.Kind != "solo" || received.Title != "Quiet Forms" || received.Caption != "cover" || received.Description != "text" {
		t.Fatalf("unexpected fields %#v", received)
	}
	if received.Main == nil || string(received.Main.Data) != "main" || received.Main.ContentType != "image/png" {
		t.Fatalf("unexpected main upload %#v", received.Main)
	}
	if len(received.Additional) != 2 || received.Additional[1].Filename != "b.jpg" {
		t.Fatalf("unexpected additional uploads %#v", received.Additional)
	}
}

func TestCreateEntryMediaRejectsOversizedFile(t *testing.T) {
	service := &stubGalleryService{}
	router := newTestRouter(t, adminSessions(), service)

	request := newMultipartRequest(t,
		map[string]string{"kind": "solo", "title": "Quiet Forms", "caption": "cover"},
		multipartFile{field: "main", filename: "cover.png", contentType: "image/png", data: bytes.Repeat([]byte("x"), 2048)},
	)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", recorder.Code)
	}
	if len(service.mediaRequests) != 0 {
		t.Fatalf("expected the saga not to run")
	}
}

func TestCreateEntryMediaRejectsBodyOverRequestLimit(t *testing.T) {
	service := &stubGalleryService{}
	router := newTestRouter(t, adminSessions(), service)

	request := newMultipartRequest(t,
		map[string]string{"kind": "solo", "title": "Quiet Forms", "caption": "cover"},
		multipartFile{field: "main", filename: "cover.png", contentType: "image/png", data: bytes.Repeat([]byte("x"), 2<<20)},
	)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if payload := decodeBody(t, recorder); payload["error"] != "upload_too_large" {
		t.Fatalf("unexpected response %v", payload)
	}
	if len(service.mediaRequests) != 0 {
		t.Fatalf("expected the saga not to run")
	}
}

func TestServiceErrorsMapToStatusAndCode(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{
			name:   "validation",
			err:    &stubServiceError{code: "gallery.create_media.invalid_request", kind: gallery.ErrValidation},
			status: http.StatusBadRequest,
		},
		{
			name:   "not found",
			err:    &stubServiceError{code: "gallery.delete_image.image_not_found", kind: gallery.ErrNotFound},
			status: http.StatusNotFound,
		},
		{
			name:   "constraint",
			err:    fmt.Errorf("wrapped: %w", gallery.ErrConstraintViolation),
			status: http.StatusConflict,
		},
		{
			name:   "upload",
			err:    gallery.ErrUploadFailure,
			status: http.StatusBadGateway,
		},
		{
			name:   "metadata",
			err:    gallery.ErrMetadataFailure,
			status: http.StatusInternalServerError,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if status := statusForError(testCase.err); status != testCase.status {
				t.Fatalf("expected %d, got %d", testCase.status, status)
			}
		})
	}
}

// stubServiceError matches a taxonomy kind without being a *gallery.ServiceError.
type stubServiceError struct {
	code string
	kind error
}

func (e *stubServiceError) Error() string { return e.code }

func (e *stubServiceError) Unwrap() error { return e.kind }

func TestCreateEntryMediaReportsServiceErrorCode(t *testing.T) {
	service, err := gallery.NewService(gallery.ServiceConfig{})
	if err == nil || service != nil {
		t.Fatalf("expected constructor error")
	}

	stub := &stubGalleryService{err: err}
	router := newTestRouter(t, adminSessions(), stub)
	request := newMultipartRequest(t, map[string]string{"kind": "solo", "title": "Quiet Forms", "caption": "c"})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	payload := decodeBody(t, recorder)
	if payload["code"] != "gallery.service.new.missing_metadata_store" {
		t.Fatalf("expected service error code, got %v", payload["code"])
	}
	if payload["error"] != "missing_metadata_store" {
		t.Fatalf("expected reason, got %v", payload["error"])
	}
}

func TestDeleteImageRoute(t *testing.T) {
	service := &stubGalleryService{}
	router := newTestRouter(t, adminSessions(), service)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/admin/images/image-7", http.NoBody))

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	if len(service.deletedIDs) != 1 || service.deletedIDs[0] != "image-7" {
		t.Fatalf("unexpected deleted ids %v", service.deletedIDs)
	}
}

func TestReorderRoutes(t *testing.T) {
	service := &stubGalleryService{}
	router := newTestRouter(t, adminSessions(), service)

	entries := httptest.NewRequest(http.MethodPut, "/admin/entries/order", strings.NewReader(`{"kind":"solo","ids":["b","a"]}`))
	entries.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, entries)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	if len(service.entryOrders) != 1 || service.entryOrders[0][0] != "b" {
		t.Fatalf("unexpected entry orders %v", service.entryOrders)
	}

	images := httptest.NewRequest(http.MethodPut, "/admin/entries/entry-1/images/order", strings.NewReader(`{"ids":["y","x"]}`))
	images.Header.Set("Content-Type", "application/json")
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, images)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	if got := service.imageOrders["entry-1"]; len(got) != 2 || got[0] != "y" {
		t.Fatalf("unexpected image orders %v", service.imageOrders)
	}

	malformed := httptest.NewRequest(http.MethodPut, "/admin/entries/order", strings.NewReader(`{"ids":`))
	malformed.Header.Set("Content-Type", "application/json")
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, malformed)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestGetEntryRouteRendersImages(t *testing.T) {
	service := &stubGalleryService{view: gallery.EntryView{
		Entry: gallery.Entry{ID: "entry-1", Kind: gallery.KindSolo, Title: "Quiet Forms", Slug: "quiet-forms"},
		Images: []gallery.ImageView{
			{Image: gallery.Image{ID: "image-1", IsPrimary: true, Caption: "cover"}, URL: "https://cdn.test/solo/quiet-forms/1.png"},
			{Image: gallery.Image{ID: "image-2", DisplayOrder: 1}, URL: "https://cdn.test/solo/quiet-forms/2.png"},
		},
	}}
	router := newTestRouter(t, stubSessionValidator{err: auth.ErrMissingSessionToken}, service)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/entries/quiet-forms", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload entryPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Slug != "quiet-forms" || len(payload.Images) != 2 {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if !payload.Images[0].IsPrimary || payload.Images[0].URL != "https://cdn.test/solo/quiet-forms/1.png" {
		t.Fatalf("unexpected first image %#v", payload.Images[0])
	}
}

func TestAdminRoutesRequireSession(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "missing session", err: auth.ErrMissingSessionToken, status: http.StatusUnauthorized},
		{name: "invalid session", err: auth.ErrInvalidSessionToken, status: http.StatusUnauthorized},
		{name: "missing role", err: fmt.Errorf("%w: admin", auth.ErrMissingRole), status: http.StatusForbidden},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			service := &stubGalleryService{}
			router := newTestRouter(t, stubSessionValidator{err: testCase.err}, service)
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/admin/images/image-1", http.NoBody))
			if recorder.Code != testCase.status {
				t.Fatalf("expected %d, got %d", testCase.status, recorder.Code)
			}
			if len(service.deletedIDs) != 0 {
				t.Fatalf("expected the service not to be called")
			}
		})
	}
}

func TestRequireAdminLogsExpiredSessionAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodDelete, "/admin/images/1", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: stubSessionValidator{err: auth.ErrExpiredSessionToken},
		logger:   zap.New(core),
	}

	handler.requireAdmin(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired session, got %s", entries[0].Level)
	}
	hasExpired := false
	for _, field := range entries[0].Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired session error context, got %v", entries[0].Context)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingSessionValidator) {
		t.Fatalf("expected missing validator error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{SessionValidator: adminSessions()}); !errors.Is(err, errMissingGalleryService) {
		t.Fatalf("expected missing service error, got %v", err)
	}
}
