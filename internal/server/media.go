package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/exhibits/internal/gallery"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultMaxAdditionalImages = 32

	formFieldKind        = "kind"
	formFieldTitle       = "title"
	formFieldDescription = "description"
	formFieldCaption     = "caption"
	formFieldEntryID     = "entry_id"
	formFileMain         = "main"
	formFileAdditional   = "additional"
)

var errUploadTooLarge = errors.New("upload exceeds the configured limit")

type mediaResponsePayload struct {
	EntryID      string `json:"entry_id"`
	ImageID      string `json:"image_id"`
	CreatedAt    string `json:"created_at"`
	EntryCreated bool   `json:"entry_created"`
}

type entryOrderPayload struct {
	Kind string   `json:"kind"`
	IDs  []string `json:"ids"`
}

type imageOrderPayload struct {
	IDs []string `json:"ids"`
}

type imagePayload struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	Caption      string `json:"caption"`
	ContentType  string `json:"content_type"`
	DisplayOrder int    `json:"display_order"`
	IsPrimary    bool   `json:"is_primary"`
	CreatedAt    string `json:"created_at"`
}

type entryPayload struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Title        string         `json:"title"`
	Slug         string         `json:"slug"`
	Description  string         `json:"description"`
	DisplayOrder int            `json:"display_order"`
	Images       []imagePayload `json:"images,omitempty"`
}

type entryListPayload struct {
	Entries []entryPayload `json:"entries"`
}

func (h *httpHandler) handleCreateEntryMedia(c *gin.Context) {
	limit := h.maxUploadBytes*int64(h.maxAdditional+1) + multipartOverhead
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	request := gallery.MediaRequest{
		EntryID:     formValue(form, formFieldEntryID),
		Kind:        formValue(form, formFieldKind),
		Title:       formValue(form, formFieldTitle),
		Description: formValue(form, formFieldDescription),
		Caption:     formValue(form, formFieldCaption),
	}

	mainFiles := form.File[formFileMain]
	if len(mainFiles) > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multiple_main_images"})
		return
	}
	if len(mainFiles) == 1 {
		upload, err := h.readUpload(mainFiles[0])
		if err != nil {
			h.writeUploadError(c, err)
			return
		}
		request.Main = &upload
	}

	additionalFiles := form.File[formFileAdditional]
	if len(additionalFiles) > h.maxAdditional {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too_many_images"})
		return
	}
	for _, fileHeader := range additionalFiles {
		upload, err := h.readUpload(fileHeader)
		if err != nil {
			h.writeUploadError(c, err)
			return
		}
		request.Additional = append(request.Additional, upload)
	}

	result, err := h.gallery.CreateOrUpdateEntryMedia(c.Request.Context(), request)
	if err != nil {
		h.writeServiceError(c, "failed to save entry media", err)
		return
	}

	status := http.StatusOK
	if result.EntryCreated {
		status = http.StatusCreated
	}
	c.JSON(status, mediaResponsePayload{
		EntryID:      result.EntryID,
		ImageID:      result.ImageID,
		CreatedAt:    formatTimestamp(result.CreatedAt),
		EntryCreated: result.EntryCreated,
	})
}

func (h *httpHandler) handleDeleteImage(c *gin.Context) {
	if err := h.gallery.DeleteImage(c.Request.Context(), c.Param("id")); err != nil {
		h.writeServiceError(c, "failed to delete image", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleReorderEntries(c *gin.Context) {
	var payload entryOrderPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.gallery.ReorderEntries(c.Request.Context(), payload.Kind, payload.IDs); err != nil {
		h.writeServiceError(c, "failed to reorder entries", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleReorderImages(c *gin.Context) {
	var payload imageOrderPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.gallery.ReorderImages(c.Request.Context(), c.Param("id"), payload.IDs); err != nil {
		h.writeServiceError(c, "failed to reorder images", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetEntry(c *gin.Context) {
	view, err := h.gallery.GetEntry(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeServiceError(c, "failed to load entry", err)
		return
	}
	payload := newEntryPayload(view.Entry)
	payload.Images = make([]imagePayload, 0, len(view.Images))
	for _, image := range view.Images {
		payload.Images = append(payload.Images, imagePayload{
			ID:           image.Image.ID,
			URL:          image.URL,
			Caption:      image.Image.Caption,
			ContentType:  image.Image.ContentType,
			DisplayOrder: image.Image.DisplayOrder,
			IsPrimary:    image.Image.IsPrimary,
			CreatedAt:    formatTimestamp(image.Image.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleListEntries(c *gin.Context) {
	entries, err := h.gallery.ListEntries(c.Request.Context(), c.Query("kind"))
	if err != nil {
		h.writeServiceError(c, "failed to list entries", err)
		return
	}
	response := entryListPayload{Entries: make([]entryPayload, 0, len(entries))}
	for _, entry := range entries {
		response.Entries = append(response.Entries, newEntryPayload(entry))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) readUpload(fileHeader *multipart.FileHeader) (gallery.Upload, error) {
	if fileHeader.Size > h.maxUploadBytes {
		return gallery.Upload{}, fmt.Errorf("%w: %s", errUploadTooLarge, fileHeader.Filename)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return gallery.Upload{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return gallery.Upload{}, err
	}
	if int64(len(data)) > h.maxUploadBytes {
		return gallery.Upload{}, fmt.Errorf("%w: %s", errUploadTooLarge, fileHeader.Filename)
	}
	return gallery.Upload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *httpHandler) writeUploadError(c *gin.Context, err error) {
	if errors.Is(err, errUploadTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload_too_large"})
		return
	}
	h.logger.Warn("failed to read uploaded file", zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_upload"})
}

func (h *httpHandler) writeServiceError(c *gin.Context, message string, err error) {
	status := statusForError(err)
	payload := gin.H{"error": "internal_error"}

	var serviceErr *gallery.ServiceError
	if errors.As(err, &serviceErr) {
		code := serviceErr.Code()
		payload["code"] = code
		payload["error"] = code[strings.LastIndex(code, ".")+1:]
		if warnings := serviceErr.Warnings(); len(warnings) > 0 {
			payload["compensation_warnings"] = len(warnings)
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	} else {
		h.logger.Info(message, zap.Error(err))
	}
	c.JSON(status, payload)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, gallery.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, gallery.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gallery.ErrConstraintViolation):
		return http.StatusConflict
	case errors.Is(err, gallery.ErrUploadFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newEntryPayload(entry gallery.Entry) entryPayload {
	return entryPayload{
		ID:           entry.ID,
		Kind:         entry.Kind.String(),
		Title:        entry.Title,
		Slug:         entry.Slug,
		Description:  entry.Description,
		DisplayOrder: entry.DisplayOrder,
	}
}

func formValue(form *multipart.Form, key string) string {
	values := form.Value[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func formatTimestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
