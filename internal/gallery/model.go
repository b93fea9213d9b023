package gallery

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind enumerates the supported entry groupings.
type Kind string

const (
	// KindSolo marks a single-artist exhibition.
	KindSolo Kind = "solo"
	// KindGroup marks a group exhibition.
	KindGroup Kind = "group"
)

const (
	maxIdentifierLength = 190
	maxTitleLength      = 512
	maxCaptionLength    = 1024
)

// NewKind validates raw input and returns a Kind.
func NewKind(rawInput string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(rawInput))) {
	case KindSolo:
		return KindSolo, nil
	case KindGroup:
		return KindGroup, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrValidation, rawInput)
	}
}

// String returns the underlying kind value.
func (k Kind) String() string {
	return string(k)
}

// Entry is a gallery grouping (one exhibition) owning an ordered set of images.
type Entry struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Kind         Kind      `gorm:"column:kind;size:32;not null;index:idx_entries_kind_order,priority:1"`
	Title        string    `gorm:"column:title;size:512;not null"`
	Slug         string    `gorm:"column:slug;size:190;not null;uniqueIndex:idx_entries_slug"`
	Description  string    `gorm:"column:description;type:text;not null;default:''"`
	DisplayOrder int       `gorm:"column:display_order;not null;default:0;index:idx_entries_kind_order,priority:2"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "gallery_entries"
}

// Image is one stored object attached to an Entry.
type Image struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	EntryID      string    `gorm:"column:entry_id;size:190;not null;index:idx_images_entry_order,priority:1"`
	StorageKey   string    `gorm:"column:storage_key;size:512;not null;uniqueIndex:idx_images_storage_key"`
	Caption      string    `gorm:"column:caption;size:1024;not null"`
	ContentType  string    `gorm:"column:content_type;size:128;not null;default:''"`
	DisplayOrder int       `gorm:"column:display_order;not null;default:0;index:idx_images_entry_order,priority:2"`
	IsPrimary    bool      `gorm:"column:is_primary;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Image) TableName() string {
	return "gallery_images"
}

// EntryFields carries the mutable descriptive fields of an Entry.
type EntryFields struct {
	Kind        Kind
	Title       string
	Slug        string
	Description string
}

func (entry Entry) fields() EntryFields {
	return EntryFields{
		Kind:        entry.Kind,
		Title:       entry.Title,
		Slug:        entry.Slug,
		Description: entry.Description,
	}
}

// Upload is one image payload submitted by a caller.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// MediaRequest describes a create or edit of an entry together with its images.
// EntryID selects edit mode; without it the entry is resolved by slug.
type MediaRequest struct {
	EntryID     string
	Kind        string
	Title       string
	Description string
	Caption     string
	Main        *Upload
	Additional  []Upload
}

// MediaResult reports the primary image after a successful saga.
type MediaResult struct {
	EntryID      string
	ImageID      string
	CreatedAt    time.Time
	EntryCreated bool
}

// EntryView is an entry with its images in display order.
type EntryView struct {
	Entry  Entry
	Images []ImageView
}

// ImageView pairs an image row with its public URL.
type ImageView struct {
	Image Image
	URL   string
}

type validatedUpload struct {
	filename    string
	contentType string
	data        []byte
}

type validatedMediaRequest struct {
	entryID     string
	editMode    bool
	kind        Kind
	title       string
	slug        string
	description string
	caption     string
	main        *validatedUpload
	additional  []validatedUpload
}

func validateMediaRequest(request MediaRequest, maxUploadBytes int64) (validatedMediaRequest, error) {
	kind, err := NewKind(request.Kind)
	if err != nil {
		return validatedMediaRequest{}, err
	}
	title := strings.TrimSpace(request.Title)
	if title == "" {
		return validatedMediaRequest{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return validatedMediaRequest{}, fmt.Errorf("%w: title exceeds %d characters", ErrValidation, maxTitleLength)
	}
	caption := strings.TrimSpace(request.Caption)
	if caption == "" {
		return validatedMediaRequest{}, fmt.Errorf("%w: caption is required", ErrValidation)
	}
	if utf8.RuneCountInString(caption) > maxCaptionLength {
		return validatedMediaRequest{}, fmt.Errorf("%w: caption exceeds %d characters", ErrValidation, maxCaptionLength)
	}
	slug, err := ResolveSlug(kind, title)
	if err != nil {
		return validatedMediaRequest{}, err
	}
	entryID := strings.TrimSpace(request.EntryID)
	if len(entryID) > maxIdentifierLength {
		return validatedMediaRequest{}, fmt.Errorf("%w: entry id exceeds %d characters", ErrValidation, maxIdentifierLength)
	}
	if request.Main == nil && entryID == "" {
		return validatedMediaRequest{}, fmt.Errorf("%w: main image is required when creating an entry", ErrValidation)
	}

	validated := validatedMediaRequest{
		entryID:     entryID,
		editMode:    entryID != "",
		kind:        kind,
		title:       title,
		slug:        slug,
		description: strings.TrimSpace(request.Description),
		caption:     caption,
	}
	if request.Main != nil {
		main, err := validateUpload(*request.Main, maxUploadBytes)
		if err != nil {
			return validatedMediaRequest{}, fmt.Errorf("main image: %w", err)
		}
		validated.main = &main
	}
	validated.additional = make([]validatedUpload, 0, len(request.Additional))
	for index, upload := range request.Additional {
		additional, err := validateUpload(upload, maxUploadBytes)
		if err != nil {
			return validatedMediaRequest{}, fmt.Errorf("additional image %d: %w", index, err)
		}
		validated.additional = append(validated.additional, additional)
	}
	return validated, nil
}

func validateUpload(upload Upload, maxUploadBytes int64) (validatedUpload, error) {
	if len(upload.Data) == 0 {
		return validatedUpload{}, fmt.Errorf("%w: image payload is empty", ErrValidation)
	}
	if maxUploadBytes > 0 && int64(len(upload.Data)) > maxUploadBytes {
		return validatedUpload{}, fmt.Errorf("%w: image payload of %d bytes exceeds %d", ErrValidation, len(upload.Data), maxUploadBytes)
	}
	contentType := strings.ToLower(strings.TrimSpace(upload.ContentType))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(upload.Data)
	}
	if separator := strings.IndexByte(contentType, ';'); separator >= 0 {
		contentType = strings.TrimSpace(contentType[:separator])
	}
	if !strings.HasPrefix(contentType, "image/") {
		return validatedUpload{}, fmt.Errorf("%w: unsupported content type %q", ErrValidation, contentType)
	}
	return validatedUpload{
		filename:    strings.TrimSpace(upload.Filename),
		contentType: contentType,
		data:        upload.Data,
	}, nil
}
