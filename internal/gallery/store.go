package gallery

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested entry or image does not exist.
	ErrNotFound = errors.New("gallery: record not found")
	// ErrConstraintViolation indicates that a write broke a uniqueness or reference
	// constraint. It is not transient and retrying the same write will fail again.
	ErrConstraintViolation = errors.New("gallery: constraint violation")
)

// MetadataStore is the row-level contract the orchestrator needs from the metadata
// store. No method spans more than one logical row change and no cross-call
// transaction is assumed. Implementations report missing rows with ErrNotFound and
// broken constraints with ErrConstraintViolation.
type MetadataStore interface {
	FindEntryByID(ctx context.Context, entryID string) (Entry, error)
	FindEntryBySlug(ctx context.Context, slug string) (Entry, error)
	// ListEntries returns the entries of kind in display order.
	ListEntries(ctx context.Context, kind Kind) ([]Entry, error)
	InsertEntry(ctx context.Context, entry Entry) error
	UpdateEntryFields(ctx context.Context, entryID string, fields EntryFields, updatedAt time.Time) error
	UpdateEntryOrder(ctx context.Context, entryID string, displayOrder int) error
	DeleteEntry(ctx context.Context, entryID string) error

	FindImage(ctx context.Context, imageID string) (Image, error)
	// ListImages returns the images of an entry in display order.
	ListImages(ctx context.Context, entryID string) ([]Image, error)
	InsertImage(ctx context.Context, image Image) error
	UpdateImageOrder(ctx context.Context, imageID string, displayOrder int) error
	SetImagePrimary(ctx context.Context, imageID string, primary bool) error
	// ClearPrimary unsets the primary flag on every image of the entry and returns
	// the ids that were primary beforehand.
	ClearPrimary(ctx context.Context, entryID string) ([]string, error)
	DeleteImage(ctx context.Context, imageID string) error
	CountImages(ctx context.Context, entryID string) (int64, error)
}
