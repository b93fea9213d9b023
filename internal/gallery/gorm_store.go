package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	columnID           = "id"
	columnEntryID      = "entry_id"
	columnKind         = "kind"
	columnSlug         = "slug"
	columnDisplayOrder = "display_order"
	columnIsPrimary    = "is_primary"
	queryID            = columnID + " = ?"
	queryIDIn          = columnID + " IN ?"
	queryEntryID       = columnEntryID + " = ?"
	queryKind          = columnKind + " = ?"
	querySlug          = columnSlug + " = ?"
	queryEntryPrimary  = columnEntryID + " = ? AND " + columnIsPrimary + " = ?"
	orderDisplay       = "display_order ASC, created_at ASC, id ASC"
)

// GormStore implements MetadataStore with gorm. Every method issues independent
// statements; none opens a transaction.
type GormStore struct {
	db *gorm.DB
}

var _ MetadataStore = (*GormStore)(nil)

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, newServiceError(opServiceNew, reasonMissingMetadataStore, ErrMetadataFailure, errMissingMetadataStore)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) FindEntryByID(ctx context.Context, entryID string) (Entry, error) {
	var entry Entry
	if err := s.db.WithContext(ctx).Where(queryID, entryID).Take(&entry).Error; err != nil {
		return Entry{}, translateStoreError(err)
	}
	return entry, nil
}

func (s *GormStore) FindEntryBySlug(ctx context.Context, slug string) (Entry, error) {
	var entry Entry
	if err := s.db.WithContext(ctx).Where(querySlug, slug).Take(&entry).Error; err != nil {
		return Entry{}, translateStoreError(err)
	}
	return entry, nil
}

func (s *GormStore) ListEntries(ctx context.Context, kind Kind) ([]Entry, error) {
	var entries []Entry
	if err := s.db.WithContext(ctx).Where(queryKind, kind.String()).Order(orderDisplay).Find(&entries).Error; err != nil {
		return nil, translateStoreError(err)
	}
	return entries, nil
}

func (s *GormStore) InsertEntry(ctx context.Context, entry Entry) error {
	return translateStoreError(s.db.WithContext(ctx).Create(&entry).Error)
}

func (s *GormStore) UpdateEntryFields(ctx context.Context, entryID string, fields EntryFields, updatedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&Entry{}).Where(queryID, entryID).Updates(map[string]any{
		columnKind:    fields.Kind.String(),
		"title":       fields.Title,
		columnSlug:    fields.Slug,
		"description": fields.Description,
		"updated_at":  updatedAt,
	})
	return requireAffected(result)
}

func (s *GormStore) UpdateEntryOrder(ctx context.Context, entryID string, displayOrder int) error {
	result := s.db.WithContext(ctx).Model(&Entry{}).Where(queryID, entryID).Update(columnDisplayOrder, displayOrder)
	return requireAffected(result)
}

func (s *GormStore) DeleteEntry(ctx context.Context, entryID string) error {
	result := s.db.WithContext(ctx).Where(queryID, entryID).Delete(&Entry{})
	return requireAffected(result)
}

func (s *GormStore) FindImage(ctx context.Context, imageID string) (Image, error) {
	var image Image
	if err := s.db.WithContext(ctx).Where(queryID, imageID).Take(&image).Error; err != nil {
		return Image{}, translateStoreError(err)
	}
	return image, nil
}

func (s *GormStore) ListImages(ctx context.Context, entryID string) ([]Image, error) {
	var images []Image
	if err := s.db.WithContext(ctx).Where(queryEntryID, entryID).Order(orderDisplay).Find(&images).Error; err != nil {
		return nil, translateStoreError(err)
	}
	return images, nil
}

func (s *GormStore) InsertImage(ctx context.Context, image Image) error {
	return translateStoreError(s.db.WithContext(ctx).Create(&image).Error)
}

func (s *GormStore) UpdateImageOrder(ctx context.Context, imageID string, displayOrder int) error {
	result := s.db.WithContext(ctx).Model(&Image{}).Where(queryID, imageID).Update(columnDisplayOrder, displayOrder)
	return requireAffected(result)
}

func (s *GormStore) SetImagePrimary(ctx context.Context, imageID string, primary bool) error {
	result := s.db.WithContext(ctx).Model(&Image{}).Where(queryID, imageID).Update(columnIsPrimary, primary)
	return requireAffected(result)
}

func (s *GormStore) ClearPrimary(ctx context.Context, entryID string) ([]string, error) {
	var primaryIDs []string
	if err := s.db.WithContext(ctx).Model(&Image{}).
		Where(queryEntryPrimary, entryID, true).
		Pluck(columnID, &primaryIDs).Error; err != nil {
		return nil, translateStoreError(err)
	}
	if len(primaryIDs) == 0 {
		return nil, nil
	}
	if err := s.db.WithContext(ctx).Model(&Image{}).
		Where(queryIDIn, primaryIDs).
		Update(columnIsPrimary, false).Error; err != nil {
		return nil, translateStoreError(err)
	}
	return primaryIDs, nil
}

func (s *GormStore) DeleteImage(ctx context.Context, imageID string) error {
	result := s.db.WithContext(ctx).Where(queryID, imageID).Delete(&Image{})
	return requireAffected(result)
}

func (s *GormStore) CountImages(ctx context.Context, entryID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Image{}).Where(queryEntryID, entryID).Count(&count).Error; err != nil {
		return 0, translateStoreError(err)
	}
	return count, nil
}

func requireAffected(result *gorm.DB) error {
	if result.Error != nil {
		return translateStoreError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func translateStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated), isConstraintMessage(err):
		return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	default:
		return err
	}
}

// isConstraintMessage covers drivers that do not implement gorm error translation.
func isConstraintMessage(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") ||
		strings.Contains(message, "duplicate key") ||
		strings.Contains(message, "constraint failed")
}
