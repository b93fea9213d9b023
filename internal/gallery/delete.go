package gallery

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DeleteImage removes one image. The row goes first; the object is removed after it
// and a failed removal is reported as an orphan without failing the call. The entry
// is deleted with its last image; otherwise the remaining images are renumbered and a
// deleted primary is replaced by the first remaining image.
func (s *Service) DeleteImage(ctx context.Context, imageID string) (err error) {
	trimmed := strings.TrimSpace(imageID)
	if trimmed == "" {
		return newServiceError(opDeleteImage, reasonInvalidRequest, ErrValidation, errors.New("image id is required"))
	}
	ctx, span := s.startSpan(ctx, opDeleteImage, attribute.String("gallery.image_id", trimmed))
	defer func() { endSpan(span, err) }()

	image, err := s.metadata.FindImage(ctx, trimmed)
	if errors.Is(err, ErrNotFound) {
		return newServiceError(opDeleteImage, reasonImageNotFound, ErrNotFound, err)
	}
	if err != nil {
		s.logError(opDeleteImage, reasonImageLookupFailed, err, zap.String("image_id", trimmed))
		return newServiceError(opDeleteImage, reasonImageLookupFailed, ErrMetadataFailure, err)
	}

	if err := s.metadata.DeleteImage(ctx, image.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return newServiceError(opDeleteImage, reasonImageNotFound, ErrNotFound, err)
		}
		s.logError(opDeleteImage, reasonImageDeleteFailed, err, zap.String("image_id", image.ID))
		return newServiceError(opDeleteImage, reasonImageDeleteFailed, ErrMetadataFailure, err)
	}

	s.removeDeletedObject(ctx, image)

	remaining, err := s.metadata.CountImages(ctx, image.EntryID)
	if err != nil {
		s.logError(opDeleteImage, reasonImageLookupFailed, err, zap.String("entry_id", image.EntryID))
		return newServiceError(opDeleteImage, reasonImageLookupFailed, ErrMetadataFailure, err)
	}
	if remaining == 0 {
		return s.deleteEmptyEntry(ctx, image.EntryID)
	}

	images, err := s.ordering.Renumber(ctx, image.EntryID)
	if err != nil {
		s.logError(opDeleteImage, reasonOrderUpdateFailed, err, zap.String("entry_id", image.EntryID))
		return newServiceError(opDeleteImage, reasonOrderUpdateFailed, ErrMetadataFailure, err)
	}
	if image.IsPrimary && len(images) > 0 && !hasPrimary(images) {
		if err := s.metadata.SetImagePrimary(ctx, images[0].ID, true); err != nil {
			s.logError(opDeleteImage, reasonPrimaryMissing, err,
				zap.String("entry_id", image.EntryID),
				zap.String("image_id", images[0].ID))
			return newServiceError(opDeleteImage, reasonPrimaryMissing, ErrMetadataFailure, err)
		}
	}

	s.loggerOrDefault().Info("image deleted",
		zap.String("image_id", image.ID),
		zap.String("entry_id", image.EntryID),
		zap.Int64("remaining", remaining))
	return nil
}

func (s *Service) removeDeletedObject(ctx context.Context, image Image) {
	if err := s.objects.Remove(ctx, []string{image.StorageKey}); err != nil {
		s.loggerOrDefault().Warn("deleted image object not removed",
			zap.String("image_id", image.ID),
			zap.String("storage_key", image.StorageKey),
			zap.Error(err))
		s.orphans.ReportOrphans(context.WithoutCancel(ctx), OrphanReport{
			Operation: opDeleteImage,
			Reason:    OrphanReasonDelete,
			Keys:      []string{image.StorageKey},
			Cause:     err.Error(),
		})
	}
}

func (s *Service) deleteEmptyEntry(ctx context.Context, entryID string) error {
	entry, err := s.metadata.FindEntryByID(ctx, entryID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logError(opDeleteImage, reasonEntryLookupFailed, err, zap.String("entry_id", entryID))
		return newServiceError(opDeleteImage, reasonEntryLookupFailed, ErrMetadataFailure, err)
	}
	if err := s.metadata.DeleteEntry(ctx, entryID); err != nil && !errors.Is(err, ErrNotFound) {
		s.logError(opDeleteImage, reasonEntryDeleteFailed, err, zap.String("entry_id", entryID))
		return newServiceError(opDeleteImage, reasonEntryDeleteFailed, ErrMetadataFailure, err)
	}
	if err := s.ordering.RenumberEntries(ctx, entry.Kind); err != nil {
		s.logError(opDeleteImage, reasonOrderUpdateFailed, err, zap.String("kind", entry.Kind.String()))
		return newServiceError(opDeleteImage, reasonOrderUpdateFailed, ErrMetadataFailure, err)
	}
	s.loggerOrDefault().Info("entry deleted with its last image", zap.String("entry_id", entryID))
	return nil
}

func hasPrimary(images []Image) bool {
	for _, image := range images {
		if image.IsPrimary {
			return true
		}
	}
	return false
}
