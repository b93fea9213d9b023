package gallery

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ReorderEntries assigns display_order = index to each entry of kind in orderedIDs.
// The list must name every entry of the kind exactly once. Rows are updated
// independently; reapplying the same list after a partial failure converges.
func (s *Service) ReorderEntries(ctx context.Context, rawKind string, orderedIDs []string) (err error) {
	kind, err := NewKind(rawKind)
	if err != nil {
		return newServiceError(opReorderEntries, reasonInvalidRequest, ErrValidation, err)
	}
	ids, err := normalizeIDs(orderedIDs)
	if err != nil {
		return newServiceError(opReorderEntries, reasonInvalidRequest, ErrValidation, err)
	}
	ctx, span := s.startSpan(ctx, opReorderEntries,
		attribute.String("gallery.kind", kind.String()),
		attribute.Int("gallery.count", len(ids)))
	defer func() { endSpan(span, err) }()

	if err := s.ordering.ApplyEntryOrder(ctx, kind, ids); err != nil {
		return s.reorderFailure(opReorderEntries, err, zap.String("kind", kind.String()))
	}
	return nil
}

// ReorderImages assigns display_order = index to each image of the entry in
// orderedIDs. The list must name every image of the entry exactly once.
func (s *Service) ReorderImages(ctx context.Context, entryID string, orderedIDs []string) (err error) {
	trimmedEntryID := strings.TrimSpace(entryID)
	if trimmedEntryID == "" {
		return newServiceError(opReorderImages, reasonInvalidRequest, ErrValidation, errors.New("entry id is required"))
	}
	ids, err := normalizeIDs(orderedIDs)
	if err != nil {
		return newServiceError(opReorderImages, reasonInvalidRequest, ErrValidation, err)
	}
	ctx, span := s.startSpan(ctx, opReorderImages,
		attribute.String("gallery.entry_id", trimmedEntryID),
		attribute.Int("gallery.count", len(ids)))
	defer func() { endSpan(span, err) }()

	if _, err := s.metadata.FindEntryByID(ctx, trimmedEntryID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return newServiceError(opReorderImages, reasonEntryNotFound, ErrNotFound, err)
		}
		s.logError(opReorderImages, reasonEntryLookupFailed, err, zap.String("entry_id", trimmedEntryID))
		return newServiceError(opReorderImages, reasonEntryLookupFailed, ErrMetadataFailure, err)
	}
	if err := s.ordering.ApplyOrder(ctx, trimmedEntryID, ids); err != nil {
		return s.reorderFailure(opReorderImages, err, zap.String("entry_id", trimmedEntryID))
	}
	return nil
}

func (s *Service) reorderFailure(operation string, err error, fields ...zap.Field) error {
	if errors.Is(err, ErrValidation) {
		return newServiceError(operation, reasonInvalidRequest, ErrValidation, err)
	}
	s.logError(operation, reasonOrderUpdateFailed, err, fields...)
	return newServiceError(operation, reasonOrderUpdateFailed, ErrMetadataFailure, err)
}

func normalizeIDs(orderedIDs []string) ([]string, error) {
	if len(orderedIDs) == 0 {
		return nil, errors.New("ordered ids are required")
	}
	ids := make([]string, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			return nil, errors.New("ordered ids must not be blank")
		}
		ids = append(ids, trimmed)
	}
	return ids, nil
}
