package gallery

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/exhibits/internal/objectstore"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	stepResolveEntry     = "resolve_entry"
	stepRestoreEntry     = "restore_entry_fields"
	stepDeleteEntry      = "delete_created_entry"
	stepRestorePrimary   = "restore_primary"
	stepUploadMain       = "upload_main"
	stepInsertMain       = "insert_main_row"
	stepDeleteMainRow    = "delete_main_row"
	stepRestorePrevious  = "restore_previous_main_row"
	stepUploadAdditional = "upload_additional"
	stepInsertAdditional = "insert_additional_row"
	stepDeleteAdditional = "delete_additional_row"
	stepRepositionEntry  = "reposition_entry"
	stepLoadPrimary      = "load_primary"
)

// mediaSaga carries the state of one CreateOrUpdateEntryMedia invocation.
type mediaSaga struct {
	service  *Service
	request  validatedMediaRequest
	log      sagaLog
	entry    Entry
	created  bool
	previous *Image
	kindFrom Kind
	result   MediaResult
}

// CreateOrUpdateEntryMedia resolves or creates the entry named by the request, stores
// its images and records their rows. Objects are always written before the rows that
// reference them. On any failure every side effect of this invocation is unwound and
// the returned *ServiceError carries the compensation warnings.
func (s *Service) CreateOrUpdateEntryMedia(ctx context.Context, request MediaRequest) (MediaResult, error) {
	validated, err := validateMediaRequest(request, s.maxUploadBytes)
	if err != nil {
		return MediaResult{}, newServiceError(opCreateMedia, reasonInvalidRequest, ErrValidation, err)
	}

	ctx, span := s.startSpan(ctx, opCreateMedia,
		attribute.String("gallery.kind", validated.kind.String()),
		attribute.String("gallery.slug", validated.slug),
		attribute.Bool("gallery.edit_mode", validated.editMode),
		attribute.Int("gallery.additional_count", len(validated.additional)))
	saga := &mediaSaga{service: s, request: validated}
	result, err := saga.run(ctx)
	endSpan(span, err)
	if err != nil {
		return MediaResult{}, err
	}
	return result, nil
}

func (saga *mediaSaga) run(ctx context.Context) (MediaResult, error) {
	s := saga.service
	if err := saga.step(ctx, stepResolveEntry, saga.resolveEntry); err != nil {
		return MediaResult{}, err
	}
	saga.result.EntryID = saga.entry.ID
	saga.result.EntryCreated = saga.created

	if saga.request.main != nil {
		if err := saga.step(ctx, stepUploadMain, saga.writeMain); err != nil {
			return MediaResult{}, err
		}
	}

	if len(saga.request.additional) > 0 {
		if err := saga.step(ctx, stepUploadAdditional, saga.writeAdditional); err != nil {
			return MediaResult{}, err
		}
	}

	if saga.kindFrom != "" {
		if err := saga.step(ctx, stepRepositionEntry, saga.repositionEntry); err != nil {
			return MediaResult{}, err
		}
	}

	if saga.request.main == nil {
		if err := saga.step(ctx, stepLoadPrimary, saga.loadPrimary); err != nil {
			return MediaResult{}, err
		}
	}

	if saga.kindFrom != "" {
		saga.renumberPreviousKind(ctx)
	}
	if saga.previous != nil {
		saga.removePreviousObject(ctx)
	}

	s.loggerOrDefault().Info("entry media saved",
		zap.String("entry_id", saga.result.EntryID),
		zap.String("image_id", saga.result.ImageID),
		zap.Bool("entry_created", saga.result.EntryCreated),
		zap.Int("uploaded_objects", len(saga.log.objectKeys)))
	return saga.result, nil
}

// step runs fn inside a child span. A failing step has already been compensated by
// the time step returns.
func (saga *mediaSaga) step(ctx context.Context, name string, fn func(context.Context) error) error {
	stepCtx, span := saga.service.startSpan(ctx, opCreateMedia+"."+name)
	err := fn(stepCtx)
	endSpan(span, err)
	return err
}

func (saga *mediaSaga) fail(ctx context.Context, reason string, kind, cause error) error {
	s := saga.service
	if ctxErr := ctx.Err(); ctxErr != nil {
		if !errors.Is(cause, ctxErr) {
			cause = errors.Join(cause, ctxErr)
		}
		reason = reasonCancelled
	}
	warnings := s.compensator.compensate(ctx, opCreateMedia, &saga.log)
	s.logError(opCreateMedia, reason, cause,
		zap.String("entry_id", saga.entry.ID),
		zap.String("slug", saga.request.slug),
		zap.Int("compensation_warnings", len(warnings)))
	return newServiceError(opCreateMedia, reason, kind, cause).withWarnings(warnings)
}

// checkpoint aborts the saga when the caller has gone away between steps.
func (saga *mediaSaga) checkpoint(ctx context.Context, kind error) error {
	if err := ctx.Err(); err != nil {
		return saga.fail(ctx, reasonCancelled, kind, err)
	}
	return nil
}

func (saga *mediaSaga) resolveEntry(ctx context.Context) error {
	if saga.request.editMode {
		return saga.resolveEntryByID(ctx)
	}
	return saga.findOrCreateEntry(ctx)
}

func (saga *mediaSaga) resolveEntryByID(ctx context.Context) error {
	s := saga.service
	entry, err := s.metadata.FindEntryByID(ctx, saga.request.entryID)
	if errors.Is(err, ErrNotFound) {
		return saga.fail(ctx, reasonEntryNotFound, ErrNotFound, fmt.Errorf("entry %s: %w", saga.request.entryID, err))
	}
	if err != nil {
		return saga.fail(ctx, reasonEntryLookupFailed, ErrMetadataFailure, err)
	}
	saga.entry = entry
	if saga.request.main == nil {
		if err := saga.requireExistingPrimary(ctx); err != nil {
			return err
		}
	}
	return saga.updateEntryFields(ctx)
}

// findOrCreateEntry resolves the entry by slug, inserting it at the end of its kind
// when absent and updating its descriptive fields in place when present.
func (saga *mediaSaga) findOrCreateEntry(ctx context.Context) error {
	s := saga.service
	entry, err := s.metadata.FindEntryBySlug(ctx, saga.request.slug)
	if err == nil {
		saga.entry = entry
		return saga.updateEntryFields(ctx)
	}
	if !errors.Is(err, ErrNotFound) {
		return saga.fail(ctx, reasonEntryLookupFailed, ErrMetadataFailure, err)
	}

	order, err := s.ordering.NextEntryOrder(ctx, saga.request.kind)
	if err != nil {
		return saga.fail(ctx, reasonOrderLookupFailed, ErrMetadataFailure, err)
	}
	entryID, err := s.ids.NewID()
	if err != nil {
		return saga.fail(ctx, reasonIDGenerationFailed, ErrMetadataFailure, err)
	}
	now := s.now()
	entry = Entry{
		ID:           entryID,
		Kind:         saga.request.kind,
		Title:        saga.request.title,
		Slug:         saga.request.slug,
		Description:  saga.request.description,
		DisplayOrder: order,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.metadata.InsertEntry(ctx, entry); err != nil {
		if !errors.Is(err, ErrConstraintViolation) {
			return saga.fail(ctx, reasonEntryInsertFailed, ErrMetadataFailure, err)
		}
		// A concurrent invocation created the slug first; edit its entry instead.
		existing, lookupErr := s.metadata.FindEntryBySlug(ctx, saga.request.slug)
		if lookupErr != nil {
			return saga.fail(ctx, reasonSlugConflict, ErrMetadataFailure, errors.Join(err, lookupErr))
		}
		saga.entry = existing
		return saga.updateEntryFields(ctx)
	}
	saga.entry = entry
	saga.created = true
	saga.log.recordUndo(stepDeleteEntry, func(cleanupCtx context.Context) error {
		// Rows whose undo failed still reference the entry.
		remaining, err := s.metadata.CountImages(cleanupCtx, entryID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return fmt.Errorf("entry %s still owns %d image(s)", entryID, remaining)
		}
		return s.metadata.DeleteEntry(cleanupCtx, entryID)
	})
	return nil
}

func (saga *mediaSaga) updateEntryFields(ctx context.Context) error {
	s := saga.service
	previous := saga.entry.fields()
	next := EntryFields{
		Kind:        saga.request.kind,
		Title:       saga.request.title,
		Slug:        saga.request.slug,
		Description: saga.request.description,
	}
	if previous == next {
		return nil
	}
	if err := saga.checkpoint(ctx, ErrMetadataFailure); err != nil {
		return err
	}

	entryID := saga.entry.ID
	previousUpdatedAt := saga.entry.UpdatedAt
	now := s.now()
	if err := s.metadata.UpdateEntryFields(ctx, entryID, next, now); err != nil {
		reason := reasonEntryUpdateFailed
		if errors.Is(err, ErrConstraintViolation) {
			reason = reasonSlugConflict
		}
		return saga.fail(ctx, reason, ErrMetadataFailure, err)
	}
	saga.log.recordUndo(stepRestoreEntry, func(cleanupCtx context.Context) error {
		return s.metadata.UpdateEntryFields(cleanupCtx, entryID, previous, previousUpdatedAt)
	})
	if previous.Kind != next.Kind {
		saga.kindFrom = previous.Kind
	}
	saga.entry.Kind = next.Kind
	saga.entry.Title = next.Title
	saga.entry.Slug = next.Slug
	saga.entry.Description = next.Description
	saga.entry.UpdatedAt = now
	return nil
}

func (saga *mediaSaga) requireExistingPrimary(ctx context.Context) error {
	images, err := saga.service.metadata.ListImages(ctx, saga.entry.ID)
	if err != nil {
		return saga.fail(ctx, reasonImageLookupFailed, ErrMetadataFailure, err)
	}
	for _, image := range images {
		if image.IsPrimary {
			return nil
		}
	}
	return saga.fail(ctx, reasonPrimaryMissing, ErrValidation,
		fmt.Errorf("%w: entry %s has no main image and none was supplied", ErrValidation, saga.entry.ID))
}

// writeMain replaces or establishes the primary image: clear the current primary,
// upload the new object, insert its row, then delete the previous primary row. The
// previous object is removed only once the whole saga has succeeded.
func (saga *mediaSaga) writeMain(ctx context.Context) error {
	s := saga.service
	entryID := saga.entry.ID

	images, err := s.metadata.ListImages(ctx, entryID)
	if err != nil {
		return saga.fail(ctx, reasonImageLookupFailed, ErrMetadataFailure, err)
	}
	sortImages(images)
	order := nextImageOrder(images)
	for index := range images {
		if images[index].IsPrimary {
			previous := images[index]
			saga.previous = &previous
			order = previous.DisplayOrder
			break
		}
	}

	if saga.previous != nil {
		if err := saga.checkpoint(ctx, ErrMetadataFailure); err != nil {
			return err
		}
		cleared, err := s.metadata.ClearPrimary(ctx, entryID)
		if err != nil {
			return saga.fail(ctx, reasonPrimaryClearFailed, ErrMetadataFailure, err)
		}
		saga.log.recordUndo(stepRestorePrimary, func(cleanupCtx context.Context) error {
			var failures []error
			for _, imageID := range cleared {
				if err := s.metadata.SetImagePrimary(cleanupCtx, imageID, true); err != nil && !errors.Is(err, ErrNotFound) {
					failures = append(failures, err)
				}
			}
			return errors.Join(failures...)
		})
	}

	image, err := saga.uploadAndInsert(ctx, *saga.request.main, order, true, stepInsertMain, stepDeleteMainRow)
	if err != nil {
		return err
	}
	saga.result.ImageID = image.ID
	saga.result.CreatedAt = image.CreatedAt

	if saga.previous == nil {
		return nil
	}
	if err := saga.checkpoint(ctx, ErrMetadataFailure); err != nil {
		return err
	}
	previous := *saga.previous
	if err := s.metadata.DeleteImage(ctx, previous.ID); err != nil {
		return saga.fail(ctx, reasonImageDeleteFailed, ErrMetadataFailure, err)
	}
	saga.log.recordUndo(stepRestorePrevious, func(cleanupCtx context.Context) error {
		return s.metadata.InsertImage(cleanupCtx, previous)
	})
	return nil
}

// writeAdditional uploads every additional image in input order, appending them
// after the entry's current last position.
func (saga *mediaSaga) writeAdditional(ctx context.Context) error {
	s := saga.service
	base, err := s.ordering.NextImageOrder(ctx, saga.entry.ID)
	if err != nil {
		return saga.fail(ctx, reasonOrderLookupFailed, ErrMetadataFailure, err)
	}
	for index, upload := range saga.request.additional {
		if _, err := saga.uploadAndInsert(ctx, upload, base+index, false, stepInsertAdditional, stepDeleteAdditional); err != nil {
			return err
		}
	}
	return nil
}

// uploadAndInsert writes one object and then its row, registering both in the
// compensation log as soon as each is committed.
func (saga *mediaSaga) uploadAndInsert(ctx context.Context, upload validatedUpload, order int, primary bool, insertStep, undoStep string) (Image, error) {
	s := saga.service
	if err := saga.checkpoint(ctx, ErrUploadFailure); err != nil {
		return Image{}, err
	}
	key, err := s.keys.NewKey(saga.keyPrefix(), upload.filename, upload.contentType)
	if err != nil {
		return Image{}, saga.fail(ctx, reasonKeyGenerationFailed, ErrUploadFailure, err)
	}
	// A timed out put may still have stored the object, so the key is logged first.
	saga.log.recordObject(key)
	if err := s.objects.Put(ctx, key, upload.data, upload.contentType); err != nil {
		return Image{}, saga.fail(ctx, reasonUploadFailed, ErrUploadFailure, fmt.Errorf("put %s: %w", key, err))
	}

	if err := saga.checkpoint(ctx, ErrMetadataFailure); err != nil {
		return Image{}, err
	}
	imageID, err := s.ids.NewID()
	if err != nil {
		return Image{}, saga.fail(ctx, reasonIDGenerationFailed, ErrMetadataFailure, err)
	}
	image := Image{
		ID:           imageID,
		EntryID:      saga.entry.ID,
		StorageKey:   key,
		Caption:      saga.request.caption,
		ContentType:  upload.contentType,
		DisplayOrder: order,
		IsPrimary:    primary,
		CreatedAt:    s.now(),
	}
	if err := s.metadata.InsertImage(ctx, image); err != nil {
		return Image{}, saga.fail(ctx, reasonImageInsertFailed, ErrMetadataFailure, fmt.Errorf("%s: %w", insertStep, err))
	}
	saga.log.recordRow(undoStep, key, func(cleanupCtx context.Context) error {
		err := s.metadata.DeleteImage(cleanupCtx, imageID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	return image, nil
}

// repositionEntry appends an entry whose kind changed to the end of its new kind and
// closes the gap it left behind.
func (saga *mediaSaga) repositionEntry(ctx context.Context) error {
	s := saga.service
	entries, err := s.metadata.ListEntries(ctx, saga.entry.Kind)
	if err != nil {
		return saga.fail(ctx, reasonOrderLookupFailed, ErrMetadataFailure, err)
	}
	orders := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.ID != saga.entry.ID {
			orders = append(orders, entry.DisplayOrder)
		}
	}
	entryID := saga.entry.ID
	previousOrder := saga.entry.DisplayOrder
	if err := s.metadata.UpdateEntryOrder(ctx, entryID, nextOrder(orders)); err != nil {
		return saga.fail(ctx, reasonOrderUpdateFailed, ErrMetadataFailure, err)
	}
	saga.log.recordUndo(stepRepositionEntry, func(cleanupCtx context.Context) error {
		return s.metadata.UpdateEntryOrder(cleanupCtx, entryID, previousOrder)
	})
	return nil
}

// renumberPreviousKind closes the gap a moved entry left in its old kind. It must
// run after every fallible step. A failure is repaired by the next reorder.
func (saga *mediaSaga) renumberPreviousKind(ctx context.Context) {
	s := saga.service
	if err := s.ordering.RenumberEntries(context.WithoutCancel(ctx), saga.kindFrom); err != nil {
		s.loggerOrDefault().Warn("entry order left sparse after kind change",
			zap.String("entry_id", saga.entry.ID),
			zap.String("kind", saga.kindFrom.String()),
			zap.Error(err))
	}
}

// loadPrimary fills the result for edits that kept the existing main image.
func (saga *mediaSaga) loadPrimary(ctx context.Context) error {
	images, err := saga.service.metadata.ListImages(ctx, saga.entry.ID)
	if err != nil {
		return saga.fail(ctx, reasonImageLookupFailed, ErrMetadataFailure, err)
	}
	for _, image := range images {
		if image.IsPrimary {
			saga.result.ImageID = image.ID
			saga.result.CreatedAt = image.CreatedAt
			return nil
		}
	}
	return saga.fail(ctx, reasonPrimaryMissing, ErrMetadataFailure,
		fmt.Errorf("entry %s lost its main image during the edit", saga.entry.ID))
}

// removePreviousObject deletes the replaced main object. The saga has already
// succeeded, so a failure only leaves an orphan for out-of-band cleanup.
func (saga *mediaSaga) removePreviousObject(ctx context.Context) {
	s := saga.service
	key := saga.previous.StorageKey
	ctx = context.WithoutCancel(ctx)
	if err := s.objects.Remove(ctx, []string{key}); err != nil {
		s.loggerOrDefault().Warn("replaced main image object not removed",
			zap.String("entry_id", saga.entry.ID),
			zap.String("storage_key", key),
			zap.Error(err))
		s.orphans.ReportOrphans(ctx, OrphanReport{
			Operation: opCreateMedia,
			Reason:    OrphanReasonReplace,
			Keys:      objectstore.FailedKeys(err, []string{key}),
			Cause:     err.Error(),
		})
	}
}

func (saga *mediaSaga) keyPrefix() string {
	return saga.entry.Kind.String() + "/" + saga.entry.Slug
}
