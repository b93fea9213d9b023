package gallery

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates that a request was rejected before any I/O.
	ErrValidation = errors.New("gallery: invalid request")
	// ErrUploadFailure indicates that the object store rejected or timed out a write.
	ErrUploadFailure = errors.New("gallery: object upload failed")
	// ErrMetadataFailure indicates that a metadata store read or write failed.
	ErrMetadataFailure = errors.New("gallery: metadata operation failed")
	// ErrCompensationFailure marks a cleanup step that could not be completed.
	ErrCompensationFailure = errors.New("gallery: compensation failed")
)

var (
	errMissingMetadataStore = errors.New("metadata store is required")
	errMissingObjectStore   = errors.New("object store is required")
	errMissingIDProvider    = errors.New("id provider is required")
)

const (
	opServiceNew     = "gallery.service.new"
	opCreateMedia    = "gallery.create_media"
	opDeleteImage    = "gallery.delete_image"
	opReorderEntries = "gallery.reorder_entries"
	opReorderImages  = "gallery.reorder_images"
	opGetEntry       = "gallery.get_entry"
	opListEntries    = "gallery.list_entries"

	reasonInvalidRequest       = "invalid_request"
	reasonMissingMetadataStore = "missing_metadata_store"
	reasonMissingObjectStore   = "missing_object_store"
	reasonMissingIDProvider    = "missing_id_provider"
	reasonEntryLookupFailed    = "entry_lookup_failed"
	reasonEntryNotFound        = "entry_not_found"
	reasonEntryInsertFailed    = "entry_insert_failed"
	reasonEntryUpdateFailed    = "entry_update_failed"
	reasonEntryDeleteFailed    = "entry_delete_failed"
	reasonSlugConflict         = "slug_conflict"
	reasonImageLookupFailed    = "image_lookup_failed"
	reasonImageNotFound        = "image_not_found"
	reasonImageInsertFailed    = "image_insert_failed"
	reasonImageDeleteFailed    = "image_delete_failed"
	reasonPrimaryClearFailed   = "primary_clear_failed"
	reasonPrimaryMissing       = "primary_missing"
	reasonOrderLookupFailed    = "order_lookup_failed"
	reasonOrderUpdateFailed    = "order_update_failed"
	reasonKeyGenerationFailed  = "key_generation_failed"
	reasonIDGenerationFailed   = "id_generation_failed"
	reasonUploadFailed         = "upload_failed"
	reasonCancelled            = "cancelled"
)

// ServiceError is returned by every Service operation. Its code has the form
// `gallery.<operation>.<reason>` and it matches both its taxonomy kind and its
// cause under errors.Is.
type ServiceError struct {
	code     string
	kind     error
	err      error
	warnings []error
}

func (e *ServiceError) Error() string {
	message := e.code
	if e.err != nil {
		message = fmt.Sprintf("%s: %v", e.code, e.err)
	}
	if len(e.warnings) > 0 {
		message = fmt.Sprintf("%s (%d compensation warning(s))", message, len(e.warnings))
	}
	return message
}

func (e *ServiceError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.kind != nil {
		unwrapped = append(unwrapped, e.kind)
	}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

// Code returns the dotted operation/reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the taxonomy sentinel describing the failure.
func (e *ServiceError) Kind() error {
	return e.kind
}

// Warnings lists compensation steps that failed while unwinding this error. They do
// not change the reported outcome.
func (e *ServiceError) Warnings() []error {
	return append([]error(nil), e.warnings...)
}

func newServiceError(operation, reason string, kind, cause error) *ServiceError {
	return &ServiceError{
		code: fmt.Sprintf("%s.%s", operation, reason),
		kind: kind,
		err:  cause,
	}
}

func (e *ServiceError) withWarnings(warnings []error) *ServiceError {
	e.warnings = append(e.warnings, warnings...)
	return e
}
