package gallery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/exhibits/internal/objectstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/MarcoPoloResearchLab/exhibits/internal/gallery"

var noOpLogger = zap.NewNop()

// IDProvider issues identifiers for new entries and images.
type IDProvider interface {
	NewID() (string, error)
}

type uuidV7Provider struct{}

// NewUUIDProvider constructs an IDProvider backed by time-ordered UUIDv7 values.
func NewUUIDProvider() IDProvider {
	return uuidV7Provider{}
}

func (uuidV7Provider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// ServiceConfig describes the collaborators of the media orchestrator.
type ServiceConfig struct {
	Metadata            MetadataStore
	Objects             objectstore.Store
	Keys                objectstore.KeyGenerator
	IDProvider          IDProvider
	Orphans             OrphanReporter
	Clock               func() time.Time
	Logger              *zap.Logger
	TracerProvider      trace.TracerProvider
	MaxUploadBytes      int64
	CompensationTimeout time.Duration
}

// Service orchestrates entry/image mutations across the object store and the
// metadata store. It holds no locks; correctness under a single failing invocation
// comes from the compensation log.
type Service struct {
	metadata       MetadataStore
	objects        objectstore.Store
	keys           objectstore.KeyGenerator
	ids            IDProvider
	orphans        OrphanReporter
	ordering       *OrderingManager
	compensator    compensator
	clock          func() time.Time
	logger         *zap.Logger
	tracer         trace.Tracer
	maxUploadBytes int64
}

// NewService validates the configuration and constructs the orchestrator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Metadata == nil {
		return nil, newServiceError(opServiceNew, reasonMissingMetadataStore, ErrMetadataFailure, errMissingMetadataStore)
	}
	if cfg.Objects == nil {
		return nil, newServiceError(opServiceNew, reasonMissingObjectStore, ErrUploadFailure, errMissingObjectStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, reasonMissingIDProvider, ErrMetadataFailure, errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	keys := cfg.Keys
	if keys == nil {
		keys = objectstore.NewUUIDKeyGenerator()
	}
	orphans := cfg.Orphans
	if orphans == nil {
		orphans = NewLogOrphanReporter(logger)
	}
	tracerProvider := cfg.TracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}

	return &Service{
		metadata: cfg.Metadata,
		objects:  cfg.Objects,
		keys:     keys,
		ids:      cfg.IDProvider,
		orphans:  orphans,
		ordering: NewOrderingManager(cfg.Metadata),
		compensator: compensator{
			objects: cfg.Objects,
			orphans: orphans,
			logger:  logger,
			timeout: cfg.CompensationTimeout,
		},
		clock:          clock,
		logger:         logger,
		tracer:         tracerProvider.Tracer(tracerName),
		maxUploadBytes: cfg.MaxUploadBytes,
	}, nil
}

// GetEntry returns the entry identified by slug with its images in display order.
func (s *Service) GetEntry(ctx context.Context, slug string) (EntryView, error) {
	trimmed := strings.TrimSpace(slug)
	if trimmed == "" {
		return EntryView{}, newServiceError(opGetEntry, reasonInvalidRequest, ErrValidation, errors.New("slug is required"))
	}
	entry, err := s.metadata.FindEntryBySlug(ctx, trimmed)
	if errors.Is(err, ErrNotFound) {
		return EntryView{}, newServiceError(opGetEntry, reasonEntryNotFound, ErrNotFound, err)
	}
	if err != nil {
		s.logError(opGetEntry, reasonEntryLookupFailed, err, zap.String("slug", trimmed))
		return EntryView{}, newServiceError(opGetEntry, reasonEntryLookupFailed, ErrMetadataFailure, err)
	}
	images, err := s.metadata.ListImages(ctx, entry.ID)
	if err != nil {
		s.logError(opGetEntry, reasonImageLookupFailed, err, zap.String("entry_id", entry.ID))
		return EntryView{}, newServiceError(opGetEntry, reasonImageLookupFailed, ErrMetadataFailure, err)
	}

	view := EntryView{Entry: entry, Images: make([]ImageView, 0, len(images))}
	for _, image := range images {
		view.Images = append(view.Images, ImageView{Image: image, URL: s.objects.PublicURL(image.StorageKey)})
	}
	return view, nil
}

// ListEntries returns the entries of kind in display order.
func (s *Service) ListEntries(ctx context.Context, rawKind string) ([]Entry, error) {
	kind, err := NewKind(rawKind)
	if err != nil {
		return nil, newServiceError(opListEntries, reasonInvalidRequest, ErrValidation, err)
	}
	entries, err := s.metadata.ListEntries(ctx, kind)
	if err != nil {
		s.logError(opListEntries, reasonEntryLookupFailed, err, zap.String("kind", kind.String()))
		return nil, newServiceError(opListEntries, reasonEntryLookupFailed, ErrMetadataFailure, err)
	}
	return entries, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) startSpan(ctx context.Context, name string, attributes ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attributes...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("gallery service error", attrs...)
}
