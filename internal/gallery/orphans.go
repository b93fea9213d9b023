package gallery

import (
	"context"

	"go.uber.org/zap"
)

const (
	// OrphanReasonCompensation marks keys a failed saga could not remove.
	OrphanReasonCompensation = "compensation_failed"
	// OrphanReasonDelete marks keys whose rows were deleted but whose objects remain.
	OrphanReasonDelete = "delete_object_failed"
	// OrphanReasonReplace marks the previous main image object left after replacement.
	OrphanReasonReplace = "replace_object_failed"
)

// OrphanReport names objects left in the store without a referencing row.
type OrphanReport struct {
	Operation string
	Reason    string
	Keys      []string
	Cause     string
}

// OrphanReporter hands unreferenced object keys to out-of-band cleanup. Reporting is
// best effort and must not fail the calling operation.
type OrphanReporter interface {
	ReportOrphans(ctx context.Context, report OrphanReport)
}

type logOrphanReporter struct {
	logger *zap.Logger
}

// NewLogOrphanReporter returns a reporter that only logs orphaned keys.
func NewLogOrphanReporter(logger *zap.Logger) OrphanReporter {
	if logger == nil {
		logger = noOpLogger
	}
	return logOrphanReporter{logger: logger}
}

func (r logOrphanReporter) ReportOrphans(_ context.Context, report OrphanReport) {
	if len(report.Keys) == 0 {
		return
	}
	r.logger.Warn("orphaned objects require cleanup",
		zap.String("operation", report.Operation),
		zap.String("reason", report.Reason),
		zap.Strings("keys", report.Keys),
		zap.String("cause", report.Cause))
}
