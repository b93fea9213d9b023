package gallery

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/exhibits/internal/objectstore"
	"go.uber.org/zap"
)

const defaultCompensationTimeout = 30 * time.Second

// sagaUndo reverses one committed metadata side effect. When guardsKey is set the
// undo removes the row referencing that object; if it fails the object is kept so the
// surviving row never points at a missing object.
type sagaUndo struct {
	step      string
	guardsKey string
	run       func(ctx context.Context) error
}

// sagaLog records the side effects committed by one saga invocation, in order. It is
// consulted only when the invocation fails and is discarded on success.
type sagaLog struct {
	objectKeys []string
	undos      []sagaUndo
}

func (l *sagaLog) recordObject(key string) {
	l.objectKeys = append(l.objectKeys, key)
}

func (l *sagaLog) recordUndo(step string, run func(ctx context.Context) error) {
	l.undos = append(l.undos, sagaUndo{step: step, run: run})
}

func (l *sagaLog) recordRow(step, key string, run func(ctx context.Context) error) {
	l.undos = append(l.undos, sagaUndo{step: step, guardsKey: key, run: run})
}

// compensator unwinds a sagaLog: metadata undos newest first, then one best-effort
// removal of every object key uploaded by the invocation.
type compensator struct {
	objects objectstore.Store
	orphans OrphanReporter
	logger  *zap.Logger
	timeout time.Duration
}

func (c compensator) compensate(ctx context.Context, operation string, log *sagaLog) []error {
	if log == nil || (len(log.undos) == 0 && len(log.objectKeys) == 0) {
		return nil
	}

	timeout := c.timeout
	if timeout <= 0 {
		timeout = defaultCompensationTimeout
	}
	// Cleanup must run even when the caller's context is already cancelled.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	var warnings []error
	pinned := make(map[string]struct{})
	for index := len(log.undos) - 1; index >= 0; index-- {
		undo := log.undos[index]
		if err := undo.run(cleanupCtx); err != nil {
			warning := fmt.Errorf("%w: %s: %v", ErrCompensationFailure, undo.step, err)
			warnings = append(warnings, warning)
			if undo.guardsKey != "" {
				pinned[undo.guardsKey] = struct{}{}
			}
			c.logger.Warn("saga compensation step failed",
				zap.String("operation", operation),
				zap.String("step", undo.step),
				zap.Error(err))
		}
	}

	removable := make([]string, 0, len(log.objectKeys))
	for _, key := range log.objectKeys {
		if _, ok := pinned[key]; ok {
			continue
		}
		removable = append(removable, key)
	}
	if len(removable) > 0 {
		if err := c.objects.Remove(cleanupCtx, removable); err != nil {
			leftover := objectstore.FailedKeys(err, removable)
			warnings = append(warnings, fmt.Errorf("%w: remove uploaded objects: %v", ErrCompensationFailure, err))
			c.logger.Warn("saga compensation left orphaned objects",
				zap.String("operation", operation),
				zap.Strings("keys", leftover),
				zap.Error(err))
			c.orphans.ReportOrphans(cleanupCtx, OrphanReport{
				Operation: operation,
				Reason:    OrphanReasonCompensation,
				Keys:      leftover,
				Cause:     err.Error(),
			})
		}
	}

	c.logger.Info("saga compensated",
		zap.String("operation", operation),
		zap.Int("undone_steps", len(log.undos)),
		zap.Int("removed_objects", len(removable)),
		zap.Int("warnings", len(warnings)))
	return warnings
}
