package loft

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Open runs the open protocol for path:
//
//	VALIDATE_PATH -> [WAITING_MATERIALIZATION] -> OPENING_DB -> READY | MISSING
//
// A local path that does not exist fails at once. A cloud-synced path that does
// not exist is polled until it materializes or the policy timeout elapses.
// Lock contention while reading is retried with exponential backoff; every other
// failure surfaces immediately. The database bytes must pass IsValidDatabase.
// On success the workspace pointer moves to path and READY is published; on
// failure MISSING is published and a *Error is returned. If READY is refused
// the pointer is moved back, so it only ever names a fully opened workspace.
//
// If ctx is cancelled the last published state is left as is and ctx.Err() is
// returned. Open may be called again at any time, including after MISSING.
func (s *Service) Open(ctx context.Context, path string) (*OpenResult, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()
	unlock := s.lockPath(path)
	defer unlock()

	s.logger.Debug("opening workspace", "path", path)
	if err := s.publish(BootState{Phase: PhaseValidatePath, Path: path}); err != nil {
		return nil, err
	}

	exists, err := s.gateway.PathExists(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.fail(path, classify(err, path, "checking workspace path"))
	}

	if !exists {
		if !s.classifier.Classify(path).IsCloudSynced {
			return nil, s.fail(path, &Error{
				Kind:    KindWorkspaceMissing,
				Path:    path,
				Reason:  ReasonMovedOrDeleted,
				Message: "workspace folder does not exist; it may have been moved or deleted",
			})
		}

		timeout := s.policy.MaterializationTimeout
		if err := s.publish(BootState{
			Phase:     PhaseWaitingMaterialization,
			Path:      path,
			StartedAt: s.clock.Now(),
			Timeout:   timeout,
		}); err != nil {
			return nil, err
		}

		s.logger.Info("waiting for cloud folder to download", "path", path, "timeout", timeout)
		materialized, err := s.WaitForMaterialization(ctx, path, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, s.fail(path, classify(err, path, "checking workspace path"))
		}
		if !materialized {
			return nil, s.fail(path, &Error{
				Kind:    KindWorkspaceMissing,
				Path:    path,
				Reason:  ReasonNotDownloaded,
				Message: fmt.Sprintf("cloud folder has not been downloaded yet after %s", timeout),
			})
		}
	}

	if err := s.publish(BootState{Phase: PhaseOpeningDB, Path: path}); err != nil {
		return nil, err
	}

	opened, err := s.openWithRetry(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.fail(path, classify(err, path, "opening workspace"))
	}

	if !IsValidDatabase(opened.Database) {
		return nil, s.fail(path, &Error{
			Kind:    KindInvalidDatabase,
			Path:    path,
			Reason:  ReasonCorrupt,
			Message: fmt.Sprintf("database file is not a valid database (%d bytes)", len(opened.Database)),
		})
	}

	meta, err := ParseMetadata(opened.Metadata)
	if err != nil {
		return nil, s.fail(path, &Error{
			Kind:    KindStructural,
			Path:    path,
			Reason:  ReasonUnreadable,
			Message: "workspace metadata is unreadable",
			Err:     err,
		})
	}

	previous := s.pointer.Current()
	if err := s.pointer.set(path); err != nil {
		return nil, s.fail(path, classify(err, path, "recording active workspace"))
	}

	result := &OpenResult{
		Path:         path,
		Database:     opened.Database,
		Metadata:     meta,
		DatabasePath: opened.DatabasePath,
		MetadataPath: opened.MetadataPath,
		BackupsDir:   opened.BackupsDir,
	}
	if err := s.publish(BootState{Phase: PhaseReady, Path: path, Result: result}); err != nil {
		if rbErr := s.pointer.set(previous); rbErr != nil {
			s.logger.Error("restoring active workspace failed", "path", previous, "error", rbErr)
			return nil, errors.Join(err, rbErr)
		}
		return nil, err
	}

	s.logger.Info("workspace opened", "path", path, "id", meta.ID, "size", len(opened.Database))
	return result, nil
}

// WaitForMaterialization polls PathExists every PollInterval until path exists,
// timeout elapses or ctx is done. It returns true once the path exists, false on
// timeout, and ctx.Err() when cancelled. It publishes no boot state.
func (s *Service) WaitForMaterialization(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	deadline := s.clock.Now().Add(timeout)
	for {
		exists, err := s.gateway.PathExists(ctx, path)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
		if !s.clock.Now().Before(deadline) {
			return false, nil
		}
		if err := s.clock.Sleep(ctx, s.policy.PollInterval); err != nil {
			return false, err
		}
	}
}

// openWithRetry calls OpenWorkspace up to MaxOpenAttempts times while it fails
// with lock contention, waiting RetryBaseDelay * 2^(attempt-1) after each
// failed attempt, the last one included. Any other error returns at once.
func (s *Service) openWithRetry(ctx context.Context, path string) (*OpenedWorkspace, error) {
	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxOpenAttempts; attempt++ {
		opened, err := s.gateway.OpenWorkspace(ctx, path)
		if err == nil {
			return opened, nil
		}
		if !IsLockError(err) {
			return nil, classify(err, path, "opening workspace")
		}
		lastErr = err

		delay := backoff(s.policy.RetryBaseDelay, attempt)
		s.logger.Warn("workspace is locked", "path", path, "attempt", attempt, "delay", delay, "error", err)
		if err := s.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, &Error{
		Kind:    KindLockContention,
		Path:    path,
		Reason:  ReasonLocked,
		Message: fmt.Sprintf("workspace still locked after %d attempts", s.policy.MaxOpenAttempts),
		Err:     lastErr,
	}
}

// backoff returns base * 2^(attempt-1).
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// fail publishes MISSING for err and returns it.
func (s *Service) fail(path string, err *Error) error {
	if err.Path == "" {
		err.Path = path
	}
	if err.Reason == ReasonNone {
		err.Reason = reasonFor(err.Kind)
	}

	s.logger.Warn("workspace unavailable", "path", path, "kind", err.Kind.String(), "reason", string(err.Reason), "error", err)
	if pubErr := s.publish(BootState{
		Phase:   PhaseMissing,
		Path:    path,
		Kind:    err.Kind,
		Reason:  err.Reason,
		Message: missingMessage(err),
	}); pubErr != nil {
		return errors.Join(err, pubErr)
	}
	return err
}

func (s *Service) publish(state BootState) error {
	if err := s.states.Publish(state); err != nil {
		s.logger.Error("boot state rejected", "phase", state.Phase.String(), "error", err)
		return err
	}
	return nil
}

func reasonFor(kind ErrorKind) Reason {
	switch kind {
	case KindInvalidDatabase:
		return ReasonCorrupt
	case KindLockContention:
		return ReasonLocked
	case KindWorkspaceMissing:
		return ReasonMovedOrDeleted
	default:
		return ReasonUnreadable
	}
}

// missingMessage renders the human-readable text of a MISSING state.
func missingMessage(err *Error) string {
	switch err.Reason {
	case ReasonNotDownloaded:
		return "The workspace is in a cloud folder that has not finished downloading. Wait for it to sync and try again."
	case ReasonMovedOrDeleted:
		return "The workspace folder was moved or deleted. Choose its new location or create a new workspace."
	case ReasonCorrupt:
		return "The workspace database is damaged. Restore a backup to continue."
	case ReasonLocked:
		return "The workspace is in use by another program. Close it and try again."
	default:
		return fmt.Sprintf("The workspace could not be opened: %v", err)
	}
}
