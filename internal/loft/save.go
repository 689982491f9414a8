package loft

import (
	"context"
	"fmt"
)

// Save persists data as the current database of the workspace at path.
// data is validated first: invalid bytes fail with KindInvalidDatabase and
// the gateway is never called, so nothing on disk changes. The gateway write
// itself is atomic. Lock contention is reported, not retried.
func (s *Service) Save(ctx context.Context, path string, data []byte) error {
	if !IsValidDatabase(data) {
		return &Error{
			Kind:    KindInvalidDatabase,
			Path:    path,
			Reason:  ReasonCorrupt,
			Message: fmt.Sprintf("refusing to save invalid database bytes (%d bytes)", len(data)),
		}
	}

	unlock := s.lockPath(path)
	defer unlock()

	if err := s.gateway.SaveWorkspace(ctx, path, data); err != nil {
		return classify(err, path, "saving workspace")
	}

	s.logger.Info("workspace saved", "path", path, "size", len(data))
	return nil
}
