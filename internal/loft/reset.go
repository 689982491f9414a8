package loft

import "context"

// Reset wipes the workspace at path and sets it up again with a fresh seeded
// database and new metadata. Every backup is deleted too.
//
// Reset is destructive and asks for no confirmation; callers must confirm with
// the user before calling it.
func (s *Service) Reset(ctx context.Context, path string) error {
	unlock := s.lockPath(path)
	defer unlock()

	s.logger.Warn("resetting workspace", "path", path)
	if err := s.gateway.ResetWorkspace(ctx, path); err != nil {
		return classify(err, path, "resetting workspace")
	}
	if err := s.gateway.SetupWorkspace(ctx, path); err != nil {
		return classify(err, path, "setting up workspace after reset")
	}
	s.logger.Info("workspace reset", "path", path)
	return nil
}
