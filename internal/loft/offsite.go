package loft

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrOffsiteDisabled is returned by the offsite operations when no vault is configured.
var ErrOffsiteDisabled = errors.New("offsite copies are not configured")

// workspaceID reads the metadata of the workspace at path. Callers hold the path lock.
func (s *Service) workspaceID(ctx context.Context, path string) (string, error) {
	opened, err := s.gateway.OpenWorkspace(ctx, path)
	if err != nil {
		return "", classify(err, path, "reading workspace")
	}
	meta, err := ParseMetadata(opened.Metadata)
	if err != nil {
		return "", &Error{Kind: KindStructural, Path: path, Reason: ReasonUnreadable, Message: "workspace metadata is unreadable", Err: err}
	}
	return meta.ID, nil
}

// PushBackup encrypts the named local backup and copies it to the vault under
// the workspace id. The local backup is validated first.
func (s *Service) PushBackup(ctx context.Context, path, name string) error {
	if s.vault == nil || s.encryptor == nil {
		return ErrOffsiteDisabled
	}
	if !s.encryptor.IsConfigured() {
		return fmt.Errorf("encryption keys are not set up")
	}

	unlock := s.lockPath(path)
	defer unlock()

	id, err := s.workspaceID(ctx, path)
	if err != nil {
		return err
	}

	data, err := s.gateway.RestoreBackup(ctx, path, name)
	if err != nil {
		return classify(err, path, fmt.Sprintf("reading backup %s", name))
	}
	if !IsValidDatabase(data) {
		return &Error{Kind: KindInvalidDatabase, Path: path, Reason: ReasonCorrupt, Message: fmt.Sprintf("backup %s is not a valid database", name)}
	}

	// The vault needs the size up front, so seal into memory first.
	var sealed bytes.Buffer
	if err := s.encryptor.Encrypt(bytes.NewReader(data), &sealed); err != nil {
		return fmt.Errorf("encrypting backup: %w", err)
	}
	size := int64(sealed.Len())
	if err := s.vault.PutSnapshot(ctx, id, name, &sealed, size); err != nil {
		return fmt.Errorf("uploading backup to vault: %w", err)
	}

	s.logger.Info("backup copied offsite", "path", path, "workspace", id, "name", name, "size", size)
	return nil
}

// ListOffsiteBackups returns the names of the workspace's offsite copies, newest first.
func (s *Service) ListOffsiteBackups(ctx context.Context, path string) ([]Backup, error) {
	if s.vault == nil {
		return nil, ErrOffsiteDisabled
	}

	unlock := s.lockPath(path)
	defer unlock()

	id, err := s.workspaceID(ctx, path)
	if err != nil {
		return nil, err
	}
	names, err := s.vault.ListSnapshots(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing vault: %w", err)
	}
	return sortedBackups(names), nil
}

// PullBackup downloads and decrypts the named offsite copy and returns the
// validated bytes. Like RestoreBackup it does not touch the current database.
func (s *Service) PullBackup(ctx context.Context, path, name string, dec DecryptionContext) ([]byte, error) {
	if s.vault == nil {
		return nil, ErrOffsiteDisabled
	}
	if dec == nil {
		return nil, fmt.Errorf("offsite copies are encrypted but no passphrase was provided")
	}

	unlock := s.lockPath(path)
	defer unlock()

	id, err := s.workspaceID(ctx, path)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := s.vault.GetSnapshot(ctx, id, name, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	var plain bytes.Buffer
	decryptErr := dec.Decrypt(pr, &plain)
	pr.CloseWithError(decryptErr)
	vaultErr := <-vaultErrCh

	// A failed decrypt closes the pipe, which the vault then reports too.
	if vaultErr != nil && !errors.Is(vaultErr, decryptErr) {
		return nil, fmt.Errorf("downloading backup %s: %w", name, vaultErr)
	}
	if decryptErr != nil {
		return nil, fmt.Errorf("decrypting backup %s: %w", name, decryptErr)
	}

	data := plain.Bytes()
	if !IsValidDatabase(data) {
		return nil, &Error{Kind: KindInvalidDatabase, Path: path, Reason: ReasonCorrupt, Message: fmt.Sprintf("offsite backup %s is not a valid database", name)}
	}

	s.logger.Info("offsite backup downloaded", "path", path, "workspace", id, "name", name, "size", len(data))
	return data, nil
}
