package attachments

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/PageSmith/PageSmith/internal/models"
)

// DefaultDirPermissions defines permissions for per-user attachment directories.
const DefaultDirPermissions = 0755

// Storage keeps uploaded media under a per-user directory inside the state
// dir. A user's directory is owned by their session until eviction or
// successful hand-off to the renderer.
type Storage struct {
	baseDir string
}

// NewStorage creates attachment storage rooted at baseDir.
func NewStorage(baseDir string) (*Storage, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("attachment base directory not set")
	}
	if err := os.MkdirAll(baseDir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	return &Storage{baseDir: baseDir}, nil
}

// UserDir returns the attachment directory for a user.
func (s *Storage) UserDir(userID string) string {
	return filepath.Join(s.baseDir, userID)
}

// Save copies a transport-downloaded file into the user's directory under a
// fresh name and returns the stored path.
func (s *Storage) Save(userID, srcPath string, kind models.MediaKind) (string, error) {
	dir := s.UserDir(userID)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return "", fmt.Errorf("failed to create user attachment directory: %w", err)
	}

	ext := filepath.Ext(srcPath)
	if ext == "" {
		if kind == models.MediaKindVideo {
			ext = ".mp4"
		} else {
			ext = ".jpg"
		}
	}
	destPath := filepath.Join(dir, uuid.NewString()+ext)

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open attachment source: %w", err)
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create stored attachment: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		os.Remove(destPath)
		return "", fmt.Errorf("failed to copy attachment: %w", err)
	}

	slog.Debug("Attachment stored", "userID", userID, "path", destPath, "kind", kind)
	return destPath, nil
}

// Release removes a user's attachment directory. Used on cancellation and by
// the idle reaper.
func (s *Storage) Release(userID string) error {
	dir := s.UserDir(userID)
	if err := os.RemoveAll(dir); err != nil {
		slog.Error("Failed to release attachment storage", "error", err, "userID", userID, "dir", dir)
		return fmt.Errorf("failed to release attachments for %s: %w", userID, err)
	}
	slog.Debug("Attachment storage released", "userID", userID, "dir", dir)
	return nil
}

// TransferTo moves a user's attachment directory into the renderer's working
// directory, transferring ownership on successful generation.
func (s *Storage) TransferTo(userID, destDir string) error {
	srcDir := s.UserDir(userID)
	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(destDir), DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create renderer directory: %w", err)
	}
	if err := os.Rename(srcDir, destDir); err != nil {
		slog.Error("Failed to transfer attachment storage", "error", err, "userID", userID, "dest", destDir)
		return fmt.Errorf("failed to transfer attachments for %s: %w", userID, err)
	}
	slog.Info("Attachment storage transferred to renderer", "userID", userID, "dest", destDir)
	return nil
}
