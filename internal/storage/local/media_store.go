// Package local implements the on-disk media tree.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Top-level directories of the media tree.
const (
	PostsDir         = "posts"
	ThumbsDir        = "thumb_images"
	ProfileImagesDir = "profile_images"
)

// PostPath returns the relative path of a post media file.
func PostPath(username, filename string) string {
	return path.Join(PostsDir, username, filename)
}

// ThumbPath returns the relative path of a video thumbnail.
func ThumbPath(username, filename string) string {
	return path.Join(ThumbsDir, username, filename)
}

// ProfileImagePath returns the relative path of an avatar; ext includes the dot.
func ProfileImagePath(username, ext string) string {
	return path.Join(ProfileImagesDir, username+ext)
}

// Config captures the parameters for the media store.
type Config struct {
	// BaseDir is the root of the media tree.
	BaseDir string
	// UID and GID are applied to written files when both are >= 0.
	UID int
	GID int
}

// MediaStore writes media files below a base directory.
type MediaStore struct {
	baseDir string
	uid     int
	gid     int
}

// New creates a media store, creating BaseDir if needed and checking it is writable.
func New(cfg Config) (*MediaStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory %s is not a directory", cfg.BaseDir)
	}

	probe, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	return &MediaStore{baseDir: filepath.Clean(cfg.BaseDir), uid: cfg.UID, gid: cfg.GID}, nil
}

// Root returns the base directory.
func (s *MediaStore) Root() string {
	return s.baseDir
}

func (s *MediaStore) resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", errors.New("path is required")
	}
	full := filepath.Join(s.baseDir, filepath.FromSlash(rel))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", rel)
	}
	return full, nil
}

// Write atomically stores data at rel and sets its access and modification time to modTime.
func (s *MediaStore) Write(ctx context.Context, rel string, data []byte, modTime time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", rel, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil { // #nosec G302 -- media is meant to be world readable.
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", rel, err)
	}
	if err := os.Chtimes(full, modTime, modTime); err != nil {
		return fmt.Errorf("set times %s: %w", rel, err)
	}
	if s.uid >= 0 && s.gid >= 0 {
		if err := os.Chown(full, s.uid, s.gid); err != nil {
			return fmt.Errorf("chown %s: %w", rel, err)
		}
	}
	return nil
}

// Exists reports whether rel is a regular file with content.
func (s *MediaStore) Exists(rel string) bool {
	full, err := s.resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Remove deletes rel. A missing file is not an error.
func (s *MediaStore) Remove(rel string) error {
	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}
