package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileStore persists generated media bytes and returns a public URL. The
// interface keeps the worker independent of where bytes land so an
// object-store implementation can replace the disk one.
type FileStore interface {
	Save(relPath string, data []byte) (publicURL string, err error)
}

// DiskStore writes files under BaseDir and serves them under PublicBaseURL.
type DiskStore struct {
	baseDir       string
	publicBaseURL string
	logger        *zap.Logger
}

var _ FileStore = (*DiskStore)(nil)

func NewDiskStore(baseDir, publicBaseURL string, logger *zap.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", baseDir, err)
	}
	return &DiskStore{
		baseDir:       baseDir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger.Named("disk_store"),
	}, nil
}

// Save writes data to baseDir/relPath, creating intermediate directories.
// relPath must stay inside the base dir.
func (s *DiskStore) Save(relPath string, data []byte) (string, error) {
	cleaned := filepath.Clean(relPath)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid storage path %q", relPath)
	}

	fullPath := filepath.Join(s.baseDir, cleaned)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", cleaned, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", cleaned, err)
	}

	publicURL := s.publicBaseURL + "/" + filepath.ToSlash(cleaned)
	s.logger.Debug("File saved",
		zap.String("path", fullPath),
		zap.Int("bytes", len(data)),
		zap.String("url", publicURL))
	return publicURL, nil
}
