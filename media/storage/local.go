package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/leeforge/shrink/errors"
	"github.com/leeforge/shrink/utils"
)

// LocalProvider stores files under a base directory. Writes are atomic.
type LocalProvider struct {
	basePath string
}

// NewLocalProvider creates a new local storage provider
func NewLocalProvider(basePath string) (*LocalProvider, error) {
	if basePath == "" {
		basePath = "."
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, apperrors.WrapWithType(err, apperrors.ErrorTypeInternal,
			fmt.Sprintf("failed to create base directory %s", basePath))
	}
	return &LocalProvider{basePath: basePath}, nil
}

func (p *LocalProvider) Name() string {
	return "local"
}

func (p *LocalProvider) path(folder, filename string) (string, error) {
	key, err := cleanKey(folder, filename)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.basePath, filepath.FromSlash(key)), nil
}

// Upload saves a file to the local filesystem
func (p *LocalProvider) Upload(ctx context.Context, input UploadInput) (UploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return UploadOutput{}, err
	}
	fullPath, err := p.path(input.Folder, input.Filename)
	if err != nil {
		return UploadOutput{}, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return UploadOutput{}, apperrors.WrapWithType(err, apperrors.ErrorTypeInternal, "failed to create directory")
	}
	if err := utils.WriteFileAtomic(fullPath, input.Data, 0o644); err != nil {
		return UploadOutput{}, apperrors.WrapWithType(err, apperrors.ErrorTypeInternal, "failed to write file")
	}
	return UploadOutput{Path: fullPath, Size: int64(len(input.Data))}, nil
}

// Exists checks if a file exists
func (p *LocalProvider) Exists(ctx context.Context, input GetURLInput) (bool, error) {
	fullPath, err := p.path(input.Folder, input.Filename)
	if err != nil {
		return false, err
	}
	isDir, exists, err := utils.Exists(fullPath)
	return exists && !isDir, err
}
