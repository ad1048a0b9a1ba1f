package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	apperrors "github.com/leeforge/shrink/errors"
)

// StorageProvider 存储提供者接口
type StorageProvider interface {
	Name() string
	Upload(ctx context.Context, input UploadInput) (UploadOutput, error)
	Exists(ctx context.Context, input GetURLInput) (bool, error)
}

// UploadInput 上传输入
type UploadInput struct {
	Data     []byte
	Filename string
	Folder   string
}

// UploadOutput 上传输出
type UploadOutput struct {
	Path string
	Size int64
}

// GetURLInput 获取路径输入
type GetURLInput struct {
	Filename string
	Folder   string
}

// ProviderConfig 提供者配置
type ProviderConfig struct {
	Type     string `json:"type" default:"local"`
	BasePath string `json:"base_path"`
}

// NewProvider builds a provider from config. Only "local" is known.
func NewProvider(config ProviderConfig) (StorageProvider, error) {
	switch config.Type {
	case "", "local":
		return NewLocalProvider(config.BasePath)
	default:
		return nil, apperrors.NewInvalid("storage.type", config.Type, "unsupported storage provider")
	}
}

// cleanKey joins folder and filename into a relative slash path, refusing
// anything that would leave the provider root.
func cleanKey(folder, filename string) (string, error) {
	if filename == "" {
		return "", apperrors.NewInvalid("filename", filename, "must not be empty")
	}
	key := filepath.ToSlash(filepath.Clean(filepath.Join(folder, filename)))
	if filepath.IsAbs(key) || key == ".." || strings.HasPrefix(key, "../") {
		return "", apperrors.NewInvalid("filename", fmt.Sprintf("%s/%s", folder, filename), "escapes the storage root")
	}
	return key, nil
}
