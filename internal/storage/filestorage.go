package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStorage keeps archived attachments under a local directory
type FileStorage struct {
	root          string
	publicBaseURL string
	folderPath    string
	logger        *slog.Logger
}

// NewFileStorage creates a new FileStorage rooted at root
func NewFileStorage(root, publicBaseURL string, logger *slog.Logger) (*FileStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("file storage path cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{
		root:          abs,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		folderPath:    "{YYYY}/{MM}",
		logger:        logger,
	}, nil
}

// UploadFile writes content to <root>/<YYYY>/<MM>/<name>. An existing file of
// the same size is reused.
func (fs *FileStorage) UploadFile(_ context.Context, name string, content []byte, meta Metadata) (UploadResult, error) {
	if name == "" {
		return UploadResult{}, ErrEmptyObjectName
	}

	rel := filepath.Join(filepath.FromSlash(ExpandFolderPath(fs.folderPath, meta.Date.UTC())), name)
	finalPath := filepath.Join(fs.root, rel)

	result := UploadResult{
		ID:       filepath.ToSlash(rel),
		Name:     name,
		Size:     int64(len(content)),
		Location: finalPath,
	}

	if info, err := os.Stat(finalPath); err == nil && info.Size() == int64(len(content)) {
		fs.logger.Debug("reusing existing archived file", "path", finalPath)
		result.Reused = true
		return result, nil
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return UploadResult{}, fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := fs.writeFile(finalPath, content); err != nil {
		return UploadResult{}, err
	}

	fs.logger.Debug("file stored", "path", finalPath, "size", len(content))
	return result, nil
}

// CreateShareLink needs a configured public base URL.
func (fs *FileStorage) CreateShareLink(_ context.Context, res UploadResult) (string, error) {
	if fs.publicBaseURL == "" {
		return "", ErrShareUnsupported
	}
	segments := strings.Split(res.ID, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fs.publicBaseURL + "/" + path.Join(segments...), nil
}

func (fs *FileStorage) CreateDirectLink(_ context.Context, res UploadResult) (string, error) {
	if res.Location == "" {
		return "", fmt.Errorf("upload result has no location")
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(res.Location)}
	return u.String(), nil
}

func (fs *FileStorage) writeFile(finalPath string, content []byte) error {
	tmp := finalPath + ".partial"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write file content: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmp, finalPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}
