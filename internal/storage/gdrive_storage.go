package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// GDriveStorage stores attachments in Google Drive
type GDriveStorage struct {
	logger          *slog.Logger
	service         *drive.Service
	parentID        string // Google Drive folder ID where files will be stored
	folderPath      string
	shareWithAnyone bool
	folders         map[string]string // resolved folder path -> id
}

// NewGDriveStorage creates a new Google Drive storage instance
func NewGDriveStorage(ctx context.Context, logger *slog.Logger, config StorageConfig, clientOpts ...option.ClientOption) (*GDriveStorage, error) {
	service, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}

	parentID := config.ParentFolderID
	if parentID == "" {
		parentID = "root"
	}

	return &GDriveStorage{
		logger:          logger,
		service:         service,
		parentID:        parentID,
		folderPath:      config.FolderPath,
		shareWithAnyone: config.ShareWithAnyone,
		folders:         make(map[string]string),
	}, nil
}

// UploadFile uploads content unless a file with the same name and size
// already exists in the target folder.
func (gd *GDriveStorage) UploadFile(ctx context.Context, name string, content []byte, meta Metadata) (UploadResult, error) {
	if name == "" {
		return UploadResult{}, ErrEmptyObjectName
	}

	folderID, err := gd.ensureFolderStructure(ctx, ExpandFolderPath(gd.folderPath, meta.Date.UTC()))
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to ensure folder structure: %w", err)
	}

	existing, err := gd.service.Files.List().
		Q(fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQuery(name), folderID)).
		Fields("files(id, name, size)").
		Context(ctx).
		Do()
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to search for existing file: %w", err)
	}
	for _, f := range existing.Files {
		if f.Size == int64(len(content)) {
			gd.logger.Debug("reusing existing drive file", "name", name, "id", f.Id)
			return UploadResult{ID: f.Id, Name: name, Size: f.Size, Location: folderID, Reused: true}, nil
		}
	}

	mimeType := meta.ContentType
	if mimeType == "" {
		mimeType = getMimeType(name)
	}

	file := &drive.File{
		Name:     name,
		Parents:  []string{folderID},
		MimeType: mimeType,
		AppProperties: map[string]string{
			"content_hash": meta.Hash,
			"message_id":   meta.MessageID,
		},
	}

	uploaded, err := gd.service.Files.Create(file).
		Media(bytes.NewReader(content)).
		Fields("id, name, size").
		Context(ctx).
		Do()
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to upload file: %w", err)
	}

	gd.logger.Debug("file uploaded successfully",
		"filename", name,
		"id", uploaded.Id,
		"size", len(content))

	return UploadResult{ID: uploaded.Id, Name: name, Size: int64(len(content)), Location: folderID}, nil
}

// CreateShareLink grants anyone-with-the-link read access and returns the
// view link.
func (gd *GDriveStorage) CreateShareLink(ctx context.Context, res UploadResult) (string, error) {
	if !gd.shareWithAnyone {
		return "", ErrShareUnsupported
	}

	_, err := gd.service.Permissions.Create(res.ID, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create share permission: %w", err)
	}

	f, err := gd.service.Files.Get(res.ID).Fields("webViewLink").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to read share link: %w", err)
	}
	return f.WebViewLink, nil
}

// CreateDirectLink returns the owner-visible link of the file.
func (gd *GDriveStorage) CreateDirectLink(ctx context.Context, res UploadResult) (string, error) {
	f, err := gd.service.Files.Get(res.ID).Fields("webViewLink, webContentLink").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to read file links: %w", err)
	}
	if f.WebViewLink != "" {
		return f.WebViewLink, nil
	}
	if f.WebContentLink != "" {
		return f.WebContentLink, nil
	}
	return "https://drive.google.com/file/d/" + res.ID + "/view", nil
}

func (gd *GDriveStorage) ensureFolderStructure(ctx context.Context, path string) (string, error) {
	if path == "" {
		return gd.parentID, nil
	}
	if id, ok := gd.folders[path]; ok {
		return id, nil
	}

	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	currentParentID := gd.parentID

	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}

		query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
			escapeQuery(part), currentParentID, folderMimeType)

		fileList, err := gd.service.Files.List().Q(query).Fields("files(id)").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to search for folder: %w", err)
		}

		if len(fileList.Files) > 0 {
			currentParentID = fileList.Files[0].Id
			continue
		}

		folder := &drive.File{
			Name:     part,
			MimeType: folderMimeType,
			Parents:  []string{currentParentID},
		}

		createdFolder, err := gd.service.Files.Create(folder).Fields("id").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("failed to create folder: %w", err)
		}

		currentParentID = createdFolder.Id
	}

	gd.folders[path] = currentParentID
	return currentParentID, nil
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func getMimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".zip":
		return "application/zip"
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
