// Package gdrive creates folders and files in Google Drive, including
// shared drives.
package gdrive

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const FolderMimeType = "application/vnd.google-apps.folder"

// Service is the part of the Drive API the uploader needs. Both calls
// return the ID of the node they created.
type Service interface {
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
	CreateFile(ctx context.Context, name, parentID, localPath string) (string, error)
}

type Client struct {
	files *drive.FilesService
	// ChunkSize is the resumable upload chunk size in bytes. Files that fit
	// in one chunk are sent in a single request.
	ChunkSize int
}

var _ Service = (*Client)(nil)

// NewClient builds a Drive client from a service account JSON key with the
// full Drive scope. No request is made until the first call.
func NewClient(ctx context.Context, credentialsJSON []byte, opts ...option.ClientOption) (*Client, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Drive credentials: %w", err)
	}

	opts = append([]option.ClientOption{option.WithCredentials(creds)}, opts...)
	return NewClientWithOptions(ctx, opts...)
}

func NewClientWithOptions(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	return &Client{
		files:     srv.Files,
		ChunkSize: googleapi.DefaultUploadChunkSize,
	}, nil
}

func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	folder, err := c.files.Create(&drive.File{
		Name:     name,
		MimeType: FolderMimeType,
		Parents:  []string{parentID},
	}).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", name, err)
	}

	return folder.Id, nil
}

// CreateFile uploads localPath as a new file named name under parentID.
func (c *Client) CreateFile(ctx context.Context, name, parentID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	file, err := c.files.Create(&drive.File{
		Name:    name,
		Parents: []string{parentID},
	}).
		Media(f, googleapi.ChunkSize(c.ChunkSize)).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload file %s: %w", name, err)
	}

	return file.Id, nil
}
