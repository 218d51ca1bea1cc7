package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/semmidev/pgstash/internal/config"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const driveFileFields = "nextPageToken, files(id, name, modifiedTime)"

// GDriveStorage keeps artifacts as files in one Drive folder.
type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

// NewGDrive authenticates with cfg.CredentialsFile (service account or the
// authorized_user file written by gdrive-auth). Extra client options are
// appended after it.
func NewGDrive(ctx context.Context, cfg *config.UploadTarget, opts ...option.ClientOption) (*GDriveStorage, error) {
	if cfg.FolderID == "" {
		return nil, fmt.Errorf("gdrive folder_id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	service, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveStorage{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

// quote escapes a value for a Drive query string literal.
func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// inFolder builds a query over live files of the folder, narrowed by the
// optional extra clauses.
func (g *GDriveStorage) inFolder(clauses ...string) string {
	q := append([]string{fmt.Sprintf("'%s' in parents", quote(g.folderID)), "trashed=false"}, clauses...)
	return strings.Join(q, " and ")
}

func (g *GDriveStorage) find(ctx context.Context, q string) ([]*drive.File, error) {
	var files []*drive.File
	err := g.service.Files.List().
		Q(q).
		Fields(driveFileFields).
		Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			files = append(files, page.Files...)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func names(files []*drive.File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

func (g *GDriveStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	meta := &drive.File{
		Name:     remoteName,
		Parents:  []string{g.folderID},
		MimeType: "application/octet-stream",
	}
	if _, err := g.service.Files.Create(meta).Media(file).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to upload to gdrive: %w", err)
	}

	return nil
}

func (g *GDriveStorage) List(ctx context.Context) ([]string, error) {
	found, err := g.find(ctx, g.inFolder())
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return names(found), nil
}

// Delete removes every live file named remoteName; Drive allows duplicates.
func (g *GDriveStorage) Delete(ctx context.Context, remoteName string) error {
	found, err := g.find(ctx, g.inFolder(fmt.Sprintf("name='%s'", quote(remoteName))))
	if err != nil {
		return fmt.Errorf("failed to find file: %w", err)
	}
	if len(found) == 0 {
		return fmt.Errorf("file not found: %s", remoteName)
	}

	for _, file := range found {
		if err := g.service.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", remoteName, err)
		}
	}
	return nil
}

func (g *GDriveStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	found, err := g.find(ctx, g.inFolder(
		fmt.Sprintf("modifiedTime < '%s'", cutoffTime.UTC().Format(time.RFC3339))))
	if err != nil {
		return nil, fmt.Errorf("failed to list old files: %w", err)
	}
	return names(found), nil
}
