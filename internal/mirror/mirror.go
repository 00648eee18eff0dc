// Package mirror copies local artifact directories into Drive folders.
//
// The walk is depth-first and pre-order: a folder is created before any of
// its children, and entries are visited in lexicographic order, so the
// sequence of remote calls is fully determined by the local tree. Nothing is
// looked up remotely first; uploading the same tree twice creates two copies.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/imishinist/mlflow-pipeline/internal/gdrive"
)

type Stats struct {
	Folders int
	Files   int
}

type Uploader struct {
	drive gdrive.Service
	stats Stats
}

func NewUploader(drive gdrive.Service) *Uploader {
	return &Uploader{drive: drive}
}

// Stats returns how many remote nodes this uploader has created so far.
func (u *Uploader) Stats() Stats {
	return u.stats
}

// Mirror recreates the contents of localDir under the remote folder
// parentID. The first failing call aborts the walk; nodes created before it
// are left in place.
func (u *Uploader) Mirror(ctx context.Context, localDir, parentID string) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", localDir, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := entry.Name()
		localPath := filepath.Join(localDir, name)

		// Stat follows symlinks, so a link to a directory is mirrored as one.
		info, err := os.Stat(localPath)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", localPath, err)
		}

		if info.IsDir() {
			folderID, err := u.drive.CreateFolder(ctx, name, parentID)
			if err != nil {
				return err
			}
			u.stats.Folders++
			log.Info().Str("id", folderID).Msgf("Created folder: %s", name)

			if err := u.Mirror(ctx, localPath, folderID); err != nil {
				return err
			}
			continue
		}

		log.Info().Int64("bytes", info.Size()).Msgf("Uploading file: %s", localPath)
		fileID, err := u.drive.CreateFile(ctx, name, parentID, localPath)
		if err != nil {
			return err
		}
		u.stats.Files++
		log.Debug().Str("id", fileID).Msgf("Uploaded file: %s", name)
	}

	return nil
}

// UploadRun creates a folder named runID under rootID and mirrors localDir
// into it. It returns the new folder's ID.
func (u *Uploader) UploadRun(ctx context.Context, runID, localDir, rootID string) (string, error) {
	info, err := os.Stat(localDir)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("artifact path %s is not a directory", localDir)
	}

	folderID, err := u.drive.CreateFolder(ctx, runID, rootID)
	if err != nil {
		return "", err
	}
	u.stats.Folders++
	log.Info().Str("id", folderID).Msgf("Created folder for run_id: %s", runID)

	if err := u.Mirror(ctx, localDir, folderID); err != nil {
		return folderID, err
	}
	return folderID, nil
}

// UploadRunsDir uploads every subdirectory of runsDir as a run named after
// the subdirectory, e.g. each run of an experiment directory like
// ./mlruns/0. Plain files such as meta.yaml are skipped.
func (u *Uploader) UploadRunsDir(ctx context.Context, runsDir, rootID string) ([]string, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read runs directory %s: %w", runsDir, err)
	}

	var uploaded []string
	for _, entry := range entries {
		runPath := filepath.Join(runsDir, entry.Name())
		info, err := os.Stat(runPath)
		if err != nil {
			return uploaded, fmt.Errorf("failed to stat %s: %w", runPath, err)
		}
		if !info.IsDir() {
			continue
		}

		if _, err := u.UploadRun(ctx, entry.Name(), runPath, rootID); err != nil {
			return uploaded, fmt.Errorf("failed to upload run %s: %w", entry.Name(), err)
		}
		uploaded = append(uploaded, entry.Name())
	}

	return uploaded, nil
}
