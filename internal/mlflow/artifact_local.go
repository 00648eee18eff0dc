package mlflow

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// copyArtifact copies filePath to root/artifactPath, creating parent
// directories as needed.
func copyArtifact(root, filePath, artifactPath string) error {
	if !filepath.IsLocal(filepath.FromSlash(artifactPath)) {
		return fmt.Errorf("invalid artifact path: %s", artifactPath)
	}
	localPath := filepath.Join(root, filepath.FromSlash(artifactPath))

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	sourceFile, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	return destFile.Close()
}

// UploadArtifactDir logs every regular file below localDir, keeping its
// relative path under artifactPath.
func UploadArtifactDir(ctx context.Context, store Store, runID, localDir, artifactPath string) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		target := path.Join(artifactPath, filepath.ToSlash(rel))
		if err := store.UploadArtifact(ctx, runID, p, target); err != nil {
			return fmt.Errorf("failed to upload %s: %w", p, err)
		}
		return nil
	})
}
