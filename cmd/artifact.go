package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-pipeline/internal/mlflow"
)

var logArtifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Log artifact to MLflow run",
	Long: `Log a file or directory as an artifact to an MLflow run.
The file will be uploaded with its original name unless --artifact-path is specified.
Directories are uploaded recursively.`,
	Example: `  # Upload a file with its original name
  mlflow-pipeline log artifact --run-id <run-id> --file model.json

  # Upload a file with a custom artifact path
  mlflow-pipeline log artifact --run-id <run-id> --file model.json --artifact-path models/final_model.json

  # Upload a directory and a file
  mlflow-pipeline log artifact --run-id <run-id> --file model --file config.yaml`,
	RunE: logArtifact,
}

func init() {
	logCmd.AddCommand(logArtifactCmd)

	// Artifact command flags
	logArtifactCmd.Flags().String("run-id", "", "Run ID to upload artifacts to (required)")
	logArtifactCmd.Flags().StringSlice("file", []string{}, "File path to upload (can be specified multiple times)")
	logArtifactCmd.Flags().String("artifact-path", "", "Custom artifact path (only valid when uploading a single file)")
	logArtifactCmd.MarkFlagRequired("run-id")
	logArtifactCmd.MarkFlagRequired("file")
}

func logArtifact(cmd *cobra.Command, args []string) error {
	_, store, err := newStore()
	if err != nil {
		return err
	}

	// Parse flags
	runID, _ := cmd.Flags().GetString("run-id")
	files, _ := cmd.Flags().GetStringSlice("file")
	artifactPath, _ := cmd.Flags().GetString("artifact-path")

	// Validation
	if len(files) == 0 {
		return fmt.Errorf("at least one file must be specified")
	}

	if len(files) > 1 && artifactPath != "" {
		return fmt.Errorf("--artifact-path can only be used when uploading a single file")
	}

	ctx := context.Background()
	successCount := 0

	for _, filePath := range files {
		// Check if file exists
		info, err := os.Stat(filePath)
		if os.IsNotExist(err) {
			log.Warn().Msgf("File not found: %s", filePath)
			continue
		}

		// Determine artifact path
		var targetPath string
		if artifactPath != "" {
			targetPath = artifactPath
		} else {
			targetPath = filepath.Base(filePath)
		}

		if err == nil && info.IsDir() {
			err = mlflow.UploadArtifactDir(ctx, store, runID, filePath, targetPath)
		} else {
			err = store.UploadArtifact(ctx, runID, filePath, targetPath)
		}
		if err != nil {
			log.Error().Err(err).Msgf("Failed to upload %s", filePath)
			continue
		}
		successCount++
	}

	if successCount == 0 {
		return fmt.Errorf("failed to upload any artifacts")
	}

	// Output success message
	if len(files) == 1 {
		fmt.Printf("Successfully uploaded artifact: %s\n", files[0])
		if artifactPath != "" {
			fmt.Printf("  Artifact path: %s\n", artifactPath)
		} else {
			fmt.Printf("  Artifact path: %s\n", filepath.Base(files[0]))
		}
	} else {
		fmt.Printf("Successfully uploaded %d/%d artifacts\n", successCount, len(files))
	}

	return nil
}
