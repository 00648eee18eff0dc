package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-pipeline/internal/config"
	"github.com/imishinist/mlflow-pipeline/internal/gdrive"
	"github.com/imishinist/mlflow-pipeline/internal/mirror"
	"github.com/imishinist/mlflow-pipeline/internal/mlflow"
	"github.com/imishinist/mlflow-pipeline/internal/models"
	"github.com/imishinist/mlflow-pipeline/internal/resolver"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Mirror run artifacts to Google Drive",
	Long: `Copy a run's artifact directory into a new Drive folder named after the
run, below the folder given by GDRIVE_FOLDER_ID. GDRIVE_CREDENTIALS holds the
service account key as JSON.

Without --run-id the latest run of --experiment-name is uploaded. With
--runs-dir every subdirectory of that directory is uploaded as a run.
Nothing is checked remotely first: uploading twice creates two copies.`,
	Example: `  # Upload the latest run
  mlflow-pipeline upload

  # Upload a specific run
  mlflow-pipeline upload --run-id 1f6f6a3b2c8e4d0f9a7b5c3d1e2f4a6b

  # Upload every run of a local experiment directory
  mlflow-pipeline upload --runs-dir ./mlruns/0`,
	Args: cobra.NoArgs,
	RunE: upload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().String("run-id", "", "Run ID to upload (default: latest run of the experiment)")
	uploadCmd.Flags().String("artifact-dir", "", "Local directory to upload instead of the run's artifact URI")
	uploadCmd.Flags().String("runs-dir", "", "Upload every run directory below this path")
	uploadCmd.MarkFlagsMutuallyExclusive("run-id", "runs-dir")
	uploadCmd.MarkFlagsMutuallyExclusive("artifact-dir", "runs-dir")
}

func upload(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if err := cfg.ValidateDrive(); err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	artifactDir, _ := cmd.Flags().GetString("artifact-dir")
	runsDir, _ := cmd.Flags().GetString("runs-dir")

	if artifactDir != "" && runID == "" {
		return fmt.Errorf("--artifact-dir requires --run-id")
	}

	ctx := context.Background()

	if runsDir == "" && artifactDir == "" {
		run, err := resolveUploadRun(ctx, cfg, runID)
		if err != nil {
			return err
		}
		runID = run.RunID
		artifactDir, err = mlflow.LocalArtifactPath(run.ArtifactURI)
		if err != nil {
			return err
		}
	}

	drive, err := gdrive.NewClient(ctx, []byte(cfg.DriveCredentials))
	if err != nil {
		return err
	}
	uploader := mirror.NewUploader(drive)

	if runsDir != "" {
		runs, err := uploader.UploadRunsDir(ctx, runsDir, cfg.DriveFolderID)
		logUploadStats(uploader.Stats())
		if err != nil {
			return err
		}
		log.Info().Strs("runs", runs).Msgf("Uploaded %d runs from %s", len(runs), runsDir)
		return nil
	}

	log.Info().Str("run_id", runID).Msgf("Uploading artifacts from %s", artifactDir)
	folderID, err := uploader.UploadRun(ctx, runID, artifactDir, cfg.DriveFolderID)
	logUploadStats(uploader.Stats())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), folderID)
	return nil
}

// resolveUploadRun returns the run given by runID, or the latest run of the
// configured experiment when runID is empty.
func resolveUploadRun(ctx context.Context, cfg *config.Config, runID string) (*models.RunInfo, error) {
	store, err := mlflow.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}

	if runID != "" {
		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
		}
		return run, nil
	}

	run, err := resolver.LatestRun(ctx, store, cfg.ExperimentName)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("Latest run_id: %s", run.RunID)
	return run, nil
}

func logUploadStats(stats mirror.Stats) {
	log.Info().Int("folders", stats.Folders).Int("files", stats.Files).Msg("Upload finished")
}
