package mlflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imishinist/mlflow-pipeline/internal/config"
	"github.com/imishinist/mlflow-pipeline/internal/models"
)

var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrRunNotFound        = errors.New("run not found")
)

// Store is the tracking backend shared by every command. The file store and
// the REST client both implement it.
type Store interface {
	GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error)
	CreateExperiment(ctx context.Context, name string) (string, error)
	// SearchRuns returns at most maxResults runs of the experiment, newest
	// start time first.
	SearchRuns(ctx context.Context, experimentID string, maxResults int) ([]models.RunInfo, error)

	CreateRun(ctx context.Context, config *models.RunConfig) (*models.RunInfo, error)
	UpdateRun(ctx context.Context, runID string, status models.RunStatus) error
	GetRun(ctx context.Context, runID string) (*models.RunInfo, error)

	LogMetric(ctx context.Context, runID string, key string, value float64, timestamp *time.Time, step *int64) error
	LogMetrics(ctx context.Context, runID string, metrics []models.Metric) error
	LogParam(ctx context.Context, runID string, key string, value string) error
	LogParamsFromMap(ctx context.Context, runID string, params map[string]string) error
	SetTag(ctx context.Context, runID string, key string, value string) error

	UploadArtifact(ctx context.Context, runID, filePath, artifactPath string) error
}

// NewStore builds the backend matching the configured tracking URI.
func NewStore(cfg *config.Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.IsLocal() {
		return NewFileStore(cfg.LocalRoot())
	}
	return NewClient(cfg)
}

// GetOrCreateExperiment returns the ID of the named experiment, creating it
// when it does not exist yet.
func GetOrCreateExperiment(ctx context.Context, store Store, name string) (string, error) {
	experiment, err := store.GetExperimentByName(ctx, name)
	if err == nil {
		return experiment.ExperimentID, nil
	}
	if !errors.Is(err, ErrExperimentNotFound) {
		return "", err
	}

	id, err := store.CreateExperiment(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to create experiment %s: %w", name, err)
	}
	return id, nil
}
