// Package resolver finds the most recent run of an experiment and renders it
// for CI orchestrators.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/imishinist/mlflow-pipeline/internal/mlflow"
	"github.com/imishinist/mlflow-pipeline/internal/models"
)

var ErrNoRuns = errors.New("no runs found")

// LatestRun returns the most recently started run of the named experiment.
// Runs are only queried once the experiment is known to exist.
func LatestRun(ctx context.Context, store mlflow.Store, experimentName string) (*models.RunInfo, error) {
	experiment, err := store.GetExperimentByName(ctx, experimentName)
	if err != nil {
		return nil, err
	}

	runs, err := store.SearchRuns(ctx, experiment.ExperimentID, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to search runs of experiment %s: %w", experimentName, err)
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w in experiment %s", ErrNoRuns, experimentName)
	}

	return &runs[0], nil
}

// LatestRunID is LatestRun reduced to the identifier.
func LatestRunID(ctx context.Context, store mlflow.Store, experimentName string) (string, error) {
	run, err := LatestRun(ctx, store, experimentName)
	if err != nil {
		return "", err
	}
	return run.RunID, nil
}

// SetOutputLine renders a GitHub Actions style output command.
func SetOutputLine(name, value string) string {
	return fmt.Sprintf("::set-output name=%s::%s", name, value)
}
