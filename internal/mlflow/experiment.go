package mlflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/databricks/databricks-sdk-go/apierr"
	"github.com/databricks/databricks-sdk-go/service/ml"

	"github.com/imishinist/mlflow-pipeline/internal/models"
)

func (c *Client) GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error) {
	resp, err := c.client.Experiments.GetByName(ctx, ml.GetByNameRequest{
		ExperimentName: name,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, name)
		}
		return nil, fmt.Errorf("failed to get experiment %s: %w", name, err)
	}

	experiment := resp.Experiment
	if experiment == nil {
		return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, name)
	}
	return &models.Experiment{
		ExperimentID:     experiment.ExperimentId,
		Name:             experiment.Name,
		ArtifactLocation: experiment.ArtifactLocation,
		LifecycleStage:   experiment.LifecycleStage,
		CreationTime:     time.UnixMilli(experiment.CreationTime),
	}, nil
}

func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	resp, err := c.client.Experiments.CreateExperiment(ctx, ml.CreateExperiment{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create experiment: %w", err)
	}

	return resp.ExperimentId, nil
}

func (c *Client) SearchRuns(ctx context.Context, experimentID string, maxResults int) ([]models.RunInfo, error) {
	iter := c.client.Experiments.SearchRuns(ctx, ml.SearchRuns{
		ExperimentIds: []string{experimentID},
		OrderBy:       []string{"start_time DESC"},
		MaxResults:    maxResults,
	})

	// The iterator follows page tokens; stop once we have enough.
	runs := make([]models.RunInfo, 0, maxResults)
	for len(runs) < maxResults && iter.HasNext(ctx) {
		run, err := iter.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to search runs: %w", err)
		}
		runs = append(runs, *runInfoFromML(run))
	}

	return runs, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, apierr.ErrResourceDoesNotExist) || errors.Is(err, apierr.ErrNotFound)
}
