package mlflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/databricks/databricks-sdk-go/service/ml"

	"github.com/imishinist/mlflow-pipeline/internal/models"
)

func (c *Client) CreateRun(ctx context.Context, config *models.RunConfig) (*models.RunInfo, error) {
	if config.ExperimentID == nil {
		return nil, fmt.Errorf("experiment ID must be provided")
	}
	experimentID := *config.ExperimentID

	startTime := time.Now()
	runName := resolveRunName(config, startTime)

	tagMap := runTags(config, runName)
	tags := make([]ml.RunTag, 0, len(tagMap))
	for _, key := range sortedKeys(tagMap) {
		tags = append(tags, ml.RunTag{
			Key:   key,
			Value: tagMap[key],
		})
	}

	resp, err := c.client.Experiments.CreateRun(ctx, ml.CreateRun{
		ExperimentId: experimentID,
		RunName:      runName,
		StartTime:    startTime.UnixMilli(),
		Tags:         tags,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if resp.Run == nil || resp.Run.Info == nil {
		return nil, fmt.Errorf("failed to create run: empty response")
	}

	return newRunInfo(resp.Run.Info.RunId, experimentID, runName, startTime, resp.Run.Info.ArtifactUri, config), nil
}

func (c *Client) UpdateRun(ctx context.Context, runID string, status models.RunStatus) error {
	// Convert status to MLflow status type
	var mlStatus ml.UpdateRunStatus
	switch status {
	case models.RunStatusRunning:
		mlStatus = ml.UpdateRunStatusRunning
	case models.RunStatusFinished:
		mlStatus = ml.UpdateRunStatusFinished
	case models.RunStatusFailed:
		mlStatus = ml.UpdateRunStatusFailed
	case models.RunStatusKilled:
		mlStatus = ml.UpdateRunStatusKilled
	default:
		mlStatus = ml.UpdateRunStatusFinished
	}

	updateRun := ml.UpdateRun{
		RunId:  runID,
		Status: mlStatus,
	}

	if status.IsTerminal() {
		updateRun.EndTime = time.Now().UnixMilli()
	}

	_, err := c.client.Experiments.UpdateRun(ctx, updateRun)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return nil
}

func (c *Client) GetRun(ctx context.Context, runID string) (*models.RunInfo, error) {
	resp, err := c.client.Experiments.GetRun(ctx, ml.GetRunRequest{
		RunId: runID,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if resp.Run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return runInfoFromML(*resp.Run), nil
}

// runInfoFromML maps an API run. Servers omit data (and even info fields)
// for runs that have logged nothing yet.
func runInfoFromML(run ml.Run) *models.RunInfo {
	tags := make(map[string]string)
	if run.Data != nil {
		for _, tag := range run.Data.Tags {
			tags[tag.Key] = tag.Value
		}
	}
	if run.Info == nil {
		run.Info = &ml.RunInfo{}
	}

	runInfo := &models.RunInfo{
		RunID:        run.Info.RunId,
		ExperimentID: run.Info.ExperimentId,
		Status:       string(run.Info.Status),
		StartTime:    time.UnixMilli(run.Info.StartTime),
		ArtifactURI:  run.Info.ArtifactUri,
		Tags:         tags,
	}

	if run.Info.EndTime != 0 {
		endTime := time.UnixMilli(run.Info.EndTime)
		runInfo.EndTime = &endTime
	}

	if runName, exists := tags["mlflow.runName"]; exists {
		runInfo.RunName = runName
	}

	if description, exists := tags["mlflow.note.content"]; exists {
		runInfo.Description = description
	}

	return runInfo
}

// resolveRunName generates a timestamp-based run name when none is given.
func resolveRunName(config *models.RunConfig, startTime time.Time) string {
	if config.RunName != nil && *config.RunName != "" {
		return *config.RunName
	}
	return "run-" + startTime.Format("2006-01-02-15-04-05")
}

// runTags merges user tags with the reserved run name and note tags.
func runTags(config *models.RunConfig, runName string) map[string]string {
	tags := make(map[string]string, len(config.Tags)+2)
	for key, value := range config.Tags {
		tags[key] = value
	}
	tags["mlflow.runName"] = runName
	if config.Description != nil {
		tags["mlflow.note.content"] = *config.Description
	}
	return tags
}

func newRunInfo(runID, experimentID, runName string, startTime time.Time, artifactURI string, config *models.RunConfig) *models.RunInfo {
	runInfo := &models.RunInfo{
		RunID:        runID,
		ExperimentID: experimentID,
		RunName:      runName,
		Status:       string(models.RunStatusRunning),
		StartTime:    startTime,
		ArtifactURI:  artifactURI,
		Tags:         config.Tags,
	}
	if config.Description != nil {
		runInfo.Description = *config.Description
	}
	return runInfo
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
