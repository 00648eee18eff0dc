package models

import "time"

type Experiment struct {
	ExperimentID     string    `json:"experiment_id"`
	Name             string    `json:"name"`
	ArtifactLocation string    `json:"artifact_location,omitempty"`
	LifecycleStage   string    `json:"lifecycle_stage,omitempty"`
	CreationTime     time.Time `json:"creation_time"`
}
