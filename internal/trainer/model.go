package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/imishinist/mlflow-pipeline/internal/forest"
)

const (
	mlmodelFile      = "MLmodel"
	modelDataFile    = "model.json"
	inputExampleFile = "input_example.json"
)

type mlmodel struct {
	ArtifactPath   string                    `yaml:"artifact_path"`
	Flavors        map[string]map[string]any `yaml:"flavors"`
	ModelUUID      string                    `yaml:"model_uuid"`
	RunID          string                    `yaml:"run_id"`
	InputExample   map[string]string         `yaml:"saving_input_example_info"`
	UTCTimeCreated string                    `yaml:"utc_time_created"`
}

// inputExample uses pandas' "split" orientation.
type inputExample struct {
	Columns []string    `json:"columns"`
	Data    [][]float64 `json:"data"`
}

// SaveModel writes an MLflow model directory: the MLmodel descriptor, the
// serialized forest and one example input row.
func SaveModel(dir, runID string, model *forest.Forest, example []float64) error {
	meta := mlmodel{
		ArtifactPath: modelArtifactPath,
		Flavors: map[string]map[string]any{
			"go_forest": {
				"data":                 modelDataFile,
				"serialization_format": "json",
				"classes":              model.Classes,
			},
		},
		ModelUUID: uuid.NewString(),
		RunID:     runID,
		InputExample: map[string]string{
			"artifact_path": inputExampleFile,
			"type":          "dataframe",
			"pandas_orient": "split",
		},
		UTCTimeCreated: time.Now().UTC().Format("2006-01-02 15:04:05.000000"),
	}

	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode MLmodel: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, mlmodelFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write MLmodel: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, modelDataFile))
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	if err := model.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}

	exampleData, err := json.Marshal(inputExample{Columns: model.Features, Data: [][]float64{example}})
	if err != nil {
		return fmt.Errorf("failed to encode input example: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, inputExampleFile), exampleData, 0644); err != nil {
		return fmt.Errorf("failed to write input example: %w", err)
	}
	return nil
}

// LoadModel reads the forest back from a model directory written by SaveModel.
func LoadModel(dir string) (*forest.Forest, error) {
	f, err := os.Open(filepath.Join(dir, modelDataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open model: %w", err)
	}
	defer f.Close()
	return forest.Load(f)
}
