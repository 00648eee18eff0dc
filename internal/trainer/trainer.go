// Package trainer fits the cardiovascular classifier and records it as an
// MLflow run.
package trainer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/imishinist/mlflow-pipeline/internal/dataset"
	"github.com/imishinist/mlflow-pipeline/internal/evaluate"
	"github.com/imishinist/mlflow-pipeline/internal/forest"
	"github.com/imishinist/mlflow-pipeline/internal/mlflow"
	"github.com/imishinist/mlflow-pipeline/internal/models"
)

const (
	DefaultDataPath = "cardiovascular_disease_preprocessing.csv"
	DefaultLabel    = "cardio"
	DefaultTestSize = 0.2
	DefaultSeed     = 42

	modelArtifactPath = "model"
)

type Options struct {
	DataPath string
	Label    string
	TestSize float64
	Seed     int64
	// ExperimentID selects an existing experiment. When empty the run goes
	// to ExperimentName, which is created if missing.
	ExperimentID   string
	ExperimentName string
	RunName        string
	Forest         forest.Params
	// Report receives the human-readable evaluation; nil discards it.
	Report io.Writer
}

func DefaultOptions() Options {
	return Options{
		DataPath: DefaultDataPath,
		Label:    DefaultLabel,
		TestSize: DefaultTestSize,
		Seed:     DefaultSeed,
		Forest:   forest.DefaultParams(),
	}
}

type Result struct {
	RunID       string
	ArtifactURI string
	Accuracy    float64
	Report      *evaluate.Report
	Model       *forest.Forest
}

// Train loads the dataset, fits the forest and logs params, metrics, the
// dataset and the model into a new run of the selected experiment. The run
// is closed even when a step fails; what was logged before the failure stays.
func Train(ctx context.Context, store mlflow.Store, opts Options) (*Result, error) {
	if opts.ExperimentID == "" && opts.ExperimentName == "" {
		return nil, fmt.Errorf("experiment ID or name is required")
	}
	out := opts.Report
	if out == nil {
		out = io.Discard
	}

	data, err := dataset.LoadCSV(opts.DataPath, opts.Label)
	if err != nil {
		return nil, err
	}
	log.Info().Int("rows", data.Len()).Int("features", len(data.Features)).Msgf("Loaded dataset: %s", opts.DataPath)

	train, test, err := dataset.StratifiedSplit(data, opts.TestSize, opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to split dataset: %w", err)
	}
	log.Debug().Int("train", train.Len()).Int("test", test.Len()).Msg("Split dataset")

	experimentID := opts.ExperimentID
	if experimentID == "" {
		experimentID, err = mlflow.GetOrCreateExperiment(ctx, store, opts.ExperimentName)
		if err != nil {
			return nil, err
		}
	}

	runConfig := &models.RunConfig{
		ExperimentID: &experimentID,
		Tags: map[string]string{
			"estimator_name":  "RandomForestClassifier",
			"estimator_class": "forest.Forest",
		},
	}
	if opts.RunName != "" {
		runConfig.RunName = &opts.RunName
	}

	result := &Result{}
	run, err := mlflow.WithRun(ctx, store, runConfig, func(ctx context.Context, run *models.RunInfo) error {
		result.RunID = run.RunID
		result.ArtifactURI = run.ArtifactURI
		log.Info().Str("run_id", run.RunID).Msgf("Started run in experiment %s", experimentID)

		params := opts.Forest.AsMap()
		params["test_size"] = strconv.FormatFloat(opts.TestSize, 'g', -1, 64)
		if err := store.LogParamsFromMap(ctx, run.RunID, params); err != nil {
			return err
		}

		model, err := forest.Fit(ctx, opts.Forest, data.Features, train.X, train.Y)
		if err != nil {
			return fmt.Errorf("failed to fit model: %w", err)
		}
		result.Model = model

		if err := logTrainingMetrics(ctx, store, run.RunID, model, train); err != nil {
			return err
		}

		pred := model.PredictAll(test.X)
		report, err := evaluate.ClassificationReport(test.Y, pred)
		if err != nil {
			return fmt.Errorf("failed to evaluate model: %w", err)
		}
		result.Accuracy = report.Accuracy
		result.Report = report

		fmt.Fprintf(out, "Accuracy: %v\n\n", report.Accuracy)
		fmt.Fprintf(out, "Classification Report:\n%s\n", report)

		if err := store.LogMetric(ctx, run.RunID, "accuracy", report.Accuracy, nil, nil); err != nil {
			return err
		}

		if err := store.UploadArtifact(ctx, run.RunID, opts.DataPath, filepath.Base(opts.DataPath)); err != nil {
			return fmt.Errorf("failed to log dataset: %w", err)
		}

		return logModel(ctx, store, run.RunID, model, test.X[0])
	})
	if err != nil {
		return result, err
	}

	log.Info().Str("run_id", run.RunID).Float64("accuracy", result.Accuracy).Msg("Model training completed")
	return result, nil
}

// logTrainingMetrics records the scores on the training split, named the
// way MLflow autologging names them.
func logTrainingMetrics(ctx context.Context, store mlflow.Store, runID string, model *forest.Forest, train *dataset.Dataset) error {
	report, err := evaluate.ClassificationReport(train.Y, model.PredictAll(train.X))
	if err != nil {
		return fmt.Errorf("failed to score training split: %w", err)
	}

	metrics := []struct {
		key   string
		value float64
	}{
		{"training_accuracy_score", report.Accuracy},
		{"training_precision_score", report.WeightedAvg.Precision},
		{"training_recall_score", report.WeightedAvg.Recall},
		{"training_f1_score", report.WeightedAvg.F1},
	}
	for _, m := range metrics {
		if err := store.LogMetric(ctx, runID, m.key, m.value, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func logModel(ctx context.Context, store mlflow.Store, runID string, model *forest.Forest, example []float64) error {
	dir, err := os.MkdirTemp("", "mlflow-model-*")
	if err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := SaveModel(dir, runID, model, example); err != nil {
		return err
	}
	if err := mlflow.UploadArtifactDir(ctx, store, runID, dir, modelArtifactPath); err != nil {
		return fmt.Errorf("failed to log model: %w", err)
	}
	return nil
}
