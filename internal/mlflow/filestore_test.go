package mlflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imishinist/mlflow-pipeline/internal/models"
)

// newTestStore returns a store whose clock advances one second per call.
func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	clock := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func TestFileStoreDefaultExperiment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	experiment, err := store.GetExperimentByName(ctx, "Default")
	require.NoError(t, err)
	assert.Equal(t, "0", experiment.ExperimentID)

	_, err = store.GetExperimentByName(ctx, "missing")
	assert.True(t, errors.Is(err, ErrExperimentNotFound))
}

func TestFileStoreCreateExperiment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateExperiment(ctx, "Cardiovascular_Classifier")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	_, err = store.CreateExperiment(ctx, "Cardiovascular_Classifier")
	assert.ErrorContains(t, err, "already exists")

	again, err := GetOrCreateExperiment(ctx, store, "Cardiovascular_Classifier")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := GetOrCreateExperiment(ctx, store, "Other")
	require.NoError(t, err)
	assert.Equal(t, "2", other)

	assert.FileExists(t, filepath.Join(store.Root(), "2", "meta.yaml"))
}

func TestFileStoreRunLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	experimentID := "0"
	description := "baseline"
	run, err := store.CreateRun(ctx, &models.RunConfig{
		ExperimentID: &experimentID,
		Tags:         map[string]string{"team": "ml"},
		Description:  &description,
	})
	require.NoError(t, err)
	assert.Len(t, run.RunID, 32)
	assert.Equal(t, string(models.RunStatusRunning), run.Status)

	require.NoError(t, store.LogParam(ctx, run.RunID, "n_estimators", "100"))
	require.NoError(t, store.LogParam(ctx, run.RunID, "n_estimators", "100"))
	assert.ErrorContains(t, store.LogParam(ctx, run.RunID, "n_estimators", "50"), "already logged")

	step := int64(2)
	require.NoError(t, store.LogMetric(ctx, run.RunID, "accuracy", 0.5, nil, nil))
	require.NoError(t, store.LogMetric(ctx, run.RunID, "accuracy", 0.7311, nil, &step))
	history, err := store.GetMetricHistory(ctx, run.RunID, "accuracy")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 0.7311, history[1].Value)
	assert.Equal(t, int64(2), history[1].Step)

	assert.Error(t, store.LogMetric(ctx, run.RunID, "../escape", 1, nil, nil))

	src := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n1,2\n"), 0644))
	require.NoError(t, store.UploadArtifact(ctx, run.RunID, src, ""))
	require.NoError(t, store.UploadArtifact(ctx, run.RunID, src, "nested/copy.csv"))

	require.NoError(t, store.UpdateRun(ctx, run.RunID, models.RunStatusFinished))

	got, err := store.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(models.RunStatusFinished), got.Status)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, "ml", got.Tags["team"])
	assert.Equal(t, run.RunName, got.Tags["mlflow.runName"])
	assert.Equal(t, "baseline", got.Description)

	artifactDir, err := LocalArtifactPath(got.ArtifactURI)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(artifactDir, "data.csv"))
	assert.FileExists(t, filepath.Join(artifactDir, "nested", "copy.csv"))

	_, err = store.GetRun(ctx, "0123456789abcdef0123456789abcdef")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestFileStoreSearchRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	experimentID, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := store.CreateRun(ctx, &models.RunConfig{ExperimentID: &experimentID})
		require.NoError(t, err)
		ids = append(ids, run.RunID)
	}

	runs, err := store.SearchRuns(ctx, experimentID, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ids[2], runs[0].RunID)

	all, err := store.SearchRuns(ctx, experimentID, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{all[0].RunID, all[1].RunID, all[2].RunID})

	empty, err := store.CreateExperiment(ctx, "empty")
	require.NoError(t, err)
	none, err := store.SearchRuns(ctx, empty, 1)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = store.SearchRuns(ctx, "42", 1)
	assert.True(t, errors.Is(err, ErrExperimentNotFound))
}

func TestFileStoreSearchRunsSameStartTime(t *testing.T) {
	store := newTestStore(t)
	frozen := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return frozen }
	ctx := context.Background()

	experimentID, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		run, err := store.CreateRun(ctx, &models.RunConfig{ExperimentID: &experimentID})
		require.NoError(t, err)
		ids = append(ids, run.RunID)
	}
	sort.Strings(ids)

	runs, err := store.SearchRuns(ctx, experimentID, 10)
	require.NoError(t, err)
	got := make([]string, 0, len(runs))
	for _, run := range runs {
		got = append(got, run.RunID)
	}
	assert.Equal(t, ids, got)

	latest, err := store.SearchRuns(ctx, experimentID, 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, ids[0], latest[0].RunID)
}

func TestUploadArtifactDir(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	experimentID := "0"
	run, err := store.CreateRun(ctx, &models.RunConfig{ExperimentID: &experimentID})
	require.NoError(t, err)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "MLmodel"), []byte("flavors: {}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "weights.bin"), []byte{1, 2, 3}, 0644))

	require.NoError(t, UploadArtifactDir(ctx, store, run.RunID, src, "model"))

	artifactDir, err := LocalArtifactPath(run.ArtifactURI)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(artifactDir, "model", "sub", "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.FileExists(t, filepath.Join(artifactDir, "model", "MLmodel"))
}

func TestLocalArtifactPath(t *testing.T) {
	p, err := LocalArtifactPath("file:///tmp/mlruns/1/abc/artifacts")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/mlruns/1/abc/artifacts", p)

	p, err = LocalArtifactPath("/srv/artifacts")
	require.NoError(t, err)
	assert.Equal(t, "/srv/artifacts", p)

	_, err = LocalArtifactPath("mlflow-artifacts:/0/abc/artifacts")
	assert.Error(t, err)
}
