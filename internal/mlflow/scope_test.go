package mlflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imishinist/mlflow-pipeline/internal/models"
)

func TestWithRun(t *testing.T) {
	ctx := context.Background()
	experimentID := "0"
	config := &models.RunConfig{ExperimentID: &experimentID}

	t.Run("finishes on success", func(t *testing.T) {
		store := newTestStore(t)
		run, err := WithRun(ctx, store, config, func(ctx context.Context, run *models.RunInfo) error {
			return store.LogMetric(ctx, run.RunID, "accuracy", 0.9, nil, nil)
		})
		require.NoError(t, err)

		got, err := store.GetRun(ctx, run.RunID)
		require.NoError(t, err)
		assert.Equal(t, string(models.RunStatusFinished), got.Status)
		assert.Equal(t, string(models.RunStatusFinished), run.Status)
	})

	t.Run("fails on error and keeps partial logs", func(t *testing.T) {
		store := newTestStore(t)
		boom := errors.New("fit failed")
		run, err := WithRun(ctx, store, config, func(ctx context.Context, run *models.RunInfo) error {
			require.NoError(t, store.LogParam(ctx, run.RunID, "seed", "42"))
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.NotNil(t, run)

		got, err := store.GetRun(ctx, run.RunID)
		require.NoError(t, err)
		assert.Equal(t, string(models.RunStatusFailed), got.Status)
		assert.NotNil(t, got.EndTime)
	})

	t.Run("fails on panic", func(t *testing.T) {
		store := newTestStore(t)
		var runID string
		assert.Panics(t, func() {
			_, _ = WithRun(ctx, store, config, func(ctx context.Context, run *models.RunInfo) error {
				runID = run.RunID
				panic("unexpected")
			})
		})

		got, err := store.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, string(models.RunStatusFailed), got.Status)
	})

	t.Run("create error", func(t *testing.T) {
		store := newTestStore(t)
		missing := "99"
		called := false
		_, err := WithRun(ctx, store, &models.RunConfig{ExperimentID: &missing}, func(ctx context.Context, run *models.RunInfo) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrExperimentNotFound)
		assert.False(t, called)
	})
}
