package mlflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/imishinist/mlflow-pipeline/internal/models"
)

// WithRun creates a run, hands it to fn and always closes it afterwards:
// FINISHED when fn succeeds, FAILED when it returns an error or panics.
// Whatever fn logged before failing stays in the store.
func WithRun(ctx context.Context, store Store, config *models.RunConfig, fn func(ctx context.Context, run *models.RunInfo) error) (run *models.RunInfo, err error) {
	run, err = store.CreateRun(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	defer func() {
		endCtx := context.WithoutCancel(ctx)
		if r := recover(); r != nil {
			_ = store.UpdateRun(endCtx, run.RunID, models.RunStatusFailed)
			panic(r)
		}

		status := models.RunStatusFinished
		if err != nil {
			status = models.RunStatusFailed
		}
		if uerr := store.UpdateRun(endCtx, run.RunID, status); uerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to end run %s: %w", run.RunID, uerr))
			return
		}
		run.Status = string(status)
	}()

	err = fn(ctx, run)
	return run, err
}
