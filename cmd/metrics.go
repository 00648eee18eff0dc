package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imishinist/mlflow-pipeline/internal/parser"
)

var logMetricCmd = &cobra.Command{
	Use:   "metric",
	Short: "Log a single metric to MLflow run",
	Long:  "Log a single metric to an existing MLflow run",
	RunE:  logMetric,
}

var logMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Log multiple metrics to MLflow run",
	Long:  "Log multiple metrics from file to an existing MLflow run",
	RunE:  logMetrics,
}

func init() {
	logCmd.AddCommand(logMetricCmd)
	logCmd.AddCommand(logMetricsCmd)

	// Single metric command flags
	logMetricCmd.Flags().String("run-id", "", "Run ID to log metric to (required)")
	logMetricCmd.Flags().String("name", "", "Metric name (required)")
	logMetricCmd.Flags().Float64("value", 0, "Metric value (required)")
	logMetricCmd.Flags().Int64("step", -1, "Step number (optional)")
	logMetricCmd.Flags().String("timestamp", "", "Timestamp in ISO8601 format (optional)")
	logMetricCmd.MarkFlagRequired("run-id")
	logMetricCmd.MarkFlagRequired("name")
	logMetricCmd.MarkFlagRequired("value")

	// Multiple metrics command flags
	logMetricsCmd.Flags().String("run-id", "", "Run ID to log metrics to (required)")
	logMetricsCmd.Flags().String("from-file", "", "Load metrics from file (JSON/YAML)")
	logMetricsCmd.MarkFlagRequired("run-id")
	logMetricsCmd.MarkFlagRequired("from-file")
}

func logMetric(cmd *cobra.Command, args []string) error {
	_, store, err := newStore()
	if err != nil {
		return err
	}

	// Parse flags
	runID, _ := cmd.Flags().GetString("run-id")
	name, _ := cmd.Flags().GetString("name")
	value, _ := cmd.Flags().GetFloat64("value")
	step, _ := cmd.Flags().GetInt64("step")
	timestampStr, _ := cmd.Flags().GetString("timestamp")

	var timestamp *time.Time
	var stepPtr *int64

	// Parse timestamp if provided
	if timestampStr != "" {
		t, err := time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return fmt.Errorf("invalid timestamp format: %s (expected ISO8601)", timestampStr)
		}
		timestamp = &t
	}

	// Set step if provided
	if step >= 0 {
		stepPtr = &step
	}

	ctx := context.Background()
	if err := store.LogMetric(ctx, runID, name, value, timestamp, stepPtr); err != nil {
		return fmt.Errorf("failed to log metric: %w", err)
	}

	fmt.Printf("Successfully logged metric: %s = %f", name, value)
	if stepPtr != nil {
		fmt.Printf(" (step: %d)", *stepPtr)
	}
	if timestamp != nil {
		fmt.Printf(" (timestamp: %s)", timestamp.Format(time.RFC3339))
	}
	fmt.Println()

	return nil
}

func logMetrics(cmd *cobra.Command, args []string) error {
	_, store, err := newStore()
	if err != nil {
		return err
	}

	// Parse flags
	runID, _ := cmd.Flags().GetString("run-id")
	fromFile, _ := cmd.Flags().GetString("from-file")

	metricsFile, err := parser.MetricsFromFile(fromFile)
	if err != nil {
		return fmt.Errorf("failed to parse metrics file: %w", err)
	}

	// Points without a timestamp are logged now, points without a step get
	// their position in the key's series.
	metrics, err := parser.ResolveMetrics(metricsFile.Metrics, time.Now())
	if err != nil {
		return fmt.Errorf("failed to process metrics: %w", err)
	}

	ctx := context.Background()
	if err := store.LogMetrics(ctx, runID, metrics); err != nil {
		return fmt.Errorf("failed to log metrics: %w", err)
	}

	fmt.Printf("Successfully logged %d metrics from %s\n", len(metrics), fromFile)

	// Show summary of metrics
	metricCounts := make(map[string]int)
	var keys []string
	for _, metric := range metrics {
		if metricCounts[metric.Key] == 0 {
			keys = append(keys, metric.Key)
		}
		metricCounts[metric.Key]++
	}

	fmt.Println("Metrics summary:")
	for _, key := range keys {
		fmt.Printf("  %s: %d data points\n", key, metricCounts[key])
	}

	return nil
}
