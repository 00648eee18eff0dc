// Package parser reads parameter and metric files written as JSON or YAML.
package parser

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/imishinist/mlflow-pipeline/internal/models"
)

type Format string

const (
	JSON Format = "JSON"
	YAML Format = "YAML"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return JSON, nil
	case ".yaml", ".yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("unsupported file format: %s (supported: .json, .yaml, .yml)", ext)
	}
}

func decode(reader io.Reader, format Format, out any) error {
	switch format {
	case JSON:
		return json.NewDecoder(reader).Decode(out)
	case YAML:
		return yaml.NewDecoder(reader).Decode(out)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// ParseParams decodes a {"parameters": {...}} document. Scalar values of
// any type are rendered as strings, so `n_estimators: 100` is accepted.
func ParseParams(reader io.Reader, format Format) (map[string]string, error) {
	var data models.ParametersFile
	if err := decode(reader, format, &data); err != nil {
		return nil, fmt.Errorf("failed to parse %s parameters: %w", format, err)
	}

	params := make(map[string]string, len(data.Parameters))
	for _, key := range sortedKeys(data.Parameters) {
		switch value := data.Parameters[key].(type) {
		case string:
			params[key] = value
		case nil:
			params[key] = ""
		case map[string]any, []any:
			return nil, fmt.Errorf("parameter %s must be a scalar", key)
		default:
			params[key] = fmt.Sprint(value)
		}
	}
	return params, nil
}

func ParseMetrics(reader io.Reader, format Format) (*models.MetricsFile, error) {
	var data models.MetricsFile
	if err := decode(reader, format, &data); err != nil {
		return nil, fmt.Errorf("failed to parse %s metrics: %w", format, err)
	}
	return &data, nil
}

// ParamsFromFile loads a parameters file, picking the decoder by extension.
func ParamsFromFile(path string) (map[string]string, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	return ParseParams(file, format)
}

// MetricsFromFile loads a metrics file, picking the decoder by extension.
func MetricsFromFile(path string) (*models.MetricsFile, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	return ParseMetrics(file, format)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ResolveMetrics fills in missing timestamps with now and missing steps with
// the point's position among the points sharing its key.
func ResolveMetrics(points []models.MetricPoint, now time.Time) ([]models.Metric, error) {
	result := make([]models.Metric, 0, len(points))
	seq := make(map[string]int64)

	for i, point := range points {
		if point.Key == "" {
			return nil, fmt.Errorf("metric at index %d has no key", i)
		}

		timestamp := now
		if point.Timestamp != nil {
			timestamp = *point.Timestamp
		}

		step := seq[point.Key]
		if point.Step != nil {
			step = *point.Step
		}
		seq[point.Key] = step + 1

		result = append(result, models.Metric{
			Key:       point.Key,
			Value:     point.Value,
			Timestamp: timestamp,
			Step:      step,
		})
	}

	return result, nil
}
