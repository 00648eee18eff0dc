package models

import "time"

type Metric struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Step      int64     `json:"step"`
}

// MetricPoint is one entry of a metrics file. Timestamp and step are
// optional and filled in at logging time when absent.
type MetricPoint struct {
	Key       string     `json:"key" yaml:"key"`
	Value     float64    `json:"value" yaml:"value"`
	Timestamp *time.Time `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Step      *int64     `json:"step,omitempty" yaml:"step,omitempty"`
}

type MetricsFile struct {
	Metrics []MetricPoint `json:"metrics" yaml:"metrics"`
}
