package mlflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/imishinist/mlflow-pipeline/internal/models"
)

const (
	defaultExperimentID   = "0"
	defaultExperimentName = "Default"
	lifecycleActive       = "active"
	metaFile              = "meta.yaml"
	sourceTypeLocal       = 4
)

// MLflow's file store encodes run status as an integer.
var runStatusCodes = map[models.RunStatus]int{
	models.RunStatusRunning:  1,
	models.RunStatusFinished: 3,
	models.RunStatusFailed:   4,
	models.RunStatusKilled:   5,
}

type experimentMeta struct {
	ArtifactLocation string `yaml:"artifact_location"`
	CreationTime     int64  `yaml:"creation_time"`
	ExperimentID     string `yaml:"experiment_id"`
	LastUpdateTime   int64  `yaml:"last_update_time"`
	LifecycleStage   string `yaml:"lifecycle_stage"`
	Name             string `yaml:"name"`
}

type runMeta struct {
	ArtifactURI    string   `yaml:"artifact_uri"`
	EndTime        *int64   `yaml:"end_time"`
	EntryPointName string   `yaml:"entry_point_name"`
	ExperimentID   string   `yaml:"experiment_id"`
	LifecycleStage string   `yaml:"lifecycle_stage"`
	RunID          string   `yaml:"run_id"`
	RunName        string   `yaml:"run_name"`
	RunUUID        string   `yaml:"run_uuid"`
	SourceName     string   `yaml:"source_name"`
	SourceType     int      `yaml:"source_type"`
	SourceVersion  string   `yaml:"source_version"`
	StartTime      int64    `yaml:"start_time"`
	Status         int      `yaml:"status"`
	Tags           []string `yaml:"tags"`
	UserID         string   `yaml:"user_id"`
}

// FileStore is a tracking store kept in a local directory using the same
// layout as MLflow's file backend:
//
//	<root>/<experiment_id>/meta.yaml
//	<root>/<experiment_id>/<run_id>/{meta.yaml,metrics,params,tags,artifacts}
type FileStore struct {
	root string
	now  func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens the store at root, creating it together with the
// Default experiment when missing.
func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tracking directory %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tracking directory %s: %w", abs, err)
	}

	s := &FileStore{root: abs, now: time.Now}

	if _, err := os.Stat(filepath.Join(abs, defaultExperimentID, metaFile)); errors.Is(err, fs.ErrNotExist) {
		if err := s.writeExperiment(defaultExperimentID, defaultExperimentName); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Root returns the absolute store directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error) {
	experiments, err := s.listExperiments()
	if err != nil {
		return nil, err
	}

	for _, meta := range experiments {
		if meta.Name == name && meta.LifecycleStage == lifecycleActive {
			return &models.Experiment{
				ExperimentID:     meta.ExperimentID,
				Name:             meta.Name,
				ArtifactLocation: meta.ArtifactLocation,
				LifecycleStage:   meta.LifecycleStage,
				CreationTime:     time.UnixMilli(meta.CreationTime),
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, name)
}

func (s *FileStore) CreateExperiment(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("experiment name is required")
	}

	experiments, err := s.listExperiments()
	if err != nil {
		return "", err
	}

	next := 0
	for _, meta := range experiments {
		if meta.Name == name {
			return "", fmt.Errorf("experiment %q already exists with ID %s", name, meta.ExperimentID)
		}
		if id, err := strconv.Atoi(meta.ExperimentID); err == nil && id >= next {
			next = id + 1
		}
	}

	experimentID := strconv.Itoa(next)
	if err := s.writeExperiment(experimentID, name); err != nil {
		return "", err
	}
	return experimentID, nil
}

func (s *FileStore) SearchRuns(ctx context.Context, experimentID string, maxResults int) ([]models.RunInfo, error) {
	expDir := filepath.Join(s.root, experimentID)
	if _, err := os.Stat(filepath.Join(expDir, metaFile)); err != nil {
		return nil, fmt.Errorf("%w: ID %s", ErrExperimentNotFound, experimentID)
	}

	entries, err := os.ReadDir(expDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs of experiment %s: %w", experimentID, err)
	}

	var metas []runMeta
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var meta runMeta
		if err := readYAML(filepath.Join(expDir, entry.Name(), metaFile), &meta); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if meta.LifecycleStage != lifecycleActive {
			continue
		}
		metas = append(metas, meta)
	}

	// Newest first; runs started in the same millisecond are ordered by
	// run ID, as MLflow's SQL store does.
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].StartTime != metas[j].StartTime {
			return metas[i].StartTime > metas[j].StartTime
		}
		return metas[i].RunID < metas[j].RunID
	})
	if maxResults >= 0 && len(metas) > maxResults {
		metas = metas[:maxResults]
	}

	runs := make([]models.RunInfo, 0, len(metas))
	for _, meta := range metas {
		run, err := s.runInfo(meta)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func (s *FileStore) CreateRun(ctx context.Context, config *models.RunConfig) (*models.RunInfo, error) {
	if config.ExperimentID == nil {
		return nil, fmt.Errorf("experiment ID must be provided")
	}
	experimentID := *config.ExperimentID

	expDir := filepath.Join(s.root, experimentID)
	if _, err := os.Stat(filepath.Join(expDir, metaFile)); err != nil {
		return nil, fmt.Errorf("%w: ID %s", ErrExperimentNotFound, experimentID)
	}

	startTime := s.now()
	runName := resolveRunName(config, startTime)
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")
	runDir := filepath.Join(expDir, runID)

	for _, sub := range []string{"metrics", "params", "tags", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(runDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}
	}

	artifactURI := "file://" + filepath.ToSlash(filepath.Join(runDir, "artifacts"))
	meta := runMeta{
		ArtifactURI:    artifactURI,
		ExperimentID:   experimentID,
		LifecycleStage: lifecycleActive,
		RunID:          runID,
		RunName:        runName,
		RunUUID:        runID,
		SourceType:     sourceTypeLocal,
		StartTime:      startTime.UnixMilli(),
		Status:         runStatusCodes[models.RunStatusRunning],
		Tags:           []string{},
		UserID:         os.Getenv("USER"),
	}
	if err := writeYAML(filepath.Join(runDir, metaFile), meta); err != nil {
		return nil, err
	}

	for key, value := range runTags(config, runName) {
		if err := s.writeKeyFile(runDir, "tags", key, value); err != nil {
			return nil, err
		}
	}

	return newRunInfo(runID, experimentID, runName, startTime, artifactURI, config), nil
}

func (s *FileStore) UpdateRun(ctx context.Context, runID string, status models.RunStatus) error {
	code, ok := runStatusCodes[status]
	if !ok {
		return fmt.Errorf("invalid run status: %s", status)
	}

	runDir, meta, err := s.findRun(runID)
	if err != nil {
		return err
	}

	meta.Status = code
	if status.IsTerminal() {
		endTime := s.now().UnixMilli()
		meta.EndTime = &endTime
	}

	return writeYAML(filepath.Join(runDir, metaFile), meta)
}

func (s *FileStore) GetRun(ctx context.Context, runID string) (*models.RunInfo, error) {
	_, meta, err := s.findRun(runID)
	if err != nil {
		return nil, err
	}
	return s.runInfo(*meta)
}

func (s *FileStore) LogMetric(ctx context.Context, runID string, key string, value float64, timestamp *time.Time, step *int64) error {
	runDir, _, err := s.findRun(runID)
	if err != nil {
		return err
	}

	ts := s.now()
	if timestamp != nil {
		ts = *timestamp
	}
	var st int64
	if step != nil {
		st = *step
	}

	metricPath, err := keyPath(runDir, "metrics", key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(metricPath), 0755); err != nil {
		return fmt.Errorf("failed to log metric %s: %w", key, err)
	}

	f, err := os.OpenFile(metricPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to log metric %s: %w", key, err)
	}
	line := fmt.Sprintf("%d %s %d\n", ts.UnixMilli(), strconv.FormatFloat(value, 'g', -1, 64), st)
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to log metric %s: %w", key, err)
	}
	return f.Close()
}

func (s *FileStore) LogMetrics(ctx context.Context, runID string, metrics []models.Metric) error {
	for _, metric := range metrics {
		if err := s.LogMetric(ctx, runID, metric.Key, metric.Value, &metric.Timestamp, &metric.Step); err != nil {
			return err
		}
	}
	return nil
}

// GetMetricHistory reads every logged value of a metric in logging order.
func (s *FileStore) GetMetricHistory(ctx context.Context, runID string, key string) ([]models.Metric, error) {
	runDir, _, err := s.findRun(runID)
	if err != nil {
		return nil, err
	}
	metricPath, err := keyPath(runDir, "metrics", key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(metricPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read metric %s: %w", key, err)
	}

	var history []models.Metric
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed metric line for %s: %q", key, line)
		}
		ts, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed metric timestamp for %s: %w", key, err)
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed metric value for %s: %w", key, err)
		}
		step, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed metric step for %s: %w", key, err)
		}
		history = append(history, models.Metric{Key: key, Value: value, Timestamp: time.UnixMilli(ts), Step: step})
	}
	return history, nil
}

// LogParam records a parameter. Parameters are immutable: logging a
// different value for an existing key fails.
func (s *FileStore) LogParam(ctx context.Context, runID string, key string, value string) error {
	runDir, _, err := s.findRun(runID)
	if err != nil {
		return err
	}

	paramPath, err := keyPath(runDir, "params", key)
	if err != nil {
		return err
	}
	if existing, err := os.ReadFile(paramPath); err == nil {
		if string(existing) != value {
			return fmt.Errorf("failed to log parameter %s: already logged with value %q", key, string(existing))
		}
		return nil
	}

	if err := s.writeKeyFile(runDir, "params", key, value); err != nil {
		return fmt.Errorf("failed to log parameter %s: %w", key, err)
	}
	return nil
}

// GetParams returns every parameter logged to the run.
func (s *FileStore) GetParams(ctx context.Context, runID string) (map[string]string, error) {
	runDir, _, err := s.findRun(runID)
	if err != nil {
		return nil, err
	}
	return readKeyFiles(filepath.Join(runDir, "params"))
}

func (s *FileStore) LogParamsFromMap(ctx context.Context, runID string, params map[string]string) error {
	for _, key := range sortedKeys(params) {
		if err := s.LogParam(ctx, runID, key, params[key]); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) SetTag(ctx context.Context, runID string, key string, value string) error {
	runDir, _, err := s.findRun(runID)
	if err != nil {
		return err
	}
	if err := s.writeKeyFile(runDir, "tags", key, value); err != nil {
		return fmt.Errorf("failed to set tag %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) UploadArtifact(ctx context.Context, runID, filePath, artifactPath string) error {
	_, meta, err := s.findRun(runID)
	if err != nil {
		return err
	}

	if artifactPath == "" {
		artifactPath = filepath.Base(filePath)
	}

	root, err := LocalArtifactPath(meta.ArtifactURI)
	if err != nil {
		return err
	}
	return copyArtifact(root, filePath, artifactPath)
}

func (s *FileStore) writeExperiment(experimentID, name string) error {
	expDir := filepath.Join(s.root, experimentID)
	if err := os.MkdirAll(expDir, 0755); err != nil {
		return fmt.Errorf("failed to create experiment directory: %w", err)
	}

	now := s.now().UnixMilli()
	return writeYAML(filepath.Join(expDir, metaFile), experimentMeta{
		ArtifactLocation: "file://" + filepath.ToSlash(expDir),
		CreationTime:     now,
		ExperimentID:     experimentID,
		LastUpdateTime:   now,
		LifecycleStage:   lifecycleActive,
		Name:             name,
	})
}

func (s *FileStore) listExperiments() ([]experimentMeta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}

	var experiments []experimentMeta
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		var meta experimentMeta
		if err := readYAML(filepath.Join(s.root, entry.Name(), metaFile), &meta); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		experiments = append(experiments, meta)
	}
	return experiments, nil
}

// findRun locates a run directory by scanning the experiments.
func (s *FileStore) findRun(runID string) (string, *runMeta, error) {
	if runID == "" || strings.ContainsAny(runID, `/\.`) {
		return "", nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}

	experiments, err := s.listExperiments()
	if err != nil {
		return "", nil, err
	}

	for _, exp := range experiments {
		runDir := filepath.Join(s.root, exp.ExperimentID, runID)
		var meta runMeta
		err := readYAML(filepath.Join(runDir, metaFile), &meta)
		if err == nil {
			return runDir, &meta, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", nil, err
		}
	}

	return "", nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

func (s *FileStore) runInfo(meta runMeta) (*models.RunInfo, error) {
	runDir := filepath.Join(s.root, meta.ExperimentID, meta.RunID)
	tags, err := readKeyFiles(filepath.Join(runDir, "tags"))
	if err != nil {
		return nil, err
	}

	info := &models.RunInfo{
		RunID:        meta.RunID,
		ExperimentID: meta.ExperimentID,
		RunName:      meta.RunName,
		Status:       string(statusFromCode(meta.Status)),
		StartTime:    time.UnixMilli(meta.StartTime),
		ArtifactURI:  meta.ArtifactURI,
		Tags:         tags,
		Description:  tags["mlflow.note.content"],
	}
	if meta.EndTime != nil {
		endTime := time.UnixMilli(*meta.EndTime)
		info.EndTime = &endTime
	}
	return info, nil
}

func (s *FileStore) writeKeyFile(runDir, kind, key, value string) error {
	p, err := keyPath(runDir, kind, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(value), 0644)
}

// keyPath maps a metric, param or tag key to its file. Keys may contain
// slashes but must stay inside the run directory.
func keyPath(runDir, kind, key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid %s key: %q", strings.TrimSuffix(kind, "s"), key)
	}
	return filepath.Join(runDir, kind, rel), nil
}

func readKeyFiles(dir string) (map[string]string, error) {
	values := make(map[string]string)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		values[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	return values, nil
}

func statusFromCode(code int) models.RunStatus {
	for status, c := range runStatusCodes {
		if c == code {
			return status
		}
	}
	return models.RunStatus("UNKNOWN")
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func writeYAML(path string, in any) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
