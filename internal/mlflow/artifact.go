package mlflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/databricks/databricks-sdk-go/httpclient"
)

const (
	mlflowArtifactsScheme = "mlflow-artifacts:"
	dbfsTrackingPrefix    = "dbfs:/databricks/mlflow-tracking/"
)

// artifactRepository stores files below one run's artifact root.
type artifactRepository interface {
	put(ctx context.Context, filePath, artifactPath string) error
}

// UploadArtifact uploads a file as an artifact to the specified run. The
// destination depends on the scheme of the run's artifact URI.
func (c *Client) UploadArtifact(ctx context.Context, runID, filePath, artifactPath string) error {
	run, err := c.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get artifact URI: %w", err)
	}
	if run.ArtifactURI == "" {
		return fmt.Errorf("artifact URI not found for run %s", runID)
	}

	if artifactPath == "" {
		artifactPath = filepath.Base(filePath)
	}

	repo, err := c.artifactRepository(run.ArtifactURI)
	if err != nil {
		return err
	}
	return repo.put(ctx, filePath, artifactPath)
}

func (c *Client) artifactRepository(artifactURI string) (artifactRepository, error) {
	switch {
	case strings.HasPrefix(artifactURI, mlflowArtifactsScheme):
		experimentID, runID, err := parseMLflowArtifactsURI(artifactURI)
		if err != nil {
			return nil, err
		}
		return &proxyRepository{
			http:    c.httpClient(),
			baseURL: fmt.Sprintf("%s/api/2.0/mlflow-artifacts/artifacts/%s/%s/artifacts", strings.TrimSuffix(c.config.TrackingURI, "/"), experimentID, runID),
			token:   c.bearerToken(),
		}, nil
	case strings.HasPrefix(artifactURI, "dbfs:/"):
		runID, err := parseDBFSRunID(artifactURI)
		if err != nil {
			return nil, err
		}
		if c.apiClient == nil {
			return nil, fmt.Errorf("non-Databricks MLflow servers not supported for DBFS artifacts")
		}
		return &signedURIRepository{http: c.httpClient(), api: c.apiClient, runID: runID}, nil
	case strings.HasPrefix(artifactURI, "file://"), strings.HasPrefix(artifactURI, "/"):
		root, err := LocalArtifactPath(artifactURI)
		if err != nil {
			return nil, err
		}
		return localRepository(root), nil
	default:
		return nil, fmt.Errorf("unsupported artifact URI scheme: %s", artifactURI)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.http != nil {
		return c.http
	}
	return http.DefaultClient
}

func (c *Client) bearerToken() string {
	if !c.config.IsDatabricks() {
		return ""
	}
	if c.client != nil && c.client.Config != nil && c.client.Config.Token != "" {
		return c.client.Config.Token
	}
	return c.config.DatabricksToken
}

// localRepository copies files into a directory on this machine.
type localRepository string

func (r localRepository) put(ctx context.Context, filePath, artifactPath string) error {
	return copyArtifact(string(r), filePath, artifactPath)
}

// proxyRepository uploads through the tracking server's artifact proxy.
type proxyRepository struct {
	http    *http.Client
	baseURL string
	token   string
}

func (r *proxyRepository) put(ctx context.Context, filePath, artifactPath string) error {
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}

	url := r.baseURL + "/" + path.Clean(filepath.ToSlash(artifactPath))
	if err := putFile(ctx, r.http, url, header, filePath); err != nil {
		return fmt.Errorf("MLflow Artifacts Service upload failed: %w", err)
	}
	return nil
}

type credentialsForWriteRequest struct {
	RunID string   `json:"run_id"`
	Path  []string `json:"path"`
}

type credentialsForWriteResponse struct {
	CredentialInfos []artifactCredential `json:"credential_infos"`
}

type artifactCredential struct {
	RunID     string `json:"run_id"`
	Path      string `json:"path"`
	SignedURI string `json:"signed_uri"`
	Headers   []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Type string `json:"type"`
}

// signedURIRepository writes DBFS-backed artifacts: Databricks hands out a
// presigned cloud storage URL per path and the file is PUT there directly.
type signedURIRepository struct {
	http  *http.Client
	api   *httpclient.ApiClient
	runID string
}

func (r *signedURIRepository) put(ctx context.Context, filePath, artifactPath string) error {
	var response credentialsForWriteResponse
	err := r.api.Do(ctx, http.MethodPost, "/api/2.0/mlflow/artifacts/credentials-for-write",
		httpclient.WithRequestData(credentialsForWriteRequest{RunID: r.runID, Path: []string{artifactPath}}),
		httpclient.WithResponseUnmarshal(&response),
	)
	if err != nil {
		return fmt.Errorf("failed to get write credentials: %w", err)
	}
	if len(response.CredentialInfos) == 0 {
		return fmt.Errorf("no credentials returned for path: %s", artifactPath)
	}

	credential := response.CredentialInfos[0]
	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	if credential.Type == "AZURE_SAS_URI" {
		header.Set("x-ms-blob-type", "BlockBlob")
	}
	for _, h := range credential.Headers {
		header.Set(h.Name, h.Value)
	}

	if err := putFile(ctx, r.http, credential.SignedURI, header, filePath); err != nil {
		return fmt.Errorf("failed to upload to %s signed URI: %w", credential.Type, err)
	}
	return nil
}

// putFile sends the file as the body of a PUT request with an explicit
// content length, which S3 presigned URLs require.
func putFile(ctx context.Context, client *http.Client, url string, header http.Header, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, file)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header = header.Clone()
	req.Header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// parseMLflowArtifactsURI splits mlflow-artifacts:/<exp>/<run>/artifacts.
func parseMLflowArtifactsURI(artifactURI string) (experimentID, runID string, err error) {
	rest := strings.TrimPrefix(strings.TrimPrefix(artifactURI, mlflowArtifactsScheme), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid mlflow-artifacts URI format: %s", artifactURI)
	}
	return parts[0], parts[1], nil
}

// parseDBFSRunID extracts the run from dbfs:/databricks/mlflow-tracking/<exp>/<run>/artifacts.
func parseDBFSRunID(artifactURI string) (string, error) {
	if !strings.HasPrefix(artifactURI, dbfsTrackingPrefix) {
		return "", fmt.Errorf("invalid DBFS artifact URI format: %s", artifactURI)
	}
	parts := strings.Split(strings.TrimPrefix(artifactURI, dbfsTrackingPrefix), "/")
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("run ID not found in DBFS URI: %s", artifactURI)
	}
	return parts[1], nil
}
