package mlflow

import (
	"fmt"
	"net/http"

	"github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/httpclient"

	"github.com/imishinist/mlflow-pipeline/internal/config"
)

// Client talks to a remote MLflow tracking server, plain or Databricks.
type Client struct {
	client    *databricks.WorkspaceClient
	apiClient *httpclient.ApiClient
	config    *config.Config
	// http sends artifact uploads that bypass the SDK. Nil means
	// http.DefaultClient.
	http *http.Client
}

var _ Store = (*Client)(nil)

func NewClient(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var databricksConfig *databricks.Config

	if cfg.IsDatabricks() {
		databricksConfig = &databricks.Config{}

		// Handle different Databricks URI formats
		if cfg.TrackingURI == "databricks" {
			if cfg.DatabricksHost != "" {
				databricksConfig.Host = cfg.DatabricksHost
			}
		} else if profile := cfg.GetDatabricksProfile(); profile != "" {
			databricksConfig.Profile = profile
		} else {
			// Use the tracking URI as Databricks host (direct URL)
			databricksConfig.Host = cfg.TrackingURI
		}

		// Token overrides profile
		if cfg.DatabricksToken != "" {
			databricksConfig.Token = cfg.DatabricksToken
		}

		if databricksConfig.Host == "" && databricksConfig.Profile == "" {
			return nil, fmt.Errorf("Databricks host or profile is required when using Databricks MLflow. Set DATABRICKS_HOST environment variable, use a full Databricks URL as tracking URI, or specify a profile with databricks://{profile}")
		}
	} else {
		// Regular MLflow server configuration
		databricksConfig = &databricks.Config{
			Host: cfg.TrackingURI,
			// For regular MLflow server, use a dummy token to bypass authentication
			Token: "dummy-token-for-regular-mlflow",
		}
	}

	client, err := databricks.NewWorkspaceClient(databricksConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}

	c := &Client{
		client: client,
		config: cfg,
	}

	// Only the DBFS artifact path needs raw authenticated requests.
	if cfg.IsDatabricks() {
		apiClient, err := client.Config.NewApiClient()
		if err != nil {
			return nil, fmt.Errorf("failed to create Databricks API client: %w", err)
		}
		c.apiClient = apiClient
	}

	return c, nil
}
