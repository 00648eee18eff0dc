package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Databricks domain suffixes for URL detection
var databricksDomains = []string{
	".cloud.databricks.com",
	".azuredatabricks.net",
	".gcp.databricks.com",
}

const (
	DefaultTrackingURI    = "file:///tmp/mlruns"
	DefaultExperimentName = "Cardiovascular_Classifier"
)

var (
	ErrMissingDriveCredentials = errors.New("missing GDRIVE_CREDENTIALS environment variable")
	ErrMissingDriveFolder      = errors.New("missing GDRIVE_FOLDER_ID environment variable")
)

type Config struct {
	TrackingURI      string
	ExperimentID     string
	ExperimentName   string
	DatabricksHost   string
	DatabricksToken  string
	DriveCredentials string
	DriveFolderID    string
	Verbose          bool
}

func New() *Config {
	return &Config{
		TrackingURI:      viper.GetString("tracking_uri"),
		ExperimentID:     viper.GetString("experiment_id"),
		ExperimentName:   viper.GetString("experiment_name"),
		DatabricksHost:   viper.GetString("databricks_host"),
		DatabricksToken:  viper.GetString("databricks_token"),
		DriveCredentials: viper.GetString("gdrive_credentials"),
		DriveFolderID:    viper.GetString("gdrive_folder_id"),
		Verbose:          viper.GetBool("verbose"),
	}
}

func (c *Config) Validate() error {
	if c.TrackingURI == "" {
		return fmt.Errorf("tracking URI is required")
	}

	if c.IsLocal() && c.LocalRoot() == "" {
		return fmt.Errorf("invalid local tracking URI: %s", c.TrackingURI)
	}

	return nil
}

// ValidateDrive checks the uploader's preconditions. Both values are
// required before any Drive client is built.
func (c *Config) ValidateDrive() error {
	var errs []error
	if strings.TrimSpace(c.DriveCredentials) == "" {
		errs = append(errs, ErrMissingDriveCredentials)
	}
	if strings.TrimSpace(c.DriveFolderID) == "" {
		errs = append(errs, ErrMissingDriveFolder)
	}
	return errors.Join(errs...)
}

// IsLocal reports whether the tracking URI points to a file store.
func (c *Config) IsLocal() bool {
	if strings.HasPrefix(c.TrackingURI, "file://") {
		return true
	}
	return !strings.Contains(c.TrackingURI, "://") && c.TrackingURI != "databricks"
}

// LocalRoot returns the file store directory of a local tracking URI.
func (c *Config) LocalRoot() string {
	return strings.TrimPrefix(c.TrackingURI, "file://")
}

// IsDatabricks checks if the tracking URI points to Databricks
func (c *Config) IsDatabricks() bool {
	if c.TrackingURI == "databricks" {
		return true
	}

	// Check for databricks:// protocol
	if strings.HasPrefix(c.TrackingURI, "databricks://") {
		return true
	}

	// Check for Databricks URLs
	if strings.HasPrefix(c.TrackingURI, "https://") {
		host := c.extractHostFromURL(c.TrackingURI)
		return c.isDatabricksHost(host)
	}

	return false
}

// extractHostFromURL extracts the hostname from a URL
func (c *Config) extractHostFromURL(url string) string {
	host := strings.TrimPrefix(url, "https://")
	// Remove any path components
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func (c *Config) isDatabricksHost(host string) bool {
	for _, domain := range databricksDomains {
		if strings.HasSuffix(host, domain) {
			return true
		}
	}
	return false
}

// GetDatabricksProfile extracts the profile name from databricks://{profile} URI
func (c *Config) GetDatabricksProfile() string {
	if !strings.HasPrefix(c.TrackingURI, "databricks://") {
		return ""
	}

	profile := strings.TrimPrefix(c.TrackingURI, "databricks://")
	if idx := strings.Index(profile, "/"); idx != -1 {
		profile = profile[:idx]
	}
	return profile
}
