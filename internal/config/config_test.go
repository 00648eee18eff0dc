package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDrive(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		wantErrs    []error
		shouldError bool
	}{
		{
			name:   "Valid",
			config: Config{DriveCredentials: `{"type":"service_account"}`, DriveFolderID: "folder"},
		},
		{
			name:        "Missing credentials",
			config:      Config{DriveFolderID: "folder"},
			shouldError: true,
			wantErrs:    []error{ErrMissingDriveCredentials},
		},
		{
			name:        "Missing folder",
			config:      Config{DriveCredentials: "{}"},
			shouldError: true,
			wantErrs:    []error{ErrMissingDriveFolder},
		},
		{
			name:        "Missing both",
			config:      Config{DriveCredentials: "  ", DriveFolderID: ""},
			shouldError: true,
			wantErrs:    []error{ErrMissingDriveCredentials, ErrMissingDriveFolder},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.ValidateDrive()
			if !tt.shouldError {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			for _, want := range tt.wantErrs {
				assert.True(t, errors.Is(err, want), "expected %v in %v", want, err)
			}
		})
	}
}

func TestTrackingURIKinds(t *testing.T) {
	tests := []struct {
		uri        string
		local      bool
		root       string
		databricks bool
		profile    string
	}{
		{uri: "file:///tmp/mlruns", local: true, root: "/tmp/mlruns"},
		{uri: "./mlruns", local: true, root: "./mlruns"},
		{uri: "http://localhost:5000"},
		{uri: "databricks", databricks: true},
		{uri: "databricks://staging", databricks: true, profile: "staging"},
		{uri: "https://adb-123.4.azuredatabricks.net/", databricks: true},
		{uri: "https://mlflow.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			c := &Config{TrackingURI: tt.uri}
			assert.Equal(t, tt.local, c.IsLocal())
			if tt.local {
				assert.Equal(t, tt.root, c.LocalRoot())
			}
			assert.Equal(t, tt.databricks, c.IsDatabricks())
			assert.Equal(t, tt.profile, c.GetDatabricksProfile())
		})
	}
}

func TestValidate(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{TrackingURI: "file://"}).Validate())
	assert.NoError(t, (&Config{TrackingURI: DefaultTrackingURI}).Validate())
}
