package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imishinist/mlflow-pipeline/internal/config"
	"github.com/imishinist/mlflow-pipeline/internal/logging"
	"github.com/imishinist/mlflow-pipeline/internal/mlflow"
)

var rootCmd = &cobra.Command{
	Use:   "mlflow-pipeline",
	Short: "Train, resolve and archive MLflow runs",
	Long: `A command line tool for a small ML pipeline on top of MLflow tracking.
It trains the cardiovascular classifier, resolves the latest run of an
experiment for CI, and mirrors run artifacts to Google Drive.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("tracking-uri", "", "MLflow tracking URI (overrides MLFLOW_TRACKING_URI)")
	rootCmd.PersistentFlags().String("experiment-id", "", "Experiment ID (overrides MLFLOW_EXPERIMENT_ID)")
	rootCmd.PersistentFlags().String("experiment-name", "", "Experiment name (overrides MLFLOW_EXPERIMENT_NAME)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded before reading the environment")
	viper.BindPFlag("tracking_uri", rootCmd.PersistentFlags().Lookup("tracking-uri"))
	viper.BindPFlag("experiment_id", rootCmd.PersistentFlags().Lookup("experiment-id"))
	viper.BindPFlag("experiment_name", rootCmd.PersistentFlags().Lookup("experiment-name"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	envFile, _ := rootCmd.PersistentFlags().GetString("env-file")
	envErr := loadEnvFile(envFile)

	// Environment variables
	viper.SetEnvPrefix("MLFLOW")
	viper.AutomaticEnv()

	// Also bind Databricks and Drive environment variables
	viper.BindEnv("databricks_host", "DATABRICKS_HOST")
	viper.BindEnv("databricks_token", "DATABRICKS_TOKEN")
	viper.BindEnv("gdrive_credentials", "GDRIVE_CREDENTIALS")
	viper.BindEnv("gdrive_folder_id", "GDRIVE_FOLDER_ID")

	// Set defaults
	viper.SetDefault("tracking_uri", config.DefaultTrackingURI)
	viper.SetDefault("experiment_name", config.DefaultExperimentName)

	logging.ConfigureGlobalLogger(viper.GetBool("verbose"))
	if envErr != nil {
		log.Warn().Err(envErr).Msgf("failed to load env file %s", envFile)
	}
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// newStore snapshots the configuration and opens the tracking backend.
func newStore() (*config.Config, mlflow.Store, error) {
	cfg := config.New()
	store, err := mlflow.NewStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create MLflow client: %w", err)
	}
	return cfg, store, nil
}
