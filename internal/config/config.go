package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration. Every destination identifier
// has a documented default matching the testing fixtures, so a bare
// invocation ingests the example run folder into the testing zone.
type Config struct {
	// Destination identifiers composing the collection path.
	Zone      string `yaml:"zone"`
	Site      string `yaml:"site"`
	Year      string `yaml:"year"`
	Device    string `yaml:"device"`
	RunFolder string `yaml:"run_folder"`

	// SourcePath is the local run folder to mirror.
	SourcePath string `yaml:"source_path"`

	// BrokerURL is handed to the sync engine for asynchronous work
	// distribution. Synchronous runs only log it.
	BrokerURL string `yaml:"broker_url"`

	Verbose bool `yaml:"verbose"`

	// DelayUntilAtRest is how long the destination must see no updates
	// before a done run folder is finalized.
	DelayUntilAtRest time.Duration `yaml:"delay_until_at_rest"`
	// HashWorkers bounds parallel checksum computation.
	HashWorkers int `yaml:"hash_workers"`
	// SyncWorkers bounds parallel uploads.
	SyncWorkers int `yaml:"sync_workers"`
	// WatchWorkers bounds concurrent run folder ingests in watch mode.
	WatchWorkers int `yaml:"watch_workers"`

	MinIOEndpoint  string `yaml:"minio_endpoint"`
	MinIOAccessKey string `yaml:"minio_access_key"`
	MinIOSecretKey string `yaml:"minio_secret_key"`
	MinIOBucket    string `yaml:"minio_bucket"`
	MinIOUseSSL    bool   `yaml:"minio_use_ssl"`
}

// Defaults for the destination identifiers and ingest tuning.
const (
	DefaultZone      = "omicsTestingZone"
	DefaultSite      = "test-site"
	DefaultYear      = "2020"
	DefaultDevice    = "M06205"
	DefaultRunFolder = "200602_M06205_0009_000000000-CW9PR"
	DefaultSource    = "testdata/200602_M06205_0009_000000000-CW9PR"
	DefaultBrokerURL = "redis://127.0.0.1:6379/0"

	DefaultDelayUntilAtRest = 15 * time.Minute
	DefaultHashWorkers      = 8
	DefaultSyncWorkers      = 8
	DefaultWatchWorkers     = 4
)

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

// Default returns a Config populated with the documented defaults. The
// MinIO connection settings have no default and stay empty.
func Default() Config {
	return Config{
		Zone:             DefaultZone,
		Site:             DefaultSite,
		Year:             DefaultYear,
		Device:           DefaultDevice,
		RunFolder:        DefaultRunFolder,
		SourcePath:       DefaultSource,
		BrokerURL:        DefaultBrokerURL,
		DelayUntilAtRest: DefaultDelayUntilAtRest,
		HashWorkers:      DefaultHashWorkers,
		SyncWorkers:      DefaultSyncWorkers,
		WatchWorkers:     DefaultWatchWorkers,
	}
}

// Load reads configuration from the environment on top of the defaults,
// optionally overlaying a YAML file first. Returns an error if required
// variables are missing.
func Load(file string) (*Config, error) {
	config := Default()

	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &config); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", file, err)
		}
	}

	overlayString(&config.Zone, "OMICS_ZONE")
	overlayString(&config.Site, "OMICS_SITE")
	overlayString(&config.Year, "OMICS_YEAR")
	overlayString(&config.Device, "OMICS_DEVICE")
	overlayString(&config.RunFolder, "OMICS_RUN_FOLDER")
	overlayString(&config.SourcePath, "OMICS_SOURCE_PATH")
	overlayString(&config.BrokerURL, "OMICS_BROKER_URL")
	overlayBool(&config.Verbose, "OMICS_VERBOSE")

	if err := overlaySeconds(&config.DelayUntilAtRest, "OMICS_DELAY_UNTIL_AT_REST_SECONDS"); err != nil {
		return nil, err
	}
	if err := overlayInt(&config.HashWorkers, "OMICS_HASH_WORKERS"); err != nil {
		return nil, err
	}
	if err := overlayInt(&config.SyncWorkers, "OMICS_SYNC_WORKERS"); err != nil {
		return nil, err
	}
	if err := overlayInt(&config.WatchWorkers, "OMICS_WATCH_WORKERS"); err != nil {
		return nil, err
	}

	overlayString(&config.MinIOEndpoint, "MINIO_ENDPOINT")
	overlayString(&config.MinIOAccessKey, "MINIO_ACCESS_KEY")
	overlayString(&config.MinIOSecretKey, "MINIO_SECRET_KEY")
	overlayString(&config.MinIOBucket, "MINIO_BUCKET")
	overlayBool(&config.MinIOUseSSL, "MINIO_USE_SSL")

	if config.MinIOEndpoint == "" {
		return nil, &ErrMissingRequiredEnvVar{Name: "MINIO_ENDPOINT"}
	}
	if config.MinIOAccessKey == "" {
		return nil, &ErrMissingRequiredEnvVar{Name: "MINIO_ACCESS_KEY"}
	}
	if config.MinIOSecretKey == "" {
		return nil, &ErrMissingRequiredEnvVar{Name: "MINIO_SECRET_KEY"}
	}
	if config.MinIOBucket == "" {
		return nil, &ErrMissingRequiredEnvVar{Name: "MINIO_BUCKET"}
	}

	return &config, nil
}

func overlayString(dst *string, name string) {
	if value := os.Getenv(name); value != "" {
		*dst = value
	}
}

// overlayBool treats an explicitly set variable as authoritative, so
// "false" in the environment overrides a true from the YAML file.
func overlayBool(dst *bool, name string) {
	if value, ok := os.LookupEnv(name); ok {
		*dst = value == "true"
	}
}

func overlayInt(dst *int, name string) error {
	value := os.Getenv(name)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("environment variable %s: %w", name, err)
	}
	*dst = n
	return nil
}

func overlaySeconds(dst *time.Duration, name string) error {
	value := os.Getenv(name)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("environment variable %s: %w", name, err)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}
