// Package config loads the service configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/petrsynek/bus-server/internal/config/dto"
	"github.com/petrsynek/bus-server/internal/encoder"
	apperrors "github.com/petrsynek/bus-server/internal/errors"
	"github.com/petrsynek/bus-server/pkg/transit"
)

// EnvPrefix prefixes every environment override, e.g. BUS_APP_STORAGE_BACKEND.
const EnvPrefix = "BUS_APP"

// legacyEnv maps environment variables of earlier deployments onto config keys.
var legacyEnv = map[string]string{
	"storage.s3.bucket":      "BUS_APP_S3_BUCKET",
	"reference.base_url":     "BUS_APP_REF_SERVER_URL",
	"storage.file.base_path": "BUS_APP_LOCAL_STORAGE_PATH",
	"storage.s3.region":      "AWS_REGION",
}

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables. A missing
// file is not an error; defaults and the environment still apply.
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if err := l.bindLegacyEnv(); err != nil {
		return nil, err
	}

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Only expand values that contain a ${...} reference
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	l.applyRunLocally()

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w: %w", apperrors.ErrBackendMisconfigured, err)
	}

	return &config, nil
}

// bindLegacyEnv lets the prefixed name win over the legacy one.
func (l *Loader) bindLegacyEnv() error {
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := l.v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}
	return nil
}

// applyRunLocally honours BUS_APP_RUN_LOCALLY=false by switching to the s3
// backend, unless a backend was chosen explicitly through the environment.
func (l *Loader) applyRunLocally() {
	raw, ok := os.LookupEnv(EnvPrefix + "_RUN_LOCALLY")
	if !ok {
		return
	}
	if _, explicit := os.LookupEnv(EnvPrefix + "_STORAGE_BACKEND"); explicit {
		return
	}
	local, err := strconv.ParseBool(raw)
	if err != nil {
		return
	}
	if local {
		l.v.Set("storage.backend", "file")
	} else {
		l.v.Set("storage.backend", "s3")
	}
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "bus-server")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Reference service defaults
	l.v.SetDefault("reference.base_url", "http://localhost:8000")
	l.v.SetDefault("reference.request_timeout_seconds", 30)
	l.v.SetDefault("reference.requests_per_second", 0)
	l.v.SetDefault("reference.burst", 1)

	// Storage defaults
	l.v.SetDefault("storage.backend", "file")
	l.v.SetDefault("storage.format", "parquet")
	l.v.SetDefault("storage.compression", "")
	l.v.SetDefault("storage.file.base_path", "./data")
	l.v.SetDefault("storage.s3.bucket", "")
	l.v.SetDefault("storage.s3.region", "")
	l.v.SetDefault("storage.s3.base_path", "")
	l.v.SetDefault("storage.s3.endpoint", "")
	l.v.SetDefault("storage.s3.use_path_style", false)
	l.v.SetDefault("storage.s3.sse_enabled", true)
	l.v.SetDefault("storage.s3.sse_kms_key_id", "")
	l.v.SetDefault("storage.gcs.bucket", "")
	l.v.SetDefault("storage.gcs.project_id", "")
	l.v.SetDefault("storage.gcs.base_path", "")
	l.v.SetDefault("storage.gcs.endpoint", "")
	l.v.SetDefault("storage.gcs.credentials_file", "")
	l.v.SetDefault("storage.gcs.credentials_json", "")
	l.v.SetDefault("storage.gcs.use_default_credential", true)
	l.v.SetDefault("storage.azure.account_name", "")
	l.v.SetDefault("storage.azure.account_key", "")
	l.v.SetDefault("storage.azure.container", "")
	l.v.SetDefault("storage.azure.base_path", "")
	l.v.SetDefault("storage.azure.endpoint", "")

	// Ingestion defaults
	l.v.SetDefault("ingestion.worker_pool_size", 4)
	l.v.SetDefault("ingestion.task_timeout_seconds", 60)
	l.v.SetDefault("ingestion.report_history", 100)

	// Aggregation defaults
	l.v.SetDefault("aggregation.worker_limit", 8)
	l.v.SetDefault("aggregation.max_range_days", 366)
	l.v.SetDefault("aggregation.delay_quantiles", []float64{})

	// Report publisher defaults
	l.v.SetDefault("kafka.enabled", false)
	l.v.SetDefault("kafka.bootstrap_servers", []string{})
	l.v.SetDefault("kafka.topic", "bus-ingestion-results")
	l.v.SetDefault("kafka.source", "bus-server/ingest")
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "")
	l.v.SetDefault("kafka.sasl_username", "")
	l.v.SetDefault("kafka.sasl_password", "")
	l.v.SetDefault("kafka.aws_region", "")

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8081)

	// API server defaults
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.read_timeout_seconds", 10)
	l.v.SetDefault("server.write_timeout_seconds", 120)

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if config.Reference.BaseURL == "" {
		return errors.New("reference.base_url is required")
	}

	// Storage validation
	var err error
	switch config.Storage.Backend {
	case "s3":
		err = config.Storage.S3.Validate()
	case "azure":
		err = config.Storage.Azure.Validate()
	case "gcs":
		err = config.Storage.GCS.Validate()
	case "file":
		err = config.Storage.File.Validate()
	default:
		return fmt.Errorf("unsupported storage backend: %s", config.Storage.Backend)
	}
	if err != nil {
		return err
	}

	// Format validation
	format := transit.FileFormat(config.Storage.Format)
	if !slices.Contains(encoder.SupportedFormats(), format) {
		return fmt.Errorf("unsupported storage format: %s", config.Storage.Format)
	}
	if c := config.Storage.Compression; c != "" && !slices.Contains(encoder.SupportedCompressions(format), c) {
		return fmt.Errorf("unsupported %s compression: %s", format, c)
	}

	// Worker validation
	if config.Ingestion.WorkerPoolSize < 1 {
		return fmt.Errorf("invalid ingestion.worker_pool_size: %d", config.Ingestion.WorkerPoolSize)
	}
	if config.Aggregation.WorkerLimit < 1 {
		return fmt.Errorf("invalid aggregation.worker_limit: %d", config.Aggregation.WorkerLimit)
	}
	for _, q := range config.Aggregation.DelayQuantiles {
		if q <= 0 || q >= 1 {
			return fmt.Errorf("delay quantile out of range (0,1): %v", q)
		}
	}

	if err := config.Kafka.Validate(); err != nil {
		return err
	}

	// Port validation
	ports := map[string]int{
		"server":  config.Server.Port,
		"metrics": config.Observability.Metrics.Port,
		"health":  config.Observability.Health.Port,
	}
	seen := make(map[int]string, len(ports))
	for _, name := range []string{"server", "metrics", "health"} {
		port := ports[name]
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("%s and %s ports collide: %d", other, name, port)
		}
		seen[port] = name
	}

	return nil
}
