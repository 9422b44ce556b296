package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
	Ingestion     IngestionConfig
	Notify        NotifyConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Path      string
	LogTiming bool
}

type CacheConfig struct {
	Enabled    bool
	RedisAddr  string
	RedisPass  string
	RedisDB    int
	TTLSeconds int
}

type ObservabilityConfig struct {
	Enabled           bool
	OTLPEndpoint      string
	OTLPTraceHeaders  map[string]string
	OTLPMetricHeaders map[string]string
	ServiceName       string
	ServiceVer        string
	SamplingRatio     float64
	MetricsConsole    bool
}

type IngestionConfig struct {
	BatchEnabled bool
	BatchSize    int
	BatchFlushMS int
}

type NotifyConfig struct {
	SinkURL string
}

// Load reads server configuration from the environment.
func Load() (Config, error) {
	return load(true)
}

// LoadForTool reads configuration for CLI tools, which never touch the
// identifier cache and must not fail on its settings.
func LoadForTool() (Config, error) {
	return load(false)
}

func load(requireCacheAddr bool) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("intake_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("intake_port", 8080)
	v.SetDefault("intake_db_path", "data/intake")
	v.SetDefault("intake_db_timing", false)
	v.SetDefault("intake_cache_enabled", true)
	v.SetDefault("intake_redis_addr", "127.0.0.1:6379")
	v.SetDefault("intake_redis_password", "")
	v.SetDefault("intake_redis_db", 0)
	v.SetDefault("intake_cache_ttl_seconds", 3600)
	v.SetDefault("intake_otel_enabled", false)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_exporter_otlp_headers", "")
	v.SetDefault("otel_exporter_otlp_traces_headers", "")
	v.SetDefault("otel_exporter_otlp_metrics_headers", "")
	v.SetDefault("otel_service_name", "intake")
	v.SetDefault("intake_service_name", "intake")
	v.SetDefault("intake_version", "dev")
	v.SetDefault("otel_service_version", "")
	v.SetDefault("intake_otel_sampling_ratio", 1.0)
	v.SetDefault("intake_otel_metrics_console", false)
	v.SetDefault("intake_ingest_batch_enabled", false)
	v.SetDefault("intake_ingest_batch_size", 100)
	v.SetDefault("intake_ingest_batch_flush_ms", 50)
	v.SetDefault("intake_notify_sink_url", "")

	env := resolveEnvironment(v)
	port := v.GetInt("intake_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid INTAKE_PORT: %d", port)
	}

	samplingRatio := v.GetFloat64("intake_otel_sampling_ratio")
	if samplingRatio < 0 {
		samplingRatio = 0
	}
	if samplingRatio > 1 {
		samplingRatio = 1
	}

	batchSize := v.GetInt("intake_ingest_batch_size")
	if batchSize <= 0 {
		batchSize = 100
	}
	if batchSize > 2000 {
		batchSize = 2000
	}

	batchFlush := v.GetInt("intake_ingest_batch_flush_ms")
	if batchFlush <= 0 {
		batchFlush = 50
	}
	if batchFlush > 5000 {
		batchFlush = 5000
	}

	cacheTTL := v.GetInt("intake_cache_ttl_seconds")
	if cacheTTL <= 0 {
		cacheTTL = 3600
	}

	serviceName := strings.TrimSpace(v.GetString("otel_service_name"))
	if serviceName == "" {
		serviceName = strings.TrimSpace(v.GetString("intake_service_name"))
	}
	if serviceName == "" {
		serviceName = "intake"
	}

	serviceVersion := strings.TrimSpace(v.GetString("intake_version"))
	if serviceVersion == "" {
		serviceVersion = strings.TrimSpace(v.GetString("otel_service_version"))
	}
	if serviceVersion == "" {
		serviceVersion = "dev"
	}

	otlpEndpoint := strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint"))
	otlpCommonHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_headers"))
	otlpTraceHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_traces_headers"))
	otlpMetricHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_metrics_headers"))
	metricsConsole := v.GetBool("intake_otel_metrics_console")
	otelEnabled := v.GetBool("intake_otel_enabled") || otlpEndpoint != "" || metricsConsole
	traceHeaders := mergeHeaderMaps(otlpCommonHeaders, otlpTraceHeaders)
	metricHeaders := mergeHeaderMaps(otlpCommonHeaders, otlpMetricHeaders)

	cfg := Config{
		Environment: env,
		Server:      ServerConfig{Port: port},
		Database: DatabaseConfig{
			Path:      strings.TrimSpace(v.GetString("intake_db_path")),
			LogTiming: v.GetBool("intake_db_timing"),
		},
		Cache: CacheConfig{
			Enabled:    v.GetBool("intake_cache_enabled"),
			RedisAddr:  strings.TrimSpace(v.GetString("intake_redis_addr")),
			RedisPass:  v.GetString("intake_redis_password"),
			RedisDB:    v.GetInt("intake_redis_db"),
			TTLSeconds: cacheTTL,
		},
		Observability: ObservabilityConfig{
			Enabled:           otelEnabled,
			OTLPEndpoint:      otlpEndpoint,
			OTLPTraceHeaders:  traceHeaders,
			OTLPMetricHeaders: metricHeaders,
			ServiceName:       serviceName,
			ServiceVer:        serviceVersion,
			SamplingRatio:     samplingRatio,
			MetricsConsole:    metricsConsole,
		},
		Ingestion: IngestionConfig{
			BatchEnabled: v.GetBool("intake_ingest_batch_enabled"),
			BatchSize:    batchSize,
			BatchFlushMS: batchFlush,
		},
		Notify: NotifyConfig{
			SinkURL: strings.TrimSpace(v.GetString("intake_notify_sink_url")),
		},
	}

	if strings.TrimSpace(cfg.Database.Path) == "" {
		cfg.Database.Path = "data/intake"
	}
	if requireCacheAddr && cfg.Cache.Enabled && cfg.Cache.RedisAddr == "" {
		return Config{}, fmt.Errorf("INTAKE_REDIS_ADDR is required when the identifier cache is enabled")
	}

	return cfg, nil
}

func parseOTLPHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.TrimSpace(pair[0])
		value := strings.TrimSpace(pair[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeHeaderMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c Config) IngestionBatchFlushInterval() time.Duration {
	return time.Duration(c.Ingestion.BatchFlushMS) * time.Millisecond
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"intake_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
