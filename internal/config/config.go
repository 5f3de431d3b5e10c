// Copyright 2025 James Ross
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Redis struct {
	Addr               string        `mapstructure:"addr"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	TLS                bool          `mapstructure:"tls"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// Queues holds the bit-exact namespaced queue key set from spec.md §4.1.
type Queues struct {
	MachinistInstant  string `mapstructure:"machinist_instant"`
	MachinistStandard string `mapstructure:"machinist_standard"`
	ArchivistInstant  string `mapstructure:"archivist_instant"`
	ArchivistStandard string `mapstructure:"archivist_standard"`
	ArchivistJobgroup string `mapstructure:"archivist_jobgroup"`
	DLQMachinist      string `mapstructure:"dlq_machinist"`
	DLQArchivist      string `mapstructure:"dlq_archivist"`

	// Legacy shared keys recognized only by the one-shot migration utility.
	LegacyInstant  string `mapstructure:"legacy_instant"`
	LegacyStandard string `mapstructure:"legacy_standard"`
	LegacyJobgroup string `mapstructure:"legacy_jobgroup"`
}

type Backoff struct {
	Base       time.Duration `mapstructure:"base"`
	Max        time.Duration `mapstructure:"max"`
	Jitter     float64       `mapstructure:"jitter"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type MachinistConfig struct {
	BlockTimeout    time.Duration `mapstructure:"block_timeout"`
	MinWidth        int           `mapstructure:"min_width"`
	MinHeight       int           `mapstructure:"min_height"`
	MaxWidth        int           `mapstructure:"max_width"`
	MaxHeight       int           `mapstructure:"max_height"`
	SharpMaxPixels  int64         `mapstructure:"sharp_max_pixels"`
	SharpMaxDim     int           `mapstructure:"sharp_max_dimension"`
	SharpTimeout    time.Duration `mapstructure:"sharp_timeout"`
	ExifTimeout     time.Duration `mapstructure:"exif_timeout"`
	MaxArchiveBytes int64         `mapstructure:"max_archive_bytes"`
	MaxInputBytes   int64         `mapstructure:"max_input_bytes"`
	WorkDirRoot     string        `mapstructure:"work_dir_root"`
}

type ArchivistConfig struct {
	Model              string        `mapstructure:"model"`
	MaxEncodedBytes     int64         `mapstructure:"max_encoded_bytes"`
	QualitySteps        []int         `mapstructure:"quality_steps"`
	MaxJSONBytes        int64         `mapstructure:"max_json_bytes"`
	MaxKeywords         int           `mapstructure:"max_keywords"`
	AllowedTags         []string      `mapstructure:"allowed_tags"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	IdleSleep           time.Duration `mapstructure:"idle_sleep"`
}

type JobgroupConfig struct {
	PollActiveInterval time.Duration `mapstructure:"poll_active_interval"`
	PollIdleInterval   time.Duration `mapstructure:"poll_idle_interval"`
	PollLockTTL        time.Duration `mapstructure:"poll_lock_ttl"`
	RetentionDays      int           `mapstructure:"retention_days"`
	MaxActivePerTenant int           `mapstructure:"max_active_per_tenant"`
	Max24hPerTenant    int           `mapstructure:"max_24h_per_tenant"`
	ResultChunkSize    int           `mapstructure:"result_chunk_size"`
	AuditDir           string        `mapstructure:"audit_dir"`
	MockOutputDir      string        `mapstructure:"mock_output_dir"`
}

type Worker struct {
	Queues          Queues          `mapstructure:"queues"`
	Backoff         Backoff         `mapstructure:"backoff"`
	CircuitBreaker  CircuitBreaker  `mapstructure:"circuit_breaker"`
	BreakerPause    time.Duration   `mapstructure:"breaker_pause"`
	MaxJobDuration  time.Duration   `mapstructure:"max_job_duration"`
	MinFreeMemoryMB int64           `mapstructure:"min_free_memory_mb"`
	Machinist       MachinistConfig `mapstructure:"machinist"`
	Archivist       ArchivistConfig `mapstructure:"archivist"`
	Jobgroup        JobgroupConfig  `mapstructure:"jobgroup"`
}

type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	Endpoint         string  `mapstructure:"endpoint"`
	Environment      string  `mapstructure:"environment"`
	SamplingStrategy string  `mapstructure:"sampling_strategy"`
	SamplingRate     float64 `mapstructure:"sampling_rate"`
	Insecure         bool    `mapstructure:"insecure"`
}

type ObservabilityConfig struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	LogFile             string        `mapstructure:"log_file"`
	LogMaxSizeMB        int           `mapstructure:"log_max_size_mb"`
	LogMaxBackups       int           `mapstructure:"log_max_backups"`
	LogCompress         bool          `mapstructure:"log_compress"`
	Tracing             TracingConfig `mapstructure:"tracing"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
}

type ControlPlane struct {
	Port             int           `mapstructure:"port"`
	EnqueueToken     string        `mapstructure:"enqueue_token"`
	WorkerToken      string        `mapstructure:"worker_enqueue_token"`
	AdminToken       string        `mapstructure:"admin_token"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	DLQPageSizeCap   int           `mapstructure:"dlq_page_size_cap"`
	RequeueCountCap  int           `mapstructure:"requeue_count_cap"`
}

type Blob struct {
	Endpoint          string `mapstructure:"endpoint"`
	Region            string `mapstructure:"region"`
	AccessKeyID       string `mapstructure:"access_key_id"`
	SecretAccessKey   string `mapstructure:"secret_access_key"`
	StandardBucket    string `mapstructure:"standard_bucket"`
	ArchiveBucket     string `mapstructure:"archive_bucket"`
	FilesBucket       string `mapstructure:"files_bucket"`
	ConcurrencyLimit  int    `mapstructure:"concurrency_limit"`
}

type Store struct {
	Driver string `mapstructure:"driver"` // postgres | sqlite
	DSN    string `mapstructure:"dsn"`
}

type Webhook struct {
	DLQURL        string        `mapstructure:"dlq_url"`
	JobgroupURL   string        `mapstructure:"jobgroup_url"`
	Secret        string        `mapstructure:"secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RateLimitRPS  float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int          `mapstructure:"rate_limit_burst"`
}

type Config struct {
	Redis         Redis               `mapstructure:"redis"`
	Worker        Worker              `mapstructure:"worker"`
	CircuitBreaker CircuitBreaker     `mapstructure:"circuit_breaker"`
	Observability Observability       `mapstructure:"observability"`
	ControlPlane  ControlPlane        `mapstructure:"control_plane"`
	Blob          Blob                `mapstructure:"blob"`
	Store         Store               `mapstructure:"store"`
	Webhook       Webhook             `mapstructure:"webhook"`
	ModelAPIURL   string              `mapstructure:"model_api_url"`
	ModelAPIKey   string              `mapstructure:"model_api_key"`
	DryRun        bool                `mapstructure:"dry_run"`
	MinimalMode   bool                `mapstructure:"minimal_mode"`
}

// Observability is a backwards-compatible alias matching the naming the
// ancestor worker-queue config used for its nested section.
type Observability = ObservabilityConfig

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Addr:               "localhost:6379",
			PoolSizeMultiplier: 10,
			MinIdleConns:       5,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			MaxRetries:         3,
		},
		Worker: Worker{
			Queues: Queues{
				MachinistInstant:  "jobs:machinist:instant",
				MachinistStandard: "jobs:machinist:standard",
				ArchivistInstant:  "jobs:archivist:instant",
				ArchivistStandard: "jobs:archivist:standard",
				ArchivistJobgroup: "jobs:archivist:jobgroup",
				DLQMachinist:      "dlq:machinist",
				DLQArchivist:      "dlq:archivist",
				LegacyInstant:     "jobs:instant",
				LegacyStandard:    "jobs:standard",
				LegacyJobgroup:    "jobs:jobgroup",
			},
			Backoff: Backoff{
				Base:       500 * time.Millisecond,
				Max:        4 * time.Second,
				Jitter:     0.3,
				MaxRetries: 2,
			},
			CircuitBreaker: CircuitBreaker{
				FailureThreshold: 0.5,
				Window:           1 * time.Minute,
				CooldownPeriod:   30 * time.Second,
				MinSamples:       20,
			},
			BreakerPause:    100 * time.Millisecond,
			MaxJobDuration:  5 * time.Minute,
			MinFreeMemoryMB: 300,
			Machinist: MachinistConfig{
				BlockTimeout:    30 * time.Second,
				MinWidth:        300,
				MinHeight:       300,
				MaxWidth:        12000,
				MaxHeight:       12000,
				SharpMaxPixels:  268435456, // 16384^2, a conservative hard ceiling
				SharpMaxDim:     16384,
				SharpTimeout:    30 * time.Second,
				ExifTimeout:     10 * time.Second,
				MaxArchiveBytes: 2 << 30, // 2 GiB
				MaxInputBytes:   120 << 20,
				WorkDirRoot:     os.TempDir(),
			},
			Archivist: ArchivistConfig{
				Model:           "gpt-4o-mini",
				MaxEncodedBytes: 10 << 20,
				QualitySteps:    []int{85, 80, 70, 60, 50, 40},
				MaxJSONBytes:    500 << 10,
				MaxKeywords:     30,
				AllowedTags:     []string{"portrait", "landscape", "architecture", "document", "artifact", "manuscript", "photograph", "map", "blackandwhite", "color"},
				RequestTimeout:  60 * time.Second,
				MaxRetries:      3,
				IdleSleep:       2 * time.Second,
			},
			Jobgroup: JobgroupConfig{
				PollActiveInterval: 5 * time.Minute,
				PollIdleInterval:   5 * time.Minute,
				PollLockTTL:        900 * time.Second,
				RetentionDays:      30,
				MaxActivePerTenant: 1,
				Max24hPerTenant:    5,
				ResultChunkSize:    25,
				AuditDir:           "./audit",
			},
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold: 0.5,
			Window:           1 * time.Minute,
			CooldownPeriod:   30 * time.Second,
			MinSamples:       20,
		},
		Observability: Observability{
			MetricsPort:         8081,
			LogLevel:            "info",
			LogMaxSizeMB:        100,
			LogMaxBackups:       5,
			Tracing:             TracingConfig{Enabled: false, SamplingStrategy: "probabilistic", SamplingRate: 0.1},
			QueueSampleInterval: 2 * time.Second,
		},
		ControlPlane: ControlPlane{
			Port:            8081,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			DLQPageSizeCap:  200,
			RequeueCountCap: 1000,
		},
		Blob: Blob{
			ConcurrencyLimit: 5,
			StandardBucket:   "assets-standard",
			ArchiveBucket:    "assets-archive",
			FilesBucket:      "assets-files",
		},
		Store: Store{
			Driver: "postgres",
		},
		Webhook: Webhook{
			Timeout:        5 * time.Second,
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
	}
}

// Load reads configuration from a YAML file and applies environment
// variable overrides, matching the recognized option set in spec.md §6.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	setDefaults(v, def)

	// Recognized flat environment variables from spec.md §6, bound onto
	// their nested config paths explicitly since they don't follow the
	// dotted mapstructure convention.
	bindEnv(v, map[string]string{
		"REDIS_URL":                            "redis.addr",
		"REDIS_HOST":                           "redis.host",
		"REDIS_PORT":                           "redis.port",
		"REDIS_PASSWORD":                       "redis.password",
		"REDIS_TLS":                            "redis.tls",
		"HEALTH_PORT":                          "control_plane.port",
		"ENQUEUE_TOKEN":                        "control_plane.enqueue_token",
		"WORKER_ENQUEUE_TOKEN":                 "control_plane.worker_enqueue_token",
		"ADMIN_API_TOKEN":                      "control_plane.admin_token",
		"JOBGROUP_POLL_ACTIVE_INTERVAL_MS":     "worker.jobgroup.poll_active_interval_ms",
		"JOBGROUP_POLL_IDLE_INTERVAL_MS":       "worker.jobgroup.poll_idle_interval_ms",
		"JOBGROUP_POLL_LOCK_TTL_SEC":           "worker.jobgroup.poll_lock_ttl_sec",
		"JOBGROUP_RETENTION_DAYS":              "worker.jobgroup.retention_days",
		"DLQ_WEBHOOK_URL":                      "webhook.dlq_url",
		"DRY_RUN":                              "dry_run",
		"MINIMAL_MODE":                         "minimal_mode",
		"MACHINIST_MIN_WIDTH":                  "worker.machinist.min_width",
		"MACHINIST_MIN_HEIGHT":                 "worker.machinist.min_height",
		"MACHINIST_MAX_WIDTH":                  "worker.machinist.max_width",
		"MACHINIST_MAX_HEIGHT":                 "worker.machinist.max_height",
		"B2_CONCURRENCY_LIMIT":                 "blob.concurrency_limit",
	})

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Millisecond/second overrides for the jobgroup poller cadence are bound
	// as plain ints above; translate them into durations here.
	if ms := v.GetInt("worker.jobgroup.poll_active_interval_ms"); ms > 0 {
		cfg.Worker.Jobgroup.PollActiveInterval = time.Duration(ms) * time.Millisecond
	}
	if ms := v.GetInt("worker.jobgroup.poll_idle_interval_ms"); ms > 0 {
		cfg.Worker.Jobgroup.PollIdleInterval = time.Duration(ms) * time.Millisecond
	}
	if sec := v.GetInt("worker.jobgroup.poll_lock_ttl_sec"); sec > 0 {
		cfg.Worker.Jobgroup.PollLockTTL = time.Duration(sec) * time.Second
	}

	if err := Validate(&cfg, cfg.MinimalMode); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DumpYAML renders cfg as YAML for operator inspection (jobgroupctl's
// dump-config command), with secrets redacted rather than echoed back.
func DumpYAML(cfg *Config) ([]byte, error) {
	redacted := *cfg
	if redacted.Redis.Password != "" {
		redacted.Redis.Password = "[redacted]"
	}
	if redacted.ModelAPIKey != "" {
		redacted.ModelAPIKey = "[redacted]"
	}
	if redacted.ControlPlane.EnqueueToken != "" {
		redacted.ControlPlane.EnqueueToken = "[redacted]"
	}
	if redacted.ControlPlane.WorkerToken != "" {
		redacted.ControlPlane.WorkerToken = "[redacted]"
	}
	if redacted.ControlPlane.AdminToken != "" {
		redacted.ControlPlane.AdminToken = "[redacted]"
	}
	if redacted.Blob.SecretAccessKey != "" {
		redacted.Blob.SecretAccessKey = "[redacted]"
	}
	if redacted.Webhook.Secret != "" {
		redacted.Webhook.Secret = "[redacted]"
	}
	return yaml.Marshal(&redacted)
}

func bindEnv(v *viper.Viper, m map[string]string) {
	for env, path := range m {
		_ = v.BindEnv(path, env)
	}
}

func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.pool_size_multiplier", def.Redis.PoolSizeMultiplier)
	v.SetDefault("redis.min_idle_conns", def.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.max_retries", def.Redis.MaxRetries)

	v.SetDefault("worker.queues.machinist_instant", def.Worker.Queues.MachinistInstant)
	v.SetDefault("worker.queues.machinist_standard", def.Worker.Queues.MachinistStandard)
	v.SetDefault("worker.queues.archivist_instant", def.Worker.Queues.ArchivistInstant)
	v.SetDefault("worker.queues.archivist_standard", def.Worker.Queues.ArchivistStandard)
	v.SetDefault("worker.queues.archivist_jobgroup", def.Worker.Queues.ArchivistJobgroup)
	v.SetDefault("worker.queues.dlq_machinist", def.Worker.Queues.DLQMachinist)
	v.SetDefault("worker.queues.dlq_archivist", def.Worker.Queues.DLQArchivist)
	v.SetDefault("worker.queues.legacy_instant", def.Worker.Queues.LegacyInstant)
	v.SetDefault("worker.queues.legacy_standard", def.Worker.Queues.LegacyStandard)
	v.SetDefault("worker.queues.legacy_jobgroup", def.Worker.Queues.LegacyJobgroup)

	v.SetDefault("worker.backoff.base", def.Worker.Backoff.Base)
	v.SetDefault("worker.backoff.max", def.Worker.Backoff.Max)
	v.SetDefault("worker.backoff.jitter", def.Worker.Backoff.Jitter)
	v.SetDefault("worker.backoff.max_retries", def.Worker.Backoff.MaxRetries)

	v.SetDefault("worker.circuit_breaker.failure_threshold", def.Worker.CircuitBreaker.FailureThreshold)
	v.SetDefault("worker.circuit_breaker.window", def.Worker.CircuitBreaker.Window)
	v.SetDefault("worker.circuit_breaker.cooldown_period", def.Worker.CircuitBreaker.CooldownPeriod)
	v.SetDefault("worker.circuit_breaker.min_samples", def.Worker.CircuitBreaker.MinSamples)
	v.SetDefault("worker.breaker_pause", def.Worker.BreakerPause)
	v.SetDefault("worker.max_job_duration", def.Worker.MaxJobDuration)
	v.SetDefault("worker.min_free_memory_mb", def.Worker.MinFreeMemoryMB)

	v.SetDefault("worker.machinist.block_timeout", def.Worker.Machinist.BlockTimeout)
	v.SetDefault("worker.machinist.min_width", def.Worker.Machinist.MinWidth)
	v.SetDefault("worker.machinist.min_height", def.Worker.Machinist.MinHeight)
	v.SetDefault("worker.machinist.max_width", def.Worker.Machinist.MaxWidth)
	v.SetDefault("worker.machinist.max_height", def.Worker.Machinist.MaxHeight)
	v.SetDefault("worker.machinist.sharp_max_pixels", def.Worker.Machinist.SharpMaxPixels)
	v.SetDefault("worker.machinist.sharp_max_dimension", def.Worker.Machinist.SharpMaxDim)
	v.SetDefault("worker.machinist.sharp_timeout", def.Worker.Machinist.SharpTimeout)
	v.SetDefault("worker.machinist.exif_timeout", def.Worker.Machinist.ExifTimeout)
	v.SetDefault("worker.machinist.max_archive_bytes", def.Worker.Machinist.MaxArchiveBytes)
	v.SetDefault("worker.machinist.max_input_bytes", def.Worker.Machinist.MaxInputBytes)
	v.SetDefault("worker.machinist.work_dir_root", def.Worker.Machinist.WorkDirRoot)

	v.SetDefault("worker.archivist.model", def.Worker.Archivist.Model)
	v.SetDefault("worker.archivist.max_encoded_bytes", def.Worker.Archivist.MaxEncodedBytes)
	v.SetDefault("worker.archivist.quality_steps", def.Worker.Archivist.QualitySteps)
	v.SetDefault("worker.archivist.max_json_bytes", def.Worker.Archivist.MaxJSONBytes)
	v.SetDefault("worker.archivist.max_keywords", def.Worker.Archivist.MaxKeywords)
	v.SetDefault("worker.archivist.allowed_tags", def.Worker.Archivist.AllowedTags)
	v.SetDefault("worker.archivist.request_timeout", def.Worker.Archivist.RequestTimeout)
	v.SetDefault("worker.archivist.max_retries", def.Worker.Archivist.MaxRetries)
	v.SetDefault("worker.archivist.idle_sleep", def.Worker.Archivist.IdleSleep)

	v.SetDefault("worker.jobgroup.poll_active_interval", def.Worker.Jobgroup.PollActiveInterval)
	v.SetDefault("worker.jobgroup.poll_idle_interval", def.Worker.Jobgroup.PollIdleInterval)
	v.SetDefault("worker.jobgroup.poll_lock_ttl", def.Worker.Jobgroup.PollLockTTL)
	v.SetDefault("worker.jobgroup.retention_days", def.Worker.Jobgroup.RetentionDays)
	v.SetDefault("worker.jobgroup.max_active_per_tenant", def.Worker.Jobgroup.MaxActivePerTenant)
	v.SetDefault("worker.jobgroup.max_24h_per_tenant", def.Worker.Jobgroup.Max24hPerTenant)
	v.SetDefault("worker.jobgroup.result_chunk_size", def.Worker.Jobgroup.ResultChunkSize)
	v.SetDefault("worker.jobgroup.audit_dir", def.Worker.Jobgroup.AuditDir)

	v.SetDefault("observability.metrics_port", def.Observability.MetricsPort)
	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.log_file", def.Observability.LogFile)
	v.SetDefault("observability.log_max_size_mb", def.Observability.LogMaxSizeMB)
	v.SetDefault("observability.log_max_backups", def.Observability.LogMaxBackups)
	v.SetDefault("observability.log_compress", def.Observability.LogCompress)
	v.SetDefault("observability.tracing.enabled", def.Observability.Tracing.Enabled)
	v.SetDefault("observability.queue_sample_interval", def.Observability.QueueSampleInterval)

	v.SetDefault("control_plane.port", def.ControlPlane.Port)
	v.SetDefault("control_plane.read_timeout", def.ControlPlane.ReadTimeout)
	v.SetDefault("control_plane.write_timeout", def.ControlPlane.WriteTimeout)
	v.SetDefault("control_plane.dlq_page_size_cap", def.ControlPlane.DLQPageSizeCap)
	v.SetDefault("control_plane.requeue_count_cap", def.ControlPlane.RequeueCountCap)

	v.SetDefault("blob.concurrency_limit", def.Blob.ConcurrencyLimit)
	v.SetDefault("blob.standard_bucket", def.Blob.StandardBucket)
	v.SetDefault("blob.archive_bucket", def.Blob.ArchiveBucket)
	v.SetDefault("blob.files_bucket", def.Blob.FilesBucket)

	v.SetDefault("store.driver", def.Store.Driver)

	v.SetDefault("webhook.timeout", def.Webhook.Timeout)
	v.SetDefault("webhook.rate_limit_rps", def.Webhook.RateLimitRPS)
	v.SetDefault("webhook.rate_limit_burst", def.Webhook.RateLimitBurst)
}

// Validate checks config constraints and returns an error on invalid settings.
// When minimal is false, store.dsn must be set; minimal mode skips that
// check, per spec.md's MINIMAL_MODE option. Blob credentials and the model
// API key are not checked here in either mode.
func Validate(cfg *Config, minimal bool) error {
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	if cfg.ControlPlane.Port <= 0 || cfg.ControlPlane.Port > 65535 {
		return fmt.Errorf("control_plane.port must be 1..65535")
	}
	if cfg.Worker.Backoff.MaxRetries < 0 {
		return fmt.Errorf("worker.backoff.max_retries must be >= 0")
	}
	if cfg.Worker.Jobgroup.Max24hPerTenant < 1 {
		return fmt.Errorf("worker.jobgroup.max_24h_per_tenant must be >= 1")
	}
	if cfg.Worker.Jobgroup.ResultChunkSize < 1 {
		return fmt.Errorf("worker.jobgroup.result_chunk_size must be >= 1")
	}
	if !minimal {
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required unless minimal_mode is set")
		}
	}
	return nil
}
