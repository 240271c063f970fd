// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/forum-harvester/internal/extract"
	"github.com/JakeFAU/forum-harvester/internal/partition"
)

// EnvPrefix prefixes every environment override, e.g. HARVESTER_WORKER_INDEX.
const EnvPrefix = "HARVESTER"

// Storage backends accepted by storage.backend.
const (
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Worker   WorkerConfig      `mapstructure:"worker"`
	Forum    ForumConfig       `mapstructure:"forum"`
	Session  SessionConfig     `mapstructure:"session"`
	Headless HeadlessConfig    `mapstructure:"headless"`
	HTTP     HTTPConfig        `mapstructure:"http"`
	Extract  extract.Selectors `mapstructure:"extract"`
	Ingest   IngestConfig      `mapstructure:"ingest"`
	Guardian GuardianConfig    `mapstructure:"guardian"`
	Storage  StorageConfig     `mapstructure:"storage"`
	DB       DBConfig          `mapstructure:"db"`
	PubSub   PubSubConfig      `mapstructure:"pubsub"`
	Server   ServerConfig      `mapstructure:"server"`
	Logging  LoggingConfig     `mapstructure:"logging"`
}

// WorkerConfig places this process in the pool and tunes its sync passes.
type WorkerConfig struct {
	Index        int           `mapstructure:"index"`
	Count        int           `mapstructure:"count"`
	Schedule     string        `mapstructure:"schedule"`
	BatchLimit   int           `mapstructure:"batch_limit"`
	PageAttempts int           `mapstructure:"page_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	ThreadPacing time.Duration `mapstructure:"thread_pacing"`
	PagePacing   time.Duration `mapstructure:"page_pacing"`
}

// ForumConfig describes the target site.
type ForumConfig struct {
	BaseURL           string   `mapstructure:"base_url"`
	ThreadURLTemplate string   `mapstructure:"thread_url_template"`
	PageSuffix        string   `mapstructure:"page_suffix"`
	DiscoveryPages    []string `mapstructure:"discovery_pages"`
	// RequestsPerSecond throttles page navigations. Zero disables throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// SessionConfig points at exported login cookies.
type SessionConfig struct {
	CookiesFile      string `mapstructure:"cookies_file"`
	CheckURL         string `mapstructure:"check_url"`
	LoggedInSelector string `mapstructure:"logged_in_selector"`
}

// HeadlessConfig configures the browser.
type HeadlessConfig struct {
	ExecPath          string        `mapstructure:"exec_path"`
	ProfileRoot       string        `mapstructure:"profile_root"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxAuxTabs        int           `mapstructure:"max_aux_tabs"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	AttachmentWait    time.Duration `mapstructure:"attachment_wait"`
	Headful           bool          `mapstructure:"headful"`
}

// HTTPConfig configures direct asset downloads.
type HTTPConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxBodySize       int           `mapstructure:"max_body_size"`
	Referer           string        `mapstructure:"referer"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// IngestConfig tunes the media pipeline.
type IngestConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	DirectTimeout   time.Duration `mapstructure:"direct_timeout"`
	IndirectTimeout time.Duration `mapstructure:"indirect_timeout"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	Attempts        int           `mapstructure:"attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
}

// GuardianConfig sets recycle and memory thresholds.
type GuardianConfig struct {
	RecycleEvery   int           `mapstructure:"recycle_every"`
	MemoryFloorMB  uint64        `mapstructure:"memory_floor_mb"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	// RestartCommand is run to restart the host. Empty only logs the request.
	RestartCommand string        `mapstructure:"restart_command"`
	RestartTimeout time.Duration `mapstructure:"restart_timeout"`
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	S3      S3Config    `mapstructure:"s3"`
	GCS     GCSConfig   `mapstructure:"gcs"`
	Local   LocalConfig `mapstructure:"local"`
}

// S3Config configures the S3-compatible backend.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
}

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket        string `mapstructure:"bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DBConfig controls access to the relational database. An empty DSN keeps
// state in memory.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for sync notifications. An empty project
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("worker.index", 0)
	v.SetDefault("worker.count", 1)
	v.SetDefault("worker.schedule", "@every 15m")
	v.SetDefault("worker.batch_limit", 0)
	v.SetDefault("worker.page_attempts", 3)
	v.SetDefault("worker.retry_delay", 5*time.Second)
	v.SetDefault("worker.thread_pacing", 3*time.Second)
	v.SetDefault("worker.page_pacing", time.Second)
	v.SetDefault("forum.base_url", "")
	v.SetDefault("forum.thread_url_template", "")
	v.SetDefault("forum.page_suffix", "page-%d")
	v.SetDefault("forum.discovery_pages", []string{})
	v.SetDefault("forum.requests_per_second", 1.0)
	v.SetDefault("forum.burst", 1)
	v.SetDefault("session.cookies_file", "")
	v.SetDefault("session.check_url", "")
	v.SetDefault("session.logged_in_selector", "")
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.profile_root", "")
	v.SetDefault("headless.user_agent", "")
	v.SetDefault("headless.max_aux_tabs", 4)
	v.SetDefault("headless.navigation_timeout", 45*time.Second)
	v.SetDefault("headless.settle_delay", 500*time.Millisecond)
	v.SetDefault("headless.attachment_wait", 15*time.Second)
	v.SetDefault("headless.headful", false)
	v.SetDefault("http.user_agent", "forum-harvester/0.1")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_body_size", 200<<20)
	v.SetDefault("http.referer", "")
	v.SetDefault("http.requests_per_second", 4.0)
	v.SetDefault("http.burst", 4)
	v.SetDefault("ingest.batch_size", 20)
	v.SetDefault("ingest.direct_timeout", 30*time.Second)
	v.SetDefault("ingest.indirect_timeout", 2*time.Minute)
	v.SetDefault("ingest.key_prefix", "forum-media")
	v.SetDefault("ingest.attempts", 3)
	v.SetDefault("ingest.retry_delay", time.Second)
	v.SetDefault("ingest.attempt_timeout", 0)
	v.SetDefault("guardian.recycle_every", 50)
	v.SetDefault("guardian.memory_floor_mb", 512)
	v.SetDefault("guardian.sample_interval", 30*time.Second)
	v.SetDefault("guardian.restart_command", "")
	v.SetDefault("guardian.restart_timeout", time.Minute)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.public_base_url", "")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.public_base_url", "")
	v.SetDefault("storage.local.base_dir", "./data/media")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "thread-synced")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := partition.New(c.Worker.Index, c.Worker.Count); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.Worker.Schedule); err != nil {
		return fmt.Errorf("worker.schedule %q: %w", c.Worker.Schedule, err)
	}
	if c.Worker.PageAttempts <= 0 {
		return errors.New("worker.page_attempts must be > 0")
	}
	if c.Forum.ThreadURLTemplate != "" && !strings.Contains(c.Forum.ThreadURLTemplate, "%d") {
		return errors.New("forum.thread_url_template must contain %d")
	}
	if !strings.Contains(c.Forum.PageSuffix, "%d") {
		return errors.New("forum.page_suffix must contain %d")
	}
	if c.Headless.MaxAuxTabs < 0 {
		return errors.New("headless.max_aux_tabs must be >= 0")
	}
	if c.Ingest.BatchSize <= 0 {
		return errors.New("ingest.batch_size must be > 0")
	}
	switch c.Storage.Backend {
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket must be set for the s3 backend")
		}
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return errors.New("storage.gcs.bucket must be set for the gcs backend")
		}
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return errors.New("storage.local.base_dir must be set for the local backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend %q is not one of s3, gcs, local, memory", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return errors.New("pubsub.topic_name must be set when pubsub.project_id is")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	return nil
}

// MemoryFloorBytes converts the configured floor to bytes.
func (c GuardianConfig) MemoryFloorBytes() uint64 {
	return c.MemoryFloorMB << 20
}
