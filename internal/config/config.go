package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// ErrInvalid is returned when the configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the application
type Config struct {
	Logging    LoggingConfig
	Tools      ToolsConfig
	Paths      PathsConfig
	Processing ProcessingConfig
	Timeouts   TimeoutsConfig
	Profiles   ProfilesConfig
	Server     ServerConfig
	Metrics    MetricsConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Webhook    WebhookConfig
	Tracing    TracingConfig
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=json console"`
	Output string `validate:"required"`
}

// ToolsConfig holds the external executables
type ToolsConfig struct {
	FFmpegPath   string        `validate:"required"`
	FFprobePath  string        `validate:"required"`
	MkvmergePath string        `validate:"required"`
	ProbeTimeout time.Duration `validate:"gt=0"`
}

// PathsConfig holds output and state locations
type PathsConfig struct {
	OutputDirectory   string `validate:"required"`
	RepairedDirectory string `validate:"required"`
	JobStateDir       string `validate:"required"`
}

// ProcessingConfig holds per-job processing policy
type ProcessingConfig struct {
	ErrorHandling            string   `validate:"oneof=stop skip"`
	OutputFileExists         string   `validate:"oneof=overwrite rename skip"`
	DeleteOriginalOnSuccess  bool
	RenamePattern            string   `validate:"required"`
	RepairRenamePattern      string   `validate:"required"`
	RecursiveScan            bool
	Extensions               []string `validate:"min=1,dive,startswith=."`
	AutoRepair               bool
	VerifyRepairedFiles      bool
	AttemptSequentially      bool
	UseCustomRepairProfiles  bool
	EnabledBuiltinStrategies []string
	EnabledRepairProfileIDs  []string
	RepairTimeout            time.Duration `validate:"gt=0"`
	PublishOutputs           bool
}

// TimeoutsConfig holds the process deadline policy
type TimeoutsConfig struct {
	EnableDynamic bool
	Multiplier    float64 `validate:"gt=0"`
	BufferSeconds float64 `validate:"gte=0"`
	MinSeconds    float64 `validate:"gte=0"`
	FixedSeconds  float64 `validate:"gte=0"`
}

// ProfilesConfig holds the encoding and repair profile catalogs
type ProfilesConfig struct {
	Encoding []models.EncodingProfile `validate:"dive"`
	Repair   []models.RepairProfile   `validate:"dive"`
}

// ServerConfig holds the status API configuration
type ServerConfig struct {
	Port            int    `validate:"gte=0,lte=65535"`
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// JWTSecret enables bearer token authentication when set.
	JWTSecret      string
	RateLimitRPS   int `validate:"gte=0"`
	RateLimitBurst int `validate:"gte=0"`
}

// MetricsConfig holds the metrics server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int `validate:"gte=0,lte=65535"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	Prefix          string
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
	Exchange string
}

// WebhookConfig holds outgoing event notification configuration
type WebhookConfig struct {
	Enabled bool
	URLs    []string `validate:"dive,url"`
	Secret  string
	Timeout time.Duration
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MEDIABATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(config.Profiles.Repair) == 0 {
		config.Profiles.Repair = models.DefaultRepairProfiles()
	}
	config.Processing.Extensions = normalizeExtensions(config.Processing.Extensions)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	seen := make(map[string]bool)
	for _, p := range c.Profiles.Encoding {
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate encoding profile id %q", ErrInvalid, p.ID)
		}
		seen[p.ID] = true
	}

	seen = make(map[string]bool)
	for _, p := range c.Profiles.Repair {
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate repair profile id %q", ErrInvalid, p.ID)
		}
		seen[p.ID] = true
	}

	if c.Webhook.Enabled && len(c.Webhook.URLs) == 0 {
		return fmt.Errorf("%w: webhook enabled without urls", ErrInvalid)
	}
	if c.Storage.Enabled && c.Storage.BucketName == "" {
		return fmt.Errorf("%w: storage enabled without bucket", ErrInvalid)
	}
	if c.Processing.PublishOutputs && !c.Storage.Enabled {
		return fmt.Errorf("%w: publishOutputs requires storage", ErrInvalid)
	}

	return nil
}

// EncodingProfile looks up an encoding profile by id.
func (c *Config) EncodingProfile(id string) (models.EncodingProfile, bool) {
	for _, p := range c.Profiles.Encoding {
		if p.ID == id {
			return p, true
		}
	}
	return models.EncodingProfile{}, false
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// DefaultExtensions is the scan allow-list used when none is configured.
var DefaultExtensions = []string{
	".mp4", ".mkv", ".avi", ".mov", ".webm", ".flv", ".wmv",
	".mpg", ".mpeg", ".ts", ".vob", ".mts", ".m2ts",
}

func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	// Tool defaults
	v.SetDefault("tools.ffmpegPath", "ffmpeg")
	v.SetDefault("tools.ffprobePath", "ffprobe")
	v.SetDefault("tools.mkvmergePath", "mkvmerge")
	v.SetDefault("tools.probeTimeout", "30s")

	// Path defaults
	v.SetDefault("paths.outputDirectory", "output/processed_videos")
	v.SetDefault("paths.repairedDirectory", "output/repaired_videos")
	v.SetDefault("paths.jobStateDir", ".app_data/job_state")

	// Processing defaults
	v.SetDefault("processing.errorHandling", "skip")
	v.SetDefault("processing.outputFileExists", "rename")
	v.SetDefault("processing.deleteOriginalOnSuccess", false)
	v.SetDefault("processing.renamePattern", "{original_stem}_{profile_name}_{timestamp}")
	v.SetDefault("processing.repairRenamePattern", "{original_stem}_repaired_{timestamp}")
	v.SetDefault("processing.recursiveScan", false)
	v.SetDefault("processing.extensions", DefaultExtensions)
	v.SetDefault("processing.autoRepair", true)
	v.SetDefault("processing.verifyRepairedFiles", true)
	v.SetDefault("processing.attemptSequentially", true)
	v.SetDefault("processing.useCustomRepairProfiles", true)
	v.SetDefault("processing.enabledBuiltinStrategies", []string{"mkvmerge_remux"})
	v.SetDefault("processing.enabledRepairProfileIDs", []string{models.RepairProfileStreamCopyID})
	v.SetDefault("processing.repairTimeout", "300s")
	v.SetDefault("processing.publishOutputs", false)

	// Timeout defaults
	v.SetDefault("timeouts.enableDynamic", true)
	v.SetDefault("timeouts.multiplier", 2.0)
	v.SetDefault("timeouts.bufferSeconds", 300)
	v.SetDefault("timeouts.minSeconds", 600)
	v.SetDefault("timeouts.fixedSeconds", 86400)

	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.jwtSecret", "")
	v.SetDefault("server.rateLimitRPS", 10)
	v.SetDefault("server.rateLimitBurst", 20)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "mediabatch")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 4)
	v.SetDefault("database.minConns", 1)

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "processed-videos")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.prefix", "")

	// Queue defaults
	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.exchange", "mediabatch.events")

	// Webhook defaults
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.timeout", "30s")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "mediabatch")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")
}
