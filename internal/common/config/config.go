// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig               `mapstructure:"app"`
	Broker       BrokerConfig            `mapstructure:"broker"`
	Database     DatabaseConfig          `mapstructure:"database"`
	Pipeline     PipelineConfig          `mapstructure:"pipeline"`
	Workers      map[string]WorkerConfig `mapstructure:"workers"`
	Integrations IntegrationConfig       `mapstructure:"integrations"`
	APIs         APIsConfig              `mapstructure:"apis"`
	Render       RenderConfig            `mapstructure:"render"`
	Scheduler    SchedulerConfig         `mapstructure:"scheduler"`
	Logging      LoggingConfig           `mapstructure:"logging"`
	Server       ServerConfig            `mapstructure:"server"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// BrokerConfig describes the AMQP connection and the queue topology.
type BrokerConfig struct {
	URL            string     `mapstructure:"url"`
	Prefetch       int        `mapstructure:"prefetch"`
	ConnectTimeout int        `mapstructure:"connect_timeout"` // milliseconds
	Exchange       string     `mapstructure:"exchange"`
	Queues         QueueNames `mapstructure:"queues"`
}

type QueueNames struct {
	Intake    string `mapstructure:"intake"`
	MarkDone  string `mapstructure:"mark_done"`
	Reprocess string `mapstructure:"reprocess"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// Enabled reports whether postings should be indexed at all.
func (e ElasticsearchConfig) Enabled() bool {
	return len(e.Addresses) > 0
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PipelineConfig carries the knobs shared by all stage workers.
type PipelineConfig struct {
	ScoreThreshold  int    `mapstructure:"score_threshold"`
	StageLockTTL    int    `mapstructure:"stage_lock_ttl"`    // seconds
	PipelineLockTTL int    `mapstructure:"pipeline_lock_ttl"` // seconds
	ConsumerLockTTL int    `mapstructure:"consumer_lock_ttl"` // seconds
	ProfileCacheTTL int    `mapstructure:"profile_cache_ttl"` // seconds
	BatchSize       int    `mapstructure:"batch_size"`
	TemplateRef     string `mapstructure:"template_ref"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Timeout    int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries int  `mapstructure:"max_retries"` // For error handling
}

// IntegrationConfig holds settings for email and notification services.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`

	SMTP struct {
		Host        string `mapstructure:"host"`
		Port        int    `mapstructure:"port"`
		Username    string `mapstructure:"username"`
		Password    string `mapstructure:"password"`
		UseTLS      bool   `mapstructure:"use_tls"`
		DefaultFrom string `mapstructure:"default_from"`
	} `mapstructure:"smtp"`
}

// APIsConfig holds settings for external API integrations.
type APIsConfig struct {
	LLM struct {
		BaseURL        string  `mapstructure:"base_url"`
		APIKey         string  `mapstructure:"api_key"`
		Model          string  `mapstructure:"model"`
		VisionModel    string  `mapstructure:"vision_model"`
		Timeout        int     `mapstructure:"timeout"` // milliseconds
		MaxRetries     int     `mapstructure:"max_retries"`
		RequestsPerMin float64 `mapstructure:"requests_per_minute"`
	} `mapstructure:"llm"`
}

// RenderConfig controls PDF output.
type RenderConfig struct {
	TemplateDir string `mapstructure:"template_dir"`
	OutputDir   string `mapstructure:"output_dir"`
	Timeout     int    `mapstructure:"timeout"` // milliseconds
}

// SchedulerConfig enables periodic stage sweeps inside the worker manager.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}
