package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type ClaimMode string

type SinkKind string

const (
	SinkDispatch SinkKind = "dispatch"
	SinkRedis    SinkKind = "redis"
)

const (
	// ClaimConditional only claims records still in status new and skips
	// dispatch when another consumer got there first.
	ClaimConditional ClaimMode = "conditional"
	// ClaimAdvisory writes the claim unconditionally and dispatches whatever
	// the outcome of that write was.
	ClaimAdvisory ClaimMode = "advisory"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"dev"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	APIAddr     string `env:"API_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	PostgresDSN    string `env:"POSTGRES_DSN,notEmpty"`
	StoreNamespace string `env:"STORE_NAMESPACE"`
	StoreDatabase  string `env:"STORE_DATABASE"`
	StoreUser      string `env:"STORE_USER"`
	StorePassword  string `env:"STORE_PASSWORD"`
	StoreToken     string `env:"STORE_TOKEN"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`
	MigrationsDir  string `env:"MIGRATIONS_DIR" envDefault:"db/migrations"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"fscmd"`

	CommandsTable string        `env:"COMMANDS_TABLE" envDefault:"fs_commands"`
	FsCli         string        `env:"FS_CLI" envDefault:"fs_cli"`
	ExecTimeout   time.Duration `env:"EXEC_TIMEOUT" envDefault:"20s"`
	ResultMaxLen  int           `env:"RESULT_MAX_LEN" envDefault:"1000"`

	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	PollBatch          int           `env:"POLL_BATCH" envDefault:"50"`
	ConnectBackoff     time.Duration `env:"CONNECT_BACKOFF" envDefault:"1s"`
	ResubscribeBackoff time.Duration `env:"RESUBSCRIBE_BACKOFF" envDefault:"1s"`
	ClaimMode          ClaimMode     `env:"CLAIM_MODE" envDefault:"conditional"`

	SubscribeTopics []string `env:"SUBSCRIBE_TOPICS" envSeparator:","`
	SubscribeFilter string   `env:"SUBSCRIBE_FILTER"`
	SinkKind        SinkKind `env:"SINK_KIND" envDefault:"dispatch"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.ClaimMode {
	case ClaimConditional, ClaimAdvisory:
	default:
		return fmt.Errorf("CLAIM_MODE must be %q or %q, got %q", ClaimConditional, ClaimAdvisory, c.ClaimMode)
	}
	switch c.SinkKind {
	case SinkDispatch, SinkRedis:
	default:
		return fmt.Errorf("SINK_KIND must be %q or %q, got %q", SinkDispatch, SinkRedis, c.SinkKind)
	}
	if c.CommandsTable == "" {
		return fmt.Errorf("COMMANDS_TABLE is empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.PollBatch <= 0 {
		return fmt.Errorf("POLL_BATCH must be positive")
	}
	if c.ConnectBackoff <= 0 || c.ResubscribeBackoff <= 0 {
		return fmt.Errorf("backoff durations must be positive")
	}
	if c.ResultMaxLen < 0 {
		return fmt.Errorf("RESULT_MAX_LEN must not be negative")
	}
	return nil
}
