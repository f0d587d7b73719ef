package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	MasterID  string          `yaml:"master_id"`
	Web       WebConfig       `yaml:"web"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Messaging MessagingConfig `yaml:"messaging"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// SessionKey signs the admin session cookie. AdminPasswordHash is a
	// bcrypt hash; an empty value disables the admin endpoints.
	SessionKey        string `yaml:"session_key"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Address  string   `yaml:"address"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// FleetConfig tunes the liveness and reclaim loops. HeartbeatTimeout must
// exceed the interval slaves send at; the retry limit is what absorbs
// one-off misses, not the raw timeout.
type FleetConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  Duration `yaml:"heartbeat_timeout"`
	RetryLimit        int      `yaml:"retry_limit"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
	ReclaimInterval   Duration `yaml:"reclaim_interval"`
}

type MessagingConfig struct {
	Backend             string   `yaml:"backend"` // "kafka", "mqtt" or "none"
	Brokers             []string `yaml:"brokers"`
	BrokerURL           string   `yaml:"broker_url"`
	ClientID            string   `yaml:"client_id"`
	EventsTopic         string   `yaml:"events_topic"`
	OutboxDrainInterval Duration `yaml:"outbox_drain_interval"`
}

type ForwarderConfig struct {
	Port    int      `yaml:"port"`
	Timeout Duration `yaml:"timeout"`
}

// Duration wraps time.Duration so YAML values can be written as "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MasterID == "" {
		host, _ := os.Hostname()
		c.MasterID = "fleetcore-" + host
	}
	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8321
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "fleetcore.db"
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "127.0.0.1:6379"
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = Duration(30 * time.Second)
	}
	if c.Fleet.HeartbeatInterval == 0 {
		c.Fleet.HeartbeatInterval = Duration(10 * time.Second)
	}
	if c.Fleet.HeartbeatTimeout == 0 {
		c.Fleet.HeartbeatTimeout = Duration(30 * time.Second)
	}
	if c.Fleet.RetryLimit == 0 {
		c.Fleet.RetryLimit = 3
	}
	if c.Fleet.IdleTimeout == 0 {
		c.Fleet.IdleTimeout = Duration(4 * time.Hour)
	}
	if c.Fleet.ReclaimInterval == 0 {
		c.Fleet.ReclaimInterval = Duration(time.Minute)
	}
	if c.Messaging.Backend == "" {
		c.Messaging.Backend = "none"
	}
	if c.Messaging.ClientID == "" {
		c.Messaging.ClientID = c.MasterID
	}
	if c.Messaging.EventsTopic == "" {
		c.Messaging.EventsTopic = "fleetcore.events"
	}
	if c.Messaging.OutboxDrainInterval == 0 {
		c.Messaging.OutboxDrainInterval = Duration(5 * time.Second)
	}
	if c.Forwarder.Port == 0 {
		c.Forwarder.Port = 7575
	}
	if c.Forwarder.Timeout == 0 {
		c.Forwarder.Timeout = Duration(5 * time.Second)
	}
}
