// Package config loads the process configuration: connections, chains and
// the infrastructure endpoints used by the server and worker.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nadmax/gpcheck/internal/chain"
	"github.com/nadmax/gpcheck/internal/checks"
	"github.com/nadmax/gpcheck/internal/connection"
	"gopkg.in/yaml.v3"
)

const defaultPostgresPort = 5432

type Config struct {
	Server      ServerConfig                `yaml:"server"`
	Redis       RedisConfig                 `yaml:"redis"`
	History     HistoryConfig               `yaml:"history"`
	Executor    ExecutorConfig              `yaml:"executor"`
	Worker      WorkerConfig                `yaml:"worker"`
	Alerts      AlertsConfig                `yaml:"alerts"`
	Connections map[string]ConnectionConfig `yaml:"connections"`
	Chains      []ChainConfig               `yaml:"chains"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type HistoryConfig struct {
	DSN string `yaml:"dsn"`
}

type ExecutorConfig struct {
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

type WorkerConfig struct {
	ID           string        `yaml:"id"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type AlertsConfig struct {
	To          string `yaml:"to"`
	FromName    string `yaml:"from_name"`
	FromAddress string `yaml:"from_address"`
	APIKey      string `yaml:"api_key"`
}

func (a AlertsConfig) Enabled() bool {
	return a.APIKey != "" && a.To != "" && a.FromAddress != ""
}

// ConnectionConfig mirrors the fields of an external connection record:
// host, port, schema (database), login, password and driver extras such as
// sslmode.
type ConnectionConfig struct {
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Schema   string            `yaml:"schema"`
	Login    string            `yaml:"login"`
	Password string            `yaml:"password"`
	Extra    map[string]string `yaml:"extra"`
}

type ChainConfig struct {
	ID           string             `yaml:"id"`
	Description  string             `yaml:"description"`
	Schedule     string             `yaml:"schedule"`
	StartDate    time.Time          `yaml:"start_date"`
	Tags         []string           `yaml:"tags"`
	Tasks        []TaskConfig       `yaml:"tasks"`
	Dependencies []DependencyConfig `yaml:"dependencies"`
}

type TaskConfig struct {
	ID         string `yaml:"id"`
	Connection string `yaml:"connection"`
	SQL        string `yaml:"sql"`
}

type DependencyConfig struct {
	Upstream   string `yaml:"upstream"`
	Downstream string `yaml:"downstream"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Executor: ExecutorConfig{
			StatementTimeout: 5 * time.Minute,
		},
		Worker: WorkerConfig{
			PollInterval: time.Second,
		},
	}
}

func Load() (*Config, error) {
	path := os.Getenv("GPCHECK_CONFIG")
	if path == "" {
		path = "config/gpcheck.yaml"
	}

	return LoadFile(path)
}

// LoadFile reads the YAML file at path on top of the defaults. A missing
// file is not an error. Environment variables referenced in the file are
// expanded before parsing, so secrets need not be written to disk.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.History.DSN = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		cfg.Worker.ID = v
	}
	if v := os.Getenv("EMAIL_API_KEY"); v != "" {
		cfg.Alerts.APIKey = v
	}
	if v := os.Getenv("FROM_NAME"); v != "" {
		cfg.Alerts.FromName = v
	}
	if v := os.Getenv("FROM_ADDRESS"); v != "" {
		cfg.Alerts.FromAddress = v
	}
	if v := os.Getenv("ALERT_TO"); v != "" {
		cfg.Alerts.To = v
	}
}

func (c *Config) Resolver() *connection.Resolver {
	specs := make(map[string]connection.Spec, len(c.Connections))
	for id, cc := range c.Connections {
		port := cc.Port
		if port == 0 {
			port = defaultPostgresPort
		}
		specs[id] = connection.Spec{
			Host:     cc.Host,
			Port:     port,
			Database: cc.Schema,
			Login:    cc.Login,
			Secret:   connection.Secret(cc.Password),
			Options:  cc.Extra,
		}
	}

	return connection.NewResolver(specs)
}

// Definitions builds the configured chains followed by the built-in
// Greenplum smoke test, unless a configured chain already uses its id.
func (c *Config) Definitions() ([]*chain.Definition, error) {
	defs := make([]*chain.Definition, 0, len(c.Chains)+1)
	builtinOverridden := false
	for _, cc := range c.Chains {
		b := chain.NewBuilder(cc.ID).
			Description(cc.Description).
			StartDate(cc.StartDate).
			Tags(cc.Tags...)
		if cc.Schedule != "" {
			b.Scheduled(cc.Schedule)
		}
		for _, t := range cc.Tasks {
			b.AddTask(t.ID, t.Connection, t.SQL)
		}
		for _, d := range cc.Dependencies {
			b.AddDependency(d.Upstream, d.Downstream)
		}

		def, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("invalid chain %q: %w", cc.ID, err)
		}
		if def.ID == checks.GreenplumSimpleID {
			builtinOverridden = true
		}
		defs = append(defs, def)
	}

	if !builtinOverridden {
		def, err := checks.GreenplumSimple(checks.DefaultConnection)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return defs, nil
}
