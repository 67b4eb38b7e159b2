package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// IRConfig holds the application configuration
type IRConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Job is the batch ingestion job, launched as `<interpreter> <entrypoint> <args...>`
	Job struct {
		Interpreter string   `mapstructure:"interpreter"`
		Entrypoint  string   `mapstructure:"entrypoint"`
		Args        []string `mapstructure:"args"`
		WorkDir     string   `mapstructure:"workdir"`
		Env         []string `mapstructure:"env"`
	} `mapstructure:"job"`

	Supervisor struct {
		MaxAttempts           int    `mapstructure:"max_attempts"`
		RetryDelaySec         int    `mapstructure:"retry_delay_sec"`
		AttemptTimeoutSec     int    `mapstructure:"attempt_timeout_sec"`
		PollIntervalSec       int    `mapstructure:"poll_interval_sec"`
		ProgressIntervalSec   int    `mapstructure:"progress_interval_sec"`
		KillGraceSec          int    `mapstructure:"kill_grace_sec"`
		LogDir                string `mapstructure:"log_dir"`
		PIDFile               string `mapstructure:"pid_file"`
		ExitCodeAuthoritative bool   `mapstructure:"exit_code_authoritative"`
	} `mapstructure:"supervisor"`

	Markers struct {
		Completion string   `mapstructure:"completion"`
		Progress   []string `mapstructure:"progress"`
	} `mapstructure:"markers"`

	Probe struct {
		URL        string `mapstructure:"url"`
		Model      string `mapstructure:"model"`
		Prompt     string `mapstructure:"prompt"`
		TimeoutSec int    `mapstructure:"timeout_sec"`
	} `mapstructure:"probe"`

	Store struct {
		Host       string `mapstructure:"host"`
		Port       int    `mapstructure:"port"`
		APIKey     string `mapstructure:"api_key"`
		UseTLS     bool   `mapstructure:"use_tls"`
		Collection string `mapstructure:"collection"`
		TimeoutSec int    `mapstructure:"timeout_sec"`
	} `mapstructure:"store"`

	Audit struct {
		File string `mapstructure:"file"`
	} `mapstructure:"audit"`

	Database struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Queue struct {
		Enabled   bool   `mapstructure:"enabled"`
		Host      string `mapstructure:"host"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		MaxEvents int64  `mapstructure:"max_events"`
	} `mapstructure:"queue"`

	Metrics struct {
		Textfile string `mapstructure:"textfile"`
	} `mapstructure:"metrics"`

	Schedule struct {
		Cron string `mapstructure:"cron"`
	} `mapstructure:"schedule"`
}

// LoadConfig reads the configuration from a file or environment variables
func LoadConfig(configPaths ...string) (*IRConfig, error) {
	// can specify config path from environment
	if path, exists := os.LookupEnv("INGEST_CONFIG_PATH"); exists {
		configPaths = append(configPaths, path)
	}
	for _, path := range configPaths {
		fi, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		mode := fi.Mode()
		switch {
		case mode.IsRegular():
			v := newViper()
			v.SetConfigFile(path)
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil

		case mode.IsDir():
			v := newViper()
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			config, err := readConfig(v, path)
			if err != nil {
				continue
			}
			return config, nil
		}
	}

	v := newViper()
	// finally read from current working directory
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	cwd, _ := os.Getwd()

	config, err := readConfig(v, cwd)
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// no config file anywhere, defaults and environment still apply
		config = &IRConfig{}
		if err := v.Unmarshal(config); err != nil {
			return nil, err
		}
	}
	return config, nil
}

// newViper creates a viper instance with all default values set
func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	// Job defaults
	v.SetDefault("job.interpreter", "python3")
	v.SetDefault("job.entrypoint", "main.py")
	v.SetDefault("job.args", []string{"ingest-config"})
	v.SetDefault("job.workdir", ".")
	v.SetDefault("job.env", []string{"PYTHONUNBUFFERED=1"})

	// Supervisor defaults
	v.SetDefault("supervisor.max_attempts", 3)
	v.SetDefault("supervisor.retry_delay_sec", 60)
	v.SetDefault("supervisor.attempt_timeout_sec", 7200) // 2 hours
	v.SetDefault("supervisor.poll_interval_sec", 5)
	v.SetDefault("supervisor.progress_interval_sec", 300)
	v.SetDefault("supervisor.kill_grace_sec", 5)
	v.SetDefault("supervisor.log_dir", "logs")
	v.SetDefault("supervisor.pid_file", "logs/ingest.pid")
	v.SetDefault("supervisor.exit_code_authoritative", false)

	// Log markers emitted by the ingestion job
	v.SetDefault("markers.completion", "Successfully ingested")
	v.SetDefault("markers.progress", []string{
		"Processing space batch",
		"Processing page batch",
		"Processing space:",
		"Processed",
	})

	// Embedding service
	v.SetDefault("probe.url", "http://localhost:11434")
	v.SetDefault("probe.model", "nomic-embed-text")
	v.SetDefault("probe.prompt", "health check")
	v.SetDefault("probe.timeout_sec", 10)

	// Vector store (gRPC port)
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 6334)
	v.SetDefault("store.collection", "confluence_docs")
	v.SetDefault("store.timeout_sec", 30)

	v.SetDefault("audit.file", "logs/audit.ndjson")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "ingest")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.host", "localhost:6379")
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 0)
	v.SetDefault("queue.max_events", 10000)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("schedule.cron", "0 2 * * *") // daily at 02:00

	v.SetEnvPrefix("INGEST")                           // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores in env vars
	v.AutomaticEnv()                                   // Read environment variables

	return v
}

func readConfig(v *viper.Viper, path string) (*IRConfig, error) {
	var config IRConfig

	if err := v.ReadInConfig(); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not read config file")
		return nil, err
	}
	if err := v.Unmarshal(&config); err != nil {
		log.Warn().
			Str("path", path).
			Msg("Could not unmarshall config")
		return nil, err
	}

	return &config, nil
}

// Validate checks the values which would otherwise break the supervisor at runtime
func (c *IRConfig) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Job.Interpreter) == "" {
		errs = append(errs, errors.New("job.interpreter is empty"))
	}
	if c.Supervisor.MaxAttempts < 1 {
		errs = append(errs, errors.New("supervisor.max_attempts must be >= 1"))
	}
	if c.Supervisor.RetryDelaySec < 0 {
		errs = append(errs, errors.New("supervisor.retry_delay_sec must be >= 0"))
	}
	if c.Supervisor.AttemptTimeoutSec <= 0 {
		errs = append(errs, errors.New("supervisor.attempt_timeout_sec must be > 0"))
	}
	if c.Supervisor.PollIntervalSec <= 0 {
		errs = append(errs, errors.New("supervisor.poll_interval_sec must be > 0"))
	}
	if strings.TrimSpace(c.Supervisor.PIDFile) == "" {
		errs = append(errs, errors.New("supervisor.pid_file is empty"))
	}
	if strings.TrimSpace(c.Store.Collection) == "" {
		errs = append(errs, errors.New("store.collection is empty"))
	}
	if strings.TrimSpace(c.Probe.URL) == "" {
		errs = append(errs, errors.New("probe.url is empty"))
	}
	if c.Queue.Enabled && c.Queue.MaxEvents < 1 {
		errs = append(errs, errors.New("queue.max_events must be >= 1"))
	}

	return errors.Join(errs...)
}

// JobCommand returns the command name and arguments used to launch the ingestion job
func (c *IRConfig) JobCommand() (string, []string) {
	var args []string
	if c.Job.Entrypoint != "" {
		args = append(args, c.Job.Entrypoint)
	}
	args = append(args, c.Job.Args...)
	return c.Job.Interpreter, args
}

func (c *IRConfig) RetryDelay() time.Duration {
	return time.Duration(c.Supervisor.RetryDelaySec) * time.Second
}

func (c *IRConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.Supervisor.AttemptTimeoutSec) * time.Second
}

func (c *IRConfig) PollInterval() time.Duration {
	return time.Duration(c.Supervisor.PollIntervalSec) * time.Second
}

func (c *IRConfig) ProgressInterval() time.Duration {
	return time.Duration(c.Supervisor.ProgressIntervalSec) * time.Second
}

func (c *IRConfig) KillGrace() time.Duration {
	return time.Duration(c.Supervisor.KillGraceSec) * time.Second
}

func (c *IRConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSec) * time.Second
}

func (c *IRConfig) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutSec) * time.Second
}

// GetDatabaseURL returns a formatted database connection string
func (c *IRConfig) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
