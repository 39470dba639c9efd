// Package config loads runner configuration from a TOML file, a .env file
// and the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/runner/internal/executor"
	"github.com/programme-lv/runner/internal/limiter"
	"github.com/programme-lv/runner/internal/pool"
	"github.com/programme-lv/runner/internal/sandbox"
	"github.com/programme-lv/runner/internal/xdg"
)

const AppName = "runner"

const (
	BackendLocal   = "local"
	BackendIsolate = "isolate"
	BackendDocker  = "docker"
)

// Duration reads TOML strings such as "250ms" or "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	LogLevel  string              `toml:"log_level"`
	Pool      PoolConfig          `toml:"pool"`
	Limiter   LimiterConfig       `toml:"limiter"`
	Executor  ExecutorConfig      `toml:"executor"`
	Sandbox   SandboxConfig       `toml:"sandbox"`
	Intake    IntakeConfig        `toml:"intake"`
	Sink      SinkConfig          `toml:"sink"`
	Languages []executor.Language `toml:"languages"`
}

type PoolConfig struct {
	Workers     int      `toml:"workers"`
	QueueSize   int      `toml:"queue_size"`
	ResultTTL   Duration `toml:"result_ttl"`
	SinkTimeout Duration `toml:"sink_timeout"`
}

type LimiterConfig struct {
	PollInterval       Duration `toml:"poll_interval"`
	TimeTolerance      Duration `toml:"time_tolerance"`
	MemoryTolerancePct float64  `toml:"memory_tolerance_pct"`
}

type ExecutorConfig struct {
	OutputLimitBytes int64    `toml:"output_limit_bytes"`
	CompileTime      Duration `toml:"compile_time_limit"`
	CompileMemoryKiB int64    `toml:"compile_memory_kib"`
	WorkspaceRoot    string   `toml:"workspace_root"`
}

type SandboxConfig struct {
	Backend       string `toml:"backend"`
	Namespaces    bool   `toml:"namespaces"`
	IsolateBinary string `toml:"isolate_binary"`
	DockerImage   string `toml:"docker_image"`
	DockerPids    int64  `toml:"docker_pids_limit"`
}

type IntakeConfig struct {
	HTTPAddr        string `toml:"http_addr"`
	DefaultLanguage string `toml:"default_language"`
	MaxCodeBytes    int    `toml:"max_code_bytes"`
	MaxInputBytes   int64  `toml:"max_input_bytes"`
	S3Region        string `toml:"s3_region"`

	NatsURL        string `toml:"nats_url"`
	NatsSubject    string `toml:"nats_subject"`
	NatsQueueGroup string `toml:"nats_queue_group"`
	SqsQueueURL    string `toml:"sqs_queue_url"`
	RedisAddr      string `toml:"redis_addr"`
	RedisPassword  string `toml:"-"`
	RedisList      string `toml:"redis_list"`
}

type SinkConfig struct {
	Terminal bool `toml:"terminal"`

	PostgresDSN   string `toml:"-"`
	PostgresTable string `toml:"postgres_table"`
	Migrate       bool   `toml:"migrate"`

	NatsSubject string `toml:"nats_subject"`
	SqsQueueURL string `toml:"sqs_queue_url"`
	RedisStream string `toml:"redis_stream"`
}

func strPtr(s string) *string { return &s }

func DefaultLanguages() []executor.Language {
	return []executor.Language{
		{
			ID:        "python3",
			Name:      "Python 3",
			FileExt:   ".py",
			ExecCmd:   "python3 main.py",
			HelloCode: `print("hello world")`,
		},
		{
			ID:            "cpp17",
			Name:          "C++17 (GCC)",
			FileExt:       ".cpp",
			CompileCmd:    strPtr("g++ -std=c++17 -O2 -o main main.cpp"),
			CompiledFname: strPtr("main"),
			ExecCmd:       "./main",
			HelloCode:     "#include <iostream>\nint main() { std::cout << \"hello world\\n\"; }\n",
		},
		{
			ID:        "sh",
			Name:      "POSIX shell",
			FileExt:   ".sh",
			ExecCmd:   "sh main.sh",
			HelloCode: "echo hello world",
		},
	}
}

func Default() *Config {
	dirs := xdg.NewXDGDirs()
	lim := limiter.DefaultConfig()
	exe := executor.DefaultConfig()
	pl := pool.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Pool: PoolConfig{
			Workers:     pl.Workers,
			QueueSize:   pl.QueueSize,
			ResultTTL:   Duration{pl.ResultTTL},
			SinkTimeout: Duration{pl.SinkTimeout},
		},
		Limiter: LimiterConfig{
			PollInterval:       Duration{lim.PollInterval},
			TimeTolerance:      Duration{lim.TimeTolerance},
			MemoryTolerancePct: lim.MemoryTolerancePct,
		},
		Executor: ExecutorConfig{
			OutputLimitBytes: exe.OutputLimitBytes,
			CompileTime:      Duration{exe.CompileLimits.Time},
			CompileMemoryKiB: exe.CompileLimits.MemoryKiB,
			WorkspaceRoot:    filepath.Join(dirs.AppRuntimeDir(AppName), "workspaces"),
		},
		Sandbox: SandboxConfig{
			Backend:       BackendLocal,
			IsolateBinary: "isolate",
			DockerPids:    64,
		},
		Intake: IntakeConfig{
			DefaultLanguage: "python3",
			MaxCodeBytes:    64 * 1024,
			MaxInputBytes:   64 << 20,
			S3Region:        "eu-central-1",
			NatsQueueGroup:  AppName,
		},
		Sink: SinkConfig{
			PostgresTable: "submissions",
		},
		Languages: DefaultLanguages(),
	}
}

// DefaultPath is $XDG_CONFIG_HOME/runner/config.toml.
func DefaultPath() string {
	return filepath.Join(xdg.NewXDGDirs().AppConfigDir(AppName), "config.toml")
}

// Load reads the config file at path. An empty path means DefaultPath,
// which may be missing. A .env file in the working directory is loaded
// into the environment first when present.
func Load(path string) (*Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()

	optional := path == ""
	if optional {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case optional && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	// an absent languages table keeps the defaults; a present one replaces them
	var probe struct {
		Languages []executor.Language `toml:"languages"`
	}
	if err := toml.Unmarshal(data, &probe); err != nil {
		return err
	}
	if len(probe.Languages) > 0 {
		c.Languages = nil
	}
	return toml.Unmarshal(data, c)
}

func (c *Config) Validate() error {
	switch c.Sandbox.Backend {
	case BackendLocal, BackendIsolate:
	case BackendDocker:
		if c.Sandbox.DockerImage == "" {
			return errors.New("sandbox.docker_image is required for the docker backend")
		}
	default:
		return fmt.Errorf("unknown sandbox backend %q", c.Sandbox.Backend)
	}

	if len(c.Languages) == 0 {
		return errors.New("no languages configured")
	}
	ids := mapset.NewThreadUnsafeSet[string]()
	for _, l := range c.Languages {
		if l.ID == "" || l.ExecCmd == "" {
			return fmt.Errorf("language %q needs an id and an exec_cmd", l.Name)
		}
		if !ids.Add(l.ID) {
			return fmt.Errorf("duplicate language id %q", l.ID)
		}
		if (l.CompileCmd == nil) != (l.CompiledFname == nil) {
			return fmt.Errorf("language %q: compile_cmd and compiled_fname go together", l.ID)
		}
	}
	if c.Intake.DefaultLanguage != "" && !ids.Contains(c.Intake.DefaultLanguage) {
		return fmt.Errorf("default language %q is not configured", c.Intake.DefaultLanguage)
	}

	if c.Limiter.MemoryTolerancePct < 0 || c.Limiter.TimeTolerance.Duration < 0 {
		return errors.New("limiter tolerances must not be negative")
	}
	if c.Pool.QueueSize <= 0 {
		return errors.New("pool.queue_size must be positive")
	}
	if c.Pool.Workers <= 0 {
		c.Pool.Workers = runtime.NumCPU()
	}
	return nil
}

func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		Workers:     c.Pool.Workers,
		QueueSize:   c.Pool.QueueSize,
		ResultTTL:   c.Pool.ResultTTL.Duration,
		SinkTimeout: c.Pool.SinkTimeout.Duration,
	}
}

func (c *Config) LimiterConfig() limiter.Config {
	return limiter.Config{
		PollInterval:       c.Limiter.PollInterval.Duration,
		TimeTolerance:      c.Limiter.TimeTolerance.Duration,
		MemoryTolerancePct: c.Limiter.MemoryTolerancePct,
	}
}

func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		OutputLimitBytes: c.Executor.OutputLimitBytes,
		CompileLimits: sandbox.Limits{
			Time:      c.Executor.CompileTime.Duration,
			MemoryKiB: c.Executor.CompileMemoryKiB,
		},
	}
}
