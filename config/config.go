package config

import (
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/futhark-host/engine"
	"github.com/wippyai/futhark-host/errors"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// levels: FUTHARK_ENGINE__MEMORY_LIMIT_PAGES sets engine.memory_limit_pages.
const EnvPrefix = "FUTHARK_"

// Output targets for guest WASI streams.
const (
	OutputDiscard = "discard"
	OutputStdout  = "stdout"
	OutputStderr  = "stderr"
)

type Config struct {
	Engine    Engine    `koanf:"engine"`
	Log       Log       `koanf:"log"`
	Telemetry Telemetry `koanf:"telemetry"`
}

type Engine struct {
	// Mode is "compiler", "interpreter" or empty for the platform default.
	Mode string `koanf:"mode"`
	// MemoryLimitPages caps guest memory in 64 KiB pages; 0 keeps wazero's limit.
	MemoryLimitPages uint32 `koanf:"memory_limit_pages"`
	EnableThreads    bool   `koanf:"enable_threads"`
	WASI             WASI   `koanf:"wasi"`
}

// WASI routes the guest's standard streams to discard, stdout or stderr.
type WASI struct {
	Stdout string `koanf:"stdout"`
	Stderr string `koanf:"stderr"`
}

type Log struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

type Telemetry struct {
	// Trace exports spans for foreign calls to stderr.
	Trace bool `koanf:"trace"`
}

var defaults = map[string]any{
	"engine.mode":               "",
	"engine.memory_limit_pages": 0,
	"engine.enable_threads":     false,
	"engine.wasi.stdout":        OutputStderr,
	"engine.wasi.stderr":        OutputStderr,
	"log.level":                 "warn",
	"log.development":           false,
	"telemetry.trace":           false,
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	c, err := load("", false)
	if err != nil {
		panic(err)
	}
	return c
}

// Load layers defaults, the YAML file at path (skipped when empty) and
// FUTHARK_ environment variables, in that order.
func Load(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, withEnv bool) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "load defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
				Cause(err).
				Detail("load %s", path).
				Build()
		}
	}
	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "load environment")
		}
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode configuration")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// envKey maps FUTHARK_LOG__LEVEL to log.level.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ToLower(strings.ReplaceAll(s, "__", "."))
}

// Validate rejects unknown modes, output targets and log levels.
func (c *Config) Validate() error {
	switch engine.Mode(c.Engine.Mode) {
	case "", engine.ModeCompiler, engine.ModeInterpreter:
	default:
		return invalid("engine.mode", c.Engine.Mode)
	}
	for key, v := range map[string]string{
		"engine.wasi.stdout": c.Engine.WASI.Stdout,
		"engine.wasi.stderr": c.Engine.WASI.Stderr,
	} {
		if _, err := output(v); err != nil {
			return invalid(key, v)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", c.Log.Level)
	}
	return nil
}

func invalid(key, value string) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(strings.Split(key, ".")...).
		Value(value).
		Detail("invalid %s %q", key, value).
		Build()
}

func output(name string) (io.Writer, error) {
	switch name {
	case OutputDiscard, "":
		return nil, nil
	case OutputStdout:
		return os.Stdout, nil
	case OutputStderr:
		return os.Stderr, nil
	}
	return nil, errors.InvalidInput(errors.PhaseConfig, "unknown output "+name)
}

// EngineConfig converts the engine section for engine.NewWazeroEngineWithConfig.
func (c *Config) EngineConfig() (*engine.Config, error) {
	stdout, err := output(c.Engine.WASI.Stdout)
	if err != nil {
		return nil, err
	}
	stderr, err := output(c.Engine.WASI.Stderr)
	if err != nil {
		return nil, err
	}
	return &engine.Config{
		Stdout:           stdout,
		Stderr:           stderr,
		Mode:             engine.Mode(c.Engine.Mode),
		MemoryLimitPages: c.Engine.MemoryLimitPages,
		EnableThreads:    c.Engine.EnableThreads,
	}, nil
}

// Logger builds a zap logger writing to stderr at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, invalid("log.level", c.Log.Level)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
