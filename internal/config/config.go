package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/guseggert/uciproc/engine"
	"github.com/guseggert/uciproc/internal/files"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of the agent.
type Config struct {
	Engine     EngineConfig `yaml:"engine"`
	ListenAddr string       `yaml:"listen_addr"`
	LogLevel   string       `yaml:"log_level"`
}

type EngineConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
	Dir     string   `yaml:"dir"`
	// EvalFile is an NNUE network. A relative path is looked up in the working directory and its parents.
	EvalFile string `yaml:"eval_file"`
}

func Default() Config {
	return Config{
		Engine:     EngineConfig{Command: "stockfish"},
		ListenAddr: "127.0.0.1:8080",
		LogLevel:   "info",
	}
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Engine.Command == "" {
		return errors.New("engine command is required")
	}
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c Config) Level() (zapcore.Level, error) {
	l, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return l, fmt.Errorf("parsing log level: %w", err)
	}
	return l, nil
}

// EngineConfig resolves the engine section against workDir.
func (c Config) EngineConfig(workDir string) (engine.Config, error) {
	evalFile := c.Engine.EvalFile
	if evalFile != "" && !filepath.IsAbs(evalFile) {
		found, err := files.FindUp(evalFile, workDir)
		if err != nil {
			return engine.Config{}, fmt.Errorf("finding eval file: %w", err)
		}
		if found == "" {
			return engine.Config{}, fmt.Errorf("eval file %q not found in %q or its parents", evalFile, workDir)
		}
		evalFile = found
	}
	return engine.Config{
		Command:  c.Engine.Command,
		Args:     c.Engine.Args,
		Env:      c.Engine.Env,
		Dir:      c.Engine.Dir,
		EvalFile: evalFile,
	}, nil
}
