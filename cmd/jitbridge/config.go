package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const maxConfigSize = 1024 * 1024 // 1MB

// Config is the on-disk configuration. Command line flags override it.
type Config struct {
	Message      string         `yaml:"message"`
	Args         []uint64       `yaml:"args"`
	Repeat       int            `yaml:"repeat"`
	Color        string         `yaml:"color"`
	LengthResult uint64         `yaml:"length_result"`
	Fortune      *FortuneConfig `yaml:"fortune"`
}

// FortuneConfig selects the external program the fortune demo runs.
type FortuneConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Message:      "Hello World!",
		Args:         []uint64{1, 2, 3, 4},
		Color:        "auto",
		LengthResult: 42,
	}
}

// LoadConfig reads path on top of the defaults. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(data) > maxConfigSize {
		return Config{}, fmt.Errorf("config %s exceeds %d bytes", path, maxConfigSize)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Args) > 4 {
		return fmt.Errorf("at most 4 program arguments, got %d", len(c.Args))
	}
	if c.Repeat < 0 {
		return fmt.Errorf("repeat must not be negative")
	}
	switch c.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("color must be auto, always or never, got %q", c.Color)
	}
	if c.Fortune != nil && c.Fortune.Command == "" {
		return fmt.Errorf("fortune.command is required")
	}
	return nil
}

// Arguments returns the four program arguments, padding missing ones with
// zero.
func (c Config) Arguments() [4]uint64 {
	var out [4]uint64
	copy(out[:], c.Args)
	return out
}
