package tracker

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings of a Model. The zero value of a field means the
// default.
type Config struct {
	MaxUndo    int     `yaml:"maxUndo"`
	SampleRate float64 `yaml:"sampleRate"`
	BlockSize  int     `yaml:"blockSize"`

	FlushFast time.Duration `yaml:"flushFast"`
	FlushStep time.Duration `yaml:"flushStep"`
	FlushSlow time.Duration `yaml:"flushSlow"`

	// DBPath is the bbolt database holding the recovery snapshot and the
	// recent projects. Empty disables both.
	DBPath string `yaml:"dbPath"`

	Logger *slog.Logger `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		MaxUndo:    defaultMaxUndo,
		SampleRate: 44100,
		BlockSize:  512,
		FlushFast:  100 * time.Millisecond,
		FlushStep:  20 * time.Millisecond,
		FlushSlow:  500 * time.Millisecond,
	}
}

// LoadConfig reads a YAML config. Fields missing from the input keep their
// defaults.
func LoadConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("could not read config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("invalid sample rate %v", c.SampleRate)
	case c.BlockSize <= 0:
		return fmt.Errorf("invalid block size %d", c.BlockSize)
	case c.FlushFast <= 0 || c.FlushSlow < c.FlushFast || c.FlushStep < 0:
		return fmt.Errorf("invalid flush intervals %v/%v/%v", c.FlushFast, c.FlushStep, c.FlushSlow)
	}
	return nil
}

// withDefaults fills in the zero fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxUndo <= 0 {
		c.MaxUndo = d.MaxUndo
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.BlockSize <= 0 {
		c.BlockSize = d.BlockSize
	}
	if c.FlushFast <= 0 {
		c.FlushFast = d.FlushFast
	}
	if c.FlushStep <= 0 {
		c.FlushStep = d.FlushStep
	}
	if c.FlushSlow < c.FlushFast {
		c.FlushSlow = max(d.FlushSlow, c.FlushFast)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
