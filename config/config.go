// Package config loads the runtime configuration, from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joeycumines/go-framesync/scene"
)

type (
	// Config is the complete runtime configuration. Use Default for the
	// starting point, then overlay a file with Load.
	Config struct {
		Log      LogConfig      `yaml:"log"`
		Script   ScriptConfig   `yaml:"script"`
		Render   RenderConfig   `yaml:"render"`
		Queue    QueueConfig    `yaml:"queue"`
		IDs      scene.Ranges   `yaml:"ids"`
		Engine   EngineConfig   `yaml:"engine"`
		Callback CallbackConfig `yaml:"callbacks"`
	}

	LogConfig struct {
		// Level is one of the logiface level names, e.g. "info", "debug".
		Level string `yaml:"level"`
	}

	ScriptConfig struct {
		// Path is the script run at startup, optional.
		Path string `yaml:"path"`
		// Watch enables hot reload of Path on change.
		Watch         bool          `yaml:"watch"`
		WatchInterval time.Duration `yaml:"watch_interval"`
	}

	RenderConfig struct {
		// Background is a hex color, e.g. "#141419".
		Background string `yaml:"background"`
		// OutputDir enables PNG frame dumps, if set.
		OutputDir string `yaml:"output_dir"`
		// FrameRate is the render cadence, in frames per second.
		FrameRate float64 `yaml:"frame_rate"`
		// MaxFrames stops the render loop, if non-zero.
		MaxFrames uint64 `yaml:"max_frames"`
		DumpEvery uint64 `yaml:"dump_every"`
		Width     int    `yaml:"width"`
		Height    int    `yaml:"height"`
	}

	QueueConfig struct {
		// DropLogRates limits warnings for dropped commands, keyed by
		// window, e.g. {1s: 1, 1m: 10}. Unset uses the queue default.
		DropLogRates map[time.Duration]int `yaml:"drop_log_rates"`
		Capacity     int                   `yaml:"capacity"`
	}

	EngineConfig struct {
		// UpdateFunction is the global called once per pass.
		UpdateFunction string        `yaml:"update_function"`
		MaxDelta       time.Duration `yaml:"max_delta"`
	}

	CallbackConfig struct {
		// EagerReady makes callbacks ready at submission, rather than once
		// the render side has applied their command.
		EagerReady bool `yaml:"eager_ready"`
	}
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: `info`},
		Script: ScriptConfig{
			WatchInterval: 500 * time.Millisecond,
		},
		Render: RenderConfig{
			Background: `#141419`,
			FrameRate:  60,
			DumpEvery:  1,
			Width:      640,
			Height:     480,
		},
		Queue: QueueConfig{
			Capacity: 1024,
		},
		IDs: scene.DefaultRanges(),
		Engine: EngineConfig{
			UpdateFunction: `update`,
			MaxDelta:       100 * time.Millisecond,
		},
	}
}

// Load reads the YAML file at path over Default, then validates it.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Parse is Decode, for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads YAML from r over Default, then validates it. Unknown fields
// are rejected. Empty input yields the defaults.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Render.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("render.frame_rate must be positive, got %v", c.Render.FrameRate))
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		errs = append(errs, fmt.Errorf("render size must be positive, got %dx%d", c.Render.Width, c.Render.Height))
	}
	if c.Render.DumpEvery == 0 {
		errs = append(errs, errors.New("render.dump_every must be positive"))
	}
	if c.Queue.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must be positive, got %d", c.Queue.Capacity))
	}
	for window, n := range c.Queue.DropLogRates {
		if window <= 0 || n <= 0 {
			errs = append(errs, fmt.Errorf("queue.drop_log_rates: invalid rate %d per %s", n, window))
		}
	}
	if err := c.IDs.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.UpdateFunction == `` {
		errs = append(errs, errors.New("engine.update_function must not be empty"))
	}
	if c.Engine.MaxDelta <= 0 {
		errs = append(errs, errors.New("engine.max_delta must be positive"))
	}
	if c.Script.Watch && c.Script.WatchInterval <= 0 {
		errs = append(errs, errors.New("script.watch_interval must be positive"))
	}
	if c.Script.Watch && c.Script.Path == `` {
		errs = append(errs, errors.New("script.watch requires script.path"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// FrameInterval returns the render period derived from the frame rate.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.Render.FrameRate)
}
