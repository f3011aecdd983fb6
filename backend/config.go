package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/20after4/configdir"
	"github.com/pelletier/go-toml/v2"
	"github.com/supersonic-app/audiophile/backend/audio/pipeline"
)

const configFile = "config.toml"

type AudioConfig struct {
	// SampleRate of the output device. Changes apply on the next start.
	SampleRate          int
	BufferMillis        int
	PerStationPipelines bool
	Compressor          bool
	FormatCacheSize     int
}

type EqualizerConfig struct {
	Preset string
	Bands  []float64
}

type PlaybackConfig struct {
	Volume                 int
	ProgressIntervalMillis int
}

type Config struct {
	Audio     AudioConfig
	Equalizer EqualizerConfig
	Playback  PlaybackConfig
}

func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:          48000,
			BufferMillis:        100,
			PerStationPipelines: true,
			Compressor:          true,
			FormatCacheSize:     512,
		},
		Equalizer: EqualizerConfig{
			Preset: "Flat",
			Bands:  make([]float64, pipeline.NumBands),
		},
		Playback: PlaybackConfig{
			Volume:                 100,
			ProgressIntervalMillis: 100,
		},
	}
}

// ConfigDir returns the per-user config directory for appName, creating
// it if needed.
func ConfigDir(appName string) (string, error) {
	dir := configdir.LocalConfig(appName)
	if err := configdir.MakePath(dir); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}
	return dir, nil
}

// DefaultConfigPath is the config file inside ConfigDir(appName).
func DefaultConfigPath(appName string) (string, error) {
	dir, err := ConfigDir(appName)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// ReadConfigFile reads the TOML config at path over the defaults. A
// missing file yields the defaults.
func ReadConfigFile(path string) (*Config, error) {
	c := DefaultConfig()
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(b, c); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	c.fixup()
	return c, nil
}

// fixup resets out of range values to their defaults.
func (c *Config) fixup() {
	def := DefaultConfig()
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 384000 {
		log.Printf("invalid sample rate %d, using %d", c.Audio.SampleRate, def.Audio.SampleRate)
		c.Audio.SampleRate = def.Audio.SampleRate
	}
	if c.Audio.BufferMillis < 0 {
		c.Audio.BufferMillis = def.Audio.BufferMillis
	}
	if c.Audio.FormatCacheSize <= 0 {
		c.Audio.FormatCacheSize = def.Audio.FormatCacheSize
	}
	if len(c.Equalizer.Bands) != pipeline.NumBands {
		c.Equalizer.Bands = def.Equalizer.Bands
	}
	if c.Playback.Volume < 0 || c.Playback.Volume > 100 {
		c.Playback.Volume = def.Playback.Volume
	}
	if c.Playback.ProgressIntervalMillis <= 0 {
		c.Playback.ProgressIntervalMillis = def.Playback.ProgressIntervalMillis
	}
}

// WriteConfigFile saves c as TOML, replacing the file at path atomically.
func (c *Config) WriteConfigFile(path string) error {
	b, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
