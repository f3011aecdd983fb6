package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/supersonic-app/audiophile/backend/audio/device"
	"github.com/supersonic-app/audiophile/backend/audio/graph"
	"github.com/supersonic-app/audiophile/backend/audio/pipeline"
	"github.com/supersonic-app/audiophile/backend/player"
	"github.com/supersonic-app/audiophile/backend/player/ffmpeg"
	"github.com/supersonic-app/audiophile/backend/player/native"
)

const formatCacheEviction = 10 * time.Minute

// App owns the audio stack for the life of the process. Build it once at
// startup and call Shutdown before exiting.
type App struct {
	Config    *Config
	Host      graph.Host
	Engine    *native.Engine
	Pipelines *pipeline.Manager
	Player    *player.Player

	configPath string
	ctx        context.Context
	cancel     context.CancelFunc
}

// StartupApp reads the config at configPath, or the default location for
// appName if configPath is empty, and opens the audio device.
func StartupApp(appName, configPath string) (*App, error) {
	if configPath == "" {
		p, err := DefaultConfigPath(appName)
		if err != nil {
			return nil, err
		}
		configPath = p
	}
	cfg, err := ReadConfigFile(configPath)
	if err != nil {
		log.Printf("error reading config, using defaults: %v", err)
	}

	dev, err := device.Open(cfg.Audio.SampleRate, time.Duration(cfg.Audio.BufferMillis)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	a, err := NewApp(cfg, dev)
	if err != nil {
		return nil, err
	}
	a.configPath = configPath
	return a, nil
}

// NewApp wires the engine, pipeline manager and player on host according
// to cfg.
func NewApp(cfg *Config, host graph.Host) (*App, error) {
	engine, err := native.NewEngine(host)
	if err != nil {
		return nil, err
	}
	ffmpeg.Register(engine)
	engine.Cache.MaxSize = cfg.Audio.FormatCacheSize

	ctx, cancel := context.WithCancel(context.Background())
	engine.StartCacheEviction(ctx, formatCacheEviction)

	pipelines := pipeline.NewManager(host)
	pipelines.SetPerStationPipelines(cfg.Audio.PerStationPipelines)

	p := player.New(player.NativeEngine(engine), pipelines)
	p.ProgressInterval = time.Duration(cfg.Playback.ProgressIntervalMillis) * time.Millisecond
	p.SetVolume(cfg.Playback.Volume)
	if cfg.Equalizer.Preset != "" {
		if err := p.ApplyPreset(cfg.Equalizer.Preset); err != nil {
			log.Printf("EQ preset %q: %v", cfg.Equalizer.Preset, err)
			p.SetEQBands(cfg.Equalizer.Bands)
		}
	} else {
		p.SetEQBands(cfg.Equalizer.Bands)
	}

	a := &App{
		Config:    cfg,
		Host:      host,
		Engine:    engine,
		Pipelines: pipelines,
		Player:    p,
		ctx:       ctx,
		cancel:    cancel,
	}
	p.OnLoaded(a.applyPipelineConfig)
	return a, nil
}

func (a *App) applyPipelineConfig() {
	if pipe := a.Player.Pipeline(); pipe != nil {
		pipe.SetCompressorEnabled(a.Config.Audio.Compressor)
	}
}

// SetCompressorEnabled changes the compressor setting and applies it to
// the bound pipeline.
func (a *App) SetCompressorEnabled(enabled bool) {
	a.Config.Audio.Compressor = enabled
	a.applyPipelineConfig()
}

// Shutdown stops playback, disposes every pipeline, suspends the device
// and saves the config.
func (a *App) Shutdown() error {
	a.Player.Unload()
	a.Config.Playback.Volume = a.Player.Volume()
	bands := a.Player.EQBands()
	if preset, ok := pipeline.FindPreset(a.Config.Equalizer.Preset); !ok || !slices.Equal(preset.Bands[:], bands) {
		a.Config.Equalizer.Preset = ""
	}
	a.Config.Equalizer.Bands = bands

	var errs []error
	if err := a.Pipelines.Dispose(); err != nil {
		errs = append(errs, err)
	}
	a.cancel()
	if s, ok := a.Host.(interface{ Suspend() error }); ok {
		if err := s.Suspend(); err != nil {
			errs = append(errs, fmt.Errorf("failed to suspend audio device: %w", err))
		}
	}
	if a.configPath != "" {
		if err := a.Config.WriteConfigFile(a.configPath); err != nil {
			errs = append(errs, fmt.Errorf("failed to save config: %w", err))
		}
	}
	return errors.Join(errs...)
}
