package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/supersonic-app/audiophile/backend"
	"github.com/supersonic-app/audiophile/backend/audio/format"
	"github.com/supersonic-app/audiophile/backend/audio/pipeline"
	"github.com/supersonic-app/audiophile/sharedutil"
)

const appName = "audiophile"

var allFormats = []format.Format{format.MP3, format.WAV, format.FLAC, format.M4A, format.OGG, format.Opus}

func main() {
	preset := flag.String("preset", "", "EQ preset to apply")
	eq := flag.String("eq", "", "comma separated band gains in dB, overrides -preset")
	volume := flag.Int("volume", -1, "volume from 0 to 100")
	station := flag.String("station", "", "play the source as a live stream of this station id")
	configPath := flag.String("config", "", "config file (default: user config dir)")
	compressor := flag.String("compressor", "", "enable or disable the compressor (on/off)")
	listPresets := flag.Bool("presets", false, "list EQ presets and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file or url>\n", appName)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *listPresets {
		names := sharedutil.MapSlice(pipeline.Presets(), func(p pipeline.Preset) string { return p.Name })
		fmt.Println(strings.Join(names, "\n"))
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	src := flag.Arg(0)

	app, err := backend.StartupApp(appName, *configPath)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	supported := sharedutil.FilterSlice(allFormats, func(f format.Format) bool {
		return app.Engine.Supports(format.Info{Format: f})
	})
	log.Printf("decoders available for: %v", supported)

	p := app.Player
	if *volume >= 0 {
		p.SetVolume(*volume)
	}
	if *preset != "" {
		if err := p.ApplyPreset(*preset); err != nil {
			log.Printf("preset %q: %v", *preset, err)
		} else {
			app.Config.Equalizer.Preset = *preset
		}
	}
	if *eq != "" {
		p.SetEQBands(parseBands(*eq))
	}
	switch strings.ToLower(*compressor) {
	case "on", "true", "1":
		app.SetCompressorEnabled(true)
	case "off", "false", "0":
		app.SetCompressorEnabled(false)
	}

	done := make(chan struct{}, 1)
	finish := func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}
	p.OnLoadError(func(err error) {
		log.Printf("cannot play %s: %v", src, err)
		finish()
	})
	p.OnLoaded(func() {
		info := p.FormatInfo()
		fmt.Printf("%s  [%s] %s\n", src, format.QualityLabel(info), format.TechnicalSpecs(info))
	})
	onProgress := func(pct float64) {
		fmt.Printf("\r%5.1f%%  %v / %v ", pct, p.CurrentTime().Round(time.Second), p.Duration().Round(time.Second))
	}
	onEnd := func() {
		fmt.Println()
		finish()
	}

	if *station != "" {
		p.LoadStation(src, *station, nil, onEnd)
	} else {
		p.LoadTrack(src, src, onProgress, onEnd)
	}
	if err := p.Play(); err != nil {
		log.Printf("play: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		fmt.Println()
	case <-done:
	}

	if err := app.Shutdown(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// parseBands reads comma separated gains, skipping entries that are not
// numbers.
func parseBands(s string) []float64 {
	return sharedutil.FilterMapSlice(strings.Split(s, ","), func(f string) (float64, bool) {
		g, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			log.Printf("ignoring EQ value %q", f)
			return 0, false
		}
		return g, true
	})
}
