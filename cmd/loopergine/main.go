// Command loopergine wires the engine core to the one concrete host
// binding this module ships (internal/hostaudio), loads an optional MIDI
// controller mapping file, and implements --restore/--no-gui/--driver/
// --debug.
package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/loopforge/engine/internal/dsp"
	"github.com/loopforge/engine/internal/engine"
	"github.com/loopforge/engine/internal/hostaudio"
	"github.com/loopforge/engine/internal/looper"
	"github.com/loopforge/engine/internal/metric"
	"github.com/loopforge/engine/internal/session"
)

const defaultSampleRate = 44100

func main() {
	os.Exit(run())
}

func run() int {
	var (
		restore    = pflag.Bool("restore", false, "restore the last saved session")
		noGUI      = pflag.Bool("no-gui", false, "run headless, with no GUI event consumer")
		driver     = pflag.String("driver", "jack", "audio backend choice: jack|coreaudio (informational; this build always uses the bundled ebiten binding)")
		debug      = pflag.Bool("debug", false, "verbose (debug-level) logging to stderr; no log file is written")
		sessionDir = pflag.String("session-dir", "loopforge_sessions", "root directory for session save/restore")
		mappingFile = pflag.String("mapping", "", "path to a MIDI controller mapping file")
	)
	pflag.Parse()

	logger := charmlog.New(os.Stderr)
	if *debug {
		logger.SetLevel(charmlog.DebugLevel)
	} else {
		logger.SetLevel(charmlog.InfoLevel)
	}
	logger.Info("starting loopergine", "driver", *driver, "no-gui", *noGUI)

	structure := metric.MetricStructure{
		Tempo:         metric.NewTempo(120),
		TimeSignature: metric.TimeSignature{Upper: 4, Lower: 4},
	}
	normalClick := dsp.FromMono(clickWave(defaultSampleRate, 1800, 0.6))
	emphasisClick := dsp.FromMono(clickWave(defaultSampleRate, 2400, 0.9))

	eng := engine.New(defaultSampleRate, structure, normalClick, emphasisClick)

	saver := session.NewSaver(logAdapter{logger})
	go saver.Run()
	defer saver.Close()
	eng.Saver = saverPort{saver}

	if *mappingFile != "" {
		f, err := os.Open(*mappingFile)
		if err != nil {
			logger.Error("failed to open mapping file", "path", *mappingFile, "err", err)
			return 1
		}
		mapping, errs := engine.LoadMapping(f)
		f.Close()
		for _, e := range errs {
			logger.Warn("mapping parse error", "err", e)
		}
		eng.Mapping = mapping
	}

	if *restore {
		if err := restoreSession(eng, *sessionDir, defaultSampleRate, logger); err != nil {
			logger.Error("session restore failed", "err", err)
		}
	}

	if !*noGUI {
		guiCh := make(chan engine.Event, 256)
		eng.GUI = guiCh
		go consumeGUIEvents(guiCh, logger)
	}

	binding, err := hostaudio.New(eng, defaultSampleRate, hostaudio.SilentInput{}, nil)
	if err != nil {
		logger.Error("failed to start audio host binding", "err", err)
		return 1
	}
	eng.Host = binding
	binding.Start()
	defer binding.Stop()

	logger.Info("loopergine running; press enter to stop")
	fmt.Fscanln(os.Stdin)

	if _, err := saver.SaveSession(session.SaveRequest{
		Metric:          eng.MetricStructure(),
		MetronomeVolume: eng.MetronomeVolume(),
		SyncMode:        eng.SyncMode(),
		Path:            *sessionDir,
		SampleRate:      defaultSampleRate,
	}); err != nil {
		logger.Error("final session save failed", "err", err)
	}
	return 0
}

func restoreSession(eng *engine.Engine, root string, sampleRate int, logger *charmlog.Logger) error {
	dir, err := session.LastSession(root)
	if err != nil {
		return fmt.Errorf("no last session pointer: %w", err)
	}
	loaded, err := session.Load(dir, sampleRate, logAdapter{logger})
	if err != nil {
		return err
	}
	restored := make([]engine.RestoredLooper, len(loaded.Loopers))
	for i, ll := range loaded.Loopers {
		restored[i] = engine.RestoredLooper{
			ID:     ll.ID,
			Parts:  ll.Parts,
			Speed:  ll.Speed,
			Pan:    ll.Pan,
			Level:  ll.Level,
			Offset: ll.Offset,
			Takes:  ll.Takes,
		}
	}
	eng.Restore(loaded.Metric, loaded.SyncMode, loaded.MetronomeVolume, restored)
	logger.Info("restored session", "dir", filepath.Base(dir), "loopers", len(restored))
	return nil
}

func consumeGUIEvents(ch <-chan engine.Event, logger *charmlog.Logger) {
	for ev := range ch {
		switch e := ev.(type) {
		case engine.LogEvent:
			logger.Debug("engine", "level", e.Level, "msg", e.Message)
		case engine.StateSnapshot:
			logger.Debug("snapshot", "state", e.State, "time", e.Time, "part", e.CurrentPart, "loopers", e.LooperCount)
		}
	}
}

type logAdapter struct{ l *charmlog.Logger }

func (a logAdapter) Logf(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case "error":
		a.l.Error(msg)
	case "warn":
		a.l.Warn(msg)
	default:
		a.l.Info(msg)
	}
}

// saverPort adapts *session.Saver to engine.SaverPort.
type saverPort struct{ s *session.Saver }

func (p saverPort) AddLooper(id uint32, control chan<- looper.ControlMessage) {
	p.s.AddLooper(id, control)
}

func (p saverPort) RemoveLooper(id uint32) {
	p.s.RemoveLooper(id)
}

// clickWave synthesizes a short decaying sine burst for the metronome, so
// no click sample files need to ship with the binary.
func clickWave(sampleRate int, freq, amp float64) []float32 {
	const durationMS = 15
	n := sampleRate * durationMS / 1000
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(sampleRate)
		decay := 1 - float64(i)/float64(n)
		out[i] = float32(amp * decay * math.Sin(2*math.Pi*freq*t))
	}
	return out
}
