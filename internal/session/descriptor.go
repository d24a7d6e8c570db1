// Package session implements the background session saver: a worker
// goroutine that marshals every registered looper's current take set to
// disk and writes the pretty-printed `project.loopers` session descriptor,
// and the symmetric loader that rebuilds an Engine's looper registry from
// one.
package session

import (
	"time"

	"github.com/loopforge/engine/internal/looper"
	"github.com/loopforge/engine/internal/metric"
)

// descriptorLooper is one looper's persisted fields: id, mode, parts (four
// booleans), speed enum, pan, level, offset in frames, and the take WAV
// filenames in order.
type descriptorLooper struct {
	ID            uint32   `yaml:"id"`
	Mode          string   `yaml:"mode"`
	Parts         partsDoc `yaml:"parts"`
	Speed         string   `yaml:"speed"`
	Pan           float64  `yaml:"pan"`
	Level         float64  `yaml:"level"`
	OffsetSamples int64    `yaml:"offset_samples"`
	Samples       []string `yaml:"samples"`
}

type partsDoc struct {
	A bool `yaml:"a"`
	B bool `yaml:"b"`
	C bool `yaml:"c"`
	D bool `yaml:"d"`
}

func partsToDoc(p metric.PartSet) partsDoc {
	return partsDoc{A: p[metric.PartA], B: p[metric.PartB], C: p[metric.PartC], D: p[metric.PartD]}
}

func (d partsDoc) toPartSet() metric.PartSet {
	return metric.PartSet{metric.PartA: d.A, metric.PartB: d.B, metric.PartC: d.C, metric.PartD: d.D}
}

func modeToString(m looper.Mode) string { return m.String() }

func modeFromString(s string) looper.Mode {
	switch s {
	case "Recording":
		return looper.ModeRecording
	case "Overdubbing":
		return looper.ModeOverdubbing
	case "Muted":
		return looper.ModeMuted
	case "Soloed":
		return looper.ModeSoloed
	default:
		return looper.ModePlaying
	}
}

func speedToString(s looper.Speed) string {
	switch s {
	case looper.SpeedHalf:
		return "1/2x"
	case looper.SpeedDouble:
		return "2x"
	default:
		return "1x"
	}
}

func speedFromString(s string) looper.Speed {
	switch s {
	case "1/2x":
		return looper.SpeedHalf
	case "2x":
		return looper.SpeedDouble
	default:
		return looper.SpeedOne
	}
}

// metricDoc persists tempo both as BPM and as samples-per-beat: a future
// reader missing one representation can always derive from the other given
// the sample rate also written alongside it.
type metricDoc struct {
	BPM             float64 `yaml:"bpm"`
	SamplesPerBeat  int64   `yaml:"samples_per_beat"`
	SignatureUpper  int     `yaml:"signature_upper"`
	SignatureLower  int     `yaml:"signature_lower"`
}

// Descriptor is the Go type marshaled to/from project.loopers via yaml.v3.
type Descriptor struct {
	SaveTime        string              `yaml:"save_time"`
	Metric          metricDoc           `yaml:"metric_structure"`
	MetronomeVolume float64             `yaml:"metronome_volume"`
	SyncMode        string              `yaml:"sync_mode"`
	SampleRate      int                 `yaml:"sample_rate"`
	Loopers         []descriptorLooper  `yaml:"loopers"`
}

func syncModeToString(m metric.SyncMode) string {
	switch m {
	case metric.SyncBeat:
		return "Beat"
	case metric.SyncMeasure:
		return "Measure"
	default:
		return "Free"
	}
}

func syncModeFromString(s string) metric.SyncMode {
	switch s {
	case "Beat":
		return metric.SyncBeat
	case "Measure":
		return metric.SyncMeasure
	default:
		return metric.SyncFree
	}
}

func buildDescriptor(saveTime time.Time, structure metric.MetricStructure, sampleRate int, metronomeVolume float64, syncMode metric.SyncMode, saved []looper.SavedLooper) Descriptor {
	d := Descriptor{
		SaveTime: saveTime.Format(time.RFC3339),
		Metric: metricDoc{
			BPM:            structure.Tempo.BPM(),
			SamplesPerBeat: structure.SamplesPerBeat(sampleRate),
			SignatureUpper: structure.TimeSignature.Upper,
			SignatureLower: structure.TimeSignature.Lower,
		},
		MetronomeVolume: metronomeVolume,
		SyncMode:        syncModeToString(syncMode),
		SampleRate:      sampleRate,
	}
	for _, sl := range saved {
		d.Loopers = append(d.Loopers, descriptorLooper{
			ID:            sl.ID,
			Mode:          modeToString(sl.Mode),
			Parts:         partsToDoc(sl.Parts),
			Speed:         speedToString(sl.Speed),
			Pan:           sl.Pan,
			Level:         sl.Level,
			OffsetSamples: sl.OffsetSamples,
			Samples:       sl.Samples,
		})
	}
	return d
}
