package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/loopforge/engine/internal/dsp"
	"github.com/loopforge/engine/internal/looper"
	"github.com/loopforge/engine/internal/metric"
	"github.com/loopforge/engine/internal/wavfile"
)

// saveTimeout is the total budget across all loopers' serialize replies.
const saveTimeout = 10 * time.Second

// descriptorFile is the name of the structured document written inside
// each session directory.
const descriptorFile = "project.loopers"

// lastSessionFileName is the process-wide pointer written alongside the
// session root so `--restore` can find the most recent save.
const lastSessionFileName = "last_session"

// LooperTimeoutError reports that a looper's Serialize reply did not arrive
// within the session's shared save budget.
type LooperTimeoutError struct {
	ID uint32
}

func (e LooperTimeoutError) Error() string {
	return fmt.Sprintf("session: looper %d timed out during save", e.ID)
}

// Logger receives level/message pairs, matching the leveled logger the rest
// of this module uses (see engine.LogEvent / looper.LogEvent).
type Logger interface {
	Logf(level, format string, args ...any)
}

// command is the internal work-queue item consumed by Saver.Run.
type command interface{ isSessionCommand() }

type baseCommand struct{}

func (baseCommand) isSessionCommand() {}

type addLooperCmd struct {
	baseCommand
	ID      uint32
	Control chan<- looper.ControlMessage
}

type removeLooperCmd struct {
	baseCommand
	ID uint32
}

// SaveRequest carries everything SaveSession needs to reconstruct the
// session descriptor.
type SaveRequest struct {
	Metric          metric.MetricStructure
	MetronomeVolume float64
	SyncMode        metric.SyncMode
	Path            string
	SampleRate      int
}

type saveSessionCmd struct {
	baseCommand
	Request SaveRequest
	Reply   chan<- saveResult
}

type saveResult struct {
	Dir string
	Err error
}

// Saver is the background session-saving worker. Its public methods are
// safe to call from the audio thread (AddLooper/RemoveLooper are
// non-blocking sends) and from any other goroutine (SaveSession blocks on
// its own reply channel, never on the command queue itself being full for
// longer than it takes Run to drain one entry).
type Saver struct {
	cmds chan command
	log  Logger

	loopers map[uint32]chan<- looper.ControlMessage
}

// NewSaver constructs a Saver. log may be nil.
func NewSaver(log Logger) *Saver {
	return &Saver{
		cmds:    make(chan command, 256),
		log:     log,
		loopers: make(map[uint32]chan<- looper.ControlMessage),
	}
}

func (s *Saver) logf(level, format string, args ...any) {
	if s.log != nil {
		s.log.Logf(level, format, args...)
	}
}

// Run drains commands until cmds is closed. Meant to be the body of its own
// goroutine; blocks on its channel receive.
func (s *Saver) Run() {
	for c := range s.cmds {
		switch cmd := c.(type) {
		case addLooperCmd:
			s.loopers[cmd.ID] = cmd.Control
		case removeLooperCmd:
			delete(s.loopers, cmd.ID)
		case saveSessionCmd:
			dir, err := s.save(cmd.Request)
			cmd.Reply <- saveResult{Dir: dir, Err: err}
		}
	}
}

// Close stops Run after it drains whatever is already queued.
func (s *Saver) Close() { close(s.cmds) }

// AddLooper registers a looper's Backend control channel for future saves.
// Non-blocking: safe to call from the audio thread.
func (s *Saver) AddLooper(id uint32, control chan<- looper.ControlMessage) {
	select {
	case s.cmds <- addLooperCmd{ID: id, Control: control}:
	default:
		s.logf("warn", "session saver command queue full, dropped AddLooper(%d)", id)
	}
}

// RemoveLooper unregisters a looper. Non-blocking: safe to call from the
// audio thread.
func (s *Saver) RemoveLooper(id uint32) {
	select {
	case s.cmds <- removeLooperCmd{ID: id}:
	default:
		s.logf("warn", "session saver command queue full, dropped RemoveLooper(%d)", id)
	}
}

// SaveSession blocks until the save completes (or its 10s budget expires)
// and returns the session directory written. Call from the GUI/CLI thread,
// never from Process.
func (s *Saver) SaveSession(req SaveRequest) (string, error) {
	reply := make(chan saveResult, 1)
	s.cmds <- saveSessionCmd{Request: req, Reply: reply}
	res := <-reply
	return res.Dir, res.Err
}

// save does the actual work: create the timestamped directory, fan out a
// Serialize request to every registered looper with a bounded total
// timeout, then write the descriptor and last-session pointer.
func (s *Saver) save(req SaveRequest) (string, error) {
	now := time.Now()
	dir := filepath.Join(req.Path, now.Format("2006-01-02_15:04:05"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("session: create %s: %w", dir, err)
	}

	ids := make([]uint32, 0, len(s.loopers))
	for id := range s.loopers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	results := make([]looper.SavedLooper, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id, ctrl := i, id, s.loopers[id]
		g.Go(func() error {
			reply := make(chan looper.SavedLooper, 1)
			select {
			case ctrl <- looper.Serialize{Dir: dir, Reply: reply}:
			case <-gctx.Done():
				return LooperTimeoutError{ID: id}
			}
			select {
			case saved := <-reply:
				results[i] = saved
				return nil
			case <-gctx.Done():
				return LooperTimeoutError{ID: id}
			}
		})
	}
	saveErr := g.Wait()

	desc := buildDescriptor(now, req.Metric, req.SampleRate, req.MetronomeVolume, req.SyncMode, results)
	data, err := yaml.Marshal(desc)
	if err != nil {
		return dir, fmt.Errorf("session: marshal descriptor: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, descriptorFile), data, 0o644); err != nil {
		return dir, fmt.Errorf("session: write descriptor: %w", err)
	}

	if saveErr != nil {
		s.logf("error", "session save incomplete: %v", saveErr)
		return dir, saveErr
	}

	if err := os.WriteFile(filepath.Join(req.Path, lastSessionFileName), []byte(dir), 0o644); err != nil {
		s.logf("warn", "session: failed to write last-session pointer: %v", err)
	}
	return dir, nil
}

// LastSession reads the last-session pointer file written under root, if
// any.
func LastSession(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, lastSessionFileName))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Loaded is everything Load reconstructs from a session directory, ready
// to hand to engine.Engine.Restore.
type Loaded struct {
	Metric          metric.MetricStructure
	SyncMode        metric.SyncMode
	MetronomeVolume float64
	SavedSampleRate int
	Loopers         []LoadedLooper
}

// LoadedLooper is one looper's state and decoded take audio, sorted by id
// order by Load.
type LoadedLooper struct {
	ID     uint32
	Parts  metric.PartSet
	Speed  looper.Speed
	Pan    float64
	Level  float64
	Offset int64
	Takes  []*dsp.Sample
}

// Load parses dir/project.loopers and decodes every referenced take WAV.
// It does not mutate any live engine state; the caller decides when (and
// whether, given currentSampleRate mismatches) to apply the result via
// Engine.Restore. currentSampleRate is compared against the descriptor's
// saved rate so Load can warn through log that playback will be pitched,
// and stands in for the saved rate when the descriptor has none; Load
// itself performs no resampling.
func Load(dir string, currentSampleRate int, log Logger) (Loaded, error) {
	raw, err := os.ReadFile(filepath.Join(dir, descriptorFile))
	if err != nil {
		return Loaded{}, fmt.Errorf("session: read descriptor: %w", err)
	}
	var desc Descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return Loaded{}, fmt.Errorf("session: malformed descriptor: %w", err)
	}

	if log != nil && desc.SampleRate != 0 && desc.SampleRate != currentSampleRate {
		log.Logf("warn", "session %s was saved at %d Hz, engine is running at %d Hz: playback will be pitched", dir, desc.SampleRate, currentSampleRate)
	}

	bpm := desc.Metric.BPM
	rate := desc.SampleRate
	if rate <= 0 {
		rate = currentSampleRate
	}
	if bpm <= 0 && desc.Metric.SamplesPerBeat > 0 && rate > 0 {
		bpm = float64(rate) * 60 / float64(desc.Metric.SamplesPerBeat)
	}
	structure := metric.MetricStructure{
		Tempo: metric.NewTempo(bpm),
		TimeSignature: metric.TimeSignature{
			Upper: desc.Metric.SignatureUpper,
			Lower: desc.Metric.SignatureLower,
		},
	}

	sort.Slice(desc.Loopers, func(i, j int) bool { return desc.Loopers[i].ID < desc.Loopers[j].ID })

	out := Loaded{
		Metric:          structure,
		SyncMode:        syncModeFromString(desc.SyncMode),
		MetronomeVolume: desc.MetronomeVolume,
		SavedSampleRate: desc.SampleRate,
	}
	for _, dl := range desc.Loopers {
		ll := LoadedLooper{
			ID:     dl.ID,
			Parts:  dl.Parts.toPartSet(),
			Speed:  speedFromString(dl.Speed),
			Pan:    dl.Pan,
			Level:  dl.Level,
			Offset: dl.OffsetSamples,
		}
		for _, name := range dl.Samples {
			s, err := wavfile.Decode(filepath.Join(dir, name))
			if err != nil {
				return Loaded{}, fmt.Errorf("session: looper %d: %w", dl.ID, err)
			}
			ll.Takes = append(ll.Takes, s)
		}
		out.Loopers = append(out.Loopers, ll)
	}
	return out, nil
}
