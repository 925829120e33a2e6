// Package vad implements the turn-detection state machine at the heart of
// Loquax: an energy-based voice activity detector that classifies a stream of
// per-frame loudness values into discrete speech/silence episodes.
//
// The detector uses two defences against noisy input. A hysteresis band
// between the silence and speech thresholds means a volume in between confirms
// neither hypothesis, and consecutive-frame debouncing requires a run of N
// agreeing frames before a state change is accepted. Once speech is confirmed,
// a turn ends only after a confirmed silence run has persisted longer than the
// configured silence duration.
//
// The detector is synchronous and never fails: Process returns immediately
// with a tagged event, making it suitable for the per-frame hot path of the
// capture loop. A Detector is not safe for concurrent use; it is owned by the
// single orchestration goroutine.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the tunable parameters of the detector. All values must be
// positive and SpeechThreshold must be strictly greater than SilenceThreshold,
// forming the hysteresis band that prevents chatter at the boundary.
type Config struct {
	// SpeechThreshold is the RMS volume above which a frame counts toward
	// confirming speech.
	SpeechThreshold float64

	// SilenceThreshold is the RMS volume below which a frame counts toward
	// confirming silence. Must be < SpeechThreshold.
	SilenceThreshold float64

	// SpeechFrames is the number of consecutive loud frames required before
	// speech onset is confirmed. Higher values reject transient spikes at the
	// cost of SpeechFrames worth of onset latency.
	SpeechFrames int

	// SilenceFrames is the number of consecutive quiet frames required before
	// a silence run is considered confirmed while speaking.
	SilenceFrames int

	// SilenceDuration is how long a confirmed silence run must persist before
	// the turn is ended.
	SilenceDuration time.Duration
}

// Validate reports whether cfg is a coherent detector configuration.
// It returns a joined error listing all failures found.
func (cfg Config) Validate() error {
	var errs []error
	if cfg.SpeechThreshold <= 0 {
		errs = append(errs, fmt.Errorf("speech_threshold %.2f must be positive", cfg.SpeechThreshold))
	}
	if cfg.SilenceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("silence_threshold %.2f must be positive", cfg.SilenceThreshold))
	}
	if cfg.SpeechThreshold <= cfg.SilenceThreshold {
		errs = append(errs, fmt.Errorf("speech_threshold %.2f must be greater than silence_threshold %.2f",
			cfg.SpeechThreshold, cfg.SilenceThreshold))
	}
	if cfg.SpeechFrames <= 0 {
		errs = append(errs, fmt.Errorf("speech_frames %d must be positive", cfg.SpeechFrames))
	}
	if cfg.SilenceFrames <= 0 {
		errs = append(errs, fmt.Errorf("silence_frames %d must be positive", cfg.SilenceFrames))
	}
	if cfg.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("silence_duration %s must be positive", cfg.SilenceDuration))
	}
	return errors.Join(errs...)
}

// EventKind enumerates the possible outcomes of processing one frame.
type EventKind int

const (
	// EventNone indicates no state transition occurred on this frame.
	EventNone EventKind = iota

	// EventSpeechStarted indicates speech onset was confirmed on this frame.
	EventSpeechStarted

	// EventTurnEnded indicates the current turn ended on this frame.
	EventTurnEnded
)

// String returns the event kind name for logs and test failure messages.
func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventSpeechStarted:
		return "speech_started"
	case EventTurnEnded:
		return "turn_ended"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is the tagged result of processing a single frame. It is a pure
// projection of the state transition caused by that frame and is never stored
// by the detector.
type Event struct {
	Kind EventKind

	// SilenceDuration is the elapsed confirmed silence when Kind is
	// EventTurnEnded. Zero otherwise.
	SilenceDuration time.Duration
}

// Detector is the turn-detection state machine. It consumes (volume,
// timestamp) pairs frame by frame and emits speech-start and turn-end events.
//
// The silence-run and speech-run counters are mutually exclusive: a frame that
// increments one resets the other, and an ambiguous frame (volume inside the
// hysteresis band) resets both without changing the speaking state.
type Detector struct {
	cfg Config

	speaking      bool
	speechStarted time.Time
	silenceSince  time.Time // zero unless a confirmed silence run is in progress

	speechRun  int
	silenceRun int

	now func() time.Time
}

// Option is a functional option for configuring a Detector during construction.
type Option func(*Detector)

// WithClock overrides the detector's time source. Used by tests to feed a
// deterministic clock.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New constructs a Detector in the idle state. Returns an error if cfg is
// invalid.
func New(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("vad: invalid config: %w", err)
	}
	d := &Detector{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Speaking reports whether the detector currently considers the user to be
// mid-turn.
func (d *Detector) Speaking() bool {
	return d.speaking
}

// SpeakingSince returns the instant speech onset was confirmed for the current
// turn. The zero time is returned while idle.
func (d *Detector) SpeakingSince() time.Time {
	return d.speechStarted
}

// Process advances the state machine by one frame, given the frame's RMS
// volume, and returns the resulting event.
func (d *Detector) Process(volume float64) Event {
	now := d.now()

	switch {
	case volume > d.cfg.SpeechThreshold:
		return d.processLoud(now)
	case volume < d.cfg.SilenceThreshold:
		return d.processQuiet(now)
	default:
		// Ambiguous: inside the hysteresis band. Neither hypothesis is
		// confirmed or denied, so both run counters restart while the
		// speaking state is preserved.
		d.speechRun = 0
		d.silenceRun = 0
		return Event{}
	}
}

// processLoud handles a frame above the speech threshold.
func (d *Detector) processLoud(now time.Time) Event {
	d.speechRun++
	d.silenceRun = 0
	// A loud frame interrupts any silence run in progress.
	d.silenceSince = time.Time{}

	if !d.speaking && d.speechRun >= d.cfg.SpeechFrames {
		d.speaking = true
		d.speechStarted = now
		return Event{Kind: EventSpeechStarted}
	}
	return Event{}
}

// processQuiet handles a frame below the silence threshold.
func (d *Detector) processQuiet(now time.Time) Event {
	d.silenceRun++
	d.speechRun = 0

	if !d.speaking {
		return Event{}
	}
	if d.silenceRun < d.cfg.SilenceFrames {
		// Quiet, but the run is not yet long enough to trust.
		return Event{}
	}

	// Silence run confirmed. Anchor the silence timer the first time this
	// run reaches the frame threshold.
	if d.silenceSince.IsZero() {
		d.silenceSince = now
	}

	elapsed := now.Sub(d.silenceSince)
	if elapsed > d.cfg.SilenceDuration {
		d.Reset()
		return Event{Kind: EventTurnEnded, SilenceDuration: elapsed}
	}
	return Event{}
}

// Reset forces the detector back to the idle state with all counters and
// timestamps cleared. The orchestrator calls this when aborting a turn so
// stale timers cannot leak into the next one. Reset is idempotent.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechStarted = time.Time{}
	d.silenceSince = time.Time{}
	d.speechRun = 0
	d.silenceRun = 0
}
