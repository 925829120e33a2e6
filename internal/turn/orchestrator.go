// Package turn drives the voice agent's conversation loop: it feeds captured
// audio through the turn detector and, when a turn of speech ends, runs the
// transcribe, respond, and synthesize stages exactly once, in order.
//
// The orchestrator is strictly serial. While a pipeline is in flight no new
// turn can start; microphone frames that arrive during that window back up in
// the capture queue and are replayed through detection once the pipeline
// resolves, so a user who starts the next utterance while the agent is
// thinking loses nothing.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/loquax/internal/observe"
	"github.com/MrWong99/loquax/internal/vad"
	"github.com/MrWong99/loquax/pkg/audio"
)

// ErrNoSpeech marks a turn whose audio produced an empty transcript.
var ErrNoSpeech = errors.New("no speech detected")

// errTurnTooShort marks a turn discarded for being under the minimum duration.
var errTurnTooShort = errors.New("turn shorter than minimum duration")

// Stage identifies one pipeline stage in records and metrics.
type Stage string

const (
	StageTranscribe Stage = "stt"
	StageRespond    Stage = "llm"
	StageSynthesize Stage = "tts"
)

// Status is the final disposition of a turn.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transcript is the output of the transcribe stage.
type Transcript struct {
	Text       string
	Confidence float64
}

// Transcriber converts one turn of PCM audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (Transcript, error)
}

// Responder generates the reply text for a transcript.
type Responder interface {
	Respond(ctx context.Context, transcript string) (string, error)
}

// Synthesizer converts reply text into PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player plays synthesised PCM. Optional; when nil the audio is discarded
// after synthesis.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}

// Record summarises one finished turn for the session recorder.
type Record struct {
	ID         int
	Start      time.Time
	End        time.Time
	AudioLen   time.Duration
	Transcript string
	Confidence float64
	Reply      string
	Status     Status
	Err        error

	// StageLatency holds the wall time of each stage that ran.
	StageLatency map[Stage]time.Duration
}

// Recorder receives finished turn records. Implementations must not block.
type Recorder interface {
	RecordTurn(rec Record)
}

// Config holds the orchestrator's tuning knobs.
type Config struct {
	// PreRoll is how much audio from before the detected speech onset is
	// prepended to the turn buffer, so debouncing does not clip the first
	// syllables. Default: 300ms.
	PreRoll time.Duration

	// MinTurn discards turns whose audio is shorter than this, which filters
	// coughs and other transients that slipped past the detector.
	// Default: 250ms.
	MinTurn time.Duration

	// MaxTurn force-ends a turn whose speech exceeds this duration, bounding
	// buffer growth and transcription cost. Default: 30s.
	MaxTurn time.Duration

	// MinConfidence treats transcripts below this confidence as no speech,
	// in [0, 1]. 0 disables the floor. A transcript confidence of exactly 0
	// means the provider did not report one and is never rejected.
	MinConfidence float64

	// DumpDir, when non-empty, receives a WAV file of each turn whose
	// transcription failed, for offline debugging.
	DumpDir string
}

func (c *Config) applyDefaults() {
	if c.PreRoll <= 0 {
		c.PreRoll = 300 * time.Millisecond
	}
	if c.MinTurn <= 0 {
		c.MinTurn = 250 * time.Millisecond
	}
	if c.MaxTurn <= 0 {
		c.MaxTurn = 30 * time.Second
	}
}

// Orchestrator owns the conversation loop. Construct with New and drive with
// Run; all other methods are internal to the loop goroutine.
type Orchestrator struct {
	cfg      Config
	detector *vad.Detector

	transcriber Transcriber
	responder   Responder
	synthesizer Synthesizer
	player      Player
	recorder    Recorder
	metrics     *observe.Metrics

	// preRoll is a ring of recent idle frames; turnBuf accumulates the
	// active turn's samples.
	preRoll    []audio.Frame
	preRollDur time.Duration
	turnBuf    []int16
	turnDur    time.Duration
	turnStart  time.Time

	// turnRate and turnChans remember the capture format of the last
	// buffered frame, for WAV dumps of failed turns.
	turnRate  int
	turnChans int

	turnSeq int
}

// Option is a functional option for the Orchestrator.
type Option func(*Orchestrator)

// WithPlayer attaches a playback sink for synthesised replies.
func WithPlayer(p Player) Option {
	return func(o *Orchestrator) { o.player = p }
}

// WithRecorder attaches a session recorder receiving one Record per turn.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMetrics overrides the metrics instance (tests use a manual reader).
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator. detector, transcriber, responder, and
// synthesizer are required.
func New(cfg Config, detector *vad.Detector, t Transcriber, r Responder, s Synthesizer, opts ...Option) (*Orchestrator, error) {
	if detector == nil || t == nil || r == nil || s == nil {
		return nil, errors.New("turn: detector, transcriber, responder, and synthesizer are required")
	}
	cfg.applyDefaults()

	o := &Orchestrator{
		cfg:         cfg,
		detector:    detector,
		transcriber: t,
		responder:   r,
		synthesizer: s,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Run consumes frames until the channel closes or ctx is cancelled. On
// shutdown an in-flight turn is flushed as failed so the session record stays
// complete. Run returns nil on a clean channel close or cancellation.
func (o *Orchestrator) Run(ctx context.Context, frames <-chan audio.Frame) error {
	for {
		select {
		case <-ctx.Done():
			o.flushInFlight(fmt.Errorf("session closed: %w", ctx.Err()))
			return nil
		case f, ok := <-frames:
			if !ok {
				o.flushInFlight(errors.New("session closed: audio source ended"))
				return nil
			}
			o.handleFrame(ctx, frames, f)
		}
	}
}

// handleFrame feeds one frame through the detector and dispatches on the
// resulting event.
func (o *Orchestrator) handleFrame(ctx context.Context, frames <-chan audio.Frame, f audio.Frame) {
	volume := audio.RMS(f.Samples)
	event := o.detector.Process(volume)

	if o.detector.Speaking() || event.Kind == vad.EventTurnEnded {
		o.turnBuf = append(o.turnBuf, f.Samples...)
		o.turnDur += f.Duration()
		o.turnRate = f.SampleRate
		o.turnChans = f.Channels
	} else {
		o.pushPreRoll(f)
	}

	switch event.Kind {
	case vad.EventSpeechStarted:
		o.beginTurn(ctx, f)
	case vad.EventTurnEnded:
		o.finishTurn(ctx, frames, event)
	default:
		if o.detector.Speaking() && o.turnDur >= o.cfg.MaxTurn {
			slog.Info("maximum turn duration reached, forcing turn end",
				"turn_duration", o.turnDur)
			o.detector.Reset()
			o.finishTurn(ctx, frames, vad.Event{Kind: vad.EventTurnEnded})
		}
	}
}

// beginTurn seeds the turn buffer with the pre-roll audio captured before the
// onset was confirmed.
func (o *Orchestrator) beginTurn(ctx context.Context, f audio.Frame) {
	o.turnStart = f.Timestamp
	o.metrics.RecordSpeechEvent(ctx, "speech_started")

	var seed []int16
	var seedDur time.Duration
	for _, pf := range o.preRoll {
		seed = append(seed, pf.Samples...)
		seedDur += pf.Duration()
	}
	o.turnBuf = append(seed, o.turnBuf...)
	o.turnDur += seedDur
	o.preRoll = nil
	o.preRollDur = 0

	slog.Debug("speech started", "pre_roll", seedDur)
}

// finishTurn runs the serial pipeline for the buffered audio, then replays
// any frames that queued up while the pipeline was busy.
func (o *Orchestrator) finishTurn(ctx context.Context, frames <-chan audio.Frame, event vad.Event) {
	o.metrics.RecordSpeechEvent(ctx, "turn_ended")
	slog.Info("turn ended", "audio_duration", o.turnDur, "confirmed_silence", event.SilenceDuration)

	pcm := audio.SamplesToBytes(o.turnBuf)
	audioLen := o.turnDur
	start := o.turnStart
	o.resetBuffers()

	if audioLen < o.cfg.MinTurn {
		slog.Debug("discarding turn below minimum duration",
			"audio_duration", audioLen, "reason", errTurnTooShort)
		return
	}

	o.runPipeline(ctx, pcm, audioLen, start)
	o.replayQueued(ctx, frames)
}

// runPipeline executes transcribe, respond, and synthesize for one turn.
func (o *Orchestrator) runPipeline(ctx context.Context, pcm []byte, audioLen time.Duration, start time.Time) {
	id := o.nextTurnID()
	ctx, span := observe.StartSpan(ctx, "turn")
	defer span.End()
	o.metrics.ActiveTurns.Add(ctx, 1)
	defer o.metrics.ActiveTurns.Add(ctx, -1)

	rec := Record{
		ID:           id,
		Start:        start,
		AudioLen:     audioLen,
		Status:       StatusCompleted,
		StageLatency: map[Stage]time.Duration{},
	}
	log := observe.Logger(ctx).With("turn", id)

	// Transcribe.
	sttStart := time.Now()
	transcript, err := o.transcriber.Transcribe(ctx, pcm)
	rec.StageLatency[StageTranscribe] = time.Since(sttStart)
	o.metrics.STTDuration.Record(ctx, rec.StageLatency[StageTranscribe].Seconds())
	if err != nil {
		log.Error("transcription failed", "error", err)
		o.dumpFailedAudio(log, id, pcm)
		o.failTurn(ctx, &rec, fmt.Errorf("transcribe: %w", err))
		return
	}
	rec.Transcript = transcript.Text
	rec.Confidence = transcript.Confidence
	if transcript.Text == "" {
		log.Info("turn produced no transcript")
		o.dumpFailedAudio(log, id, pcm)
		o.failTurn(ctx, &rec, ErrNoSpeech)
		return
	}
	// A confidence of exactly 0 means the provider did not report one.
	if o.cfg.MinConfidence > 0 && transcript.Confidence > 0 && transcript.Confidence < o.cfg.MinConfidence {
		log.Info("transcript below confidence floor",
			"confidence", transcript.Confidence, "floor", o.cfg.MinConfidence)
		o.dumpFailedAudio(log, id, pcm)
		o.failTurn(ctx, &rec, ErrNoSpeech)
		return
	}
	log.Info("transcribed", "text", transcript.Text, "confidence", transcript.Confidence)

	// Respond.
	llmStart := time.Now()
	reply, err := o.responder.Respond(ctx, transcript.Text)
	rec.StageLatency[StageRespond] = time.Since(llmStart)
	o.metrics.LLMDuration.Record(ctx, rec.StageLatency[StageRespond].Seconds())
	if err != nil {
		log.Error("reply generation failed", "error", err)
		o.failTurn(ctx, &rec, fmt.Errorf("respond: %w", err))
		return
	}
	rec.Reply = reply
	log.Info("reply generated", "text", reply)

	// Synthesize. A failure here fails the turn, but the reply stays on the
	// record so text output still carries it.
	ttsStart := time.Now()
	replyPCM, err := o.synthesizer.Synthesize(ctx, reply)
	rec.StageLatency[StageSynthesize] = time.Since(ttsStart)
	o.metrics.TTSDuration.Record(ctx, rec.StageLatency[StageSynthesize].Seconds())
	if err != nil {
		log.Error("synthesis failed, reply not spoken", "error", err)
		o.failTurn(ctx, &rec, fmt.Errorf("synthesize: %w", err))
		return
	}
	if o.player != nil {
		if err := o.player.Play(ctx, replyPCM); err != nil {
			log.Error("playback failed", "error", err)
			o.failTurn(ctx, &rec, fmt.Errorf("play: %w", err))
			return
		}
	}

	rec.End = time.Now()
	o.metrics.TurnDuration.Record(ctx, rec.End.Sub(rec.Start).Seconds())
	o.metrics.RecordTurn(ctx, string(StatusCompleted))
	o.record(rec)
}

// dumpFailedAudio writes the turn's audio to a WAV file in the configured
// dump directory. Best effort; failures only log.
func (o *Orchestrator) dumpFailedAudio(log *slog.Logger, id int, pcm []byte) {
	if o.cfg.DumpDir == "" {
		return
	}
	rate, chans := o.turnRate, o.turnChans
	if rate <= 0 {
		rate = 16000
	}
	if chans <= 0 {
		chans = 1
	}
	wav, err := audio.EncodeWAV(audio.BytesToSamples(pcm), rate, chans)
	if err != nil {
		log.Warn("failed to encode turn audio", "error", err)
		return
	}
	path := filepath.Join(o.cfg.DumpDir, fmt.Sprintf("turn-%d.wav", id))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		log.Warn("failed to write turn audio dump", "error", err)
		return
	}
	log.Info("failed turn audio dumped", "path", path)
}

// failTurn finalises a failed turn record.
func (o *Orchestrator) failTurn(ctx context.Context, rec *Record, err error) {
	rec.Status = StatusFailed
	rec.Err = err
	rec.End = time.Now()
	o.metrics.RecordTurn(ctx, string(StatusFailed))
	o.record(*rec)
}

// flushInFlight converts a partially captured turn into a failed record on
// shutdown.
func (o *Orchestrator) flushInFlight(reason error) {
	if !o.detector.Speaking() && len(o.turnBuf) == 0 {
		return
	}
	slog.Info("flushing in-flight turn on shutdown", "audio_duration", o.turnDur)
	o.record(Record{
		ID:       o.nextTurnID(),
		Start:    o.turnStart,
		End:      time.Now(),
		AudioLen: o.turnDur,
		Status:   StatusFailed,
		Err:      reason,
	})
	o.detector.Reset()
	o.resetBuffers()
}

// replayQueued feeds the frames that queued up while the pipeline was busy
// back through detection, so the start of the user's next utterance is not
// lost. The detector is reset first; a finished turn's timers must not leak
// into the replay.
func (o *Orchestrator) replayQueued(ctx context.Context, frames <-chan audio.Frame) {
	o.detector.Reset()

	var queued []audio.Frame
drain:
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				break drain
			}
			queued = append(queued, f)
		default:
			break drain
		}
	}
	if len(queued) == 0 {
		return
	}

	slog.Debug("replaying frames captured during pipeline", "count", len(queued))
	for _, f := range queued {
		o.handleFrame(ctx, frames, f)
	}
}

// pushPreRoll appends an idle frame to the pre-roll ring, evicting the oldest
// frames beyond the configured window.
func (o *Orchestrator) pushPreRoll(f audio.Frame) {
	o.preRoll = append(o.preRoll, f)
	o.preRollDur += f.Duration()
	for len(o.preRoll) > 0 && o.preRollDur > o.cfg.PreRoll {
		o.preRollDur -= o.preRoll[0].Duration()
		o.preRoll = o.preRoll[1:]
	}
}

func (o *Orchestrator) resetBuffers() {
	o.turnBuf = nil
	o.turnDur = 0
	o.turnStart = time.Time{}
	o.preRoll = nil
	o.preRollDur = 0
}

func (o *Orchestrator) nextTurnID() int {
	o.turnSeq++
	return o.turnSeq
}

func (o *Orchestrator) record(rec Record) {
	if o.recorder != nil {
		o.recorder.RecordTurn(rec)
	}
}
