package turn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/loquax/internal/observe"
	"github.com/MrWong99/loquax/internal/vad"
	"github.com/MrWong99/loquax/pkg/audio"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakeTranscriber struct {
	result Transcript
	err    error
	calls  int
	gotPCM []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, pcm []byte) (Transcript, error) {
	f.calls++
	f.gotPCM = pcm
	return f.result, f.err
}

type fakeResponder struct {
	reply string
	err   error
	calls int
	got   string
}

func (f *fakeResponder) Respond(_ context.Context, transcript string) (string, error) {
	f.calls++
	f.got = transcript
	return f.reply, f.err
}

type fakeSynth struct {
	pcm   []byte
	err   error
	calls int
}

func (f *fakeSynth) Synthesize(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	return f.pcm, f.err
}

type fakePlayer struct {
	played [][]byte
}

func (f *fakePlayer) Play(_ context.Context, pcm []byte) error {
	f.played = append(f.played, pcm)
	return nil
}

type captureRecorder struct {
	records []Record
}

func (c *captureRecorder) RecordTurn(rec Record) {
	c.records = append(c.records, rec)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// testDetector uses a fake clock advancing 100ms per frame so that two quiet
// frames of debounce plus two more frames of elapsed time end a turn.
func testDetector(t *testing.T) *vad.Detector {
	t.Helper()
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(100 * time.Millisecond)
		return now
	}
	d, err := vad.New(vad.Config{
		SpeechThreshold:  45,
		SilenceThreshold: 25,
		SpeechFrames:     2,
		SilenceFrames:    2,
		SilenceDuration:  100 * time.Millisecond,
	}, vad.WithClock(clock))
	if err != nil {
		t.Fatalf("vad.New: %v", err)
	}
	return d
}

// frame returns a 10ms mono 16kHz frame whose RMS equals volume.
func frame(volume int16) audio.Frame {
	samples := make([]int16, 160)
	for i := range samples {
		samples[i] = volume
	}
	return audio.Frame{Samples: samples, SampleRate: 16000, Channels: 1, Timestamp: time.Now()}
}

// feed queues the frames on a channel, closes it, and runs the orchestrator
// to completion.
func feed(t *testing.T, o *Orchestrator, frames ...audio.Frame) {
	t.Helper()
	ch := make(chan audio.Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	if err := o.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// turnFrames is a complete single turn: two loud frames to confirm speech,
// then enough quiet frames to confirm silence and exceed the silence timer.
func turnFrames() []audio.Frame {
	var out []audio.Frame
	for i := 0; i < 2; i++ {
		out = append(out, frame(100))
	}
	for i := 0; i < 5; i++ {
		out = append(out, frame(10))
	}
	return out
}

func newTestOrchestrator(t *testing.T, tr Transcriber, re Responder, sy Synthesizer, opts ...Option) *Orchestrator {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	cfg := Config{MinTurn: time.Millisecond}
	opts = append(opts, WithMetrics(m))
	o, err := New(cfg, testDetector(t), tr, re, sy, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestNewRequiresStages(t *testing.T) {
	if _, err := New(Config{}, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing stages")
	}
}

func TestCompletedTurn(t *testing.T) {
	tr := &fakeTranscriber{result: Transcript{Text: "hello there", Confidence: 0.95}}
	re := &fakeResponder{reply: "hi, how can I help?"}
	sy := &fakeSynth{pcm: []byte{1, 2, 3, 4}}
	pl := &fakePlayer{}
	recs := &captureRecorder{}

	o := newTestOrchestrator(t, tr, re, sy, WithPlayer(pl), WithRecorder(recs))
	feed(t, o, turnFrames()...)

	if tr.calls != 1 || re.calls != 1 || sy.calls != 1 {
		t.Fatalf("stage calls = %d/%d/%d, want 1/1/1", tr.calls, re.calls, sy.calls)
	}
	if re.got != "hello there" {
		t.Errorf("responder received %q, want transcript", re.got)
	}
	if len(pl.played) != 1 || len(pl.played[0]) != 4 {
		t.Errorf("played = %v, want one 4-byte buffer", pl.played)
	}
	if len(recs.records) != 1 {
		t.Fatalf("got %d records, want 1", len(recs.records))
	}
	rec := recs.records[0]
	if rec.Status != StatusCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
	if rec.Transcript != "hello there" || rec.Reply != "hi, how can I help?" {
		t.Errorf("record = %+v, want transcript and reply set", rec)
	}
	if rec.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", rec.Confidence)
	}
	for _, stage := range []Stage{StageTranscribe, StageRespond, StageSynthesize} {
		if _, ok := rec.StageLatency[stage]; !ok {
			t.Errorf("missing latency for stage %q", stage)
		}
	}
}

func TestTurnAudioIncludesPreRoll(t *testing.T) {
	tr := &fakeTranscriber{result: Transcript{Text: "x"}}
	o := newTestOrchestrator(t, tr, &fakeResponder{reply: "y"}, &fakeSynth{})

	// Three quiet idle frames land in the pre-roll ring before speech starts.
	frames := []audio.Frame{frame(10), frame(10), frame(10)}
	frames = append(frames, turnFrames()...)
	feed(t, o, frames...)

	if tr.calls != 1 {
		t.Fatalf("transcriber calls = %d, want 1", tr.calls)
	}
	// The first loud frame also sits in pre-roll until speech is confirmed,
	// so the turn carries 4 pre-roll frames, the confirming loud frame, and
	// the 4 quiet frames up to the turn-end: 9 frames of 160 samples.
	wantBytes := 9 * 160 * 2
	if len(tr.gotPCM) != wantBytes {
		t.Errorf("turn audio = %d bytes, want %d (pre-roll included)", len(tr.gotPCM), wantBytes)
	}
}

func TestEmptyTranscriptFailsTurn(t *testing.T) {
	tr := &fakeTranscriber{result: Transcript{Text: ""}}
	re := &fakeResponder{reply: "never"}
	sy := &fakeSynth{}
	recs := &captureRecorder{}

	o := newTestOrchestrator(t, tr, re, sy, WithRecorder(recs))
	feed(t, o, turnFrames()...)

	if re.calls != 0 || sy.calls != 0 {
		t.Errorf("respond/synth calls = %d/%d, want 0/0 after empty transcript", re.calls, sy.calls)
	}
	if len(recs.records) != 1 {
		t.Fatalf("got %d records, want 1", len(recs.records))
	}
	rec := recs.records[0]
	if rec.Status != StatusFailed || !errors.Is(rec.Err, ErrNoSpeech) {
		t.Errorf("record = %+v, want failed with ErrNoSpeech", rec)
	}
}

func TestTranscribeErrorFailsTurn(t *testing.T) {
	wantErr := errors.New("stt exploded")
	tr := &fakeTranscriber{err: wantErr}
	re := &fakeResponder{}
	recs := &captureRecorder{}

	o := newTestOrchestrator(t, tr, re, &fakeSynth{}, WithRecorder(recs))
	feed(t, o, turnFrames()...)

	if re.calls != 0 {
		t.Errorf("responder called %d times, want 0", re.calls)
	}
	if len(recs.records) != 1 {
		t.Fatalf("got %d records, want 1", len(recs.records))
	}
	if !errors.Is(recs.records[0].Err, wantErr) {
		t.Errorf("record error = %v, want wrapped %v", recs.records[0].Err, wantErr)
	}
}

func TestSynthesisFailureFailsTurnButKeepsReply(t *testing.T) {
	tr := &fakeTranscriber{result: Transcript{Text: "hello"}}
	re := &fakeResponder{reply: "world"}
	sy := &fakeSynth{err: errors.New("tts down")}
	pl := &fakePlayer{}
	recs := &captureRecorder{}

	o := newTestOrchestrator(t, tr, re, sy, WithPlayer(pl), WithRecorder(recs))
	feed(t, o, turnFrames()...)

	if len(pl.played) != 0 {
		t.Errorf("played %d buffers, want 0 after synthesis failure", len(pl.played))
	}
	if len(recs.records) != 1 {
		t.Fatalf("got %d records, want 1", len(recs.records))
	}
	rec := recs.records[0]
	if rec.Status != StatusFailed || rec.Err == nil {
		t.Errorf("record = %+v, want failed with synthesis error", rec)
	}
	// The generated reply stays on the record so text output still carries it.
	if rec.Reply != "world" {
		t.Errorf("reply = %q, want world preserved on the failed record", rec.Reply)
	}
	if rec.Transcript != "hello" {
		t.Errorf("transcript = %q, want hello preserved on the failed record", rec.Transcript)
	}
}

func TestRespondErrorFailsTurn(t *testing.T) {
	tr := &fakeTranscriber{result: Transcript{Text: "hello"}}
	re := &fakeResponder{err: errors.New("llm down")}
	sy := &fakeSynth{}
	recs := &captureRecorder{}

	o := newTestOrchestrator(t, tr, re, sy, WithRecorder(recs))
	feed(t, o, turnFrames()...)

	if sy.calls != 0 {
		t.Errorf("synthesizer called %d times, want 0", sy.calls)
	}
	if len(recs.records) != 1 || recs.records[0].Status != StatusFailed {
		t.Fatalf("records = %+v, want one failed record", recs.records)
	}
}

func TestTooShortTurnIsDiscarded(t *testing.T) {
	tr := &fakeTranscriber{result: Transcript{Text: "x"}}
	recs := &captureRecorder{}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// The whole turn is ~70ms of audio; a one second minimum discards it.
	o, err := New(Config{MinTurn: time.Second}, testDetector(t),
		tr, &fakeResponder{reply: "y"}, &fakeSynth{},
		WithRecorder(recs), WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	feed(t, o, turnFrames()...)

	if tr.calls != 0 {
		t.Errorf("transcriber called %d times, want 0", tr.calls)
	}
	if len(recs.records) != 0 {
		t.Errorf("got %d records, want 0 for a discarded turn", len(recs.records))
	}
}

func TestMaxTurnForcesEnd(t *testing.T) {
	tr := &fakeTranscriber{result: Transcript{Text: "long speech"}}
	recs := &captureRecorder{}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	o, err := New(Config{MinTurn: time.Millisecond, MaxTurn: 50 * time.Millisecond},
		testDetector(t), tr, &fakeResponder{reply: "ok"}, &fakeSynth{},
		WithRecorder(recs), WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 20 loud frames (200ms of speech) with no silence at all. Each forced
	// end consumes a 5-frame cycle: one pre-roll frame, the confirming frame,
	// and three more until the buffered audio reaches the 50ms cap.
	var frames []audio.Frame
	for i := 0; i < 20; i++ {
		frames = append(frames, frame(100))
	}
	feed(t, o, frames...)

	if tr.calls != 4 {
		t.Errorf("transcriber called %d times, want 4 forced ends", tr.calls)
	}
	if len(recs.records) != 4 {
		t.Fatalf("got %d records, want 4", len(recs.records))
	}
	for i, rec := range recs.records {
		if rec.Status != StatusCompleted {
			t.Errorf("record %d status = %q, want completed", i, rec.Status)
		}
	}
}

func TestShutdownFlushesInFlightTurn(t *testing.T) {
	tr := &fakeTranscriber{result: Transcript{Text: "x"}}
	recs := &captureRecorder{}

	o := newTestOrchestrator(t, tr, &fakeResponder{reply: "y"}, &fakeSynth{}, WithRecorder(recs))

	// Speech confirmed but never ends; channel close simulates shutdown.
	feed(t, o, frame(100), frame(100), frame(100))

	if tr.calls != 0 {
		t.Errorf("transcriber called %d times, want 0 for flushed turn", tr.calls)
	}
	if len(recs.records) != 1 {
		t.Fatalf("got %d records, want 1 flushed record", len(recs.records))
	}
	if recs.records[0].Status != StatusFailed {
		t.Errorf("status = %q, want failed for flushed turn", recs.records[0].Status)
	}
}

func TestFramesQueuedDuringPipelineStartNextTurn(t *testing.T) {
	tr := &fakeTranscriber{result: Transcript{Text: "hi"}}
	recs := &captureRecorder{}

	o := newTestOrchestrator(t, tr, &fakeResponder{reply: "hello"}, &fakeSynth{}, WithRecorder(recs))

	// Two complete utterances sit in the queue before the loop starts, so the
	// second one arrives entirely while the first turn's pipeline is running.
	// It must be replayed through detection, not discarded.
	frames := turnFrames()
	frames = append(frames, turnFrames()...)
	feed(t, o, frames...)

	if tr.calls != 2 {
		t.Errorf("transcriber called %d times, want 2", tr.calls)
	}
	if len(recs.records) != 2 {
		t.Fatalf("got %d records, want 2", len(recs.records))
	}
	for i, rec := range recs.records {
		if rec.Status != StatusCompleted {
			t.Errorf("record %d status = %q, want completed", i, rec.Status)
		}
	}
}

func TestLowConfidenceTranscriptFailsTurn(t *testing.T) {
	tr := &fakeTranscriber{result: Transcript{Text: "mumble", Confidence: 0.3}}
	re := &fakeResponder{reply: "never"}
	recs := &captureRecorder{}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	o, err := New(Config{MinTurn: time.Millisecond, MinConfidence: 0.5},
		testDetector(t), tr, re, &fakeSynth{},
		WithRecorder(recs), WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	feed(t, o, turnFrames()...)

	if re.calls != 0 {
		t.Errorf("responder called %d times, want 0 below the confidence floor", re.calls)
	}
	if len(recs.records) != 1 {
		t.Fatalf("got %d records, want 1", len(recs.records))
	}
	rec := recs.records[0]
	if rec.Status != StatusFailed || !errors.Is(rec.Err, ErrNoSpeech) {
		t.Errorf("record = %+v, want failed with ErrNoSpeech", rec)
	}
}

func TestUnreportedConfidencePassesFloor(t *testing.T) {
	// Confidence 0 means the provider did not report one; the floor must not
	// reject it.
	tr := &fakeTranscriber{result: Transcript{Text: "hello", Confidence: 0}}
	re := &fakeResponder{reply: "hi"}
	recs := &captureRecorder{}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	o, err := New(Config{MinTurn: time.Millisecond, MinConfidence: 0.5},
		testDetector(t), tr, re, &fakeSynth{},
		WithRecorder(recs), WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	feed(t, o, turnFrames()...)

	if re.calls != 1 {
		t.Errorf("responder called %d times, want 1", re.calls)
	}
	if len(recs.records) != 1 || recs.records[0].Status != StatusCompleted {
		t.Fatalf("records = %+v, want one completed record", recs.records)
	}
}

func TestPipelineEmitsTurnSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	tr := &fakeTranscriber{result: Transcript{Text: "hello"}}
	o := newTestOrchestrator(t, tr, &fakeResponder{reply: "hi"}, &fakeSynth{})
	feed(t, o, turnFrames()...)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spans[0].Name(); got != "turn" {
		t.Errorf("span name = %q, want turn", got)
	}
}

func TestFailedTurnAudioIsDumped(t *testing.T) {
	dir := t.TempDir()
	tr := &fakeTranscriber{err: errors.New("stt down")}

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	o, err := New(Config{MinTurn: time.Millisecond, DumpDir: dir},
		testDetector(t), tr, &fakeResponder{}, &fakeSynth{}, WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	feed(t, o, turnFrames()...)

	data, err := os.ReadFile(filepath.Join(dir, "turn-1.wav"))
	if err != nil {
		t.Fatalf("reading dumped audio: %v", err)
	}
	if len(data) < 44 {
		t.Fatalf("dump is %d bytes, want at least a WAV header", len(data))
	}
	if string(data[:4]) != "RIFF" {
		t.Errorf("dump starts with %q, want RIFF", data[:4])
	}
}

func TestQuietSessionProducesNoTurns(t *testing.T) {
	tr := &fakeTranscriber{}
	recs := &captureRecorder{}

	o := newTestOrchestrator(t, tr, &fakeResponder{}, &fakeSynth{}, WithRecorder(recs))

	var frames []audio.Frame
	for i := 0; i < 50; i++ {
		frames = append(frames, frame(10))
	}
	feed(t, o, frames...)

	if tr.calls != 0 || len(recs.records) != 0 {
		t.Errorf("calls = %d, records = %d; want no activity", tr.calls, len(recs.records))
	}
}
