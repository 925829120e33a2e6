// Package stats aggregates per-turn records into session statistics. The
// Collector implements turn.Recorder, logs a short summary after every turn,
// and produces an end-of-session Summary for the final log line.
package stats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/loquax/internal/turn"
)

// Summary holds the aggregate statistics for one session.
type Summary struct {
	SessionStart time.Time
	SessionEnd   time.Time
	Duration     time.Duration

	TotalTurns      int
	SuccessfulTurns int
	FailedTurns     int

	// Averages are computed over successful turns only; a failed turn's
	// latencies reflect where it aborted, not pipeline performance.
	AvgSTTLatency   time.Duration
	AvgLLMLatency   time.Duration
	AvgTTSLatency   time.Duration
	AvgTurnLatency  time.Duration
	AvgConfidence   float64
}

// SuccessRate returns the fraction of turns that completed, in [0, 1].
// Returns 0 when no turns were recorded.
func (s Summary) SuccessRate() float64 {
	if s.TotalTurns == 0 {
		return 0
	}
	return float64(s.SuccessfulTurns) / float64(s.TotalTurns)
}

// Collector accumulates turn records for a session. It is safe for concurrent
// use, though the orchestrator delivers records from a single goroutine.
type Collector struct {
	mu      sync.Mutex
	started time.Time
	records []turn.Record
}

var _ turn.Recorder = (*Collector)(nil)

// NewCollector creates a Collector with the session clock started at now.
func NewCollector() *Collector {
	return &Collector{started: time.Now()}
}

// RecordTurn stores one finished turn and logs its per-stage latencies.
func (c *Collector) RecordTurn(rec turn.Record) {
	c.mu.Lock()
	c.records = append(c.records, rec)
	c.mu.Unlock()

	log := slog.With("turn", rec.ID, "status", rec.Status)
	if rec.Status == turn.StatusFailed {
		log.Warn("turn summary",
			"audio_duration", rec.AudioLen,
			"error", rec.Err)
		return
	}
	log.Info("turn summary",
		"stt_latency", rec.StageLatency[turn.StageTranscribe],
		"llm_latency", rec.StageLatency[turn.StageRespond],
		"tts_latency", rec.StageLatency[turn.StageSynthesize],
		"total_latency", rec.End.Sub(rec.Start),
		"confidence", rec.Confidence)
}

// Turns returns the number of recorded turns so far.
func (c *Collector) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Summary closes the session clock and computes the aggregates.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	s := Summary{
		SessionStart: c.started,
		SessionEnd:   now,
		Duration:     now.Sub(c.started),
		TotalTurns:   len(c.records),
	}

	var (
		stt, llm, tts, total time.Duration
		confidence           float64
	)
	for _, rec := range c.records {
		if rec.Status != turn.StatusCompleted {
			s.FailedTurns++
			continue
		}
		s.SuccessfulTurns++
		stt += rec.StageLatency[turn.StageTranscribe]
		llm += rec.StageLatency[turn.StageRespond]
		tts += rec.StageLatency[turn.StageSynthesize]
		total += rec.End.Sub(rec.Start)
		confidence += rec.Confidence
	}
	if n := time.Duration(s.SuccessfulTurns); n > 0 {
		s.AvgSTTLatency = stt / n
		s.AvgLLMLatency = llm / n
		s.AvgTTSLatency = tts / n
		s.AvgTurnLatency = total / n
		s.AvgConfidence = confidence / float64(s.SuccessfulTurns)
	}
	return s
}

// LogSummary computes the session Summary and writes it as one structured log
// record. Called on shutdown.
func (c *Collector) LogSummary() Summary {
	s := c.Summary()
	slog.Info("session summary",
		"duration", s.Duration.Round(time.Second),
		"total_turns", s.TotalTurns,
		"successful_turns", s.SuccessfulTurns,
		"failed_turns", s.FailedTurns,
		"success_rate", s.SuccessRate(),
		"avg_stt_latency", s.AvgSTTLatency,
		"avg_llm_latency", s.AvgLLMLatency,
		"avg_tts_latency", s.AvgTTSLatency,
		"avg_turn_latency", s.AvgTurnLatency,
		"avg_confidence", s.AvgConfidence)
	return s
}
