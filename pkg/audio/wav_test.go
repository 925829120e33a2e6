package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestEncodeWAVHeader(t *testing.T) {
	samples := []int16{0, 100, -100, 32767}
	data, err := EncodeWAV(samples, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	if len(data) != 44+len(samples)*2 {
		t.Fatalf("encoded size = %d, want %d", len(data), 44+len(samples)*2)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if ch := binary.LittleEndian.Uint16(data[22:24]); ch != 1 {
		t.Errorf("channels = %d, want 1", ch)
	}
	if sz := binary.LittleEndian.Uint32(data[40:44]); sz != uint32(len(samples)*2) {
		t.Errorf("data size = %d, want %d", sz, len(samples)*2)
	}
	// First sample after the 44-byte header.
	if s := int16(binary.LittleEndian.Uint16(data[44:46])); s != 0 {
		t.Errorf("first sample = %d, want 0", s)
	}
	if s := int16(binary.LittleEndian.Uint16(data[46:48])); s != 100 {
		t.Errorf("second sample = %d, want 100", s)
	}
}

func TestEncodeWAVRejectsInvalid(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000, 1); err == nil {
		t.Error("expected error for empty samples")
	}
	if _, err := EncodeWAV([]int16{1}, 0, 1); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := EncodeWAV([]int16{1}, 16000, 3); err == nil {
		t.Error("expected error for unsupported channel count")
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{Samples: make([]int16, 160), SampleRate: 16000, Channels: 1}
	if got := f.Duration(); got != 10*time.Millisecond {
		t.Errorf("Duration = %v, want 10ms", got)
	}

	stereo := Frame{Samples: make([]int16, 320), SampleRate: 16000, Channels: 2}
	if got := stereo.Duration(); got != 10*time.Millisecond {
		t.Errorf("stereo Duration = %v, want 10ms", got)
	}

	invalid := Frame{Samples: make([]int16, 160)}
	if got := invalid.Duration(); got != 0 {
		t.Errorf("invalid Duration = %v, want 0", got)
	}
}

func TestSamplesBytesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 256}
	out := BytesToSamples(SamplesToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("got %d samples, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
}
