package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmBytes(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestPCMToFloat32(t *testing.T) {
	got := pcmToFloat32(pcmBytes(0, 16384, -16384, 32767, -32768))
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0, -1.0}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32Empty(t *testing.T) {
	if got := pcmToFloat32(nil); len(got) != 0 {
		t.Errorf("expected no samples, got %d", len(got))
	}
}

func TestPCMToFloat32OddTrailingByte(t *testing.T) {
	b := append(pcmBytes(16384), 0x7f)
	got := pcmToFloat32(b)
	if len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
}

func TestPCMToFloat32MonoDownmix(t *testing.T) {
	// Interleaved stereo frames (L, R): (16384, -16384), (8192, 8192).
	got := pcmToFloat32Mono(pcmBytes(16384, -16384, 8192, 8192), 2)
	want := []float32{0, 0.25}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %f, want %f", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32MonoSingleChannel(t *testing.T) {
	b := pcmBytes(100, -100, 3000)
	mono := pcmToFloat32Mono(b, 1)
	direct := pcmToFloat32(b)
	if len(mono) != len(direct) {
		t.Fatalf("got %d samples, want %d", len(mono), len(direct))
	}
	for i := range direct {
		if mono[i] != direct[i] {
			t.Errorf("sample %d: got %f, want %f", i, mono[i], direct[i])
		}
	}
}
