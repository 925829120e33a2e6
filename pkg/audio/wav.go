package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // byte length of the sample data
}

// EncodeWAV encodes signed 16-bit PCM samples into a WAV container.
// Used by STT backends that accept batch audio rather than a raw PCM stream.
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, errors.New("audio: cannot encode empty sample buffer")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", channels)
	}

	const bitsPerSample = 16
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate*channels) * bitsPerSample / 8,
		BlockAlign:    uint16(channels) * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("audio: write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("audio: write WAV data: %w", err)
	}
	return buf.Bytes(), nil
}
