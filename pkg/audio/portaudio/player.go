package portaudio

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/loquax/pkg/audio"
)

// playbackChunk is the number of samples per channel written to the output
// stream at a time. 1024 samples is about 43 ms at 24 kHz, small enough that
// cancellation is responsive.
const playbackChunk = 1024

// Player writes synthesised PCM to the default output device.
type Player struct {
	format audio.Format
}

// NewPlayer creates a Player for PCM in the given format. PortAudio is
// initialised here and released by Close.
func NewPlayer(format audio.Format) (*Player, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("portaudio: invalid playback format %dHz/%dch", format.SampleRate, format.Channels)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Player{format: format}, nil
}

// Play blocks until the whole buffer has been written to the output device
// or ctx is cancelled. pcm is little-endian int16 samples in the player's
// format.
func (p *Player) Play(ctx context.Context, pcm []byte) error {
	samples := audio.BytesToSamples(pcm)
	if len(samples) == 0 {
		return nil
	}

	buf := make([]int16, playbackChunk*p.format.Channels)
	stream, err := portaudio.OpenDefaultStream(0, p.format.Channels, float64(p.format.SampleRate), playbackChunk, buf)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(samples); off += len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := copy(buf, samples[off:])
		// Zero-pad the final partial chunk.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}

		if err := stream.Write(); err != nil {
			return fmt.Errorf("portaudio: write audio: %w", err)
		}
	}
	return nil
}

// Close releases PortAudio. Safe to call once per Player.
func (p *Player) Close() error {
	return portaudio.Terminate()
}
