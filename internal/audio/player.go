package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/hajimehoshi/go-mp3"
)

// Player plays mp3 and wav files on the default output device
type Player struct {
	framesPerBuffer int
}

// NewPlayer creates a new player
func NewPlayer() *Player {
	return &Player{framesPerBuffer: ChunkFrames}
}

// Play decodes the file at path and blocks until playback completes or ctx is done
func (p *Player) Play(ctx context.Context, path string) error {
	src, err := OpenPCM(path)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	out := make([]int16, p.framesPerBuffer*src.Channels)
	stream, err := portaudio.OpenDefaultStream(0, src.Channels, float64(src.SampleRate), p.framesPerBuffer, out)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	defer stream.Stop()

	return pumpPCM(ctx, src, out, func() error {
		if err := stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
			return err
		}
		return nil
	})
}

// PCMSource is a decoded stream of little-endian 16-bit interleaved samples
type PCMSource struct {
	io.Reader
	SampleRate int
	Channels   int
	closer     io.Closer
}

// Close closes the underlying file
func (s *PCMSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// OpenPCM opens an mp3 or wav file as a PCM source
func OpenPCM(path string) (*PCMSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		decoder, err := mp3.NewDecoder(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to decode mp3: %w", err)
		}
		// go-mp3 always produces 16-bit stereo
		return &PCMSource{Reader: decoder, SampleRate: decoder.SampleRate(), Channels: 2, closer: f}, nil

	case ".wav":
		info, body, err := readWAV(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		if info.BitsPerSample != 16 {
			f.Close()
			return nil, fmt.Errorf("unsupported bit depth for playback: %d", info.BitsPerSample)
		}
		return &PCMSource{
			Reader:     io.LimitReader(body, int64(info.DataSize)),
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
			closer:     f,
		}, nil

	default:
		f.Close()
		return nil, fmt.Errorf("unsupported audio file type: %s", filepath.Ext(path))
	}
}

// pumpPCM fills out from src and hands it to write until src is exhausted.
// The last partial buffer is padded with silence.
func pumpPCM(ctx context.Context, src io.Reader, out []int16, write func() error) error {
	raw := make([]byte, len(out)*2)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(src, raw)
		if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil && err != io.EOF && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("failed to read audio: %w", err)
		}

		samples := n / 2
		for i := 0; i < samples; i++ {
			out[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		}
		for i := samples; i < len(out); i++ {
			out[i] = 0
		}

		if werr := write(); werr != nil {
			return fmt.Errorf("failed to write output stream: %w", werr)
		}

		if err != nil {
			// Short read: source exhausted
			return nil
		}
	}
}
