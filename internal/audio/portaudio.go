package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDriver implements Driver using PortAudio.
// Every call and every stream holds its own Initialize/Terminate pair, so no
// global PortAudio state outlives the work that needed it.
type PortAudioDriver struct{}

// NewPortAudioDriver creates a new PortAudio driver
func NewPortAudioDriver() *PortAudioDriver {
	return &PortAudioDriver{}
}

// Devices returns every device reported by PortAudio
func (d *PortAudioDriver) Devices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		// If we can't get the default device, continue without marking any as default
		defaultInput = nil
	}

	result := make([]Device, 0, len(devices))
	for i, dev := range devices {
		result = append(result, Device{
			ID:             i,
			Name:           dev.Name,
			InputChannels:  dev.MaxInputChannels,
			OutputChannels: dev.MaxOutputChannels,
			IsDefault:      defaultInput != nil && dev.Name == defaultInput.Name,
		})
	}

	return result, nil
}

// OpenInput opens a blocking capture stream on the device at config.DeviceID
func (d *PortAudioDriver) OpenInput(config Config) (InputStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	stream, buffer, err := openInputStream(config)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	return &portAudioInput{stream: stream, buffer: buffer}, nil
}

func openInputStream(config Config) (*portaudio.Stream, []int16, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list devices: %w", err)
	}

	if config.DeviceID < 0 || config.DeviceID >= len(devices) {
		return nil, nil, fmt.Errorf("invalid device ID: %d", config.DeviceID)
	}
	device := devices[config.DeviceID]

	// Validate device has input channels
	if device.MaxInputChannels <= 0 {
		return nil, nil, fmt.Errorf("selected device '%s' (ID: %d) has no input channels (output-only device)",
			device.Name, config.DeviceID)
	}

	var latency time.Duration
	switch config.Latency {
	case LowLatency:
		latency = device.DefaultLowInputLatency
	default:
		latency = device.DefaultHighInputLatency
	}

	frames := config.FramesPerBuffer
	if frames <= 0 {
		frames = ChunkFrames
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: config.Channels,
			Latency:  latency,
		},
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: frames,
	}

	buffer := make([]int16, frames*config.Channels)
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stream: %w", err)
	}

	return stream, buffer, nil
}

// portAudioInput is a blocking-read input stream
type portAudioInput struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buffer []int16
	closed bool
}

func (s *portAudioInput) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	return nil
}

func (s *portAudioInput) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("stream is closed")
	}

	err := s.stream.Read()
	if err != nil && err != portaudio.InputOverflowed {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	chunk := Int16ToBytes(s.buffer)
	if err == portaudio.InputOverflowed {
		return chunk, ErrInputOverflowed
	}
	return chunk, nil
}

func (s *portAudioInput) Stop() error {
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	return nil
}

func (s *portAudioInput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.stream.Close()
	portaudio.Terminate()
	if err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}
