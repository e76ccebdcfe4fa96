package audio

import (
	"errors"
	"fmt"

	"github.com/yok-tottii/EzVoice/internal/apperr"
)

const (
	// ChunkFrames is the number of frames delivered by one blocking read
	ChunkFrames = 1024
	// DefaultSampleRate is used when no valid sample rate is configured
	DefaultSampleRate = 16000
	// Channels is the channel count of every recording (mono)
	Channels = 1
	// SampleWidth is the size of one sample in bytes (16-bit signed PCM)
	SampleWidth = 2
)

// ErrInputOverflowed is returned together with a chunk when the device dropped
// input before it could be read. The chunk itself is still usable.
var ErrInputOverflowed = errors.New("audio input overflowed")

// Device represents an audio device as reported by the platform
type Device struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	InputChannels  int    `json:"input_channels"`
	OutputChannels int    `json:"output_channels"`
	IsDefault      bool   `json:"is_default"`
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// Config holds input stream configuration
type Config struct {
	DeviceID        int
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	Latency         LatencyMode
}

// DefaultConfig returns the default input configuration
// Sample rate: 16kHz
// Channels: 1 (mono)
// Frames per buffer: 1024
func DefaultConfig() Config {
	return Config{
		DeviceID:        -1, // -1 means first enumerated input device
		SampleRate:      DefaultSampleRate,
		Channels:        Channels,
		FramesPerBuffer: ChunkFrames,
		Latency:         HighStability,
	}
}

// ChunkBytes returns the size in bytes of one chunk read with this configuration
func (c Config) ChunkBytes() int {
	return c.FramesPerBuffer * c.Channels * SampleWidth
}

// InputStream is an opened capture stream delivering fixed-size chunks
type InputStream interface {
	// Start begins capturing
	Start() error

	// Read blocks until one chunk is available and returns a copy of it
	// as little-endian 16-bit PCM
	Read() ([]byte, error)

	// Stop stops capturing
	Stop() error

	// Close releases the stream
	Close() error
}

// Driver is the interface to the platform audio subsystem.
// This abstraction allows PortAudio to be swapped for a fake in tests.
type Driver interface {
	// Devices returns every device known to the platform, in platform order
	Devices() ([]Device, error)

	// OpenInput opens a capture stream for the given configuration
	OpenInput(config Config) (InputStream, error)
}

// ListInputDevices returns the devices that can capture audio, in platform order
func ListInputDevices(driver Driver) ([]Device, error) {
	if driver == nil {
		return nil, apperr.New(apperr.KindDeviceQuery, "audio.ListInputDevices", "no audio driver")
	}

	all, err := driver.Devices()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDeviceQuery, "audio.ListInputDevices", "failed to query devices", err)
	}

	result := make([]Device, 0, len(all))
	for _, dev := range all {
		if dev.InputChannels > 0 {
			result = append(result, dev)
		}
	}

	return result, nil
}

// FindInputDevice looks up an input device by its platform index
func FindInputDevice(devices []Device, id int) (Device, error) {
	for _, dev := range devices {
		if dev.ID == id {
			return dev, nil
		}
	}
	return Device{}, apperr.New(apperr.KindInvalidDevice, "audio.FindInputDevice",
		fmt.Sprintf("device %d is not an available input device", id))
}

// Int16ToBytes converts samples to little-endian bytes
func Int16ToBytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, v := range in {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
