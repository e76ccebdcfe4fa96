// Package audiotest provides an in-memory audio.Driver for tests that must run
// without audio hardware.
package audiotest

import (
	"fmt"
	"sync"
	"time"

	"github.com/yok-tottii/EzVoice/internal/audio"
)

// Driver is a scripted audio.Driver
type Driver struct {
	mu sync.Mutex

	DeviceList []audio.Device
	DevicesErr error
	OpenErr    error
	StartErr   error
	StopErr    error

	// Chunks are returned by Read in order. Once exhausted, Read generates
	// chunks whose bytes all equal the read index.
	Chunks [][]byte

	// Interval is slept before every Read to mimic a blocking device
	Interval time.Duration

	streams []*Stream
}

// NewDriver returns a driver with one input device (ID 0) and one output-only device (ID 1)
func NewDriver() *Driver {
	return &Driver{
		DeviceList: []audio.Device{
			{ID: 0, Name: "Fake Microphone", InputChannels: 1, IsDefault: true},
			{ID: 1, Name: "Fake Speakers", OutputChannels: 2},
		},
	}
}

// Devices implements audio.Driver
func (d *Driver) Devices() ([]audio.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.DevicesErr != nil {
		return nil, d.DevicesErr
	}
	out := make([]audio.Device, len(d.DeviceList))
	copy(out, d.DeviceList)
	return out, nil
}

// OpenInput implements audio.Driver
func (d *Driver) OpenInput(config audio.Config) (audio.InputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.OpenErr != nil {
		return nil, d.OpenErr
	}

	s := &Stream{driver: d, Config: config}
	d.streams = append(d.streams, s)
	return s, nil
}

// Streams returns every stream opened so far
func (d *Driver) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*Stream, len(d.streams))
	copy(out, d.streams)
	return out
}

// LastStream returns the most recently opened stream, or nil
func (d *Driver) LastStream() *Stream {
	streams := d.Streams()
	if len(streams) == 0 {
		return nil
	}
	return streams[len(streams)-1]
}

// Stream is a fake input stream
type Stream struct {
	driver *Driver
	Config audio.Config

	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
	reads   int
}

func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.driver.StartErr != nil {
		return s.driver.StartErr
	}
	s.started = true
	return nil
}

func (s *Stream) Read() ([]byte, error) {
	if s.driver.Interval > 0 {
		time.Sleep(s.driver.Interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("stream is closed")
	}
	if !s.started || s.stopped {
		return nil, fmt.Errorf("stream is not started")
	}

	i := s.reads
	s.reads++

	if i < len(s.driver.Chunks) {
		chunk := make([]byte, len(s.driver.Chunks[i]))
		copy(chunk, s.driver.Chunks[i])
		return chunk, nil
	}

	chunk := make([]byte, s.Config.ChunkBytes())
	for j := range chunk {
		chunk[j] = byte(i)
	}
	return chunk, nil
}

func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	return s.driver.StopErr
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Started reports whether Start succeeded
func (s *Stream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Closed reports whether Close was called
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reads returns the number of successful reads
func (s *Stream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
