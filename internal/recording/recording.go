package recording

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yok-tottii/EzVoice/internal/apperr"
	"github.com/yok-tottii/EzVoice/internal/audio"
	"github.com/yok-tottii/EzVoice/internal/logger"
)

// State represents the lifecycle state of a recording session.
// A session only moves forward: Idle -> Armed -> Active -> Stopped.
type State int

const (
	// Idle means the session has not opened a stream yet
	Idle State = iota
	// Armed means the stream is open but not started
	Armed
	// Active means chunks are being captured
	Active
	// Stopped means the stream is closed and the buffer can be saved
	Stopped
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Armed:
		return "Armed"
	case Active:
		return "Active"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Session is one recording from start to save
type Session struct {
	DeviceID   int
	SampleRate int

	mu        sync.Mutex
	captureMu sync.Mutex
	state     State
	stream    audio.InputStream
	buffer    [][]byte
	bytes     int
	saved     bool
	warnings  []error
	startedAt time.Time
	stoppedAt time.Time
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Chunks returns the number of buffered chunks
func (s *Session) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// BufferedBytes returns the total size of the buffered audio
func (s *Session) BufferedBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Frames returns the number of buffered frames
func (s *Session) Frames() int {
	return s.BufferedBytes() / (audio.Channels * audio.SampleWidth)
}

// Duration returns the length of the buffered audio
func (s *Session) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.SampleRate)
}

// Warnings returns the non-fatal configuration warnings raised when the session started
func (s *Session) Warnings() []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]error, len(s.warnings))
	copy(out, s.warnings)
	return out
}

// Saved reports whether the buffer has been written to disk
func (s *Session) Saved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// Recorder owns input streams and turns them into WAV files
type Recorder struct {
	driver audio.Driver
	logger *logger.Logger

	mu     sync.Mutex
	active map[int]*Session // device ID -> un-stopped session
}

// New creates a new recorder
func New(driver audio.Driver, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Recorder{
		driver: driver,
		logger: log,
		active: make(map[int]*Session),
	}
}

// Start opens and starts an input stream on deviceID.
// A non-positive sampleRate falls back to 16000 and is reported as a
// config warning on the session rather than as an error.
func (r *Recorder) Start(deviceID, sampleRate int) (*Session, error) {
	const op = "recording.Start"

	devices, err := audio.ListInputDevices(r.driver)
	if err != nil {
		return nil, err
	}
	if _, err := audio.FindInputDevice(devices, deviceID); err != nil {
		return nil, err
	}

	s := &Session{DeviceID: deviceID, SampleRate: sampleRate, state: Idle}

	if sampleRate <= 0 {
		warning := apperr.Newf(apperr.KindConfigWarning, op,
			"invalid sample rate %d, using %d", sampleRate, audio.DefaultSampleRate)
		r.logger.Warn("%v", warning)
		s.warnings = append(s.warnings, warning)
		s.SampleRate = audio.DefaultSampleRate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.active[deviceID]; ok {
		return nil, apperr.Newf(apperr.KindInvalidState, op,
			"device %d is already in use by a %s session", deviceID, owner.State())
	}

	config := audio.DefaultConfig()
	config.DeviceID = deviceID
	config.SampleRate = s.SampleRate

	stream, err := r.driver.OpenInput(config)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDeviceQuery, op, "failed to open input stream", err)
	}

	s.stream = stream
	s.state = Armed

	if err := stream.Start(); err != nil {
		if cerr := stream.Close(); cerr != nil {
			r.logger.Warn("Failed to close stream after start error: %v", cerr)
		}
		return nil, apperr.Wrap(apperr.KindDeviceQuery, op, "failed to start input stream", err)
	}

	s.state = Active
	s.startedAt = time.Now()
	r.active[deviceID] = s

	r.logger.Info("Recording started: device=%d rate=%d", deviceID, s.SampleRate)
	return s, nil
}

// CaptureChunk reads one chunk into the session buffer.
// It is a no-op unless the session is Active.
func (r *Recorder) CaptureChunk(s *Session) error {
	s.captureMu.Lock()
	defer s.captureMu.Unlock()

	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return nil
	}
	stream := s.stream
	s.mu.Unlock()

	chunk, err := stream.Read()
	if err != nil {
		if !errors.Is(err, audio.ErrInputOverflowed) || chunk == nil {
			return fmt.Errorf("failed to read chunk: %w", err)
		}
		r.logger.Warn("Input overflowed on device %d, keeping chunk", s.DeviceID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop may have completed while the read was blocked
	if s.state != Active {
		return nil
	}
	s.buffer = append(s.buffer, chunk)
	s.bytes += len(chunk)
	return nil
}

// Stop stops and closes the session's stream.
// Stopping a session that is already stopped, or was never active, is a no-op.
func (r *Recorder) Stop(s *Session) error {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return nil
	}
	s.state = Stopped
	s.stoppedAt = time.Now()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	r.release(s)

	// Close is attempted even if Stop fails
	stopErr := stream.Stop()
	closeErr := stream.Close()

	r.logger.Info("Recording stopped: device=%d chunks=%d bytes=%d", s.DeviceID, s.Chunks(), s.BufferedBytes())

	if stopErr != nil {
		return apperr.Wrap(apperr.KindDeviceQuery, "recording.Stop", "failed to stop input stream", stopErr)
	}
	if closeErr != nil {
		return apperr.Wrap(apperr.KindDeviceQuery, "recording.Stop", "failed to close input stream", closeErr)
	}
	return nil
}

// Save writes the buffered audio to path as a mono 16-bit WAV file.
// The session must be stopped and not yet saved. The buffer is cleared on success.
func (r *Recorder) Save(s *Session, path string) error {
	const op = "recording.Save"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Stopped {
		return apperr.Newf(apperr.KindInvalidState, op, "cannot save a %s session", s.state)
	}
	if s.saved {
		return apperr.New(apperr.KindInvalidState, op, "session was already saved")
	}

	if err := audio.WriteWAVFile(path, audio.RecordingFormat(s.SampleRate), s.buffer); err != nil {
		return apperr.Wrap(apperr.KindIOWrite, op, "failed to write "+path, err)
	}

	r.logger.Info("Recording saved to %s (%d bytes)", path, s.bytes)

	s.saved = true
	s.buffer = nil
	s.bytes = 0
	return nil
}

// Abandon stops the session if needed and drops its buffer without saving
func (r *Recorder) Abandon(s *Session) {
	if err := r.Stop(s); err != nil {
		r.logger.Warn("Failed to stop abandoned session: %v", err)
	}

	s.mu.Lock()
	s.buffer = nil
	s.bytes = 0
	s.mu.Unlock()
}

// Busy reports whether deviceID is owned by an un-stopped session
func (r *Recorder) Busy(deviceID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[deviceID]
	return ok
}

func (r *Recorder) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[s.DeviceID] == s {
		delete(r.active, s.DeviceID)
	}
}
