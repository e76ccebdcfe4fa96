package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yok-tottii/EzVoice/internal/apperr"
	"github.com/yok-tottii/EzVoice/internal/llm"
	"github.com/yok-tottii/EzVoice/internal/logger"
	"github.com/yok-tottii/EzVoice/internal/recognition"
	"github.com/yok-tottii/EzVoice/internal/recording"
	"github.com/yok-tottii/EzVoice/internal/speech"
)

// File names inside the working directory, overwritten on every run
const (
	RecordingFile = "record.wav"
	SpeechFile    = "speech.mp3"
)

// Player plays an audio file and blocks until it finishes
type Player interface {
	Play(ctx context.Context, path string) error
}

// SessionSaver stops a recording session and writes it to disk
type SessionSaver interface {
	Stop(s *recording.Session) error
	Save(s *recording.Session, path string) error
}

// Collaborators are the external stages of a run
type Collaborators struct {
	ASR    recognition.Recognizer
	LLM    llm.Completer
	TTS    speech.Synthesizer
	Player Player
}

// Config holds per-run settings
type Config struct {
	WorkDir      string
	Language     string
	Voice        string
	StageTimeout time.Duration // 0 means no deadline
}

// RunResult describes the last run
type RunResult struct {
	RunID      string    `json:"run_id"`
	AudioPath  string    `json:"audio_path"`
	Transcript string    `json:"transcript"`
	Reply      string    `json:"reply"`
	SpeechPath string    `json:"speech_path"`
	State      State     `json:"state"`
	Err        error     `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type job struct {
	runID     string
	audioPath string
	config    Config
	collab    Collaborators
	startedAt time.Time
}

// Orchestrator sequences recording, transcription, reply generation,
// synthesis and playback. Runs execute one at a time on a single worker.
type Orchestrator struct {
	saver   SessionSaver
	logger  *logger.Logger
	labeler Labeler

	mu        sync.Mutex
	config    Config
	collab    Collaborators
	state     State
	runID     string
	busy      bool
	last      *RunResult
	observers []Observer

	// notifyMu keeps transitions and their deliveries in order
	notifyMu sync.Mutex

	jobs    chan job
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(log *logger.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithLabeler replaces the default English status labels
func WithLabeler(labeler Labeler) Option {
	return func(o *Orchestrator) {
		if labeler != nil {
			o.labeler = labeler
		}
	}
}

// WithObserver registers an observer at construction
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// New creates an orchestrator. Start must be called before Submit.
func New(saver SessionSaver, collab Collaborators, config Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		saver:   saver,
		logger:  logger.NewDiscard(),
		labeler: DefaultLabel,
		config:  config,
		collab:  collab,
		state:   Idle,
		jobs:    make(chan job, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddObserver registers an observer
func (o *Orchestrator) AddObserver(observer Observer) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	o.observers = append(o.observers, observer)
	o.mu.Unlock()
}

// SetConfig replaces the settings used by the next run
func (o *Orchestrator) SetConfig(config Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = config
}

// SetCollaborators replaces the collaborators used by the next run
func (o *Orchestrator) SetCollaborators(collab Collaborators) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.collab = collab
}

// Start launches the worker goroutine
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return apperr.New(apperr.KindInvalidState, "pipeline.Start", "pipeline worker is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.started = true

	go o.worker(ctx, o.done)
	return nil
}

// Close stops the worker and waits for it. A run in progress is cancelled.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()
	<-done
	return nil
}

// BeginRecording moves to Recording for a new run and returns its ID
func (o *Orchestrator) BeginRecording() (string, error) {
	const op = "pipeline.BeginRecording"

	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return "", apperr.Newf(apperr.KindInvalidState, op, "a run is in progress (current state: %s)", o.state)
	}
	if o.state == Recording {
		o.mu.Unlock()
		return "", apperr.New(apperr.KindInvalidState, op, "already recording")
	}
	runID := uuid.NewString()
	o.runID = runID
	status, observers := o.advanceLocked(runID, Recording, nil)
	o.mu.Unlock()

	deliver(status, observers)
	return runID, nil
}

// Fail ends the current recording run with err, e.g. when the device
// could not be opened. It does nothing once the recording was submitted.
func (o *Orchestrator) Fail(err error) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	if o.state != Recording || o.busy {
		o.mu.Unlock()
		return
	}
	now := time.Now()
	o.last = &RunResult{
		RunID:      o.runID,
		State:      Failed,
		Err:        err,
		StartedAt:  now,
		FinishedAt: now,
	}
	status, observers := o.advanceLocked(o.runID, Failed, err)
	o.mu.Unlock()

	o.logger.Error("Run %s failed while recording: %v", status.RunID, err)
	deliver(status, observers)
}

// Submit stops and saves the session, then hands the recording to the
// worker. It fails with an invalid state error while another run is in
// progress or when no recording was begun; the session is left untouched
// in that case.
func (o *Orchestrator) Submit(s *recording.Session) error {
	const op = "pipeline.Submit"

	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return apperr.New(apperr.KindInvalidState, op, "pipeline worker is not running")
	}
	if o.busy {
		o.mu.Unlock()
		return apperr.Newf(apperr.KindInvalidState, op, "a run is in progress (current state: %s)", o.state)
	}
	if o.state != Recording {
		o.mu.Unlock()
		return apperr.Newf(apperr.KindInvalidState, op, "not recording (current state: %s)", o.state)
	}
	o.busy = true
	runID := o.runID
	config := o.config
	collab := o.collab
	o.mu.Unlock()

	startedAt := time.Now()

	if err := o.saver.Stop(s); err != nil {
		// The session is stopped even when closing the stream reports an error
		o.logger.Warn("Run %s: stopping the stream reported: %v", runID, err)
	}

	audioPath := filepath.Join(config.WorkDir, RecordingFile)
	if err := o.saver.Save(s, audioPath); err != nil {
		o.finish(&RunResult{RunID: runID, AudioPath: audioPath, StartedAt: startedAt}, Failed, err)
		return err
	}
	o.logger.Info("Run %s: recording saved to %s", runID, audioPath)

	o.transition(runID, Transcribing, nil)
	o.jobs <- job{
		runID:     runID,
		audioPath: audioPath,
		config:    config,
		collab:    collab,
		startedAt: startedAt,
	}
	return nil
}

// Snapshot returns the current state and a copy of the last finished run
func (o *Orchestrator) Snapshot() (State, *RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.last == nil {
		return o.state, nil
	}
	last := *o.last
	return o.state, &last
}

// Current returns the status of the current state
func (o *Orchestrator) Current() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := Status{
		RunID: o.runID,
		State: o.state,
		Label: o.labeler(o.state),
		Time:  time.Now(),
	}
	if o.state == Failed && o.last != nil {
		status.Err = o.last.Err
	}
	return status
}

// Busy reports whether a run is between Submit and its terminal state
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

func (o *Orchestrator) worker(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			// A run queued but not yet picked up still ends
			select {
			case j := <-o.jobs:
				o.finish(&RunResult{RunID: j.runID, AudioPath: j.audioPath, StartedAt: j.startedAt}, Failed, ctx.Err())
			default:
			}
			return
		case j := <-o.jobs:
			o.run(ctx, j)
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, j job) {
	result := &RunResult{
		RunID:     j.runID,
		AudioPath: j.audioPath,
		StartedAt: j.startedAt,
	}

	o.logger.Info("Run %s: transcribing %s (language: %s)", j.runID, j.audioPath, j.config.Language)
	err := o.stage(ctx, j.config.StageTimeout, func(ctx context.Context) error {
		if j.collab.ASR == nil {
			return apperr.New(apperr.KindCollaborator, "pipeline.Transcribe", "speech recognition is not configured")
		}
		text, err := j.collab.ASR.Transcribe(ctx, j.audioPath, j.config.Language)
		if err != nil {
			return err
		}
		if text == "" {
			return apperr.New(apperr.KindCollaborator, "pipeline.Transcribe", "no speech recognized")
		}
		result.Transcript = text
		return nil
	})
	if err != nil {
		o.finish(result, Failed, err)
		return
	}
	o.logger.Info("Run %s: transcript: %s", j.runID, result.Transcript)

	o.transition(j.runID, GeneratingReply, nil)
	err = o.stage(ctx, j.config.StageTimeout, func(ctx context.Context) error {
		if j.collab.LLM == nil {
			return apperr.New(apperr.KindCollaborator, "pipeline.Complete", "language model is not configured")
		}
		reply, err := j.collab.LLM.Complete(ctx, result.Transcript)
		if err != nil {
			return err
		}
		result.Reply = reply
		return nil
	})
	if err != nil {
		o.finish(result, Failed, err)
		return
	}
	o.logger.Info("Run %s: reply: %s", j.runID, truncate(result.Reply, 200))

	o.transition(j.runID, Synthesizing, nil)
	err = o.stage(ctx, j.config.StageTimeout, func(ctx context.Context) error {
		if j.collab.TTS == nil {
			return apperr.New(apperr.KindCollaborator, "pipeline.Synthesize", "speech synthesis is not configured")
		}
		path, err := j.collab.TTS.Synthesize(ctx, result.Reply, j.config.Voice, filepath.Join(j.config.WorkDir, SpeechFile))
		if err != nil {
			return err
		}
		result.SpeechPath = path
		return nil
	})
	if err != nil {
		o.finish(result, Failed, err)
		return
	}

	o.transition(j.runID, Playing, nil)
	err = o.stage(ctx, j.config.StageTimeout, func(ctx context.Context) error {
		if j.collab.Player == nil {
			return apperr.New(apperr.KindCollaborator, "pipeline.Play", "audio playback is not configured")
		}
		if err := j.collab.Player.Play(ctx, result.SpeechPath); err != nil {
			return apperr.Wrap(apperr.KindCollaborator, "pipeline.Play", "playback failed", err)
		}
		return nil
	})
	if err != nil {
		o.finish(result, Failed, err)
		return
	}

	o.finish(result, Complete, nil)
}

// stage runs fn after checking for cancellation, under the optional deadline
func (o *Orchestrator) stage(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run cancelled: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return fn(ctx)
}

func (o *Orchestrator) finish(result *RunResult, state State, err error) {
	result.State = state
	result.Err = err
	result.FinishedAt = time.Now()

	if err != nil {
		o.logger.Error("Run %s failed: %v", result.RunID, err)
	} else {
		o.logger.Info("Run %s complete in %v", result.RunID, result.FinishedAt.Sub(result.StartedAt))
	}

	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	o.last = result
	o.busy = false
	status, observers := o.advanceLocked(result.RunID, state, err)
	o.mu.Unlock()

	deliver(status, observers)
}

// transition sets the state and notifies every observer in order
func (o *Orchestrator) transition(runID string, state State, err error) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	status, observers := o.advanceLocked(runID, state, err)
	o.mu.Unlock()

	deliver(status, observers)
}

// advanceLocked must be called with notifyMu and mu held
func (o *Orchestrator) advanceLocked(runID string, state State, err error) (Status, []Observer) {
	o.state = state
	o.logger.Debug("Run %s: %s", runID, state)

	return Status{
		RunID: runID,
		State: state,
		Label: o.labeler(state),
		Err:   err,
		Time:  time.Now(),
	}, append([]Observer(nil), o.observers...)
}

func deliver(status Status, observers []Observer) {
	for _, observer := range observers {
		observer.Deliver(status)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
