package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yok-tottii/EzVoice/internal/apperr"
	"github.com/yok-tottii/EzVoice/internal/audio/audiotest"
	"github.com/yok-tottii/EzVoice/internal/recording"
)

// calls records the order in which collaborators are invoked
type calls struct {
	mu    sync.Mutex
	names []string
}

func (c *calls) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names = append(c.names, name)
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

type fakeASR struct {
	calls *calls
	text  string
	err   error
	block bool
	lang  string
}

func (f *fakeASR) Transcribe(ctx context.Context, path, language string) (string, error) {
	f.calls.add("asr")
	f.lang = language
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return f.text, f.err
}

type fakeLLM struct {
	calls  *calls
	reply  string
	err    error
	prompt string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls.add("llm")
	f.prompt = prompt
	return f.reply, f.err
}

type fakeTTS struct {
	calls *calls
	err   error
	voice string
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, voiceID, outPath string) (string, error) {
	f.calls.add("tts")
	f.voice = voiceID
	if f.err != nil {
		return "", f.err
	}
	return outPath, os.WriteFile(outPath, []byte(text), 0644)
}

type fakePlayer struct {
	calls *calls
	err   error
	path  string
}

func (f *fakePlayer) Play(ctx context.Context, path string) error {
	f.calls.add("play")
	f.path = path
	return f.err
}

type fixture struct {
	orch     *Orchestrator
	recorder *recording.Recorder
	observer *ChannelObserver
	calls    *calls
	asr      *fakeASR
	llm      *fakeLLM
	tts      *fakeTTS
	player   *fakePlayer
	workDir  string
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()

	c := &calls{}
	f := &fixture{
		recorder: recording.New(audiotest.NewDriver(), nil),
		observer: NewChannelObserver(32),
		calls:    c,
		asr:      &fakeASR{calls: c, text: "你好"},
		llm:      &fakeLLM{calls: c, reply: "你好！"},
		tts:      &fakeTTS{calls: c},
		player:   &fakePlayer{calls: c},
		workDir:  t.TempDir(),
	}

	config.WorkDir = f.workDir
	f.orch = New(f.recorder, Collaborators{
		ASR:    f.asr,
		LLM:    f.llm,
		TTS:    f.tts,
		Player: f.player,
	}, config, WithObserver(f.observer))

	if err := f.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { f.orch.Close() })
	return f
}

// record begins a run and captures n chunks
func (f *fixture) record(t *testing.T, n int) *recording.Session {
	t.Helper()

	if _, err := f.orch.BeginRecording(); err != nil {
		t.Fatalf("BeginRecording failed: %v", err)
	}
	s, err := f.recorder.Start(0, 16000)
	if err != nil {
		t.Fatalf("Recorder start failed: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := f.recorder.CaptureChunk(s); err != nil {
			t.Fatalf("CaptureChunk failed: %v", err)
		}
	}
	return s
}

// waitTerminal collects statuses up to and including Complete or Failed
func (f *fixture) waitTerminal(t *testing.T) []Status {
	t.Helper()

	var statuses []Status
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-f.observer.C():
			statuses = append(statuses, s)
			if s.State.Terminal() {
				return statuses
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for a terminal state, got %v", statuses)
		}
	}
}

func states(statuses []Status) []State {
	out := make([]State, len(statuses))
	for i, s := range statuses {
		out[i] = s.State
	}
	return out
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
		label    string
	}{
		{Idle, "Idle", "Ready"},
		{Recording, "Recording", "Recording in progress..."},
		{Transcribing, "Transcribing", "Calling ASR..."},
		{GeneratingReply, "GeneratingReply", "Processing LLM..."},
		{Synthesizing, "Synthesizing", "Generating speech..."},
		{Playing, "Playing", "Playing speech..."},
		{Complete, "Complete", "Complete"},
		{Failed, "Failed", "Failed"},
		{State(99), "Unknown", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.state.String(); result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
			if result := DefaultLabel(tt.state); result != tt.label {
				t.Errorf("Expected label %q, got %q", tt.label, result)
			}
		})
	}
}

func TestRun_HappyPath(t *testing.T) {
	f := newFixture(t, Config{Language: "auto", Voice: "zh-CN-XiaoyiNeural"})

	s := f.record(t, 5)
	if err := f.orch.Submit(s); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	statuses := f.waitTerminal(t)

	expected := []State{Recording, Transcribing, GeneratingReply, Synthesizing, Playing, Complete}
	if !equalStates(states(statuses), expected) {
		t.Errorf("Expected %v, got %v", expected, states(statuses))
	}

	for _, status := range statuses {
		if status.Label != DefaultLabel(status.State) {
			t.Errorf("Unexpected label %q for %s", status.Label, status.State)
		}
		if status.RunID != statuses[0].RunID {
			t.Error("Run ID changed within a run")
		}
	}

	if got := f.calls.list(); !equalStrings(got, []string{"asr", "llm", "tts", "play"}) {
		t.Errorf("Unexpected call order %v", got)
	}

	if f.asr.lang != "auto" || f.llm.prompt != "你好" || f.tts.voice != "zh-CN-XiaoyiNeural" {
		t.Errorf("Unexpected stage inputs: lang=%q prompt=%q voice=%q", f.asr.lang, f.llm.prompt, f.tts.voice)
	}
	if f.player.path != filepath.Join(f.workDir, SpeechFile) {
		t.Errorf("Unexpected playback path %s", f.player.path)
	}

	state, last := f.orch.Snapshot()
	if state != Complete || last == nil {
		t.Fatalf("Expected Complete with a result, got %s %v", state, last)
	}
	if last.Transcript != "你好" || last.Reply != "你好！" || last.Err != nil {
		t.Errorf("Unexpected result %+v", last)
	}
	if _, err := os.Stat(filepath.Join(f.workDir, RecordingFile)); err != nil {
		t.Errorf("Recording not saved: %v", err)
	}
	if f.orch.Busy() {
		t.Error("Orchestrator should not be busy after Complete")
	}
}

func TestRun_TranscribingFailure(t *testing.T) {
	f := newFixture(t, Config{Language: "auto"})
	f.asr.err = apperr.New(apperr.KindCollaborator, "test", "model unavailable")

	s := f.record(t, 2)
	if err := f.orch.Submit(s); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	statuses := f.waitTerminal(t)

	expected := []State{Recording, Transcribing, Failed}
	if !equalStates(states(statuses), expected) {
		t.Errorf("Expected %v, got %v", expected, states(statuses))
	}

	last := statuses[len(statuses)-1]
	if !apperr.IsKind(last.Err, apperr.KindCollaborator) {
		t.Errorf("Expected collaborator error on Failed, got %v", last.Err)
	}

	if got := f.calls.list(); !equalStrings(got, []string{"asr"}) {
		t.Errorf("Expected only ASR to be called, got %v", got)
	}

	// The recording stays on disk for inspection
	if _, err := os.Stat(filepath.Join(f.workDir, RecordingFile)); err != nil {
		t.Errorf("Recording should be kept: %v", err)
	}
}

func TestRun_EmptyTranscriptFails(t *testing.T) {
	f := newFixture(t, Config{Language: "auto"})
	f.asr.text = ""

	if err := f.orch.Submit(f.record(t, 1)); err != nil {
		t.Fatal(err)
	}

	statuses := f.waitTerminal(t)
	if statuses[len(statuses)-1].State != Failed {
		t.Errorf("Expected Failed, got %v", states(statuses))
	}
	if got := f.calls.list(); !equalStrings(got, []string{"asr"}) {
		t.Errorf("Expected only ASR to be called, got %v", got)
	}
}

func TestRun_LaterStageFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		expected []State
		called   []string
	}{
		{
			name:     "llm",
			setup:    func(f *fixture) { f.llm.err = errors.New("401") },
			expected: []State{Recording, Transcribing, GeneratingReply, Failed},
			called:   []string{"asr", "llm"},
		},
		{
			name:     "tts",
			setup:    func(f *fixture) { f.tts.err = errors.New("websocket closed") },
			expected: []State{Recording, Transcribing, GeneratingReply, Synthesizing, Failed},
			called:   []string{"asr", "llm", "tts"},
		},
		{
			name:     "playback",
			setup:    func(f *fixture) { f.player.err = errors.New("no output device") },
			expected: []State{Recording, Transcribing, GeneratingReply, Synthesizing, Playing, Failed},
			called:   []string{"asr", "llm", "tts", "play"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{Language: "auto"})
			tt.setup(f)

			if err := f.orch.Submit(f.record(t, 1)); err != nil {
				t.Fatal(err)
			}

			statuses := f.waitTerminal(t)
			if !equalStates(states(statuses), tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, states(statuses))
			}
			if got := f.calls.list(); !equalStrings(got, tt.called) {
				t.Errorf("Expected calls %v, got %v", tt.called, got)
			}
		})
	}
}

func TestSubmit_WhileBusy(t *testing.T) {
	f := newFixture(t, Config{Language: "auto"})
	f.asr.block = true

	first := f.record(t, 1)
	if err := f.orch.Submit(first); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Wait until the worker is inside the ASR call
	deadline := time.Now().Add(5 * time.Second)
	for len(f.calls.list()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ASR was never called")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := f.orch.BeginRecording(); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Errorf("Expected invalid state from BeginRecording, got %v", err)
	}

	second, err := f.recorder.Start(0, 16000)
	if err != nil {
		t.Fatal(err)
	}
	defer f.recorder.Abandon(second)

	if err := f.orch.Submit(second); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Errorf("Expected invalid state from Submit, got %v", err)
	}
	if second.State() != recording.Active {
		t.Errorf("A rejected session must be left untouched, got %s", second.State())
	}

	// Closing cancels the blocked run
	f.orch.Close()

	statuses := f.waitTerminal(t)
	last := statuses[len(statuses)-1]
	if last.State != Failed || !errors.Is(last.Err, context.Canceled) {
		t.Errorf("Expected Failed with context.Canceled, got %s %v", last.State, last.Err)
	}
}

func TestSubmit_NotRecording(t *testing.T) {
	f := newFixture(t, Config{})

	s, err := f.recorder.Start(0, 16000)
	if err != nil {
		t.Fatal(err)
	}
	defer f.recorder.Abandon(s)

	if err := f.orch.Submit(s); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Errorf("Expected invalid state error, got %v", err)
	}
}

func TestSubmit_SaveFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.orch.SetConfig(Config{WorkDir: filepath.Join(f.workDir, "missing")})

	s := f.record(t, 1)
	err := f.orch.Submit(s)
	if !apperr.IsKind(err, apperr.KindIOWrite) {
		t.Fatalf("Expected io write error, got %v", err)
	}

	statuses := f.waitTerminal(t)
	if !equalStates(states(statuses), []State{Recording, Failed}) {
		t.Errorf("Unexpected states %v", states(statuses))
	}
	if len(f.calls.list()) != 0 {
		t.Error("No collaborator should run after a failed save")
	}

	// A new run can begin after the failure
	if _, err := f.orch.BeginRecording(); err != nil {
		t.Errorf("BeginRecording after failure: %v", err)
	}
}

func TestStageTimeout(t *testing.T) {
	f := newFixture(t, Config{StageTimeout: 20 * time.Millisecond})
	f.asr.block = true

	if err := f.orch.Submit(f.record(t, 1)); err != nil {
		t.Fatal(err)
	}

	statuses := f.waitTerminal(t)
	last := statuses[len(statuses)-1]
	if last.State != Failed || !errors.Is(last.Err, context.DeadlineExceeded) {
		t.Errorf("Expected Failed with deadline exceeded, got %s %v", last.State, last.Err)
	}
}

func TestFail_WhileRecording(t *testing.T) {
	f := newFixture(t, Config{})

	if _, err := f.orch.BeginRecording(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.BeginRecording(); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Errorf("Expected invalid state for a second BeginRecording, got %v", err)
	}

	cause := apperr.New(apperr.KindInvalidDevice, "test", "device gone")
	f.orch.Fail(cause)

	statuses := f.waitTerminal(t)
	last := statuses[len(statuses)-1]
	if last.State != Failed || !errors.Is(last.Err, cause) {
		t.Errorf("Expected Failed with cause, got %s %v", last.State, last.Err)
	}

	current := f.orch.Current()
	if current.State != Failed || current.Err == nil {
		t.Errorf("Unexpected current status %+v", current)
	}

	// Fail outside Recording does nothing
	f.orch.Fail(errors.New("ignored"))
	select {
	case s := <-f.observer.C():
		t.Errorf("Unexpected status %v", s.State)
	default:
	}
}

func TestWithLabeler(t *testing.T) {
	observer := NewChannelObserver(4)
	o := New(nil, Collaborators{}, Config{}, WithObserver(observer), WithLabeler(func(s State) string {
		return "label:" + s.String()
	}))

	if _, err := o.BeginRecording(); err != nil {
		t.Fatal(err)
	}

	status := <-observer.C()
	if status.Label != "label:Recording" {
		t.Errorf("Expected custom label, got %q", status.Label)
	}
}

func TestChannelObserver_DropsOldestWhenFull(t *testing.T) {
	observer := NewChannelObserver(2)

	done := make(chan struct{})
	go func() {
		for _, state := range []State{Recording, Transcribing, GeneratingReply, Synthesizing, Failed} {
			observer.Deliver(Status{State: state})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked on a full buffer")
	}

	var got []State
	for len(observer.C()) > 0 {
		got = append(got, (<-observer.C()).State)
	}
	if !equalStates(got, []State{Synthesizing, Failed}) {
		t.Errorf("Expected the latest statuses, got %v", got)
	}
}

func TestBeginRecording_FullObserverDoesNotBlock(t *testing.T) {
	observer := NewChannelObserver(1)
	o := New(nil, Collaborators{}, Config{}, WithObserver(observer))

	// Nobody drains the observer, as when the tray goroutine itself calls in
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			o.BeginRecording()
			o.Fail(errors.New("no device"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Orchestrator blocked on a full observer")
	}

	if status := <-observer.C(); status.State != Failed {
		t.Errorf("Expected the latest status Failed, got %v", status.State)
	}
}

func TestStart_Twice(t *testing.T) {
	o := New(nil, Collaborators{}, Config{})
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer o.Close()

	if err := o.Start(context.Background()); !apperr.IsKind(err, apperr.KindInvalidState) {
		t.Errorf("Expected invalid state error, got %v", err)
	}
}

func TestObserverFunc(t *testing.T) {
	var got []State
	o := New(nil, Collaborators{}, Config{}, WithObserver(ObserverFunc(func(s Status) {
		got = append(got, s.State)
	})))

	o.BeginRecording()
	o.Fail(errors.New("boom"))

	if !equalStates(got, []State{Recording, Failed}) {
		t.Errorf("Unexpected states %v", got)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
