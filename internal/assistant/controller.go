// Package assistant holds the user-facing recording state shared by the tray,
// the hotkey and the HTTP API.
package assistant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yok-tottii/EzVoice/internal/apperr"
	"github.com/yok-tottii/EzVoice/internal/audio"
	"github.com/yok-tottii/EzVoice/internal/logger"
	"github.com/yok-tottii/EzVoice/internal/recording"
)

// Pipeline is the part of the orchestrator the controller drives
type Pipeline interface {
	BeginRecording() (string, error)
	Submit(s *recording.Session) error
	Fail(err error)
}

// Options holds the initial controller settings
type Options struct {
	DeviceID      int // -1 selects the first input device
	SampleRate    int
	MaxRecordTime time.Duration // 0 disables the automatic stop
}

// Controller owns the selected device, the current session and its capture loop
type Controller struct {
	driver   audio.Driver
	recorder *recording.Recorder
	pipeline Pipeline
	logger   *logger.Logger

	mu            sync.Mutex
	devices       []audio.Device
	canRecord     bool
	wantDeviceID  int
	deviceID      int
	sampleRate    int
	maxRecordTime time.Duration

	session     *recording.Session
	runID       string
	stopCapture context.CancelFunc
	captureDone chan struct{}
	timer       *time.Timer

	// OnAutoStop is called after the max record time stopped a recording
	OnAutoStop func(err error)
}

// New creates a controller. RefreshDevices must be called before OnStart.
func New(driver audio.Driver, recorder *recording.Recorder, pipeline Pipeline, log *logger.Logger, opts Options) *Controller {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Controller{
		driver:        driver,
		recorder:      recorder,
		pipeline:      pipeline,
		logger:        log,
		wantDeviceID:  opts.DeviceID,
		deviceID:      -1,
		sampleRate:    opts.SampleRate,
		maxRecordTime: opts.MaxRecordTime,
	}
}

// RefreshDevices lists input devices again. When the audio subsystem cannot
// be queried the list is empty and recording is disabled.
func (c *Controller) RefreshDevices() []audio.Device {
	devices, err := audio.ListInputDevices(c.driver)
	if err != nil {
		c.logger.Error("入力デバイスの取得に失敗: %v", err)
		devices = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.devices = devices
	c.canRecord = len(devices) > 0
	c.deviceID = -1

	if !c.canRecord {
		c.logger.Warn("入力デバイスがありません - 録音機能が無効化されます")
		return nil
	}

	if _, err := audio.FindInputDevice(devices, c.wantDeviceID); err == nil {
		c.deviceID = c.wantDeviceID
	} else {
		if c.wantDeviceID >= 0 {
			c.logger.Warn("設定のデバイスID %d が見つかりません - %s を使用します", c.wantDeviceID, devices[0].Name)
		}
		c.deviceID = devices[0].ID
	}

	c.logger.Info("入力デバイス: %d 件, 選択: %d", len(devices), c.deviceID)
	return append([]audio.Device(nil), devices...)
}

// Devices returns the last listed input devices
func (c *Controller) Devices() []audio.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Device(nil), c.devices...)
}

// SelectedDevice returns the selected device ID, or -1
func (c *Controller) SelectedDevice() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// SelectDevice selects an input device for the next recording
func (c *Controller) SelectDevice(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := audio.FindInputDevice(c.devices, id); err != nil {
		return err
	}
	c.wantDeviceID = id
	c.deviceID = id
	c.logger.Info("入力デバイスを変更: %d", id)
	return nil
}

// SetSampleRate sets the rate for the next recording. Invalid rates are
// corrected by the recorder with a warning.
func (c *Controller) SetSampleRate(rate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sampleRate = rate
}

// SetMaxRecordTime sets the automatic stop for the next recording
func (c *Controller) SetMaxRecordTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxRecordTime = d
}

// CanRecord reports whether an input device is available
func (c *Controller) CanRecord() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canRecord
}

// IsRecording reports whether a session is being captured
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// OnStart begins a run and starts capturing from the selected device
func (c *Controller) OnStart() error {
	const op = "assistant.OnStart"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return apperr.New(apperr.KindInvalidState, op, "already recording")
	}
	if !c.canRecord {
		return apperr.New(apperr.KindDeviceQuery, op, "no input device available")
	}

	runID, err := c.pipeline.BeginRecording()
	if err != nil {
		return err
	}

	s, err := c.recorder.Start(c.deviceID, c.sampleRate)
	if err != nil {
		c.logger.Error("録音開始エラー: %v", err)
		c.pipeline.Fail(err)
		return err
	}
	for _, warning := range s.Warnings() {
		c.logger.Warn("録音設定: %v", warning)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.session = s
	c.runID = runID
	c.stopCapture = cancel
	c.captureDone = make(chan struct{})

	go c.captureLoop(ctx, s, c.captureDone)

	if c.maxRecordTime > 0 {
		c.timer = time.AfterFunc(c.maxRecordTime, func() { c.autoStop(s) })
	}

	c.logger.Info("録音開始: run=%s device=%d rate=%d", runID, s.DeviceID, s.SampleRate)
	return nil
}

// OnStop stops capturing and hands the recording to the pipeline
func (c *Controller) OnStop() error {
	return c.stop(nil)
}

var errNotRecording = apperr.New(apperr.KindInvalidState, "assistant.OnStop", "not recording")

func (c *Controller) stop(only *recording.Session) error {
	c.mu.Lock()
	s := c.session
	if s == nil || (only != nil && s != only) {
		c.mu.Unlock()
		return errNotRecording
	}
	c.session = nil
	stopCapture, done := c.stopCapture, c.captureDone
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	// The pipeline only sees the session once capture has ended
	stopCapture()
	<-done

	c.logger.Info("録音停止: %d チャンク, %.1f 秒", s.Chunks(), s.Duration().Seconds())

	if err := c.pipeline.Submit(s); err != nil {
		if apperr.IsKind(err, apperr.KindInvalidState) {
			c.recorder.Abandon(s)
		}
		c.logger.Error("パイプライン開始エラー: %v", err)
		return err
	}
	return nil
}

func (c *Controller) autoStop(s *recording.Session) {
	c.logger.Info("最大録音時間に達しました - 録音停止")

	err := c.stop(s)
	if errors.Is(err, errNotRecording) {
		// Stopped by the user in the meantime
		return
	}
	if c.OnAutoStop != nil {
		c.OnAutoStop(err)
	}
}

func (c *Controller) captureLoop(ctx context.Context, s *recording.Session, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.recorder.CaptureChunk(s); err != nil {
			if errors.Is(err, audio.ErrInputOverflowed) {
				continue
			}
			// Whatever was captured so far is kept for OnStop
			c.logger.Error("録音データの読み取りに失敗: %v", err)
			return
		}
	}
}
