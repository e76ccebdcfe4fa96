package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/yok-tottii/EzVoice/internal/api"
	"github.com/yok-tottii/EzVoice/internal/apperr"
	"github.com/yok-tottii/EzVoice/internal/assistant"
	"github.com/yok-tottii/EzVoice/internal/audio"
	"github.com/yok-tottii/EzVoice/internal/clipboard"
	"github.com/yok-tottii/EzVoice/internal/config"
	"github.com/yok-tottii/EzVoice/internal/hotkey"
	"github.com/yok-tottii/EzVoice/internal/i18n"
	"github.com/yok-tottii/EzVoice/internal/llm"
	"github.com/yok-tottii/EzVoice/internal/logger"
	"github.com/yok-tottii/EzVoice/internal/notification"
	"github.com/yok-tottii/EzVoice/internal/pipeline"
	"github.com/yok-tottii/EzVoice/internal/recognition"
	"github.com/yok-tottii/EzVoice/internal/recording"
	"github.com/yok-tottii/EzVoice/internal/server"
	"github.com/yok-tottii/EzVoice/internal/speech"
	"github.com/yok-tottii/EzVoice/internal/tray"
	"github.com/yok-tottii/EzVoice/internal/wizard"
)

const version = "0.1.0"

// App holds all application state
type App struct {
	logger     *logger.Logger
	config     *config.Config
	configPath string
	translator *i18n.Translator

	trayMgr    *tray.Manager
	httpServer *server.Server
	apiHandler *api.Handler
	hotkeyMgr  *hotkey.Manager
	watcher    *config.Watcher
	notifier   *notification.NotificationManager
	clipboard  *clipboard.Manager
	wizard     *wizard.SetupWizard

	audioDriver *audio.PortAudioDriver
	recorder    *recording.Recorder
	pipeline    *pipeline.Orchestrator
	controller  *assistant.Controller

	ctx        context.Context
	cancel     context.CancelFunc
	applyMu    sync.Mutex
	quitOnce   sync.Once
	isFirstRun bool
}

func init() {
	// macOSのCGO呼び出しにはメインスレッドが必要
	runtime.LockOSThread()
}

func main() {
	app := &App{}
	app.ctx, app.cancel = context.WithCancel(context.Background())
	defer app.cancel()

	// ロガーの初期化
	var err error
	app.logger, err = logger.New(logger.DefaultConfig())
	if err != nil {
		log.Fatalf("ロガーの初期化に失敗: %v", err)
	}
	defer app.logger.Close()

	app.logger.Info("EzVoice v%s 起動", version)

	// .env と設定ファイルの読み込み
	if err := config.LoadDotEnv(config.DotEnvPaths()...); err != nil {
		app.logger.Warn(".env の読み込みに失敗: %v", err)
	}

	app.configPath = config.GetConfigPath()
	app.config, err = config.Load(app.configPath)
	if err != nil {
		app.logger.Error("設定ファイルの読み込みに失敗: %v", err)
		log.Fatalf("設定ファイルの読み込みに失敗: %v", err)
	}
	app.config.ApplyEnv()
	if err := app.config.Validate(); err != nil {
		app.logger.Warn("設定値が不正です: %v", err)
	}
	app.logger.Info("設定ファイルを読み込みました: %s", app.configPath)

	snapshot := app.config.Clone()
	if level, err := logger.ParseLevel(snapshot.LogLevel); err == nil {
		app.logger.SetLevel(level)
	}

	// セットアップウィザード初期化
	app.wizard, err = wizard.NewSetupWizard(app.configPath)
	if err != nil {
		app.logger.Error("セットアップウィザード初期化エラー: %v", err)
	}
	app.isFirstRun = app.wizard != nil && app.wizard.ShouldShowWizard()

	// UI 言語
	language := i18n.Language(snapshot.UILanguage)
	if !i18n.ValidateLanguage(snapshot.UILanguage) {
		language = i18n.DetectSystemLanguage()
	}
	app.translator = i18n.NewDefaultTranslator(language)

	app.notifier = notification.NewNotificationManager("EzVoice", app.translator, app.logger)
	app.notifier.SetEnabled(func() bool { return app.config.Clone().Notifications })

	app.clipboard = clipboard.NewManager(clipboard.DefaultConfig())

	// 録音とパイプライン
	app.audioDriver = audio.NewPortAudioDriver()
	app.recorder = recording.New(app.audioDriver, app.logger)

	app.pipeline = pipeline.New(
		app.recorder,
		app.buildCollaborators(snapshot),
		app.pipelineConfig(snapshot),
		pipeline.WithLogger(app.logger),
		pipeline.WithLabeler(func(s pipeline.State) string {
			return app.translator.StatusLabel(s.String())
		}),
	)
	if err := app.pipeline.Start(app.ctx); err != nil {
		log.Fatalf("パイプラインの起動に失敗: %v", err)
	}
	defer app.pipeline.Close()

	app.controller = assistant.New(app.audioDriver, app.recorder, app.pipeline, app.logger, assistant.Options{
		DeviceID:      snapshot.AudioDeviceID,
		SampleRate:    snapshot.SampleRate,
		MaxRecordTime: time.Duration(snapshot.MaxRecordTime) * time.Second,
	})
	app.controller.OnAutoStop = func(err error) {
		if err != nil {
			app.logger.Warn("自動停止後の送信に失敗: %v", err)
			return
		}
		app.notifier.AutoStopped()
	}

	// HTTPサーバーの初期化
	serverConfig := server.DefaultConfig()
	if snapshot.ServerPort > 0 {
		serverConfig.Port = snapshot.ServerPort
	}
	app.httpServer = server.New(serverConfig, app.logger)
	app.apiHandler = api.New(app.config, app.configPath, app.controller, app.pipeline, app.logger, app.applySettings)
	app.apiHandler.RegisterRoutes(app.httpServer.GetMux())
	app.logger.Info("APIルート登録完了")

	// システムトレイマネージャーの作成
	app.trayMgr = tray.NewManager(tray.Actions{
		OnReady:        app.onReady,
		OnStart:        app.handleStart,
		OnStop:         app.handleStop,
		OnDeviceChange: app.handleDeviceChange,
		OnRefresh:      app.handleRefresh,
		OnCopyReply:    app.handleCopyReply,
		OnControlPage:  app.handleOpenControlPage,
		OnQuit:         app.handleQuit,
	}, app.translator, app.logger)

	app.pipeline.AddObserver(app.trayMgr)
	app.pipeline.AddObserver(app.notifier)

	app.logger.Info("systray初期化開始")

	// systray.Run()を呼び出し - これはブロッキング呼び出し
	app.trayMgr.Run()
}

// onReady は systray が初期化完了後に呼ばれる
func (a *App) onReady() {
	a.logger.Info("systray初期化完了 - アプリケーション初期化開始")

	// 入力デバイスの列挙
	a.handleRefresh()

	if !a.config.HasLLMCredentials() {
		a.logger.Warn("LLM の API キーが設定されていません")
		a.notifier.MissingAPIKey()
	}

	// ホットキーの登録
	a.hotkeyMgr = hotkey.New()
	snapshot := a.config.Clone()
	hotkeyConfig, err := hotkey.FromSettings(snapshot.Hotkey, snapshot.RecordingMode)
	if err != nil {
		a.logger.Error("ホットキー設定が不正です: %v", err)
		a.notifier.HotkeyFailed(err)
	} else if err := a.hotkeyMgr.Register(hotkeyConfig); err != nil {
		a.logger.Error("ホットキーの登録に失敗: %v", err)
		a.notifier.HotkeyFailed(err)
	} else {
		a.logger.Info("ホットキー登録完了: %s (%s)", hotkey.FormatHotkey(hotkeyConfig.Spec), hotkeyConfig.Mode)
		for _, c := range hotkey.CheckConflicts(hotkeyConfig.Spec) {
			a.logger.Warn("ホットキーが %s と競合する可能性があります", c.Name)
		}
	}

	// ホットキーイベントループ開始
	go hotkey.Dispatch(
		a.hotkeyMgr.Events(),
		func() hotkey.RecordingMode { return a.hotkeyMgr.GetConfig().Mode },
		a.controller,
		func(err error) { a.logger.Warn("ホットキー操作に失敗: %v", err) },
	)

	// HTTPサーバー起動
	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("HTTPサーバーの起動に失敗: %v", err)
	} else {
		a.logger.Info("HTTPサーバー起動: %s", a.httpServer.URL())
	}

	// 設定ファイルの監視
	a.watcher, err = config.NewWatcher(a.configPath, a.onConfigFileChanged)
	if err != nil {
		a.logger.Warn("設定ファイル監視の作成に失敗: %v", err)
	} else if err := a.watcher.Start(a.ctx); err != nil {
		a.logger.Warn("設定ファイル監視の開始に失敗: %v", err)
	}

	// 初回起動時はコントロールページを開く
	if a.wizard != nil {
		progress := a.wizard.GetProgress(a.config, a.controller.CanRecord())
		if !progress.Complete() {
			a.logger.Info("未設定の項目: %v", progress.Missing())
		}
		if a.isFirstRun {
			a.logger.Info("初回起動 - コントロールページを開きます")
			a.handleOpenControlPage()
			if err := a.wizard.MarkSetupCompleted(); err != nil {
				a.logger.Warn("セットアップ完了フラグの保存に失敗: %v", err)
			}
		}
	}

	// シグナルハンドリング
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		a.logger.Info("終了シグナルを受信")
		a.handleQuit()
		a.trayMgr.Quit()
	}()

	a.printBanner()
	a.logger.Info("アプリケーション初期化完了")
}

func (a *App) printBanner() {
	snapshot := a.config.Clone()
	spec := hotkey.Spec{
		Ctrl:  snapshot.Hotkey.Ctrl,
		Shift: snapshot.Hotkey.Shift,
		Alt:   snapshot.Hotkey.Alt,
		Cmd:   snapshot.Hotkey.Cmd,
		Key:   snapshot.Hotkey.Key,
	}

	fmt.Println("========================================")
	fmt.Printf("EzVoice v%s\n", version)
	fmt.Println("========================================")
	fmt.Printf("[起動] コントロールページ: %s\n", a.httpServer.URL())
	fmt.Printf("[設定] 設定ファイル: %s\n", a.configPath)
	fmt.Printf("[設定] LLM: %s (%s)\n", snapshot.LLM.Model, snapshot.LLM.Mode)
	fmt.Printf("[設定] TTS: %s / %s\n", snapshot.TTS.Provider, snapshot.TTS.Voice)
	fmt.Printf("[操作] %s で録音開始/停止 (%s)\n", hotkey.FormatHotkey(spec), snapshot.RecordingMode)
	fmt.Println("[終了] Ctrl+C またはメニューの「終了」")
	fmt.Println("========================================")
}

// buildCollaborators creates the external stages from cfg. A stage whose
// client cannot be created is left nil and fails when a run reaches it.
func (a *App) buildCollaborators(cfg *config.Config) pipeline.Collaborators {
	collab := pipeline.Collaborators{Player: audio.NewPlayer()}

	asr, err := recognition.NewOpenAIRecognizer(recognition.Config{
		BaseURL: cfg.ASR.BaseURL,
		APIKey:  cfg.ASR.APIKey,
		Model:   cfg.ASR.Model,
	})
	if err != nil {
		a.logger.Warn("音声認識クライアントの作成に失敗: %v", err)
	} else {
		collab.ASR = asr
	}

	completer, err := llm.NewOpenAICompleter(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		PromptPrefix: cfg.LLM.PromptPrefix,
		Mode:         cfg.LLM.Mode,
	})
	if err != nil {
		a.logger.Warn("LLMクライアントの作成に失敗: %v", err)
	} else {
		collab.LLM = completer
	}

	synth, err := speech.New(speech.Config{
		Provider: cfg.TTS.Provider,
		Voice:    cfg.TTS.Voice,
		Model:    cfg.TTS.Model,
		BaseURL:  cfg.TTS.BaseURL,
		APIKey:   cfg.TTS.APIKey,
	})
	if err != nil {
		a.logger.Warn("音声合成クライアントの作成に失敗: %v", err)
	} else {
		collab.TTS = synth
	}

	return collab
}

func (a *App) pipelineConfig(cfg *config.Config) pipeline.Config {
	workDir, err := cfg.GetWorkDir()
	if err != nil {
		a.logger.Error("作業ディレクトリの作成に失敗: %v", err)
		workDir = cfg.WorkDir
	}

	return pipeline.Config{
		WorkDir:      workDir,
		Language:     cfg.Language,
		Voice:        cfg.TTS.Voice,
		StageTimeout: time.Duration(cfg.StageTimeout) * time.Second,
	}
}

// applySettings applies a saved configuration to the running application
func (a *App) applySettings(cfg *config.Config) error {
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	var errs []error

	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		a.logger.SetLevel(level)
	}
	if i18n.ValidateLanguage(cfg.UILanguage) {
		a.translator.SetLanguage(i18n.Language(cfg.UILanguage))
	}

	a.controller.SetSampleRate(cfg.SampleRate)
	a.controller.SetMaxRecordTime(time.Duration(cfg.MaxRecordTime) * time.Second)
	if cfg.AudioDeviceID >= 0 && cfg.AudioDeviceID != a.controller.SelectedDevice() {
		if err := a.controller.SelectDevice(cfg.AudioDeviceID); err != nil {
			errs = append(errs, err)
		} else if a.trayMgr != nil {
			a.trayMgr.UpdateDeviceMenu(a.controller.Devices(), cfg.AudioDeviceID)
		}
	}

	a.pipeline.SetConfig(a.pipelineConfig(cfg))
	a.pipeline.SetCollaborators(a.buildCollaborators(cfg))

	if a.hotkeyMgr != nil {
		if err := a.reloadHotkey(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	a.logger.Info("設定を適用しました")
	return nil
}

// reloadHotkey registers the configured hotkey if it changed
func (a *App) reloadHotkey(cfg *config.Config) error {
	next, err := hotkey.FromSettings(cfg.Hotkey, cfg.RecordingMode)
	if err != nil {
		return apperr.Wrap(apperr.KindConfig, "hotkey", "invalid hotkey setting", err)
	}

	if !a.hotkeyMgr.IsRunning() {
		a.logger.Info("ホットキーを登録します: %s", hotkey.FormatHotkey(next.Spec))
		return a.hotkeyMgr.Register(next)
	}
	if a.hotkeyMgr.GetConfig() == next {
		return nil
	}

	a.logger.Info("ホットキー再登録: %s (%s)", hotkey.FormatHotkey(next.Spec), next.Mode)
	if err := a.hotkeyMgr.Reload(next); err != nil {
		a.logger.Error("新しいホットキー登録に失敗: %v", err)
		a.notifier.HotkeyFailed(err)
		return err
	}
	return nil
}

// onConfigFileChanged is called by the watcher after the file was edited
// outside the app. fresh already carries the environment overrides.
func (a *App) onConfigFileChanged(fresh *config.Config, err error) {
	if err != nil {
		a.logger.Warn("設定ファイルの再読み込みに失敗: %v", err)
		return
	}

	if err := fresh.Validate(); err != nil {
		a.logger.Warn("再読み込みした設定が不正なため無視します: %v", err)
		return
	}

	a.logger.Info("設定ファイルの変更を検出しました")
	a.config.Replace(fresh)
	if err := a.applySettings(a.config.Clone()); err != nil {
		a.logger.Warn("設定の適用に失敗: %v", err)
	}
}

func (a *App) handleStart() {
	if err := a.controller.OnStart(); err != nil {
		a.logger.Warn("録音開始に失敗: %v", err)
		if apperr.IsKind(err, apperr.KindInvalidDevice) && !a.controller.CanRecord() {
			a.notifier.DeviceNotFound()
		}
	}
}

func (a *App) handleStop() {
	if err := a.controller.OnStop(); err != nil {
		a.logger.Warn("録音停止に失敗: %v", err)
	}
}

func (a *App) handleDeviceChange(deviceID int) {
	a.logger.Info("入力デバイス変更要求: %d", deviceID)

	if err := a.controller.SelectDevice(deviceID); err != nil {
		a.logger.Error("入力デバイスの変更に失敗: %v", err)
		return
	}
	a.trayMgr.UpdateDeviceMenu(a.controller.Devices(), deviceID)

	if err := a.config.Update(map[string]interface{}{"audio_device_id": float64(deviceID)}); err != nil {
		a.logger.Error("設定の更新に失敗: %v", err)
		return
	}
	if err := a.config.Save(a.configPath); err != nil {
		a.logger.Error("設定の保存に失敗: %v", err)
	}
}

func (a *App) handleRefresh() {
	devices := a.controller.RefreshDevices()
	a.trayMgr.UpdateDeviceMenu(devices, a.controller.SelectedDevice())

	if !a.controller.CanRecord() {
		a.logger.Warn("入力デバイスが見つかりません")
		a.notifier.DeviceNotFound()
	}
}

func (a *App) handleCopyReply() {
	_, last := a.pipeline.Snapshot()
	if last == nil || last.Reply == "" {
		a.logger.Info("コピーできる返答がありません")
		return
	}

	if err := a.clipboard.Copy(last.Reply); err != nil {
		a.logger.Error("クリップボードへのコピーに失敗: %v", err)
		return
	}
	a.notifier.ReplyCopied()
}

func (a *App) handleOpenControlPage() {
	url := a.httpServer.URL()
	a.logger.Info("コントロールページを開きます: %s", url)

	go func() {
		name, args := browserCommand(runtime.GOOS, url)
		if err := exec.Command(name, args...).Run(); err != nil {
			a.logger.Warn("ブラウザを開けませんでした: %v", err)
			fmt.Printf("コントロールページ: %s\n", url)
		}
	}()
}

// browserCommand returns the command that opens url in the default browser
func browserCommand(goos, url string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{url}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	default:
		return "xdg-open", []string{url}
	}
}

func (a *App) handleQuit() {
	a.quitOnce.Do(func() {
		a.logger.Info("終了要求")

		if a.controller.IsRecording() {
			if err := a.controller.OnStop(); err != nil {
				a.logger.Warn("録音の停止に失敗: %v", err)
			}
		}

		if a.watcher != nil {
			a.watcher.Stop()
		}

		if a.httpServer != nil && a.httpServer.IsRunning() {
			if err := a.httpServer.Stop(); err != nil {
				a.logger.Error("HTTPサーバーの停止に失敗: %v", err)
			}
		}

		if a.hotkeyMgr != nil {
			a.hotkeyMgr.Close()
		}

		a.cancel()
		a.logger.Info("アプリケーション終了")
	})
}
