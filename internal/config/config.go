package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yok-tottii/EzVoice/internal/apperr"
)

// Config holds application configuration
type Config struct {
	Hotkey        HotkeyConfig `yaml:"hotkey" json:"hotkey"`
	RecordingMode string       `yaml:"recording_mode" json:"recording_mode"` // "toggle" or "press-to-hold"
	AudioDeviceID int          `yaml:"audio_device_id" json:"audio_device_id"` // -1 means first input device
	SampleRate    int          `yaml:"sample_rate" json:"sample_rate"`
	Language      string       `yaml:"language" json:"language"` // ASR language, "auto" for detection
	UILanguage    string       `yaml:"ui_language" json:"ui_language"` // "en", "ja" or "zh"
	MaxRecordTime int          `yaml:"max_record_time" json:"max_record_time"` // seconds
	StageTimeout  int          `yaml:"stage_timeout" json:"stage_timeout"` // seconds per pipeline stage, 0 = none
	WorkDir       string       `yaml:"work_dir" json:"work_dir"`
	LogLevel      string       `yaml:"log_level" json:"log_level"`
	ServerPort    int          `yaml:"server_port" json:"server_port"`
	Notifications bool         `yaml:"notifications" json:"notifications"`

	LLM LLMConfig `yaml:"llm" json:"llm"`
	ASR ASRConfig `yaml:"asr" json:"asr"`
	TTS TTSConfig `yaml:"tts" json:"tts"`

	// Credentials as they appear in the file, so keys taken from the
	// environment are never written back to disk
	fileSecrets secrets
	mu          sync.RWMutex
}

// HotkeyConfig holds hotkey configuration
type HotkeyConfig struct {
	Ctrl  bool   `yaml:"ctrl" json:"ctrl"`
	Shift bool   `yaml:"shift" json:"shift"`
	Alt   bool   `yaml:"alt" json:"alt"`
	Cmd   bool   `yaml:"cmd" json:"cmd"`
	Key   string `yaml:"key" json:"key"` // e.g., "Space"
}

// LLMConfig configures the language model endpoint
type LLMConfig struct {
	BaseURL      string `yaml:"base_url" json:"base_url"`
	APIKey       string `yaml:"api_key" json:"-"`
	Model        string `yaml:"model" json:"model"`
	MaxTokens    int    `yaml:"max_tokens" json:"max_tokens"`
	PromptPrefix string `yaml:"prompt_prefix" json:"prompt_prefix"`
	Mode         string `yaml:"mode" json:"mode"` // "completion" or "chat"
}

// ASRConfig configures the speech recognition endpoint
type ASRConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	APIKey  string `yaml:"api_key" json:"-"`
	Model   string `yaml:"model" json:"model"`
}

// TTSConfig configures speech synthesis
type TTSConfig struct {
	Provider string `yaml:"provider" json:"provider"` // "edge" or "openai"
	Voice    string `yaml:"voice" json:"voice"`
	Model    string `yaml:"model" json:"model"` // openai only
	BaseURL  string `yaml:"base_url" json:"base_url"`
	APIKey   string `yaml:"api_key" json:"-"`
}

type secrets struct {
	llmKey string
	asrKey string
	ttsKey string
}

// Supported option values
var (
	RecordingModes = []string{"toggle", "press-to-hold"}
	Languages      = []string{"auto", "zh", "en", "yue", "ja", "ko"}
	UILanguages    = []string{"en", "ja", "zh"}
	LLMModes       = []string{"completion", "chat"}
	TTSProviders   = []string{"edge", "openai"}
)

// DefaultLLMModel serves the legacy completions endpoint of the default
// OpenAI base URL. Other providers need base_url and model set together.
const DefaultLLMModel = "gpt-3.5-turbo-instruct"

// DefaultPromptPrefix asks the model for a reply that reads well aloud
const DefaultPromptPrefix = "(你的回答将经过中文TTS转换为音频，请仅回复用于音频的对话内容)"

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Hotkey: HotkeyConfig{
			Ctrl:  true,
			Shift: true,
			Key:   "Space",
		},
		RecordingMode: "toggle",
		AudioDeviceID: -1,
		SampleRate:    16000,
		Language:      "auto",
		UILanguage:    "en",
		MaxRecordTime: 60,
		StageTimeout:  0,
		WorkDir:       DefaultWorkDir(),
		LogLevel:      "info",
		ServerPort:    18765,
		Notifications: true,
		LLM: LLMConfig{
			Model:        DefaultLLMModel,
			MaxTokens:    1000,
			PromptPrefix: DefaultPromptPrefix,
			Mode:         "completion",
		},
		ASR: ASRConfig{
			Model: "whisper-1",
		},
		TTS: TTSConfig{
			Provider: "edge",
			Voice:    "zh-CN-XiaoyiNeural",
			Model:    "tts-1",
		},
	}
}

// DefaultWorkDir returns the directory holding the latest recording and reply
func DefaultWorkDir() string {
	return filepath.Join(os.TempDir(), "EzVoice")
}

// GetConfigDir returns the per-user configuration directory
func GetConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = "."
	}
	return filepath.Join(configDir, "EzVoice")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load loads configuration from the specified path.
// A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "config.Load", "failed to parse config file", err)
	}

	if config.Hotkey.Key == "" {
		config.Hotkey.Key = "Space"
	}

	config.fileSecrets = secrets{
		llmKey: config.LLM.APIKey,
		asrKey: config.ASR.APIKey,
		ttsKey: config.TTS.APIKey,
	}

	return config, nil
}

// Save saves configuration to the specified path
func (c *Config) Save(path string) error {
	c.mu.RLock()
	out := c.cloneLocked()
	c.mu.RUnlock()

	out.LLM.APIKey = out.fileSecrets.llmKey
	out.ASR.APIKey = out.fileSecrets.asrKey
	out.TTS.APIKey = out.fileSecrets.ttsKey

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	rememberWrite(path, data)

	return nil
}

// writeFileAtomic writes data to a temporary file next to path and renames
// it, so readers never see a partial file. CreateTemp uses mode 0600, which
// the file needs since it may hold API keys.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// ownWrites holds a digest of the content this process last saved per path,
// so the watcher can skip its own writes.
var ownWrites = struct {
	sync.Mutex
	digests map[string][sha256.Size]byte
}{digests: make(map[string][sha256.Size]byte)}

func rememberWrite(path string, data []byte) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = path
	}

	ownWrites.Lock()
	defer ownWrites.Unlock()
	ownWrites.digests[key] = sha256.Sum256(data)
}

// isOwnWrite reports whether data is what Save last wrote to path
func isOwnWrite(path string, data []byte) bool {
	key, err := filepath.Abs(path)
	if err != nil {
		key = path
	}

	ownWrites.Lock()
	defer ownWrites.Unlock()
	digest, ok := ownWrites.digests[key]
	return ok && digest == sha256.Sum256(data)
}

// Update updates configuration fields from a decoded JSON object.
// Credentials cannot be changed this way.
func (c *Config) Update(updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.cloneLocked()

	for key, value := range updates {
		switch key {
		case "recording_mode":
			if v, ok := value.(string); ok {
				next.RecordingMode = v
			}
		case "language":
			if v, ok := value.(string); ok {
				next.Language = v
			}
		case "ui_language":
			if v, ok := value.(string); ok {
				next.UILanguage = v
			}
		case "audio_device_id":
			if v, ok := value.(float64); ok {
				next.AudioDeviceID = int(v)
			}
		case "sample_rate":
			if v, ok := value.(float64); ok {
				next.SampleRate = int(v)
			}
		case "max_record_time":
			if v, ok := value.(float64); ok {
				next.MaxRecordTime = int(v)
			}
		case "stage_timeout":
			if v, ok := value.(float64); ok {
				next.StageTimeout = int(v)
			}
		case "notifications":
			if v, ok := value.(bool); ok {
				next.Notifications = v
			}
		case "hotkey":
			if v, ok := value.(map[string]interface{}); ok {
				if ctrl, ok := v["ctrl"].(bool); ok {
					next.Hotkey.Ctrl = ctrl
				}
				if shift, ok := v["shift"].(bool); ok {
					next.Hotkey.Shift = shift
				}
				if alt, ok := v["alt"].(bool); ok {
					next.Hotkey.Alt = alt
				}
				if cmd, ok := v["cmd"].(bool); ok {
					next.Hotkey.Cmd = cmd
				}
				if key, ok := v["key"].(string); ok {
					next.Hotkey.Key = key
				}
			}
		case "llm":
			if v, ok := value.(map[string]interface{}); ok {
				if model, ok := v["model"].(string); ok {
					next.LLM.Model = model
				}
				if mode, ok := v["mode"].(string); ok {
					next.LLM.Mode = mode
				}
				if prefix, ok := v["prompt_prefix"].(string); ok {
					next.LLM.PromptPrefix = prefix
				}
				if maxTokens, ok := v["max_tokens"].(float64); ok {
					next.LLM.MaxTokens = int(maxTokens)
				}
			}
		case "tts":
			if v, ok := value.(map[string]interface{}); ok {
				if provider, ok := v["provider"].(string); ok {
					next.TTS.Provider = provider
				}
				if voice, ok := v["voice"].(string); ok {
					next.TTS.Voice = voice
				}
			}
		default:
			return apperr.Newf(apperr.KindConfig, "config.Update", "unknown or read-only setting: %s", key)
		}
	}

	if err := next.validateLocked(); err != nil {
		return err
	}

	c.assignLocked(next)
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.cloneLocked()
}

func (c *Config) cloneLocked() *Config {
	return &Config{
		Hotkey:        c.Hotkey,
		RecordingMode: c.RecordingMode,
		AudioDeviceID: c.AudioDeviceID,
		SampleRate:    c.SampleRate,
		Language:      c.Language,
		UILanguage:    c.UILanguage,
		MaxRecordTime: c.MaxRecordTime,
		StageTimeout:  c.StageTimeout,
		WorkDir:       c.WorkDir,
		LogLevel:      c.LogLevel,
		ServerPort:    c.ServerPort,
		Notifications: c.Notifications,
		LLM:           c.LLM,
		ASR:           c.ASR,
		TTS:           c.TTS,
		fileSecrets:   c.fileSecrets,
	}
}

func (c *Config) assignLocked(src *Config) {
	c.Hotkey = src.Hotkey
	c.RecordingMode = src.RecordingMode
	c.AudioDeviceID = src.AudioDeviceID
	c.SampleRate = src.SampleRate
	c.Language = src.Language
	c.UILanguage = src.UILanguage
	c.MaxRecordTime = src.MaxRecordTime
	c.StageTimeout = src.StageTimeout
	c.WorkDir = src.WorkDir
	c.LogLevel = src.LogLevel
	c.ServerPort = src.ServerPort
	c.Notifications = src.Notifications
	c.LLM = src.LLM
	c.ASR = src.ASR
	c.TTS = src.TTS
	c.fileSecrets = src.fileSecrets
}

// Replace copies every field of src into c, for live reloads
func (c *Config) Replace(src *Config) {
	snapshot := src.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.assignLocked(snapshot)
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// GetWorkDir returns the expanded working directory, creating it if needed
func (c *Config) GetWorkDir() (string, error) {
	c.mu.RLock()
	dir := c.WorkDir
	c.mu.RUnlock()

	if dir == "" {
		dir = DefaultWorkDir()
	}

	expanded, err := ExpandPath(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(expanded, 0755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	return expanded, nil
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.validateLocked()
}

func (c *Config) validateLocked() error {
	const op = "config.Validate"

	if !contains(RecordingModes, c.RecordingMode) {
		return apperr.Newf(apperr.KindConfig, op, "invalid recording_mode: %s (must be 'toggle' or 'press-to-hold')", c.RecordingMode)
	}

	if !contains(Languages, c.Language) {
		return apperr.Newf(apperr.KindConfig, op, "invalid language: %s (must be one of %s)", c.Language, strings.Join(Languages, ", "))
	}

	if !contains(UILanguages, c.UILanguage) {
		return apperr.Newf(apperr.KindConfig, op, "invalid ui_language: %s (must be one of %s)", c.UILanguage, strings.Join(UILanguages, ", "))
	}

	if c.MaxRecordTime <= 0 || c.MaxRecordTime > 300 {
		return apperr.Newf(apperr.KindConfig, op, "invalid max_record_time: %d (must be between 1 and 300 seconds)", c.MaxRecordTime)
	}

	if c.StageTimeout < 0 {
		return apperr.Newf(apperr.KindConfig, op, "invalid stage_timeout: %d (must not be negative)", c.StageTimeout)
	}

	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return apperr.Newf(apperr.KindConfig, op, "invalid server_port: %d", c.ServerPort)
	}

	if !contains(LLMModes, c.LLM.Mode) {
		return apperr.Newf(apperr.KindConfig, op, "invalid llm.mode: %s (must be 'completion' or 'chat')", c.LLM.Mode)
	}

	if c.LLM.MaxTokens <= 0 {
		return apperr.Newf(apperr.KindConfig, op, "invalid llm.max_tokens: %d", c.LLM.MaxTokens)
	}

	if c.LLM.Model == "" {
		return apperr.New(apperr.KindConfig, op, "llm.model cannot be empty")
	}

	if !contains(TTSProviders, c.TTS.Provider) {
		return apperr.Newf(apperr.KindConfig, op, "invalid tts.provider: %s (must be 'edge' or 'openai')", c.TTS.Provider)
	}

	// sample_rate is not validated here: the recorder falls back to 16000
	// and reports a config warning instead

	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
