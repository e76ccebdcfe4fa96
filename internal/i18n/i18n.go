package i18n

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Language represents a supported UI language
type Language string

const (
	// LanguageEnglish is the fallback language
	LanguageEnglish Language = "en"
	// LanguageJapanese language
	LanguageJapanese Language = "ja"
	// LanguageChinese language (simplified)
	LanguageChinese Language = "zh"
)

// Translator manages translations for the application
type Translator struct {
	currentLanguage Language
	translations    map[Language]map[string]string
	mu              sync.RWMutex
}

// NewTranslator creates an empty translator
func NewTranslator(language Language) *Translator {
	return &Translator{
		currentLanguage: language,
		translations:    make(map[Language]map[string]string),
	}
}

// NewDefaultTranslator creates a translator with the built-in tables loaded
func NewDefaultTranslator(language Language) *Translator {
	t := NewTranslator(language)
	t.translations[LanguageEnglish] = DefaultEnglishTranslations()
	t.translations[LanguageJapanese] = DefaultJapaneseTranslations()
	t.translations[LanguageChinese] = DefaultChineseTranslations()
	return t
}

// LoadTranslations merges translations from YAML or JSON data over the
// existing table for language
func (t *Translator) LoadTranslations(language Language, data []byte) error {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return fmt.Errorf("failed to unmarshal translations: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	table, ok := t.translations[language]
	if !ok {
		table = make(map[string]string, len(translations))
		t.translations[language] = table
	}
	for k, v := range translations {
		table[k] = v
	}
	return nil
}

// LoadTranslationsFromFile loads translations from a YAML or JSON file
func (t *Translator) LoadTranslationsFromFile(language Language, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read translation file: %w", err)
	}

	return t.LoadTranslations(language, data)
}

// SetLanguage sets the current language
func (t *Translator) SetLanguage(language Language) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentLanguage = language
}

// GetLanguage returns the current language
func (t *Translator) GetLanguage() Language {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentLanguage
}

// Translate translates a key in the current language
func (t *Translator) Translate(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if translations, ok := t.translations[t.currentLanguage]; ok {
		if text, ok := translations[key]; ok {
			return text
		}
	}

	// 見つからない場合は英語
	if t.currentLanguage != LanguageEnglish {
		if translations, ok := t.translations[LanguageEnglish]; ok {
			if text, ok := translations[key]; ok {
				return text
			}
		}
	}

	return key
}

// TranslateWithFormat translates a key and replaces {param} placeholders
func (t *Translator) TranslateWithFormat(key string, params map[string]string) string {
	text := t.Translate(key)

	for param, value := range params {
		text = strings.ReplaceAll(text, "{"+param+"}", value)
	}

	return text
}

// StatusLabel returns the label for a pipeline state name such as "GeneratingReply"
func (t *Translator) StatusLabel(state string) string {
	key := "status." + strings.ToLower(state)
	if text := t.Translate(key); text != key {
		return text
	}
	return state
}

// HasTranslation checks if a translation key exists in the current language
func (t *Translator) HasTranslation(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if translations, ok := t.translations[t.currentLanguage]; ok {
		_, ok := translations[key]
		return ok
	}

	return false
}

// ValidateLanguage validates that a language is supported
func ValidateLanguage(language string) bool {
	for _, l := range GetSupportedLanguages() {
		if string(l) == language {
			return true
		}
	}
	return false
}

// DetectSystemLanguage picks a UI language from LC_ALL / LC_MESSAGES / LANG
func DetectSystemLanguage() Language {
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		value := strings.ToLower(os.Getenv(env))
		if value == "" {
			continue
		}
		switch {
		case strings.HasPrefix(value, "ja"):
			return LanguageJapanese
		case strings.HasPrefix(value, "zh"):
			return LanguageChinese
		default:
			return LanguageEnglish
		}
	}
	return LanguageEnglish
}

// GetSupportedLanguages returns a list of supported languages
func GetSupportedLanguages() []Language {
	return []Language{LanguageEnglish, LanguageJapanese, LanguageChinese}
}

// DefaultEnglishTranslations returns default English translations
func DefaultEnglishTranslations() map[string]string {
	return map[string]string{
		// Menu items
		"menu.start":        "Start Recording",
		"menu.stop":         "Stop Recording",
		"menu.device":       "Input Device",
		"menu.no_device":    "No input device",
		"menu.refresh":      "Refresh Devices",
		"menu.copy_reply":   "Copy Last Reply",
		"menu.control_page": "Open Control Page...",
		"menu.quit":         "Quit",

		// Status
		"status.idle":            "Ready",
		"status.recording":       "Recording in progress...",
		"status.transcribing":    "Calling ASR...",
		"status.generatingreply": "Processing LLM...",
		"status.synthesizing":    "Generating speech...",
		"status.playing":         "Playing speech...",
		"status.complete":        "Complete",
		"status.failed":          "Failed",

		// Notifications
		"notification.complete":      "Reply played",
		"notification.failed":        "Voice assistant failed",
		"notification.copied":        "Reply copied to clipboard",
		"notification.auto_stop":     "Maximum recording time reached",
		"notification.no_device":     "No input device available",
		"notification.missing_key":   "No LLM API key configured. Set EZVOICE_LLM_API_KEY.",
		"notification.hotkey_failed": "Failed to register hotkey: {error}",
	}
}

// DefaultJapaneseTranslations returns default Japanese translations
func DefaultJapaneseTranslations() map[string]string {
	return map[string]string{
		"menu.start":        "録音開始",
		"menu.stop":         "録音停止",
		"menu.device":       "入力デバイス",
		"menu.no_device":    "入力デバイスがありません",
		"menu.refresh":      "デバイスを再検出",
		"menu.copy_reply":   "最後の返答をコピー",
		"menu.control_page": "操作画面を開く...",
		"menu.quit":         "終了",

		"status.idle":            "待機中",
		"status.recording":       "録音中...",
		"status.transcribing":    "音声認識中...",
		"status.generatingreply": "LLM 処理中...",
		"status.synthesizing":    "音声合成中...",
		"status.playing":         "再生中...",
		"status.complete":        "完了",
		"status.failed":          "失敗",

		"notification.complete":      "返答を再生しました",
		"notification.failed":        "処理に失敗しました",
		"notification.copied":        "返答をクリップボードにコピーしました",
		"notification.auto_stop":     "最大録音時間に達しました",
		"notification.no_device":     "入力デバイスがありません",
		"notification.missing_key":   "LLM の API キーが未設定です。EZVOICE_LLM_API_KEY を設定してください。",
		"notification.hotkey_failed": "ホットキーの登録に失敗: {error}",
	}
}

// DefaultChineseTranslations returns default Simplified Chinese translations
func DefaultChineseTranslations() map[string]string {
	return map[string]string{
		"menu.start":        "开始录音",
		"menu.stop":         "停止录音",
		"menu.device":       "输入设备",
		"menu.no_device":    "没有输入设备",
		"menu.refresh":      "重新检测设备",
		"menu.copy_reply":   "复制上一条回复",
		"menu.control_page": "打开控制页面...",
		"menu.quit":         "退出",

		"status.idle":            "就绪",
		"status.recording":       "录音中...",
		"status.transcribing":    "正在调用 ASR...",
		"status.generatingreply": "正在处理 LLM...",
		"status.synthesizing":    "正在生成语音...",
		"status.playing":         "正在播放语音...",
		"status.complete":        "完成",
		"status.failed":          "失败",

		"notification.complete":      "回复已播放",
		"notification.failed":        "语音助手处理失败",
		"notification.copied":        "回复已复制到剪贴板",
		"notification.auto_stop":     "已达到最长录音时间",
		"notification.no_device":     "没有可用的输入设备",
		"notification.missing_key":   "未配置 LLM API 密钥，请设置 EZVOICE_LLM_API_KEY。",
		"notification.hotkey_failed": "注册快捷键失败: {error}",
	}
}
