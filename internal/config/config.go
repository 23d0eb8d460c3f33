// Package config handles core configuration
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	HTTPAddr      string
	WhisperAddr   string // OpenAI-compatible transcription server
	RecordingsDir string

	SampleRate      int
	FramesPerBuffer int

	TranscribeInterval float64 // seconds
	InsightInterval    float64
	InsightGracePeriod float64
	InsightMinChars    int
	TranscriptWindow   int // chars of transcript tail sent per prompt
	SlowCallThreshold  float64

	CoachInterval float64

	Provider        string // gemini | openai | anthropic | ollama
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiModel     string
	OpenAIModel     string
	AnthropicModel  string
	OllamaModel     string
	OllamaAddr      string
	LLMTimeout      float64

	HistoryDBPath    string
	HistoryRetention int
}

func Load() *Config {
	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8000"),
		WhisperAddr:   getEnv("WHISPER_ADDR", "http://localhost:8080"),
		RecordingsDir: getEnv("RECORDINGS_DIR", defaultRecordingsDir()),

		SampleRate:      getEnvInt("SAMPLE_RATE", 16000),
		FramesPerBuffer: getEnvInt("FRAMES_PER_BUFFER", 1024),

		TranscribeInterval: getEnvFloat("TRANSCRIBE_INTERVAL", 3.0),
		InsightInterval:    getEnvFloat("INSIGHT_INTERVAL", 30.0),
		InsightGracePeriod: getEnvFloat("INSIGHT_GRACE_PERIOD", 30.0),
		InsightMinChars:    getEnvInt("INSIGHT_MIN_CHARS", 50),
		TranscriptWindow:   getEnvInt("TRANSCRIPT_WINDOW", 3000),
		SlowCallThreshold:  getEnvFloat("SLOW_CALL_THRESHOLD", 20.0),

		CoachInterval: getEnvFloat("COACH_INTERVAL", 30.0),

		Provider:        getEnv("LLM_PROVIDER", "ollama"),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash-exp"),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o"),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		OllamaModel:     getEnv("OLLAMA_MODEL", "llama3:8b"),
		OllamaAddr:      getEnv("OLLAMA_ADDR", "http://localhost:11434"),
		LLMTimeout:      getEnvFloat("LLM_TIMEOUT", 120.0),

		HistoryDBPath:    getEnv("HISTORY_DB_PATH", defaultHistoryPath()),
		HistoryRetention: getEnvInt("HISTORY_RETENTION", 200),
	}
}

func defaultRecordingsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, "Documents", "Audio Recordings")
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "history.sqlite"
	}
	return filepath.Join(home, "Documents", "Audio Recordings", "history.sqlite")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
