package config

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d", cfg.SampleRate)
	}
	if cfg.Provider != "ollama" {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.TranscribeInterval != 3.0 {
		t.Errorf("TranscribeInterval = %f", cfg.TranscribeInterval)
	}
	if cfg.HistoryRetention != 200 {
		t.Errorf("HistoryRetention = %d", cfg.HistoryRetention)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("SAMPLE_RATE", "44100")
	t.Setenv("LLM_PROVIDER", "gemini")
	t.Setenv("INSIGHT_INTERVAL", "15.5")

	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d", cfg.SampleRate)
	}
	if cfg.Provider != "gemini" {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.InsightInterval != 15.5 {
		t.Errorf("InsightInterval = %f", cfg.InsightInterval)
	}
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("SAMPLE_RATE", "not-a-number")
	t.Setenv("INSIGHT_INTERVAL", "many")

	cfg := Load()
	if cfg.SampleRate != 16000 {
		t.Errorf("malformed int should fall back, got %d", cfg.SampleRate)
	}
	if cfg.InsightInterval != 30.0 {
		t.Errorf("malformed float should fall back, got %f", cfg.InsightInterval)
	}
}
