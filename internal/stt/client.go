// Package stt talks to a local whisper server over HTTP for both live
// partial transcription and the final diarization-grade pass.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	apperrors "github.com/bbrew/core/internal/errors"
)

// Model load states. The server answers health probes while the model is
// still loading, so readiness is tracked here rather than inferred per call.
const (
	stateLoading int32 = iota
	stateReady
	stateFailed
)

// Segment is one timestamped span of recognized speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is a full transcription response.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Transcriber is the capability the tracker and finalizer depend on.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
	Ready() error
}

// Client implements Transcriber against a whisper server's
// OpenAI-compatible transcription endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	state   atomic.Int32
}

// NewClient creates a client for the given server address. Call Preload to
// start the readiness probe.
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
	c.state.Store(stateLoading)
	return c
}

// Preload probes the server in the background until the model reports
// healthy, then marks the client ready. Gives up after the context ends.
func (c *Client) Preload(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for {
			if err := c.probe(ctx); err == nil {
				c.state.Store(stateReady)
				slog.Info("speech model ready")
				return
			}
			select {
			case <-ctx.Done():
				c.state.Store(stateFailed)
				slog.Error("speech model never became ready")
				return
			case <-ticker.C:
			}
		}
	}()
}

func (c *Client) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

// Ready reports whether transcription requests can be served yet.
func (c *Client) Ready() error {
	switch c.state.Load() {
	case stateReady:
		return nil
	case stateFailed:
		return apperrors.New(apperrors.CodeModelLoadFailed, "speech model failed to load")
	default:
		return apperrors.New(apperrors.CodeModelLoading, "speech model still loading")
	}
}

// Transcribe sends the audio file and returns text plus timestamped
// segments.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeNoAudioFile, "open audio for transcription")
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTranscribeFailed, "build transcription request")
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTranscribeFailed, "attach audio")
	}
	_ = mw.WriteField("response_format", "verbose_json")
	_ = mw.WriteField("temperature", "0")
	if err := mw.Close(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTranscribeFailed, "finish transcription request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTranscribeFailed, "build transcription request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeProviderUnreachable, "speech server unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		c.state.Store(stateLoading)
		return nil, apperrors.New(apperrors.CodeModelLoading, "speech model still loading")
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.Newf(apperrors.CodeTranscribeFailed,
			"transcription status %d: %s", resp.StatusCode, payload)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTranscribeFailed, "decode transcription")
	}
	return &out, nil
}
