// Package whisper transcribes utterances against an OpenAI-compatible
// /audio/transcriptions endpoint, which covers hosted Whisper APIs and
// local whisper.cpp servers alike.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/cronolabs/crono/pkg/adapters/stt"
	"github.com/cronolabs/crono/pkg/configutil"
	"github.com/cronolabs/crono/pkg/errorsx"
	"github.com/cronolabs/crono/pkg/frames"
	"github.com/cronolabs/crono/pkg/resilience"
)

type settings struct {
	Endpoint    string  `mapstructure:"endpoint"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	TimeoutMs   int     `mapstructure:"timeout_ms"`
	MaxRetries  int     `mapstructure:"max_retries"`
}

var settingsSchema = configutil.Schema{
	Required: []string{"endpoint"},
	Optional: []string{"api_key", "model", "temperature", "timeout_ms", "max_retries"},
}

type Transcriber struct {
	cfg    stt.Config
	s      settings
	client *http.Client
	retry  resilience.RetryPolicy
}

var _ stt.Transcriber = (*Transcriber)(nil)

func New(cfg stt.Config) (*Transcriber, error) {
	if err := configutil.ValidateSettings(cfg.Settings, settingsSchema); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	s := settings{
		Model:      "whisper-large-v3",
		TimeoutMs:  15000,
		MaxRetries: 2,
	}
	if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	return &Transcriber{
		cfg:    cfg,
		s:      s,
		client: &http.Client{Timeout: time.Duration(s.TimeoutMs) * time.Millisecond},
		retry:  resilience.NewRetryPolicy(s.MaxRetries, 300*time.Millisecond),
	}, nil
}

func (t *Transcriber) Name() string { return "whisper" }

func (t *Transcriber) Transcribe(ctx context.Context, u *frames.Utterance) (string, error) {
	wav := encodeWAV(u.PCM16(), u.Rate())

	var text string
	err := t.retry.DoContext(ctx, func() error {
		var callErr error
		text, callErr = t.call(ctx, wav)
		return callErr
	})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscription)
	}
	return text, nil
}

func (t *Transcriber) call(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return "", err
	}
	_ = mw.WriteField("model", t.s.Model)
	if t.cfg.Language != "" {
		_ = mw.WriteField("language", t.cfg.Language)
	}
	_ = mw.WriteField("temperature", strconv.FormatFloat(t.s.Temperature, 'f', -1, 64))
	_ = mw.WriteField("response_format", "json")
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.s.Endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.s.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", resilience.RateLimitError{Provider: t.Name()}
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcription endpoint returned %d: %s", resp.StatusCode, payload)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (t *Transcriber) Close() error { return nil }
