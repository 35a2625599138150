// Package edge synthesizes speech through the Microsoft Edge read-aloud
// websocket service. Audio is requested as raw 16 kHz 16-bit mono PCM so
// chunks can be pushed straight into the playback ring without transcoding.
package edge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cronolabs/crono/pkg/adapters/tts"
	"github.com/cronolabs/crono/pkg/configutil"
	"github.com/cronolabs/crono/pkg/errorsx"
	"github.com/cronolabs/crono/pkg/logging"
)

const (
	defaultEndpoint = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	trustedToken    = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"
	outputFormat    = "raw-16khz-16bit-mono-pcm"
	defaultVoice    = "pt-BR-AntonioNeural"

	// Long responses are split at sentence boundaries so each request
	// stays well under the service's SSML size limit.
	maxChunkRunes = 1200
)

// PCMSink receives synthesized little-endian PCM16 audio. Write returns the
// number of samples accepted, Drain blocks until buffered audio has played
// out, and Interrupt discards whatever is still queued.
type PCMSink interface {
	Write(pcm []byte) int
	Drain(ctx context.Context) error
	Interrupt()
}

type settings struct {
	Endpoint  string `mapstructure:"endpoint"`
	Rate      string `mapstructure:"rate"`
	Pitch     string `mapstructure:"pitch"`
	Volume    string `mapstructure:"volume"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

var settingsSchema = configutil.Schema{
	Optional: []string{"endpoint", "rate", "pitch", "volume", "timeout_ms"},
}

type Speaker struct {
	cfg      tts.Config
	s        settings
	sink     PCMSink
	listener tts.PlaybackListener
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	started bool
}

var _ tts.Speaker = (*Speaker)(nil)

// New builds a Speaker writing audio into sink. listener may be nil.
func New(cfg tts.Config, sink PCMSink, listener tts.PlaybackListener, base *slog.Logger) (*Speaker, error) {
	if sink == nil {
		return nil, errorsx.Wrap(errors.New("edge: nil audio sink"), errorsx.ReasonConfig)
	}
	if err := configutil.ValidateSettings(cfg.Settings, settingsSchema); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	s := settings{
		Endpoint:  defaultEndpoint,
		Rate:      "+0%",
		Pitch:     "+0Hz",
		Volume:    "+0%",
		TimeoutMs: 10000,
	}
	if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	return &Speaker{
		cfg:      cfg,
		s:        s,
		sink:     sink,
		listener: listener,
		logger:   logging.NewComponentLogger(base, "tts.edge"),
	}, nil
}

func (s *Speaker) Name() string { return "edge" }

func (s *Speaker) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	return nil
}

// Speak synthesizes text and blocks until the sink has played it out or ctx
// is cancelled. Cancellation interrupts the sink so playback stops almost
// immediately.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errorsx.Wrap(errors.New("edge: speaker closed"), errorsx.ReasonSpeechStream)
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.OnPlaybackStart()
		defer s.listener.OnPlaybackStop()
	}

	for _, chunk := range splitChunks(text, maxChunkRunes) {
		if err := s.speakChunk(ctx, chunk); err != nil {
			s.sink.Interrupt()
			return err
		}
	}
	if err := s.sink.Drain(ctx); err != nil {
		s.sink.Interrupt()
		return err
	}
	return nil
}

// speakChunk runs a single synthesis request on a fresh connection and
// streams its audio into the sink.
func (s *Speaker) speakChunk(ctx context.Context, text string) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: time.Duration(s.s.TimeoutMs) * time.Millisecond,
	}
	conn, _, err := dialer.DialContext(ctx, s.requestURL(), http.Header{
		"Origin": []string{"chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold"},
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSpeechConnect)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	// Unblock the read loop if the turn is cancelled mid-stream.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	if err := conn.WriteMessage(websocket.TextMessage, speechConfigMessage()); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSpeechStream)
	}
	reqID := strings.ReplaceAll(uuid.NewString(), "-", "")
	ssml := buildSSML(text, s.cfg.Voice, language(s.cfg), s.s.Rate, s.s.Pitch, s.s.Volume)
	if err := conn.WriteMessage(websocket.TextMessage, ssmlMessage(reqID, ssml)); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSpeechStream)
	}

	var received int
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errorsx.Wrap(err, errorsx.ReasonSpeechStream)
		}
		switch msgType {
		case websocket.BinaryMessage:
			payload, ok := binaryAudioPayload(data)
			if !ok {
				continue
			}
			received += len(payload)
			s.sink.Write(payload)
		case websocket.TextMessage:
			if messagePath(data) == "turn.end" {
				s.logger.Debug("synthesis turn complete",
					slog.String("request_id", reqID),
					slog.Int("audio_bytes", received))
				return nil
			}
		}
	}
}

func (s *Speaker) requestURL() string {
	return s.s.Endpoint + "?TrustedClientToken=" + trustedToken +
		"&ConnectionId=" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func language(cfg tts.Config) string {
	if cfg.Language != "" {
		return cfg.Language
	}
	return "pt-BR"
}

// splitChunks breaks text at sentence boundaries so no chunk exceeds max
// runes. A single oversized sentence is emitted whole rather than cut.
func splitChunks(text string, max int) []string {
	runes := []rune(text)
	if len(runes) <= max {
		return []string{text}
	}
	var chunks []string
	var cur []rune
	var sentence []rune
	flushSentence := func() {
		if len(cur)+len(sentence) > max && len(cur) > 0 {
			chunks = append(chunks, strings.TrimSpace(string(cur)))
			cur = nil
		}
		cur = append(cur, sentence...)
		sentence = nil
	}
	for _, r := range runes {
		sentence = append(sentence, r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			flushSentence()
		}
	}
	flushSentence()
	if trimmed := strings.TrimSpace(string(cur)); trimmed != "" {
		chunks = append(chunks, trimmed)
	}
	return chunks
}
