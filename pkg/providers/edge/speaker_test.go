package edge

import (
	"context"
	"encoding/binary"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cronolabs/crono/pkg/adapters/tts"
)

type fakeSink struct {
	mu          sync.Mutex
	data        []byte
	interrupted bool
}

func (f *fakeSink) Write(pcm []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, pcm...)
	return len(pcm) / 2
}

func (f *fakeSink) Drain(ctx context.Context) error { return ctx.Err() }

func (f *fakeSink) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = true
}

func (f *fakeSink) bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.data...)
}

type fakeListener struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (l *fakeListener) OnPlaybackStart() {
	l.mu.Lock()
	l.starts++
	l.mu.Unlock()
}

func (l *fakeListener) OnPlaybackStop() {
	l.mu.Lock()
	l.stops++
	l.mu.Unlock()
}

func audioMessage(payload []byte) []byte {
	header := []byte("X-RequestId:x\r\nContent-Type:audio\r\nPath:audio\r\n")
	msg := make([]byte, 2+len(header)+len(payload))
	binary.BigEndian.PutUint16(msg[:2], uint16(len(header)))
	copy(msg[2:], header)
	copy(msg[2+len(header):], payload)
	return msg
}

// fakeService upgrades the connection, checks the client handshake, streams
// the given payloads as audio messages, then ends the turn.
func fakeService(t *testing.T, payloads [][]byte, hold time.Duration) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, cfg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !strings.Contains(string(cfg), "Path:speech.config") {
			t.Errorf("first message is not speech.config: %s", cfg)
		}
		if !strings.Contains(string(cfg), outputFormat) {
			t.Errorf("speech.config missing output format")
		}
		_, ssml, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !strings.Contains(string(ssml), "Path:ssml") || !strings.Contains(string(ssml), "<speak") {
			t.Errorf("second message is not ssml: %s", ssml)
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte("X-RequestId:x\r\nPath:turn.start\r\n\r\n{}"))
		for _, p := range payloads {
			_ = conn.WriteMessage(websocket.BinaryMessage, audioMessage(p))
		}
		if hold > 0 {
			time.Sleep(hold)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("X-RequestId:x\r\nPath:turn.end\r\n\r\n{}"))
	}))
}

func wsEndpoint(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestSpeaker(t *testing.T, endpoint string, sink PCMSink, listener tts.PlaybackListener) *Speaker {
	t.Helper()
	s, err := New(tts.Config{
		Voice:    "pt-BR-FranciscaNeural",
		Language: "pt-BR",
		Settings: map[string]any{"endpoint": endpoint},
	}, sink, listener, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSpeakStreamsAudio(t *testing.T) {
	srv := fakeService(t, [][]byte{{1, 2, 3, 4}, {5, 6}}, 0)
	defer srv.Close()

	sink := &fakeSink{}
	listener := &fakeListener{}
	s := newTestSpeaker(t, wsEndpoint(srv), sink, listener)

	if err := s.Speak(context.Background(), "Olá, tudo bem?"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	got := sink.bytes()
	want := []byte{1, 2, 3, 4, 5, 6}
	if string(got) != string(want) {
		t.Fatalf("sink bytes = %v, want %v", got, want)
	}
	if listener.starts != 1 || listener.stops != 1 {
		t.Fatalf("listener starts=%d stops=%d", listener.starts, listener.stops)
	}
	if sink.interrupted {
		t.Fatalf("sink interrupted on clean playback")
	}
}

func TestSpeakCancelledMidStream(t *testing.T) {
	srv := fakeService(t, [][]byte{{1, 2}}, 2*time.Second)
	defer srv.Close()

	sink := &fakeSink{}
	s := newTestSpeaker(t, wsEndpoint(srv), sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	err := s.Speak(ctx, "uma resposta longa que será interrompida")
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if !sink.interrupted {
		t.Fatalf("sink not interrupted")
	}
}

func TestSpeakEmptyTextIsNoop(t *testing.T) {
	sink := &fakeSink{}
	s := newTestSpeaker(t, "ws://127.0.0.1:1", sink, nil)
	if err := s.Speak(context.Background(), "   "); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(sink.bytes()) != 0 {
		t.Fatalf("sink received audio for empty text")
	}
}

func TestBinaryAudioPayload(t *testing.T) {
	payload, ok := binaryAudioPayload(audioMessage([]byte{9, 8, 7}))
	if !ok || string(payload) != string([]byte{9, 8, 7}) {
		t.Fatalf("payload = %v ok = %v", payload, ok)
	}
	if _, ok := binaryAudioPayload([]byte{0}); ok {
		t.Fatalf("truncated message accepted")
	}
	nonAudio := []byte("X-RequestId:x\r\nPath:audio.metadata\r\n")
	msg := make([]byte, 2+len(nonAudio)+2)
	binary.BigEndian.PutUint16(msg[:2], uint16(len(nonAudio)))
	copy(msg[2:], nonAudio)
	if _, ok := binaryAudioPayload(msg); ok {
		t.Fatalf("metadata message treated as audio")
	}
}

func TestBuildSSMLEscapesText(t *testing.T) {
	ssml := buildSSML("a < b & c", "voz", "pt-BR", "+0%", "+0Hz", "+0%")
	if !strings.Contains(ssml, "a &lt; b &amp; c") {
		t.Fatalf("text not escaped: %s", ssml)
	}
	if !strings.Contains(ssml, "name='voz'") {
		t.Fatalf("voice missing: %s", ssml)
	}
}

func TestSplitChunks(t *testing.T) {
	if got := splitChunks("curto.", 100); len(got) != 1 || got[0] != "curto." {
		t.Fatalf("short text split: %v", got)
	}
	long := strings.Repeat("Uma frase inteira aqui. ", 20)
	chunks := splitChunks(long, 100)
	if len(chunks) < 2 {
		t.Fatalf("long text not split: %d chunks", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 130 {
			t.Fatalf("chunk too long: %q", c)
		}
		if !strings.HasSuffix(c, ".") {
			t.Fatalf("chunk not on sentence boundary: %q", c)
		}
	}
}
