package whisper

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cronolabs/crono/pkg/adapters/stt"
	"github.com/cronolabs/crono/pkg/frames"
	"github.com/cronolabs/crono/pkg/resilience"
)

func testUtterance() *frames.Utterance {
	u := frames.NewUtterance(16000)
	for i := 0; i < 10; i++ {
		u.Append(frames.NewAudioFrame(uint64(i), make([]int16, 480), 16000, time.Now()))
	}
	u.Finalize(time.Now())
	return u
}

func newTestTranscriber(t *testing.T, endpoint string) *Transcriber {
	t.Helper()
	tr, err := New(stt.Config{
		SampleRate: 16000,
		Language:   "pt",
		Settings: map[string]any{
			"endpoint":    endpoint,
			"model":       "whisper-large-v3",
			"max_retries": 1,
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func TestTranscribeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart parse: %v", err)
		}
		if got := r.FormValue("language"); got != "pt" {
			t.Errorf("language = %q", got)
		}
		if got := r.FormValue("model"); got != "whisper-large-v3" {
			t.Errorf("model = %q", got)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("file field missing: %v", err)
		}
		w.Write([]byte(`{"text": "abre o navegador"}`))
	}))
	defer srv.Close()

	tr := newTestTranscriber(t, srv.URL)
	text, err := tr.Transcribe(context.Background(), testUtterance())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "abre o navegador" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranscribeRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := newTestTranscriber(t, srv.URL)
	_, err := tr.Transcribe(context.Background(), testUtterance())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !resilience.IsRateLimit(err) {
		t.Fatalf("error not a rate limit: %v", err)
	}
}

func TestTranscribeRetriesTransientFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"text": "segunda tentativa"}`))
	}))
	defer srv.Close()

	tr := newTestTranscriber(t, srv.URL)
	text, err := tr.Transcribe(context.Background(), testUtterance())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "segunda tentativa" || calls != 2 {
		t.Fatalf("text = %q after %d calls", text, calls)
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(stt.Config{Settings: map[string]any{"model": "x"}})
	if err == nil {
		t.Fatalf("missing endpoint accepted")
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 960)
	wav := encodeWAV(pcm, 16000)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length = %d", len(wav))
	}
	if string(wav[:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad riff header")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Fatalf("rate = %d", rate)
	}
	if sz := binary.LittleEndian.Uint32(wav[40:44]); sz != uint32(len(pcm)) {
		t.Fatalf("data size = %d", sz)
	}
}
