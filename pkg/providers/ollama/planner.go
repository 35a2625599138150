// Package ollama plans user turns against a local Ollama server. The model
// is asked for a single JSON object in the plan envelope shape; everything
// else is normalization and validation.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/cronolabs/crono/pkg/adapters/planner"
	"github.com/cronolabs/crono/pkg/configutil"
	"github.com/cronolabs/crono/pkg/errorsx"
	"github.com/cronolabs/crono/pkg/plan"
)

const systemPrompt = `Você é o planejador de um assistente de voz. Responda SEMPRE com um único objeto JSON, sem texto fora dele, no formato:
{"plan_id": "...", "goal": "...", "needs_clarification": false, "clarifying_question": null, "plan": [{"step_id": "...", "intent": "...", "parameters": {}, "risk": "safe", "requires_confirmation": false, "summary": "..."}], "response": "..."}
Regras:
- Para conversa simples, deixe "plan" vazio e preencha "response" com a fala do assistente.
- Se o pedido for ambíguo, marque "needs_clarification": true e preencha "clarifying_question".
- Use apenas estes intents: open_app, close_app, type_text, press_key, open_website, weather_report, file_operation, play_media, chat, remember_note, system_command, set_timer, cancel_timer, system_status, search_web, fetch_web_content.
- "risk" é safe, sensitive ou destructive.
- "response" é sempre curta e falada em português.`

type settings struct {
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	NumCtx      int     `mapstructure:"num_ctx"`
	TimeoutMs   int     `mapstructure:"timeout_ms"`
}

var settingsSchema = configutil.Schema{
	Optional: []string{"base_url", "model", "temperature", "num_ctx", "timeout_ms"},
}

type Planner struct {
	cfg    planner.Config
	s      settings
	client *api.Client
}

var _ planner.Planner = (*Planner)(nil)

func New(cfg planner.Config) (*Planner, error) {
	if err := configutil.ValidateSettings(cfg.Settings, settingsSchema); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	s := settings{
		BaseURL:   "http://localhost:11434",
		Model:     "llama3.1",
		NumCtx:    2048,
		TimeoutMs: 30000,
	}
	if err := configutil.DecodeSettings(cfg.Settings, &s); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}

	parsed, err := url.Parse(strings.TrimSuffix(s.BaseURL, "/"))
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("invalid base_url: %w", err), errorsx.ReasonConfig)
	}
	httpClient := &http.Client{
		Timeout: time.Duration(s.TimeoutMs) * time.Millisecond,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Planner{
		cfg:    cfg,
		s:      s,
		client: api.NewClient(parsed, httpClient),
	}, nil
}

func (p *Planner) Name() string { return "ollama" }

func (p *Planner) Plan(ctx context.Context, transcript string, history []planner.Exchange) (plan.Plan, error) {
	messages := make([]api.Message, 0, 2*len(history)+2)
	messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	for _, ex := range history {
		messages = append(messages, api.Message{Role: "user", Content: ex.User})
		messages = append(messages, api.Message{Role: "assistant", Content: ex.Assistant})
	}
	messages = append(messages, api.Message{Role: "user", Content: transcript})

	stream := false
	var response api.ChatResponse
	err := p.client.Chat(ctx, &api.ChatRequest{
		Model:    p.s.Model,
		Messages: messages,
		Stream:   &stream,
		Format:   json.RawMessage(`"json"`),
		Options: map[string]any{
			"temperature": p.s.Temperature,
			"num_ctx":     p.s.NumCtx,
		},
	}, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return plan.Plan{}, errorsx.Wrap(err, errorsx.ReasonPlanning)
	}

	raw, err := decodeEnvelope(response.Message.Content)
	if err != nil {
		return plan.Plan{}, errorsx.Wrap(err, errorsx.ReasonPlanInvalid)
	}
	pl := plan.Normalize(raw)
	if err := pl.Validate(); err != nil {
		return plan.Plan{}, errorsx.Wrap(err, errorsx.ReasonPlanInvalid)
	}
	return pl, nil
}

// decodeEnvelope tolerates prose around the JSON object; some models wrap
// the envelope in markdown fences despite the format hint.
func decodeEnvelope(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("malformed plan envelope: %w", err)
	}
	return raw, nil
}

func (p *Planner) Close() error { return nil }
