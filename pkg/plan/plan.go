// Package plan defines the structured envelope the planner produces for a
// user turn and the normalization that makes loosely shaped model output
// safe to execute.
package plan

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Risk string

const (
	RiskSafe        Risk = "safe"
	RiskSensitive   Risk = "sensitive"
	RiskDestructive Risk = "destructive"
)

// riskAliases maps the risk spellings models actually emit onto the three
// canonical levels. Unknown spellings fall back to safe and are caught by
// the deterministic policy in AssessRisk.
var riskAliases = map[string]Risk{
	"low":         RiskSafe,
	"safe":        RiskSafe,
	"normal":      RiskSensitive,
	"medium":      RiskSensitive,
	"moderate":    RiskSensitive,
	"sensitive":   RiskSensitive,
	"high":        RiskSensitive,
	"dangerous":   RiskDestructive,
	"destructive": RiskDestructive,
	"critical":    RiskDestructive,
}

// KnownIntents are the intents the action dispatcher handles.
var KnownIntents = map[string]struct{}{
	"open_app":          {},
	"close_app":         {},
	"type_text":         {},
	"press_key":         {},
	"open_website":      {},
	"weather_report":    {},
	"file_operation":    {},
	"play_media":        {},
	"chat":              {},
	"remember_note":     {},
	"system_command":    {},
	"set_timer":         {},
	"cancel_timer":      {},
	"system_status":     {},
	"search_web":        {},
	"fetch_web_content": {},
}

type Step struct {
	ID                   string         `json:"step_id"`
	Intent               string         `json:"intent"`
	Parameters           map[string]any `json:"parameters"`
	Risk                 Risk           `json:"risk"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Summary              string         `json:"summary"`
}

// Plan is one of three shapes: a clarification request, a direct spoken
// response with no steps, or a sequence of executable steps.
type Plan struct {
	ID                 string `json:"plan_id"`
	Goal               string `json:"goal"`
	NeedsClarification bool   `json:"needs_clarification"`
	ClarifyingQuestion string `json:"clarifying_question"`
	Steps              []Step `json:"plan"`
	Response           string `json:"response"`
}

// Normalize coerces raw decoded model output into a Plan. It fills ids,
// drops malformed steps, and canonicalizes risk spellings. Intent validity
// is Validate's job.
func Normalize(raw map[string]any) Plan {
	p := Plan{
		ID:                 asString(raw["plan_id"]),
		Goal:               strings.TrimSpace(asString(raw["goal"])),
		NeedsClarification: asBool(raw["needs_clarification"]),
		ClarifyingQuestion: strings.TrimSpace(asString(raw["clarifying_question"])),
		Response:           strings.TrimSpace(asString(raw["response"])),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	rawSteps, _ := raw["plan"].([]any)
	for _, rs := range rawSteps {
		m, ok := rs.(map[string]any)
		if !ok {
			continue
		}
		step := Step{
			ID:                   asString(m["step_id"]),
			Intent:               strings.TrimSpace(asString(m["intent"])),
			RequiresConfirmation: asBool(m["requires_confirmation"]),
			Summary:              strings.TrimSpace(asString(m["summary"])),
		}
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		if params, ok := m["parameters"].(map[string]any); ok {
			step.Parameters = params
		} else {
			step.Parameters = map[string]any{}
		}
		alias := strings.ToLower(strings.TrimSpace(asString(m["risk"])))
		if alias == "" {
			alias = "safe"
		}
		if risk, ok := riskAliases[alias]; ok {
			step.Risk = risk
		} else {
			step.Risk = RiskSafe
		}
		p.Steps = append(p.Steps, step)
	}
	return p
}

// Validate checks step intents and risk levels.
func (p Plan) Validate() error {
	for i, step := range p.Steps {
		if step.Intent == "" {
			return fmt.Errorf("missing intent at step %d", i+1)
		}
		if _, ok := KnownIntents[step.Intent]; !ok {
			return fmt.Errorf("unknown intent %q at step %d", step.Intent, i+1)
		}
		switch step.Risk {
		case RiskSafe, RiskSensitive, RiskDestructive:
		default:
			return fmt.Errorf("invalid risk %q at step %d", step.Risk, i+1)
		}
	}
	return nil
}

// Empty reports a plan that carries nothing to act on or say.
func (p Plan) Empty() bool {
	return !p.NeedsClarification && len(p.Steps) == 0 && p.Response == ""
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
