package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cronolabs/crono/pkg/adapters/planner"
	"github.com/cronolabs/crono/pkg/commands"
	"github.com/cronolabs/crono/pkg/metrics"
	"github.com/cronolabs/crono/pkg/plan"
	"github.com/cronolabs/crono/pkg/turn"
)

// respond runs the plan, act, and speak stages for a debounced request.
func (e *Engine) respond(ctx context.Context, text string) {
	if text == "" {
		return
	}
	start := time.Now()
	tok := turn.NewToken(ctx)
	e.setActive(tok)
	defer e.clearActive(tok)

	e.mu.Lock()
	e.stats.Turns++
	history := append([]planner.Exchange(nil), e.history...)
	e.mu.Unlock()

	e.transition(turn.StatePlanning, "debounce expired")

	planStart := time.Now()
	pctx, cancel := context.WithTimeout(tok.Context(), e.cfg.PlanTimeout)
	p, err := e.planner.Plan(pctx, text, history)
	cancel()
	e.obs.RecordEvent(metrics.StageLatency("plan", time.Since(planStart)))
	if err != nil {
		if tok.Cancelled() || ctx.Err() != nil {
			e.noteCancelled(tok)
			e.goHome("planning cancelled")
			return
		}
		e.logger.Error("planning failed",
			slog.String("request", text),
			slog.String("error", err.Error()))
		e.apologize(tok, msgPlanFailed)
		return
	}

	e.logger.Info("plan ready",
		slog.String("plan_id", p.ID),
		slog.String("goal", p.Goal),
		slog.Int("steps", len(p.Steps)),
		slog.Bool("needs_clarification", p.NeedsClarification))

	switch {
	case p.NeedsClarification:
		question := p.ClarifyingQuestion
		if question == "" {
			question = msgNotUnderstood
		}
		e.say(tok, question)
		e.recordExchange(text, question)
	case p.Empty():
		e.say(tok, msgNotUnderstood)
	case e.planNeedsConfirmation(p):
		e.mu.Lock()
		e.pendingConfirm = &p
		e.mu.Unlock()
		question := confirmQuestion(p)
		e.say(tok, question)
		e.recordExchange(text, question)
	default:
		e.execute(ctx, tok, text, p)
	}

	e.obs.RecordEvent(metrics.StageLatency("turn", time.Since(start)))
	e.goHome("turn complete")
}

// execute dispatches each step, then speaks the plan's response.
func (e *Engine) execute(ctx context.Context, tok *turn.Token, request string, p plan.Plan) {
	if len(p.Steps) > 0 {
		e.transition(turn.StateActing, "executing plan")
	}
	var lastMessage string
	for _, step := range p.Steps {
		res, err := e.dispatcher.Dispatch(tok.Context(), step.Intent, step.Parameters)
		e.obs.RecordEvent(metrics.Count(metrics.EventActionExecuted, map[string]string{
			"intent":  step.Intent,
			"success": boolTag(err == nil && res.Success),
		}))
		if err != nil {
			if tok.Cancelled() || ctx.Err() != nil {
				e.noteCancelled(tok)
				e.goHome("action cancelled")
				return
			}
			e.logger.Error("action failed",
				slog.String("intent", step.Intent),
				slog.String("error", err.Error()))
			e.apologize(tok, msgActionFailed)
			return
		}
		if !res.Success {
			e.logger.Warn("action reported failure",
				slog.String("intent", step.Intent),
				slog.String("message", res.Message))
			e.apologize(tok, msgActionFailed)
			return
		}
		if res.Message != "" {
			lastMessage = res.Message
		}
	}

	response := p.Response
	if response == "" {
		response = lastMessage
	}
	if response == "" {
		response = msgDone
	}
	e.say(tok, response)
	e.recordExchange(request, response)
}

// planNeedsConfirmation re-assesses every step's risk locally; the model's
// own risk claims are advisory at best.
func (e *Engine) planNeedsConfirmation(p plan.Plan) bool {
	for _, step := range p.Steps {
		if plan.NeedsConfirmation(plan.AssessRisk(step)) {
			return true
		}
	}
	return false
}

func confirmQuestion(p plan.Plan) string {
	for _, step := range p.Steps {
		if plan.NeedsConfirmation(plan.AssessRisk(step)) && step.Summary != "" {
			return step.Summary + " " + msgConfirmAsk
		}
	}
	return msgConfirmAsk
}

// takeConfirmation consumes a yes or no while a destructive plan awaits
// approval. Anything else cancels the pending plan and lets the transcript
// flow as a fresh request.
func (e *Engine) takeConfirmation(ctx context.Context, tok *turn.Token, text string) bool {
	e.mu.Lock()
	pending := e.pendingConfirm
	e.pendingConfirm = nil
	e.mu.Unlock()
	if pending == nil {
		return false
	}

	switch confirmationAnswer(text) {
	case answerYes:
		e.logger.Info("destructive plan confirmed", slog.String("plan_id", pending.ID))
		e.execute(ctx, tok, pending.Goal, *pending)
		e.goHome("confirmed plan executed")
		return true
	case answerNo:
		e.logger.Info("destructive plan declined", slog.String("plan_id", pending.ID))
		e.say(tok, msgConfirmCancelled)
		e.goHome("plan declined")
		return true
	default:
		// New topic; the pending plan dies quietly.
		e.logger.Debug("pending confirmation abandoned", slog.String("plan_id", pending.ID))
		return false
	}
}

type answer int

const (
	answerUnclear answer = iota
	answerYes
	answerNo
)

var (
	yesWords = []string{"sim", "pode", "confirmo", "confirma", "claro", "vai", "manda", "ok", "isso"}
	noWords  = []string{"nao", "cancela", "cancelar", "negativo", "esquece", "deixa"}
)

func confirmationAnswer(text string) answer {
	norm := commands.Normalize(text)
	for _, w := range noWords {
		if containsWord(norm, w) {
			return answerNo
		}
	}
	for _, w := range yesWords {
		if containsWord(norm, w) {
			return answerYes
		}
	}
	return answerUnclear
}

func containsWord(text, word string) bool {
	fields := splitWords(text)
	for _, f := range fields {
		if f == word {
			return true
		}
	}
	return false
}

func splitWords(text string) []string {
	var words []string
	var cur []rune
	for _, r := range text {
		if r == ' ' || r == ',' || r == '.' || r == '!' || r == '?' {
			if len(cur) > 0 {
				words = append(words, string(cur))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, r)
	}
	if len(cur) > 0 {
		words = append(words, string(cur))
	}
	return words
}

// say speaks through the active token so a barge-in can cut it off.
func (e *Engine) say(tok *turn.Token, text string) {
	e.transition(turn.StateSpeaking, "response ready")
	if err := e.speaker.Speak(tok.Context(), text); err != nil {
		if tok.Cancelled() {
			e.noteCancelled(tok)
			return
		}
		e.logger.Error("speech output failed", slog.String("error", err.Error()))
	}
}

// sayAck speaks a short command acknowledgement through the active token,
// so a barge-in cuts it off like any other speech.
func (e *Engine) sayAck(tok *turn.Token, text string) {
	if text == "" {
		e.goHome("command handled")
		return
	}
	e.transition(turn.StateSpeaking, "command acknowledgement")
	if err := e.speaker.Speak(tok.Context(), text); err != nil {
		if tok.Cancelled() {
			e.noteCancelled(tok)
		} else {
			e.logger.Error("speech output failed", slog.String("error", err.Error()))
		}
	}
	e.goHome("command handled")
}

// apologize tells the user something went wrong and returns home. Never
// called for cancellations, but the apology itself is interruptible.
func (e *Engine) apologize(tok *turn.Token, text string) {
	e.mu.Lock()
	e.stats.Apologies++
	e.mu.Unlock()
	e.obs.RecordEvent(metrics.Count(metrics.EventApology, nil))

	e.transition(turn.StateSpeaking, "apology")
	if err := e.speaker.Speak(tok.Context(), text); err != nil {
		if tok.Cancelled() {
			e.noteCancelled(tok)
		} else {
			e.logger.Error("apology playback failed", slog.String("error", err.Error()))
		}
	}
	e.goHome("apology delivered")
}

func (e *Engine) recordExchange(user, assistant string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, planner.Exchange{User: user, Assistant: assistant})
	if len(e.history) > e.cfg.HistoryDepth {
		e.history = e.history[len(e.history)-e.cfg.HistoryDepth:]
	}
}
