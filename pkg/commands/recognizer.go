// Package commands recognizes spoken control phrases before a transcript
// reaches the planner. Matching is accent-insensitive: transcripts vary
// between "modo digitação" and "modo digitacao" depending on the STT model.
package commands

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Kind string

const (
	KindNormal      Kind = "normal"
	KindShutdown    Kind = "shutdown"
	KindRestart     Kind = "restart"
	KindInterrupt   Kind = "interrupt"
	KindStandbyOn   Kind = "standby_on"
	KindStandbyOff  Kind = "standby_off"
	KindSnoozeOn    Kind = "snooze_on"
	KindSnoozeOff   Kind = "snooze_off"
	KindTypingOn    Kind = "typing_on"
	KindTypingOff   Kind = "typing_off"
	KindVocabImport Kind = "vocab_import"
)

// Result describes what the recognizer found. Proceed means the transcript
// should still flow into the normal pipeline; control phrases consume the
// utterance instead.
type Result struct {
	Kind    Kind
	Proceed bool
	Message string
}

var (
	shutdownCommands  = []string{"desligar", "desliga", "quit", "exit", "encerrar sistema"}
	restartCommands   = []string{"reiniciar", "restart", "reboot", "reinicie"}
	interruptCommands = []string{"parar", "pare", "silêncio", "mudo", "cancelar", "chega"}

	standbyOnCommands = []string{
		"standby", "stand-by", "modo standby", "modo stand-by",
		"pausar", "pause", "pausa", "dormir", "descansar",
	}
	standbyOffCommands = []string{
		"voltar", "retome", "acordar", "acorde", "despausar",
		"sair do standby", "sair do stand-by", "modo normal", "continuar",
	}
	snoozeOnCommands  = []string{"soneca", "modo soneca", "cochilar"}
	snoozeOffCommands = []string{
		"acordar", "acorde", "retomar", "retome", "voltar", "modo normal", "continuar",
	}

	typingOnCommands = []string{
		"ativar modo escrito", "ativar modo de escrita", "ativar modo de digitacao", "ativar modo digitacao",
		"entrar no modo escrito", "entrar no modo de escrita", "modo escrito", "modo de escrita",
		"modo digitacao", "modo de digitacao", "ligar modo escrito", "ligar modo de escrita",
	}
	typingOffCommands = []string{
		"sair do modo escrita", "sair do modo escrito", "sair do modo de escrita",
		"sair do modo digitacao", "sair do modo de digitacao",
		"desativar modo digitacao", "desativar modo de digitacao",
		"desativar modo escrito", "desativar modo de escrita", "desativar o modo escrito", "desativar o modo de escrita",
		"desligar modo escrito", "desligar modo de escrita", "desligar o modo escrito", "desligar o modo de escrita",
		"parar modo escrito", "parar modo de escrita",
	}

	vocabImportCommands = []string{
		"corrigir vocabulario", "corrige vocabulario", "corrija vocabulario",
		"atualizar vocabulario", "atualize vocabulario",
		"adicionar vocabulario", "adicione vocabulario", "adiciona vocabulario",
		"importar vocabulario", "importe vocabulario", "importa vocabulario",
	}
	vocabVerbs = []string{
		"corrigir", "corrige", "corrija",
		"atualizar", "atualize",
		"adicionar", "adicione", "adiciona",
		"importar", "importe", "importa",
	}
)

var (
	wordRe      = regexp.MustCompile(`\w+`)
	deaccenting = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Normalize lowercases and strips combining marks, so "Silêncio!" matches
// "silencio".
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	out, _, err := transform.String(deaccenting, text)
	if err != nil {
		return text
	}
	return out
}

type Recognizer struct{}

func NewRecognizer() *Recognizer {
	return &Recognizer{}
}

// Analyze classifies a transcript. Order matters: typing-off phrases embed
// typing-on phrases, so off is tested first.
func (r *Recognizer) Analyze(text string) Result {
	lower := Normalize(text)
	words := wordSet(lower)

	switch {
	case contains(lower, words, shutdownCommands):
		return Result{Kind: KindShutdown, Message: "Desligando"}
	case contains(lower, words, restartCommands):
		return Result{Kind: KindRestart, Message: "Reiniciando"}
	case contains(lower, words, interruptCommands):
		return Result{Kind: KindInterrupt}
	case contains(lower, words, standbyOnCommands):
		return Result{Kind: KindStandbyOn, Message: "Modo standby ativado"}
	case contains(lower, words, standbyOffCommands):
		return Result{Kind: KindStandbyOff, Message: "Modo standby desativado"}
	case contains(lower, words, snoozeOnCommands):
		return Result{Kind: KindSnoozeOn, Message: "Modo soneca ativado"}
	case contains(lower, words, snoozeOffCommands):
		return Result{Kind: KindSnoozeOff, Message: "Modo soneca desativado"}
	case contains(lower, words, typingOffCommands):
		return Result{Kind: KindTypingOff, Message: "Modo escrito desativado"}
	case contains(lower, words, typingOnCommands):
		return Result{Kind: KindTypingOn, Message: "Modo escrito ativado"}
	case matchesVocabImport(lower):
		return Result{Kind: KindVocabImport, Proceed: true}
	}
	return Result{Kind: KindNormal, Proceed: true}
}

func wordSet(lower string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(lower, -1) {
		out[w] = struct{}{}
	}
	return out
}

// contains matches single words on word boundaries and multi-word or
// hyphenated phrases as substrings.
func contains(lower string, words map[string]struct{}, commands []string) bool {
	if lower == "" {
		return false
	}
	for _, cmd := range commands {
		cmd = Normalize(cmd)
		if cmd == "" {
			continue
		}
		if strings.ContainsAny(cmd, " -") {
			if strings.Contains(lower, cmd) {
				return true
			}
			continue
		}
		if _, ok := words[cmd]; ok {
			return true
		}
	}
	return false
}

func matchesVocabImport(lower string) bool {
	for _, cmd := range vocabImportCommands {
		if strings.Contains(lower, cmd) {
			return true
		}
	}
	if !strings.Contains(lower, "vocabulario") {
		return false
	}
	for _, verb := range vocabVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}
