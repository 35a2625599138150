// Package vocab fixes recurring transcription mistakes with a user-supplied
// replacement table, applied to transcripts before planning. Matching is
// accent- and case-insensitive and survives the STT model splitting a name
// into pieces ("si a" corrected to "sia").
package vocab

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/cronolabs/crono/pkg/commands"
)

type Replacement struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Corrector struct {
	mu           sync.RWMutex
	replacements []Replacement
}

func NewCorrector() *Corrector {
	return &Corrector{}
}

// Add registers a replacement; duplicates are ignored. Reports whether the
// table changed.
func (c *Corrector) Add(from, to string) bool {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.replacements {
		if normalize(r.From) == normalize(from) && normalize(r.To) == normalize(to) {
			return false
		}
	}
	c.replacements = append(c.replacements, Replacement{From: from, To: to})
	return true
}

func (c *Corrector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.replacements)
}

// Import parses "wrong -> right" or "wrong = right" lines, one per line,
// and adds them. Returns how many were added.
func (c *Corrector) Import(text string) int {
	added := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sep := "->"
		if !strings.Contains(line, sep) {
			sep = "="
		}
		parts := strings.SplitN(line, sep, 2)
		if len(parts) != 2 {
			continue
		}
		if c.Add(parts[0], parts[1]) {
			added++
		}
	}
	return added
}

// Load reads a JSON replacement table from disk. A missing file is not an
// error; the table just starts empty.
func (c *Corrector) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var reps []Replacement
	if err := json.Unmarshal(data, &reps); err != nil {
		return err
	}
	c.mu.Lock()
	c.replacements = reps
	c.mu.Unlock()
	return nil
}

func (c *Corrector) Save(path string) error {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.replacements, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var tokenRe = regexp.MustCompile(`\w+|[^\w]+`)
var wordTokenRe = regexp.MustCompile(`^\w+$`)

// Apply rewrites a transcript, preserving punctuation and spacing around the
// replaced words. Multi-word sources match both spaced and joined forms.
func (c *Corrector) Apply(text string) string {
	c.mu.RLock()
	reps := c.replacements
	c.mu.RUnlock()
	if len(reps) == 0 || text == "" {
		return text
	}

	variants := buildVariantMap(reps)
	tokens := tokenRe.FindAllString(text, -1)
	if len(tokens) == 0 {
		return text
	}

	var wordPositions []int
	for i, t := range tokens {
		if wordTokenRe.MatchString(t) {
			wordPositions = append(wordPositions, i)
		}
	}
	normWords := make([]string, len(wordPositions))
	for i, pos := range wordPositions {
		normWords[i] = normalize(tokens[pos])
	}

	maxSpan := maxPhraseTokens(variants)
	used := make([]bool, len(wordPositions))

	for i := 0; i < len(wordPositions); i++ {
		if used[i] {
			continue
		}
		matched := false
		for span := maxSpan; span >= 2; span-- {
			if i+span > len(wordPositions) {
				continue
			}
			if anyUsed(used[i : i+span]) {
				continue
			}
			chunk := normWords[i : i+span]
			target, ok := variants[strings.Join(chunk, " ")]
			if !ok {
				target, ok = variants[strings.Join(chunk, "")]
			}
			if ok {
				start := wordPositions[i]
				end := wordPositions[i+span-1]
				tokens[start] = target
				for j := start + 1; j <= end; j++ {
					tokens[j] = ""
				}
				for j := i; j < i+span; j++ {
					used[j] = true
				}
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if target, ok := variants[normWords[i]]; ok {
			tokens[wordPositions[i]] = target
			used[i] = true
		}
	}

	return strings.Join(tokens, "")
}

func buildVariantMap(reps []Replacement) map[string]string {
	out := make(map[string]string, 2*len(reps))
	for _, r := range reps {
		to := strings.TrimSpace(r.To)
		if to == "" {
			continue
		}
		if from := normalize(r.From); from != "" {
			out[from] = to
		}
		// targets match themselves so repeated correction is stable
		if toNorm := normalize(to); toNorm != "" {
			if _, ok := out[toNorm]; !ok {
				out[toNorm] = to
			}
		}
	}
	return out
}

func maxPhraseTokens(variants map[string]string) int {
	max := 1
	for key := range variants {
		if n := len(strings.Fields(key)); n > max {
			max = n
		}
	}
	if max > 5 {
		max = 5
	}
	return max
}

func anyUsed(b []bool) bool {
	for _, v := range b {
		if v {
			return true
		}
	}
	return false
}

var punctRe = regexp.MustCompile(`[^\w\s]`)
var spaceRe = regexp.MustCompile(`\s+`)

func normalize(text string) string {
	text = commands.Normalize(text)
	text = punctRe.ReplaceAllString(text, " ")
	return spaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
}
