// Package desktop executes plan steps against the local machine: launching
// apps, typing, opening websites, keeping notes, running commands. Each
// intent maps to a handler; calls get a timeout and a bounded retry.
package desktop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cronolabs/crono/pkg/adapters/actions"
	"github.com/cronolabs/crono/pkg/configutil"
	"github.com/cronolabs/crono/pkg/errorsx"
)

var ErrActionTimeout = errors.New("action timeout")

type settings struct {
	OpenCommand  string `mapstructure:"open_command"`
	TypingTool   string `mapstructure:"typing_tool"`
	NotesPath    string `mapstructure:"notes_path"`
	AllowShell   bool   `mapstructure:"allow_shell"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	Retries      int    `mapstructure:"retries"`
	RetryBackoff int    `mapstructure:"retry_backoff_ms"`
}

var settingsSchema = configutil.Schema{
	Optional: []string{
		"open_command", "typing_tool", "notes_path", "allow_shell",
		"timeout_ms", "retries", "retry_backoff_ms",
	},
}

type handler func(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error)

type Dispatcher struct {
	s        settings
	handlers map[string]handler

	mu     sync.Mutex
	timers map[string]*time.Timer
	// OnTimer is invoked when a spoken timer fires. Wired by the builder
	// so the assistant can announce it.
	onTimer func(label string)
}

var _ actions.Dispatcher = (*Dispatcher)(nil)

func New(cfgSettings map[string]any, onTimer func(label string)) (*Dispatcher, error) {
	if err := configutil.ValidateSettings(cfgSettings, settingsSchema); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	s := settings{
		OpenCommand:  "xdg-open",
		TypingTool:   "xdotool",
		NotesPath:    "notes.txt",
		TimeoutMs:    6000,
		Retries:      1,
		RetryBackoff: 150,
	}
	if err := configutil.DecodeSettings(cfgSettings, &s); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConfig)
	}
	d := &Dispatcher{
		s:       s,
		timers:  make(map[string]*time.Timer),
		onTimer: onTimer,
	}
	d.handlers = map[string]handler{
		"open_app":          runOpenApp,
		"close_app":         runCloseApp,
		"open_website":      runOpenWebsite,
		"play_media":        runOpenWebsite,
		"type_text":         runTypeText,
		"press_key":         runPressKey,
		"system_command":    runSystemCommand,
		"remember_note":     runRememberNote,
		"file_operation":    runFileOperation,
		"search_web":        runSearchWeb,
		"system_status":     runSystemStatus,
		"set_timer":         runSetTimer,
		"cancel_timer":      runCancelTimer,
		"chat":              runChat,
		"weather_report":    runWeather,
		"fetch_web_content": runOpenWebsite,
	}
	return d, nil
}

func (d *Dispatcher) Name() string { return "desktop" }

func (d *Dispatcher) Supports(intent string) bool {
	_, ok := d.handlers[intent]
	return ok
}

// Dispatch runs the intent's handler with the configured timeout, retrying
// transient failures. Context cancellation aborts without retry.
func (d *Dispatcher) Dispatch(ctx context.Context, intent string, params map[string]any) (actions.Result, error) {
	h, ok := d.handlers[intent]
	if !ok {
		return actions.Result{}, errorsx.Wrap(fmt.Errorf("unsupported intent %q", intent), errorsx.ReasonAction)
	}

	attempts := d.s.Retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := d.callWithTimeout(ctx, h, params)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return actions.Result{}, ctx.Err()
		}
		lastErr = err
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return actions.Result{}, ctx.Err()
			case <-time.After(time.Duration(d.s.RetryBackoff) * time.Millisecond * time.Duration(i+1)):
			}
		}
	}
	return actions.Result{}, errorsx.Wrap(lastErr, errorsx.ReasonAction)
}

func (d *Dispatcher) callWithTimeout(ctx context.Context, h handler, params map[string]any) (actions.Result, error) {
	if d.s.TimeoutMs <= 0 {
		return h(ctx, d, params)
	}
	tctx, cancel := context.WithTimeout(ctx, time.Duration(d.s.TimeoutMs)*time.Millisecond)
	defer cancel()
	res, err := h(tctx, d, params)
	if err != nil && tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return actions.Result{}, ErrActionTimeout
	}
	return res, err
}

func paramString(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func runOpenApp(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	app := paramString(params, "app", "name", "application")
	if app == "" {
		return actions.Result{}, errors.New("missing app name")
	}
	if err := exec.CommandContext(ctx, app).Start(); err != nil {
		return actions.Result{}, fmt.Errorf("launch %s: %w", app, err)
	}
	return actions.Result{Success: true, Message: "Abri o " + app + "."}, nil
}

func runCloseApp(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	app := paramString(params, "app", "name", "application")
	if app == "" {
		return actions.Result{}, errors.New("missing app name")
	}
	if err := exec.CommandContext(ctx, "pkill", "-f", app).Run(); err != nil {
		return actions.Result{}, fmt.Errorf("close %s: %w", app, err)
	}
	return actions.Result{Success: true, Message: "Fechei o " + app + "."}, nil
}

func runOpenWebsite(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	target := paramString(params, "url", "website", "media", "query")
	if target == "" {
		return actions.Result{}, errors.New("missing url")
	}
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	if err := exec.CommandContext(ctx, d.s.OpenCommand, target).Start(); err != nil {
		return actions.Result{}, fmt.Errorf("open %s: %w", target, err)
	}
	return actions.Result{Success: true}, nil
}

func runSearchWeb(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	query := paramString(params, "query", "q", "text")
	if query == "" {
		return actions.Result{}, errors.New("missing query")
	}
	url := "https://duckduckgo.com/?q=" + strings.ReplaceAll(query, " ", "+")
	if err := exec.CommandContext(ctx, d.s.OpenCommand, url).Start(); err != nil {
		return actions.Result{}, fmt.Errorf("search: %w", err)
	}
	return actions.Result{Success: true, Message: "Pesquisando por " + query + "."}, nil
}

func runTypeText(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	text := paramString(params, "text", "content")
	if text == "" {
		return actions.Result{}, errors.New("missing text")
	}
	if err := exec.CommandContext(ctx, d.s.TypingTool, "type", "--delay", "12", text).Run(); err != nil {
		return actions.Result{}, fmt.Errorf("type: %w", err)
	}
	return actions.Result{Success: true}, nil
}

func runPressKey(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	key := paramString(params, "key", "keys")
	if key == "" {
		return actions.Result{}, errors.New("missing key")
	}
	if err := exec.CommandContext(ctx, d.s.TypingTool, "key", key).Run(); err != nil {
		return actions.Result{}, fmt.Errorf("press %s: %w", key, err)
	}
	return actions.Result{Success: true}, nil
}

func runSystemCommand(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	if !d.s.AllowShell {
		return actions.Result{}, errors.New("shell commands disabled; set allow_shell to enable")
	}
	command := paramString(params, "command", "cmd")
	if command == "" {
		return actions.Result{}, errors.New("missing command")
	}
	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput()
	if err != nil {
		return actions.Result{}, fmt.Errorf("command failed: %w: %s", err, firstLine(string(out)))
	}
	return actions.Result{Success: true, Message: firstLine(string(out))}, nil
}

func runRememberNote(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	note := paramString(params, "note", "text", "content")
	if note == "" {
		return actions.Result{}, errors.New("missing note")
	}
	f, err := os.OpenFile(d.s.NotesPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return actions.Result{}, fmt.Errorf("open notes: %w", err)
	}
	defer f.Close()
	line := time.Now().Format("2006-01-02 15:04") + "  " + note + "\n"
	if _, err := f.WriteString(line); err != nil {
		return actions.Result{}, fmt.Errorf("write note: %w", err)
	}
	return actions.Result{Success: true, Message: "Anotado."}, nil
}

func runFileOperation(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	action := strings.ToLower(paramString(params, "action", "operation"))
	path := paramString(params, "path", "file", "filename")
	if path == "" {
		return actions.Result{}, errors.New("missing path")
	}
	switch {
	case action == "read_file":
		data, err := os.ReadFile(path)
		if err != nil {
			return actions.Result{}, err
		}
		return actions.Result{Success: true, Message: headChars(string(data), 400)}, nil
	case action == "list_files":
		entries, err := os.ReadDir(path)
		if err != nil {
			return actions.Result{}, err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return actions.Result{Success: true, Message: strings.Join(names, ", ")}, nil
	case action == "create_dir":
		if err := os.MkdirAll(path, 0o755); err != nil {
			return actions.Result{}, err
		}
		return actions.Result{Success: true}, nil
	case strings.HasPrefix(action, "delete"):
		if err := os.Remove(path); err != nil {
			return actions.Result{}, err
		}
		return actions.Result{Success: true, Message: "Apagado."}, nil
	default:
		return actions.Result{}, fmt.Errorf("unsupported file action %q", action)
	}
}

func runSystemStatus(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	host, _ := os.Hostname()
	wd, _ := os.Getwd()
	msg := fmt.Sprintf("Sistema %s ativo, diretório %s.", host, wd)
	return actions.Result{Success: true, Message: msg}, nil
}

func runSetTimer(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	label := paramString(params, "label", "name")
	if label == "" {
		label = "timer"
	}
	seconds := paramInt(params, "seconds", "duration_seconds")
	if seconds <= 0 {
		if m := paramInt(params, "minutes", "duration_minutes"); m > 0 {
			seconds = m * 60
		}
	}
	if seconds <= 0 {
		return actions.Result{}, errors.New("missing duration")
	}

	d.mu.Lock()
	if old, ok := d.timers[label]; ok {
		old.Stop()
	}
	d.timers[label] = time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		d.mu.Lock()
		delete(d.timers, label)
		fire := d.onTimer
		d.mu.Unlock()
		if fire != nil {
			fire(label)
		}
	})
	d.mu.Unlock()
	return actions.Result{Success: true, Message: fmt.Sprintf("Timer %s de %d segundos.", label, seconds)}, nil
}

func runCancelTimer(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	label := paramString(params, "label", "name")
	if label == "" {
		label = "timer"
	}
	d.mu.Lock()
	t, ok := d.timers[label]
	if ok {
		t.Stop()
		delete(d.timers, label)
	}
	d.mu.Unlock()
	if !ok {
		return actions.Result{}, fmt.Errorf("no timer named %s", label)
	}
	return actions.Result{Success: true, Message: "Timer cancelado."}, nil
}

// runChat is a no-op: the plan's spoken response carries the content.
func runChat(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	return actions.Result{Success: true}, nil
}

func runWeather(ctx context.Context, d *Dispatcher, params map[string]any) (actions.Result, error) {
	city := paramString(params, "city", "location")
	url := "https://wttr.in/" + strings.ReplaceAll(city, " ", "+")
	if err := exec.CommandContext(ctx, d.s.OpenCommand, url).Start(); err != nil {
		return actions.Result{}, fmt.Errorf("weather: %w", err)
	}
	return actions.Result{Success: true}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return headChars(s, 200)
}

func headChars(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n])
}

func paramInt(params map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := params[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			var n int
			if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
				return n
			}
		}
	}
	return 0
}
