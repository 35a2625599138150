// Package runner owns process lifecycle: the startup banner, the
// run-drain-stop state machine, and session restarts requested by voice.
package runner

import (
	"bytes"
	"context"
	"os"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Session is one full assistant run. It returns when the context ends or
// the user asks the assistant to stop or restart.
type Session func(ctx context.Context) error

type Hooks struct {
	OnStart   func()
	OnRestart func(attempt int)
	OnStop    func()
}

// Drainer lets queued playback finish before the process exits.
type Drainer interface {
	Drain() error
}

const Version = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"CRONO\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}
