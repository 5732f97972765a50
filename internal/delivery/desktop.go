package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"

	"github.com/user/mediasync/internal/types"
)

// Desktop raises an OS-level notification through notify-send on Linux or
// osascript on macOS. Permission is negotiated once, on first delivery; if
// no notifier is available, or the check fails, every delivery is a silent
// no-op for the lifetime of the channel.
type Desktop struct {
	Command string

	once     sync.Once
	notifier string
	granted  bool

	goos     string
	lookPath func(string) (string, error)
	run      func(*exec.Cmd) error
}

func NewDesktop(command string) *Desktop {
	return &Desktop{
		Command:  command,
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
		run:      startDetached,
	}
}

func (d *Desktop) Name() string { return "desktop" }

// Permission negotiates access on first call and reports the outcome.
func (d *Desktop) Permission() error {
	d.once.Do(d.negotiate)
	if !d.granted {
		return ErrPermissionDenied
	}
	return nil
}

func (d *Desktop) negotiate() {
	name := d.Command
	if name == "" {
		switch d.goos {
		case "linux", "freebsd", "openbsd":
			name = "notify-send"
		case "darwin":
			name = "osascript"
		default:
			slog.Debug("desktop notifications unsupported", "os", d.goos)
			return
		}
	}
	p, err := d.lookPath(name)
	if err != nil {
		slog.Debug("desktop notifier not found", "command", name, "error", err)
		return
	}
	d.notifier = p
	d.granted = true
}

func (d *Desktop) Deliver(ctx context.Context, ev *types.Event) error {
	if err := d.Permission(); err != nil {
		return err
	}
	cmd := exec.Command(d.notifier, d.args(ev)...)
	if err := d.run(cmd); err != nil {
		return fmt.Errorf("desktop notify: %w", err)
	}
	go cmd.Wait()
	return nil
}

func (d *Desktop) args(ev *types.Event) []string {
	msg := PlainMessage(ev.Message)
	if d.isOSAScript() {
		return []string{"-e", fmt.Sprintf("display notification %q with title %q", msg, ev.Title)}
	}
	urgency := "normal"
	if ev.Type.Category() == types.CategoryFailure {
		urgency = "critical"
	}
	return []string{"--app-name=mediasync", "--urgency=" + urgency, ev.Title, msg}
}

func (d *Desktop) isOSAScript() bool {
	name := d.Command
	if name == "" && d.goos == "darwin" {
		return true
	}
	return name == "osascript"
}
