package delivery

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/term"

	"github.com/user/mediasync/internal/types"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
)

// Toast writes a one-line transient notice to a writer, usually the
// daemon's stderr. Colour is used only when the writer is a terminal.
type Toast struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

func NewToast(w io.Writer) *Toast {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Toast{w: w, color: color}
}

func (t *Toast) Name() string { return "toast" }

func (t *Toast) Deliver(ctx context.Context, ev *types.Event) error {
	line := FormatToast(ev, t.color)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.w, line+"\n")
	return err
}

// FormatToast renders ev on one line.
func FormatToast(ev *types.Event, color bool) string {
	icon, tint := "i", ansiCyan
	switch ev.Type.Category() {
	case types.CategorySuccess:
		icon, tint = "✓", ansiGreen
	case types.CategoryFailure:
		icon, tint = "✗", ansiRed
	}

	var b strings.Builder
	if color {
		fmt.Fprintf(&b, "%s%s[%s]%s %s%s%s", tint, ansiBold, icon, ansiReset, ansiBold, ev.Title, ansiReset)
	} else {
		fmt.Fprintf(&b, "[%s] %s", icon, ev.Title)
	}
	if msg := PlainMessage(ev.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(strings.Join(strings.Fields(msg), " "))
	}
	if ev.Progress != nil {
		fmt.Fprintf(&b, " (%d%%)", *ev.Progress)
	}
	return b.String()
}

// PlainMessage converts an HTML message body to markdown. Plain text is
// returned unchanged.
func PlainMessage(msg string) string {
	if !strings.ContainsAny(msg, "<&") {
		return msg
	}
	md, err := htmltomarkdown.ConvertString(msg)
	if err != nil {
		return msg
	}
	return strings.TrimSpace(md)
}
