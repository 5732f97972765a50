package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/user/mediasync/internal/types"
)

const sampleRate = 22050

// defaultPlayers are tried in order when no player is configured.
var defaultPlayers = []string{"paplay", "aplay", "afplay", "play"}

// Sound plays a synthesized cue through an external audio player. With no
// player available it does nothing.
type Sound struct {
	Player string

	lookPath func(string) (string, error)
	start    func(*exec.Cmd) error
}

func NewSound(player string) *Sound {
	return &Sound{Player: player, lookPath: exec.LookPath, start: startDetached}
}

func (s *Sound) Name() string { return "sound" }

func (s *Sound) Deliver(ctx context.Context, ev *types.Event) error {
	player := s.resolvePlayer()
	if player == "" {
		slog.Debug("no audio player available, skipping sound")
		return nil
	}

	f, err := os.CreateTemp("", "mediasync-cue-*.wav")
	if err != nil {
		return fmt.Errorf("create cue file: %w", err)
	}
	if err := WriteWAV(f, Synthesize(CueFor(ev.Type.Category()), sampleRate), sampleRate); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("write cue: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("write cue: %w", err)
	}

	cmd := exec.Command(player, f.Name())
	if err := s.start(cmd); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("start %s: %w", player, err)
	}
	go func() {
		cmd.Wait()
		os.Remove(f.Name())
	}()
	return nil
}

func (s *Sound) resolvePlayer() string {
	candidates := defaultPlayers
	if s.Player != "" {
		candidates = []string{s.Player}
	}
	for _, c := range candidates {
		if p, err := s.lookPath(c); err == nil {
			return p
		}
	}
	return ""
}

func startDetached(cmd *exec.Cmd) error {
	return cmd.Start()
}
