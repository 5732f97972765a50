package delivery

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/mediasync/internal/types"
)

func TestSynthesizeCues(t *testing.T) {
	for _, cat := range []types.Category{types.CategorySuccess, types.CategoryFailure, types.CategoryNeutral} {
		cue := CueFor(cat)
		samples := Synthesize(cue, 8000)

		var want int
		for _, n := range cue.Notes {
			want += int(n.Duration * 8000)
		}
		require.Len(t, samples, want)
		assert.Equal(t, int16(0), samples[0], "envelope starts silent")

		var peak int16
		for _, s := range samples {
			if s > peak {
				peak = s
			}
		}
		assert.Greater(t, peak, int16(1000))
	}

	assert.NotEqual(t, CueFor(types.CategorySuccess), CueFor(types.CategoryFailure))
}

func TestWriteWAVHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, []int16{0, 100, -100}, 22050))

	data := buf.Bytes()
	require.Len(t, data, 44+6)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(22050), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(6), binary.LittleEndian.Uint32(data[40:44]))
}

func TestSoundNoPlayerIsNoop(t *testing.T) {
	s := NewSound("")
	s.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	s.start = func(*exec.Cmd) error {
		t.Fatal("player should not start")
		return nil
	}
	assert.NoError(t, s.Deliver(context.Background(), &types.Event{Type: types.EventInfo}))
}

func TestSoundStartsPlayerWithCue(t *testing.T) {
	s := NewSound("myplayer")
	s.lookPath = func(name string) (string, error) {
		if name == "myplayer" {
			return "/usr/bin/myplayer", nil
		}
		return "", exec.ErrNotFound
	}
	var args []string
	s.start = func(cmd *exec.Cmd) error {
		args = cmd.Args
		info, err := os.Stat(cmd.Args[1])
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(44))
		return nil
	}

	require.NoError(t, s.Deliver(context.Background(), &types.Event{Type: types.EventUploadFailed}))
	require.Len(t, args, 2)
	assert.Equal(t, "/usr/bin/myplayer", args[0])
	assert.True(t, strings.HasSuffix(args[1], ".wav"))
}

func TestFormatToast(t *testing.T) {
	p := 40
	tests := []struct {
		name string
		ev   types.Event
		want string
	}{
		{"success", types.Event{Type: types.EventUploadCompleted, Title: "Upload complete", Message: "a.jpg"}, "[✓] Upload complete: a.jpg"},
		{"failure", types.Event{Type: types.EventGenerationFailed, Title: "Failed", Message: "out of memory"}, "[✗] Failed: out of memory"},
		{"progress", types.Event{Type: types.EventGenerationProgress, Title: "Rendering", Progress: &p}, "[i] Rendering (40%)"},
		{"html", types.Event{Type: types.EventInfo, Title: "Note", Message: "<p>Hello <strong>there</strong></p>"}, "[i] Note: Hello **there**"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatToast(&tt.ev, false))
		})
	}

	colored := FormatToast(&types.Event{Type: types.EventInfo, Title: "x"}, true)
	assert.Contains(t, colored, ansiCyan)
}

func TestToastWritesLine(t *testing.T) {
	var buf bytes.Buffer
	toast := NewToast(&buf)
	require.NoError(t, toast.Deliver(context.Background(), &types.Event{Type: types.EventInfo, Title: "hi"}))
	assert.Equal(t, "[i] hi\n", buf.String())
}

func TestDesktopDeniedIsSilent(t *testing.T) {
	d := NewDesktop("")
	d.goos = "linux"
	var lookups int
	d.lookPath = func(string) (string, error) {
		lookups++
		return "", exec.ErrNotFound
	}
	d.run = func(*exec.Cmd) error {
		t.Fatal("notifier should not run")
		return nil
	}

	for i := 0; i < 3; i++ {
		err := d.Deliver(context.Background(), &types.Event{Type: types.EventInfo, Title: "x"})
		assert.True(t, errors.Is(err, ErrPermissionDenied))
	}
	assert.Equal(t, 1, lookups, "permission is negotiated once")
}

func TestDesktopUnsupportedOS(t *testing.T) {
	d := NewDesktop("")
	d.goos = "plan9"
	assert.ErrorIs(t, d.Permission(), ErrPermissionDenied)
}

func TestDesktopNotifySendArgs(t *testing.T) {
	d := NewDesktop("")
	d.goos = "linux"
	d.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	var got []string
	d.run = func(cmd *exec.Cmd) error {
		got = cmd.Args
		return nil
	}

	require.NoError(t, d.Deliver(context.Background(), &types.Event{Type: types.EventInstallFailed, Title: "Install failed", Message: "exit 1"}))
	assert.Equal(t, []string{"/usr/bin/notify-send", "--app-name=mediasync", "--urgency=critical", "Install failed", "exit 1"}, got)
}

func TestDesktopOSAScriptArgs(t *testing.T) {
	d := NewDesktop("")
	d.goos = "darwin"
	d.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	var got []string
	d.run = func(cmd *exec.Cmd) error {
		got = cmd.Args
		return nil
	}

	require.NoError(t, d.Deliver(context.Background(), &types.Event{Type: types.EventInfo, Title: "T", Message: "M"}))
	require.Len(t, got, 3)
	assert.Equal(t, "-e", got[1])
	assert.Equal(t, `display notification "M" with title "T"`, got[2])
}

func TestSplitMessage(t *testing.T) {
	parts := splitMessage("Hello world")
	require.Len(t, parts, 1)
	assert.Equal(t, "Hello world", parts[0])

	parts = splitMessage(strings.Repeat("a", 5000))
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], maxTelegramMessage)
}

func TestSplitMessageMultibyte(t *testing.T) {
	for _, r := range []string{"é", "€", "😀"} {
		t.Run(r, func(t *testing.T) {
			text := strings.Repeat(r, 4000)
			parts := splitMessage(text)
			require.Greater(t, len(parts), 1)
			for _, p := range parts {
				assert.True(t, utf8.ValidString(p), "part is not valid UTF-8")
				assert.LessOrEqual(t, len(p), maxTelegramMessage)
			}
			assert.Equal(t, text, strings.Join(parts, ""))
		})
	}
}

func TestSplitMessagePrefersLineBreaks(t *testing.T) {
	line := strings.Repeat("x", 99) + "\n"
	text := strings.Repeat(line, 50)
	parts := splitMessage(text)
	require.Len(t, parts, 2)
	assert.True(t, strings.HasSuffix(parts[0], "\n"))
	assert.Len(t, parts[0], 4000)
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestTelegramSendsToChat(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"sync","username":"sync_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			mu.Lock()
			texts = append(texts, r.FormValue("chat_id")+"|"+r.FormValue("text"))
			mu.Unlock()
			w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"ok":false,"error_code":404,"description":"not found"}`))
		}
	}))
	defer server.Close()

	tg, err := NewTelegram("TOKEN", 42, server.URL+"/bot%s/%s")
	require.NoError(t, err)
	assert.Equal(t, "telegram", tg.Name())

	ev := &types.Event{
		Type:     types.EventGenerationCompleted,
		Title:    "Image ready",
		Message:  "sunset.png",
		Metadata: types.EventMetadata{OutputURL: "http://srv/uploads/sunset.png"},
	}
	require.NoError(t, tg.Deliver(context.Background(), ev))
	tg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, texts, 1)
	assert.Equal(t, "42|*Image ready*\nsunset.png\nhttp://srv/uploads/sunset.png", texts[0])
}
