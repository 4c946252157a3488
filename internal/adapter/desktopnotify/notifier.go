// Package desktopnotify implements a notifier.Notifier that delivers native
// OS desktop notifications, falling back through a chain of delivery
// mechanisms: a cross-platform notification library, then a platform CLI
// command, then a log-only sink. This mirrors the fallback chain of the
// original Python implementation's notify-py-backed notifier.
package desktopnotify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"

	"github.com/gen2brain/beeep"

	"github.com/deepresearch-mcp/orchestrator/internal/port/notifier"
)

const providerName = "desktop"

// applicationName is sent as the notification's sender identity where the
// delivery mechanism supports one.
const applicationName = "Deep Research"

// Notifier sends native desktop notifications with a graded fallback.
type Notifier struct {
	logger *slog.Logger
}

// NewNotifier creates a desktop Notifier. logger defaults to slog.Default
// when nil.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

func (n *Notifier) Name() string { return providerName }

func (n *Notifier) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{RichFormatting: false, Threads: false}
}

// Send attempts delivery via beeep first, then a platform CLI command, then
// falls back to a structured log line. It never returns an error: a
// completely silent host should not block task lifecycle processing.
func (n *Notifier) Send(ctx context.Context, note notifier.Notification) error {
	if err := beeep.Notify(note.Title, note.Message, ""); err == nil {
		return nil
	}

	if err := n.sendViaCLI(ctx, note); err == nil {
		return nil
	}

	n.logger.Info("NOTIFICATION", "title", note.Title, "message", note.Message, "level", note.Level, "source", note.Source)
	return nil
}

func (n *Notifier) sendViaCLI(ctx context.Context, note notifier.Notification) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.CommandContext(ctx, "notify-send", "-a", applicationName, note.Title, note.Message)
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", escapeAppleScript(note.Message), escapeAppleScript(note.Title))
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	case "windows":
		cmd = exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command",
			fmt.Sprintf("New-BurntToastNotification -Text '%s','%s'", note.Title, note.Message))
	default:
		return fmt.Errorf("desktopnotify: no CLI fallback for GOOS %q", runtime.GOOS)
	}
	return cmd.Run()
}

func escapeAppleScript(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
