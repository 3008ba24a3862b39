package desktop

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

const (
	appName     = "Proposal Tracker"
	sendTimeout = 10 * time.Second
)

// Notifier shows one summary toast through the host's notification command.
type Notifier struct {
	goos     string
	getenv   func(string) string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
	logger   *slog.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier targets the current OS.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		goos:     runtime.GOOS,
		getenv:   os.Getenv,
		lookPath: exec.LookPath,
		run: func(ctx context.Context, name string, args ...string) error {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
			}
			return nil
		},
		logger: logger.With("component", "desktop"),
	}
}

// Channel implements ports.Notifier.
func (n *Notifier) Channel() domain.Channel { return domain.ChannelDesktop }

// Notify shows "N new blockchain proposals" with the per-protocol breakdown.
// Hosts without a display or a notification command report ErrChannelUnsupported.
func (n *Notifier) Notify(ctx context.Context, settings config.NotificationConfig, batch domain.Batch) error {
	if !settings.Desktop.Enabled {
		return domain.ErrChannelDisabled
	}

	name, args, ok := n.command(batch.Headline(), batch.Breakdown())
	if !ok {
		return domain.ErrChannelUnsupported
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := n.run(ctx, name, args...); err != nil {
		return &domain.NotificationChannelError{Channel: domain.ChannelDesktop, Err: err}
	}
	return nil
}

func (n *Notifier) command(title, body string) (string, []string, bool) {
	switch n.goos {
	case "linux", "freebsd", "openbsd", "netbsd":
		if n.getenv("DISPLAY") == "" && n.getenv("WAYLAND_DISPLAY") == "" {
			return "", nil, false
		}
		path, err := n.lookPath("notify-send")
		if err != nil {
			return "", nil, false
		}
		return path, []string{"--app-name", appName, title, body}, true
	case "darwin":
		path, err := n.lookPath("osascript")
		if err != nil {
			return "", nil, false
		}
		script := fmt.Sprintf("display notification %s with title %s", appleQuote(body), appleQuote(title))
		return path, []string{"-e", script}, true
	case "windows":
		path, err := n.lookPath("powershell")
		if err != nil {
			return "", nil, false
		}
		return path, []string{"-NoProfile", "-NonInteractive", "-Command", toastScript(title, body)}, true
	default:
		return "", nil, false
	}
}

func appleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func toastScript(title, body string) string {
	return strings.Join([]string{
		"Add-Type -AssemblyName System.Windows.Forms",
		"$n = New-Object System.Windows.Forms.NotifyIcon",
		"$n.Icon = [System.Drawing.SystemIcons]::Information",
		"$n.Visible = $true",
		fmt.Sprintf("$n.ShowBalloonTip(10000, %s, %s, 'Info')", psQuote(title), psQuote(body)),
		"Start-Sleep -Seconds 5",
		"$n.Dispose()",
	}, "; ")
}
