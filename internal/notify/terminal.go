package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"watchlist-dashboard/internal/models"
)

// TerminalNotifier is a NotificationChannel for the interactive watch view.
// Notifications are kept in an overlay rendered above the table; signals
// ring the terminal bell.
type TerminalNotifier struct {
	out         io.Writer
	overlay     *NotificationOverlay
	mu          sync.RWMutex
	enabled     bool
	bellEnabled bool
}

// NewTerminalNotifier creates a new TerminalNotifier writing the bell to out.
func NewTerminalNotifier(out io.Writer, overlay *NotificationOverlay) *TerminalNotifier {
	if overlay == nil {
		overlay = NewNotificationOverlay(0, 0)
	}
	return &TerminalNotifier{
		out:         out,
		overlay:     overlay,
		enabled:     true,
		bellEnabled: true,
	}
}

// SetBellEnabled enables or disables the terminal bell.
func (tn *TerminalNotifier) SetBellEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.bellEnabled = enabled
}

// SetEnabled enables or disables the notifier.
func (tn *TerminalNotifier) SetEnabled(enabled bool) {
	tn.mu.Lock()
	defer tn.mu.Unlock()
	tn.enabled = enabled
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool {
	tn.mu.RLock()
	defer tn.mu.RUnlock()
	return tn.enabled
}

// Overlay returns the overlay the notifier feeds.
func (tn *TerminalNotifier) Overlay() *NotificationOverlay {
	return tn.overlay
}

// Send records n in the overlay.
func (tn *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	if !tn.IsEnabled() {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	tn.overlay.Add(n)

	tn.mu.RLock()
	bell := tn.bellEnabled && n.Type == NotificationSignal && tn.out != nil
	tn.mu.RUnlock()
	if bell {
		_, err := io.WriteString(tn.out, "\a")
		return err
	}
	return nil
}

// FormatNotification formats a notification as a single terminal line.
func FormatNotification(n Notification, colorEnabled bool) string {
	var label string
	var paint *color.Color

	switch n.Type {
	case NotificationSignal:
		switch n.Status {
		case models.StatusBuy:
			label = "BUY"
			paint = color.New(color.FgGreen, color.Bold)
		case models.StatusAlert:
			label = "ALERT"
			paint = color.New(color.FgRed, color.Bold)
		default:
			label = "SIGNAL"
			paint = color.New(color.FgYellow)
		}
	case NotificationError:
		label = "ERROR"
		paint = color.New(color.FgRed)
	default:
		label = "INFO"
		paint = color.New(color.FgWhite)
	}

	head := fmt.Sprintf("[%s] %s", n.Timestamp.Format("15:04:05"), label)
	if colorEnabled {
		paint.EnableColor()
		head = paint.Sprint(head)
	}

	var sb strings.Builder
	sb.WriteString(head)
	if n.Symbol != "" {
		sb.WriteString(" | ")
		sb.WriteString(n.Symbol)
	}
	// First message line only; the overlay is one row per notification.
	msg := n.Message
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if msg != "" {
		sb.WriteString(" | ")
		sb.WriteString(msg)
	}
	return sb.String()
}

// NotificationOverlay holds the most recent notifications for watch mode.
type NotificationOverlay struct {
	notifications []Notification
	maxVisible    int
	mu            sync.RWMutex
	ttl           time.Duration
	now           func() time.Time
}

// NewNotificationOverlay creates a new notification overlay.
func NewNotificationOverlay(maxVisible int, ttl time.Duration) *NotificationOverlay {
	if maxVisible <= 0 {
		maxVisible = 5
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &NotificationOverlay{
		notifications: make([]Notification, 0, maxVisible),
		maxVisible:    maxVisible,
		ttl:           ttl,
		now:           time.Now,
	}
}

// Add adds a notification to the overlay.
func (no *NotificationOverlay) Add(n Notification) {
	no.mu.Lock()
	defer no.mu.Unlock()

	now := no.now()
	active := make([]Notification, 0, len(no.notifications)+1)
	for _, notif := range no.notifications {
		if now.Sub(notif.Timestamp) < no.ttl {
			active = append(active, notif)
		}
	}
	active = append(active, n)

	if len(active) > no.maxVisible {
		active = active[len(active)-no.maxVisible:]
	}
	no.notifications = active
}

// GetVisible returns the notifications that have not expired, oldest first.
func (no *NotificationOverlay) GetVisible() []Notification {
	no.mu.RLock()
	defer no.mu.RUnlock()

	now := no.now()
	visible := make([]Notification, 0, len(no.notifications))
	for _, n := range no.notifications {
		if now.Sub(n.Timestamp) < no.ttl {
			visible = append(visible, n)
		}
	}
	return visible
}

// Clear clears all notifications.
func (no *NotificationOverlay) Clear() {
	no.mu.Lock()
	defer no.mu.Unlock()
	no.notifications = no.notifications[:0]
}

// Render renders the overlay as a block of lines, or "" when empty.
func (no *NotificationOverlay) Render(colorEnabled bool) string {
	visible := no.GetVisible()
	if len(visible) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Notifications\n")
	for _, n := range visible {
		sb.WriteString("  ")
		sb.WriteString(FormatNotification(n, colorEnabled))
		sb.WriteString("\n")
	}
	return sb.String()
}

var _ NotificationChannel = (*TerminalNotifier)(nil)
