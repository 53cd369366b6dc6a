// Package notify delivers signal and error notifications for the watchlist dashboard.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"watchlist-dashboard/internal/config"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/security"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	SendSignal(ctx context.Context, stock models.ClassifiedStock) error
	SendError(ctx context.Context, err error, source string) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Status    models.Status
	Data      map[string]interface{}
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationSignal NotificationType = "signal"
	NotificationError  NotificationType = "error"
	NotificationInfo   NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll         NotificationLevel = "all"
	LevelSignalsOnly NotificationLevel = "signals_only"
	LevelErrorsOnly  NotificationLevel = "errors_only"
)

const channelTimeout = 10 * time.Second

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	now      func() time.Time
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg *config.NotificationConfig) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    NotificationLevel(cfg.Level),
		now:      time.Now,
	}

	if mn.level == "" {
		mn.level = LevelAll
	}

	if !cfg.Enabled {
		return mn
	}

	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// ChannelCount returns the number of registered channels.
func (mn *MultiNotifier) ChannelCount() int {
	mn.mu.RLock()
	defer mn.mu.RUnlock()
	return len(mn.channels)
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelSignalsOnly:
		return notifType == NotificationSignal
	case LevelErrorsOnly:
		return notifType == NotificationError
	default:
		return true
	}
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = mn.now()
	}

	mn.mu.RLock()
	channels := append([]NotificationChannel(nil), mn.channels...)
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", security.MaskSensitive(strings.Join(errs, "; ")))
	}
	return nil
}

// SendSignal sends a notification for a symbol that entered the buy or alert tier.
func (mn *MultiNotifier) SendSignal(ctx context.Context, stock models.ClassifiedStock) error {
	return mn.Send(ctx, SignalNotification(stock))
}

// SendError sends a fetch or load failure notification.
func (mn *MultiNotifier) SendError(ctx context.Context, err error, source string) error {
	return mn.Send(ctx, ErrorNotification(err, source))
}

// SignalNotification builds the notification sent for a signal-tier stock.
func SignalNotification(stock models.ClassifiedStock) Notification {
	var title string
	switch stock.Status {
	case models.StatusBuy:
		title = fmt.Sprintf("BUY zone: %s", stock.Symbol)
	case models.StatusAlert:
		title = fmt.Sprintf("Sharp drop: %s", stock.Symbol)
	default:
		title = fmt.Sprintf("%s: %s", strings.ToUpper(string(stock.Status)), stock.Symbol)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Price: $%.2f (%+.2f%%)", stock.Price, stock.ChangePercent)
	if stock.HasTarget() {
		fmt.Fprintf(&sb, "\nTarget entry: $%.2f", stock.Target())
		if stock.DistancePercent != nil {
			fmt.Fprintf(&sb, " (%+.2f%% away)", *stock.DistancePercent)
		}
	}
	if stock.StopLoss != "" {
		fmt.Fprintf(&sb, "\nStop loss: %s", stock.StopLoss)
	}

	data := map[string]interface{}{
		"symbol":         stock.Symbol,
		"status":         string(stock.Status),
		"price":          stock.Price,
		"change":         stock.Change,
		"change_percent": stock.ChangePercent,
	}
	if stock.HasTarget() {
		data["target_entry"] = stock.Target()
	}
	if stock.DistancePercent != nil {
		data["distance_percent"] = *stock.DistancePercent
	}

	return Notification{
		Type:    NotificationSignal,
		Title:   title,
		Message: sb.String(),
		Symbol:  stock.Symbol,
		Status:  stock.Status,
		Data:    data,
	}
}

// ErrorNotification builds the notification sent for a failure. Credentials
// echoed in the error text are masked.
func ErrorNotification(err error, source string) Notification {
	msg := "unknown error"
	if err != nil {
		msg = security.MaskSensitive(err.Error())
	}
	return Notification{
		Type:    NotificationError,
		Title:   "Quote refresh failed",
		Message: fmt.Sprintf("Source: %s\nError: %s", source, msg),
		Data: map[string]interface{}{
			"source": source,
			"error":  msg,
		},
	}
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client: &http.Client{
			Timeout: channelTimeout,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      n.Type,
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}
	if n.Symbol != "" {
		payload["symbol"] = n.Symbol
		payload["status"] = n.Status
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "watchdash/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// DefaultTelegramAPI is the Telegram Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	apiBase  string
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramOption configures a TelegramNotifier.
type TelegramOption func(*TelegramNotifier)

// WithTelegramAPI points the notifier at a different Bot API host.
func WithTelegramAPI(base string) TelegramOption {
	return func(t *TelegramNotifier) {
		t.apiBase = strings.TrimRight(base, "/")
	}
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig, opts ...TelegramOption) *TelegramNotifier {
	t := &TelegramNotifier{
		apiBase:  DefaultTelegramAPI,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client: &http.Client{
			Timeout: channelTimeout,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	// HTML parse mode
	text := fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), escapeHTML(n.Message))

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The request URL carries the bot token.
		return fmt.Errorf("sending telegram message: %s", strings.ReplaceAll(err.Error(), t.botToken, security.MaskCredential(t.botToken)))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NoOpNotifier is a notifier that does nothing (for testing or disabled notifications).
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Send does nothing.
func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}

// SendSignal does nothing.
func (n *NoOpNotifier) SendSignal(ctx context.Context, stock models.ClassifiedStock) error {
	return nil
}

// SendError does nothing.
func (n *NoOpNotifier) SendError(ctx context.Context, err error, source string) error {
	return nil
}

var (
	_ Notifier = (*MultiNotifier)(nil)
	_ Notifier = (*NoOpNotifier)(nil)
)
