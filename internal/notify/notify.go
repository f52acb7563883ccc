// Package notify turns confirmed alerts into outbound notifications. Failures
// here are logged and counted, never propagated back into the frame loop.
package notify

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"vigil/internal/motion"
	"vigil/internal/telegram"
)

// AttachmentKind distinguishes the media attached to a notification.
type AttachmentKind string

const (
	AttachmentPhoto AttachmentKind = "photo"
	AttachmentClip  AttachmentKind = "clip"
)

// Attachment is optional media sent with a notification. Photos carry their
// bytes; clips are referenced by file path.
type Attachment struct {
	Kind AttachmentKind
	Path string
	Data []byte
}

// Notifier delivers a notification to one channel.
type Notifier interface {
	Send(ctx context.Context, text string, att *Attachment) error
}

// TelegramNotifier sends notifications through a Telegram bot.
type TelegramNotifier struct {
	bot *telegram.Bot
}

// NewTelegramNotifier wraps a bot client.
func NewTelegramNotifier(bot *telegram.Bot) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

// Send routes the notification to the matching Bot API call.
func (n *TelegramNotifier) Send(ctx context.Context, text string, att *Attachment) error {
	if att == nil {
		return n.bot.SendMessage(ctx, text)
	}
	switch att.Kind {
	case AttachmentPhoto:
		data := att.Data
		if data == nil && att.Path != "" {
			var err error
			data, err = os.ReadFile(att.Path)
			if err != nil {
				return fmt.Errorf("read photo: %w", err)
			}
		}
		return n.bot.SendPhoto(ctx, data, text)
	case AttachmentClip:
		return n.bot.SendVideo(ctx, att.Path, text)
	default:
		return fmt.Errorf("unknown attachment kind %q", att.Kind)
	}
}

// Dispatcher fans a confirmed alert out to every configured notifier. Send
// errors are logged per notifier; the dispatcher itself never fails.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	log       *zap.SugaredLogger

	onFailure func()
}

// NewDispatcher creates a dispatcher over the given notifiers. The timeout
// bounds each individual delivery.
func NewDispatcher(notifiers []Notifier, timeout time.Duration, log *zap.SugaredLogger) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{notifiers: notifiers, timeout: timeout, log: log}
}

// OnFailure registers a hook called once per failed delivery. Used to bump
// the dispatch failure counter.
func (d *Dispatcher) OnFailure(fn func()) {
	d.onFailure = fn
}

// AlertText formats the standard alert message for a confirmed detection.
func AlertText(alert *motion.Alert) string {
	return fmt.Sprintf("Movement detected on %s at %s (level %.0f)",
		alert.Source, alert.Timestamp.Format("2 Jan 2006 15:04:05"), alert.Level)
}

// DispatchAlert sends the alert text with its snapshot to every notifier.
func (d *Dispatcher) DispatchAlert(ctx context.Context, alert *motion.Alert, snapshot []byte) {
	var att *Attachment
	if len(snapshot) > 0 {
		att = &Attachment{Kind: AttachmentPhoto, Data: snapshot}
	}
	d.dispatch(ctx, alert, AlertText(alert), att)
}

// DispatchClip sends the finished clip as a follow-up to an earlier alert.
func (d *Dispatcher) DispatchClip(ctx context.Context, alert *motion.Alert, clipPath string) {
	att := &Attachment{Kind: AttachmentClip, Path: clipPath}
	text := fmt.Sprintf("Clip for movement on %s at %s",
		alert.Source, alert.Timestamp.Format("2 Jan 2006 15:04:05"))
	d.dispatch(ctx, alert, text, att)
}

func (d *Dispatcher) dispatch(ctx context.Context, alert *motion.Alert, text string, att *Attachment) {
	for _, n := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Send(sendCtx, text, att)
		cancel()
		if err != nil {
			d.log.Errorw("notification failed",
				"alert", alert.ID, "source", alert.Source, "error", err)
			if d.onFailure != nil {
				d.onFailure()
			}
		}
	}
}
