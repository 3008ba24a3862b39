package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/metrics"
	"ProposalTracker/internal/ports"
)

// Dispatcher fans one batch out to every registered channel in order.
type Dispatcher struct {
	settings  ports.NotificationSettings
	notifiers []ports.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

var _ ports.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher wires the settings source and channel notifiers. m may be nil.
func NewDispatcher(settings ports.NotificationSettings, notifiers []ports.Notifier, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		settings:  settings,
		notifiers: notifiers,
		metrics:   m,
		logger:    logger.With("component", "dispatcher"),
	}
}

// Dispatch sends batch on each channel sequentially. The result always
// carries every channel; a failing or panicking channel never blocks the next.
func (d *Dispatcher) Dispatch(ctx context.Context, batch domain.Batch) domain.DispatchResult {
	result := domain.NewDispatchResult()
	if len(batch.Items) == 0 {
		return result
	}

	settings, err := d.settings.Notifications()
	if err != nil {
		d.logger.Warn("notification settings unreadable, using last known", "error", err)
	}

	for _, n := range d.notifiers {
		ok := d.send(ctx, n, settings, batch)
		result[n.Channel()] = ok
		d.metrics.ChannelSent(n.Channel(), ok)
	}

	return result
}

func (d *Dispatcher) send(ctx context.Context, n ports.Notifier, settings config.NotificationConfig, batch domain.Batch) (ok bool) {
	channel := n.Channel()
	defer func() {
		if r := recover(); r != nil {
			err := &domain.NotificationChannelError{Channel: channel, Err: fmt.Errorf("panic: %v", r)}
			d.logger.Error("notifier panicked", "channel", channel, "error", err)
			ok = false
		}
	}()

	err := n.Notify(ctx, settings, batch)
	switch {
	case err == nil:
		d.logger.Info("notification sent", "channel", channel, "items", len(batch.Items))
		return true
	case errors.Is(err, domain.ErrChannelDisabled):
		d.logger.Debug("channel disabled", "channel", channel)
	case errors.Is(err, domain.ErrChannelUnsupported):
		d.logger.Debug("channel unsupported on this host", "channel", channel)
	default:
		d.logger.Error("notification failed", "channel", channel, "error", err)
	}
	return false
}
