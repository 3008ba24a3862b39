package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/logging"
	"ProposalTracker/internal/metrics"
	"ProposalTracker/internal/ports"
)

type fakeNotifier struct {
	channel domain.Channel
	err     error
	panics  bool
	calls   int
	seen    config.NotificationConfig
}

func (f *fakeNotifier) Channel() domain.Channel { return f.channel }

func (f *fakeNotifier) Notify(_ context.Context, settings config.NotificationConfig, _ domain.Batch) error {
	f.calls++
	f.seen = settings
	if f.panics {
		panic("smtp exploded")
	}
	return f.err
}

func sampleBatch() domain.Batch {
	return domain.NewBatch([]domain.Assessed{
		{Proposal: domain.Proposal{Protocol: domain.ProtocolTron, Number: 542, Title: "gas fee reduction"}},
	}, time.Now())
}

func TestDispatchIsolatesChannels(t *testing.T) {
	t.Parallel()

	desktop := &fakeNotifier{channel: domain.ChannelDesktop, err: domain.ErrChannelUnsupported}
	email := &fakeNotifier{channel: domain.ChannelEmail, panics: true}
	slack := &fakeNotifier{channel: domain.ChannelSlack}

	d := NewDispatcher(config.StaticNotifications{}, []ports.Notifier{desktop, email, slack}, metrics.New(), logging.Discard())
	result := d.Dispatch(context.Background(), sampleBatch())

	assert.Equal(t, domain.DispatchResult{
		domain.ChannelDesktop: false,
		domain.ChannelEmail:   false,
		domain.ChannelSlack:   true,
	}, result)
	assert.Equal(t, 1, slack.calls)
}

func TestDispatchReportsEveryChannelEvenWhenUnregistered(t *testing.T) {
	t.Parallel()

	slack := &fakeNotifier{channel: domain.ChannelSlack, err: errors.New("webhook 500")}
	d := NewDispatcher(config.StaticNotifications{}, []ports.Notifier{slack}, nil, logging.Discard())

	result := d.Dispatch(context.Background(), sampleBatch())

	require.Len(t, result, 3)
	assert.False(t, result[domain.ChannelSlack])
	assert.False(t, result[domain.ChannelDesktop])
}

func TestDispatchEmptyBatchSendsNothing(t *testing.T) {
	t.Parallel()

	slack := &fakeNotifier{channel: domain.ChannelSlack}
	d := NewDispatcher(config.StaticNotifications{}, []ports.Notifier{slack}, nil, logging.Discard())

	result := d.Dispatch(context.Background(), domain.Batch{})

	assert.Len(t, result, 3)
	assert.Zero(t, slack.calls)
}

func TestDispatchPassesCurrentSettings(t *testing.T) {
	t.Parallel()

	settings := config.StaticNotifications{Slack: config.SlackConfig{Enabled: true, WebhookURL: "https://hooks.test"}}
	slack := &fakeNotifier{channel: domain.ChannelSlack}
	d := NewDispatcher(settings, []ports.Notifier{slack}, nil, logging.Discard())

	d.Dispatch(context.Background(), sampleBatch())

	assert.Equal(t, "https://hooks.test", slack.seen.Slack.WebhookURL)
}
