package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	goslack "github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/infrastructure/webclient"
	"ProposalTracker/internal/ports"
)

const (
	// TextBudget caps the flat text of one message.
	TextBudget = 1200

	maxReasons = 2
	maxActions = 3
)

// Notifier posts one Block Kit message per proposal to an incoming webhook.
type Notifier struct {
	client     *http.Client
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier builds a webhook notifier with a bounded HTTP timeout.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		client:     webclient.NewDefault(10 * time.Second),
		retryDelay: time.Second,
		logger:     logger.With("component", "slack"),
	}
}

// Channel implements ports.Notifier.
func (n *Notifier) Channel() domain.Channel { return domain.ChannelSlack }

// Notify posts the batch in ascending (protocol, number) order. A failed
// message is logged and the rest are still sent; the error reports every failure.
func (n *Notifier) Notify(ctx context.Context, settings config.NotificationConfig, batch domain.Batch) error {
	cfg := settings.Slack
	if !cfg.Ready() {
		return domain.ErrChannelDisabled
	}

	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)

	var errs []error
	for _, item := range batch.Items {
		if err := limiter.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.Proposal.ID(), err))
			break
		}

		msg := BuildMessage(item)
		if err := n.post(ctx, cfg, msg); err != nil {
			n.logger.Warn("slack message failed", "proposal", item.Proposal.ID(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", item.Proposal.ID(), err))
		}
	}

	if len(errs) > 0 {
		return &domain.NotificationChannelError{Channel: domain.ChannelSlack, Err: errors.Join(errs...)}
	}
	return nil
}

func (n *Notifier) post(ctx context.Context, cfg config.SlackConfig, msg *goslack.WebhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	res, err := webclient.DoWithRetry(ctx, cfg.MaxRetries+1, n.retryDelay, func() (webclient.Result, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return webclient.Result{}, fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return webclient.Result{}, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return webclient.Result{
			Status:     resp.StatusCode,
			Body:       payload,
			RetryAfter: webclient.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}, nil
	})
	if err != nil {
		return err
	}
	if res.Status != http.StatusOK {
		return fmt.Errorf("slack error %d: %s", res.Status, strings.TrimSpace(string(res.Body)))
	}
	return nil
}

// content is the trimmable text of one message.
type content struct {
	header   string
	context  string
	tldr     string
	reasons  []string
	fields   [4]string
	actions  []string
	footer   string
	url      string
	fallback string
}

// BuildMessage renders one assessed proposal as a webhook message within TextBudget.
func BuildMessage(item domain.Assessed) *goslack.WebhookMessage {
	c := newContent(item)
	fitBudget(&c)
	return &goslack.WebhookMessage{
		Text:   c.fallback,
		Blocks: &goslack.Blocks{BlockSet: c.blocks()},
	}
}

func newContent(item domain.Assessed) content {
	p, a := item.Proposal, item.Assessment

	reasons := a.ImpactReasons
	if len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}
	actions := a.RequiredActions
	if len(actions) > maxActions {
		actions = actions[:maxActions]
	}

	firstReason := "No notable impact detected"
	if len(a.ImpactReasons) > 0 {
		firstReason = a.ImpactReasons[0]
	}
	breaking := ""
	if a.BreakingChanges {
		breaking = " • :warning: Breaking"
	}

	header := fmt.Sprintf("%s %s: %s", levelIcon(a.ImpactLevel), p.ID(), p.Title)
	return content{
		header: header,
		context: fmt.Sprintf("%s • %s • Impact: *%s* (%d) • Confidence: %s%s",
			p.Protocol.DisplayName(), p.Status, a.ImpactLevel, a.Score, a.Confidence, breaking),
		tldr:    a.TLDR,
		reasons: append([]string(nil), reasons...),
		fields: [4]string{
			"*Impact*\n" + firstReason,
			"*Activation*\n" + a.Activation,
			"*User effect*\n" + a.UserEffect,
			fmt.Sprintf("*Effort*\n%s (%s)", a.Effort, a.Effort.Description()),
		},
		actions:  append([]string(nil), actions...),
		footer:   fmt.Sprintf("Checked %s via %s", a.CheckedAt.UTC().Format("2006-01-02 15:04 UTC"), a.Strategy),
		url:      p.URL,
		fallback: header,
	}
}

func (c content) flatLen() int {
	n := runes(c.header) + runes(c.context) + runes(c.tldr) + runes(c.footer)
	for _, r := range c.reasons {
		n += runes(r)
	}
	for _, f := range c.fields {
		n += runes(f)
	}
	for _, a := range c.actions {
		n += runes(a)
	}
	return n
}

// fitBudget drops optional lines first, then shortens the free text.
func fitBudget(c *content) {
	for c.flatLen() > TextBudget && len(c.actions) > 1 {
		c.actions = c.actions[:len(c.actions)-1]
	}
	for c.flatLen() > TextBudget && len(c.reasons) > 0 {
		c.reasons = c.reasons[:len(c.reasons)-1]
	}
	if over := c.flatLen() - TextBudget; over > 0 {
		c.tldr = clip(c.tldr, runes(c.tldr)-over)
	}
	if over := c.flatLen() - TextBudget; over > 0 {
		for i := range c.fields {
			c.fields[i] = clip(c.fields[i], 160)
		}
		c.header = clip(c.header, 150)
		for i := range c.actions {
			c.actions[i] = clip(c.actions[i], 200)
		}
	}
	if over := c.flatLen() - TextBudget; over > 0 {
		c.tldr = clip(c.tldr, runes(c.tldr)-over)
	}
	c.fallback = c.header
}

func (c content) blocks() []goslack.Block {
	plain := func(s string) *goslack.TextBlockObject {
		return goslack.NewTextBlockObject(goslack.PlainTextType, s, true, false)
	}
	mrkdwn := func(s string) *goslack.TextBlockObject {
		return goslack.NewTextBlockObject(goslack.MarkdownType, s, false, false)
	}

	blocks := []goslack.Block{
		goslack.NewHeaderBlock(plain(clip(c.header, 150))),
		goslack.NewContextBlock("", mrkdwn(c.context)),
	}
	if c.tldr != "" {
		blocks = append(blocks, goslack.NewSectionBlock(mrkdwn("*TL;DR:* "+c.tldr), nil, nil))
	}
	if len(c.reasons) > 0 {
		lines := make([]string, 0, len(c.reasons))
		for _, r := range c.reasons {
			lines = append(lines, "• "+r)
		}
		blocks = append(blocks, goslack.NewSectionBlock(mrkdwn("*Why it matters*\n"+strings.Join(lines, "\n")), nil, nil))
	}

	fields := make([]*goslack.TextBlockObject, 0, len(c.fields))
	for _, f := range c.fields {
		fields = append(fields, mrkdwn(f))
	}
	blocks = append(blocks, goslack.NewSectionBlock(nil, fields, nil))

	if len(c.actions) > 0 {
		lines := make([]string, 0, len(c.actions))
		for _, a := range c.actions {
			lines = append(lines, "• "+a)
		}
		blocks = append(blocks, goslack.NewSectionBlock(mrkdwn("*Do now*\n"+strings.Join(lines, "\n")), nil, nil))
	}
	if c.url != "" {
		button := goslack.NewButtonBlockElement("view_proposal", c.url, plain("View Proposal"))
		button.URL = c.url
		blocks = append(blocks, goslack.NewActionBlock("", button))
	}
	blocks = append(blocks,
		goslack.NewDividerBlock(),
		goslack.NewContextBlock("", mrkdwn(c.footer)),
	)
	return blocks
}

func levelIcon(level domain.ImpactLevel) string {
	switch level {
	case domain.ImpactCritical:
		return "🔴"
	case domain.ImpactHigh:
		return "🟠"
	case domain.ImpactMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

func runes(s string) int { return utf8.RuneCountInString(s) }

func clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
