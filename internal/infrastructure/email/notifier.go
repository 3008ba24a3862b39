package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"strings"
	texttemplate "text/template"

	"gopkg.in/gomail.v2"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

// DialFunc opens one SMTP session; the default negotiates STARTTLS.
type DialFunc func(cfg config.EmailConfig) (gomail.SendCloser, error)

// Notifier mails the batch digest to every configured recipient.
type Notifier struct {
	dial   DialFunc
	logger *slog.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier returns an SMTP notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{dial: dialSMTP, logger: logger.With("component", "email")}
}

// WithDialer swaps the SMTP session factory.
func (n *Notifier) WithDialer(dial DialFunc) *Notifier {
	n.dial = dial
	return n
}

// Channel implements ports.Notifier.
func (n *Notifier) Channel() domain.Channel { return domain.ChannelEmail }

// Notify sends one message per recipient, reusing the session until a send
// fails. Failed recipients are reported together; the others still receive
// the digest.
func (n *Notifier) Notify(ctx context.Context, settings config.NotificationConfig, batch domain.Batch) error {
	cfg := settings.Email
	if !cfg.Ready() {
		return domain.ErrChannelDisabled
	}

	subject, text, html, err := Render(batch)
	if err != nil {
		return &domain.NotificationChannelError{Channel: domain.ChannelEmail, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return &domain.NotificationChannelError{Channel: domain.ChannelEmail, Err: err}
	}

	session, err := n.dial(cfg)
	if err != nil {
		return &domain.NotificationChannelError{Channel: domain.ChannelEmail, Err: fmt.Errorf("dial smtp: %w", err)}
	}
	defer func() {
		if session != nil {
			_ = session.Close()
		}
	}()

	var errs []error
	for _, rcpt := range cfg.Recipients {
		if session == nil {
			s, err := n.dial(cfg)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: dial smtp: %w", rcpt, err))
				continue
			}
			session = s
		}

		m := gomail.NewMessage()
		m.SetHeader("From", cfg.From)
		m.SetHeader("To", rcpt)
		m.SetHeader("Subject", subject)
		m.SetBody("text/plain", text)
		m.AddAlternative("text/html", html)

		if err := gomail.Send(session, m); err != nil {
			n.logger.Warn("recipient rejected", "recipient", rcpt, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", rcpt, err))
			// A failed send leaves the SMTP transaction open, so the next
			// recipient gets a fresh connection.
			_ = session.Close()
			session = nil
			continue
		}
		n.logger.Debug("digest mailed", "recipient", rcpt)
	}

	if len(errs) > 0 {
		return &domain.NotificationChannelError{Channel: domain.ChannelEmail, Err: errors.Join(errs...)}
	}
	return nil
}

func dialSMTP(cfg config.EmailConfig) (gomail.SendCloser, error) {
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password)
	return d.Dial()
}

type itemView struct {
	ID         string
	Title      string
	Protocol   string
	Status     string
	TLDR       string
	Level      string
	Score      int
	Breaking   bool
	Activation string
	Effort     string
	Actions    []string
	URL        string
}

type digestView struct {
	Headline  string
	Breakdown string
	Impact    string
	Items     []itemView
}

// Render produces the subject and the plaintext and HTML bodies of a digest.
func Render(batch domain.Batch) (subject, text, html string, err error) {
	view := digestView{Headline: batch.Headline(), Breakdown: batch.Breakdown(), Impact: impactSummary(batch)}
	for _, item := range batch.Items {
		p, a := item.Proposal, item.Assessment
		view.Items = append(view.Items, itemView{
			ID:         p.ID(),
			Title:      p.Title,
			Protocol:   p.Protocol.DisplayName(),
			Status:     string(p.Status),
			TLDR:       a.TLDR,
			Level:      string(a.ImpactLevel),
			Score:      a.Score,
			Breaking:   a.BreakingChanges,
			Activation: a.Activation,
			Effort:     fmt.Sprintf("%s (%s)", a.Effort, a.Effort.Description()),
			Actions:    a.RequiredActions,
			URL:        p.URL,
		})
	}

	subject = fmt.Sprintf("[Proposal Tracker] %s", view.Headline)

	var tb bytes.Buffer
	if err = textDigest.Execute(&tb, view); err != nil {
		return "", "", "", fmt.Errorf("render text digest: %w", err)
	}
	var hb bytes.Buffer
	if err = htmlDigest.Execute(&hb, view); err != nil {
		return "", "", "", fmt.Errorf("render html digest: %w", err)
	}
	return subject, tb.String(), hb.String(), nil
}

func impactSummary(batch domain.Batch) string {
	counts := batch.CountByImpact()
	var parts []string
	for _, level := range domain.ImpactLevels() {
		if n := counts[level]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", level, n))
		}
	}
	return strings.Join(parts, " | ")
}

var textDigest = texttemplate.Must(texttemplate.New("text").Parse(`{{.Headline}}
{{.Breakdown}}
Impact: {{.Impact}}
{{range .Items}}
{{.ID}}: {{.Title}}
{{.Protocol}} | {{.Status}} | Impact: {{.Level}} ({{.Score}}){{if .Breaking}} | BREAKING{{end}}
TL;DR: {{.TLDR}}
Activation: {{.Activation}} | Effort: {{.Effort}}
{{- if .Actions}}
Required actions:
{{- range .Actions}}
  - {{.}}
{{- end}}
{{- end}}
{{if .URL}}{{.URL}}{{end}}
{{end}}`))

var htmlDigest = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h2>{{.Headline}}</h2>
<p>{{.Breakdown}}</p>
<p>Impact: {{.Impact}}</p>
{{range .Items}}
<div style="border-top:1px solid #ddd;padding:8px 0">
  <h3>{{.ID}}: {{.Title}}</h3>
  <p><b>{{.Protocol}}</b> &middot; {{.Status}} &middot; Impact: <b>{{.Level}}</b> ({{.Score}}){{if .Breaking}} &middot; <span style="color:#c00">Breaking</span>{{end}}</p>
  <p><b>TL;DR:</b> {{.TLDR}}</p>
  <p>Activation: {{.Activation}} &middot; Effort: {{.Effort}}</p>
  {{if .Actions}}<ul>{{range .Actions}}<li>{{.}}</li>{{end}}</ul>{{end}}
  {{if .URL}}<p><a href="{{.URL}}">View Proposal</a></p>{{end}}
</div>
{{end}}
</body></html>`))
