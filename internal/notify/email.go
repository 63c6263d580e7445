package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

// smtpPreset describes one mail provider's submission endpoint.
type smtpPreset struct {
	host string
	port int
	ssl  bool
}

// Providers selectable via a contact's EmailType. Contacts authenticate with
// their own mailbox and authorization code and receive the digest at the same
// address.
var smtpPresets = map[string]smtpPreset{
	"qq":      {host: "smtp.qq.com", port: 465, ssl: true},
	"163":     {host: "smtp.163.com", port: 465, ssl: true},
	"gmail":   {host: "smtp.gmail.com", port: 587, ssl: false},
	"outlook": {host: "smtp.office365.com", port: 587, ssl: false},
}

// Email sends an HTML digest of new records over SMTP.
type Email struct {
	logger *zap.Logger
	send   func(ctx context.Context, contact monitor.Contact, preset smtpPreset, msg *mail.Msg) error
}

// NewEmail builds the channel.
func NewEmail(logger *zap.Logger) *Email {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Email{logger: logger}
	e.send = e.dialAndSend
	return e
}

// Name implements monitor.Channel.
func (e *Email) Name() string { return "email" }

// Send delivers the digest. Contacts without mailbox credentials are skipped.
func (e *Email) Send(ctx context.Context, contact monitor.Contact, records []monitor.StoredRecord) error {
	if contact.Email == "" || contact.EmailPassword == "" {
		return ErrNotConfigured
	}
	if len(records) == 0 {
		return nil
	}
	preset, ok := smtpPresets[strings.ToLower(contact.EmailType)]
	if !ok {
		return fmt.Errorf("unknown email provider %q", contact.EmailType)
	}

	msg := mail.NewMsg()
	if err := msg.From(contact.Email); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(contact.Email); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(fmt.Sprintf("招标监控：发现 %d 条新信息", len(records)))
	msg.SetBodyString(mail.TypeTextPlain, plainBody(records))
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody(records))

	if err := e.send(ctx, contact, preset, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	e.logger.Info("email sent",
		zap.String("contact", contact.Name),
		zap.Int("records", len(records)),
	)
	return nil
}

func (e *Email) dialAndSend(ctx context.Context, contact monitor.Contact, preset smtpPreset, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(preset.port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(contact.Email),
		mail.WithPassword(contact.EmailPassword),
	}
	if preset.ssl {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	client, err := mail.NewClient(preset.host, opts...)
	if err != nil {
		return fmt.Errorf("build smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func plainBody(records []monitor.StoredRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "监控到 %d 条新的招标信息：\n\n", len(records))
	for i, r := range records {
		fmt.Fprintf(&b, "%d. %s\n   来源：%s  日期：%s\n   %s\n\n",
			i+1, r.Title, r.Source, r.PublishDate, r.URL)
	}
	return b.String()
}

func htmlBody(records []monitor.StoredRecord) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h3>监控到 %d 条新的招标信息</h3><table border=\"1\" cellpadding=\"6\" cellspacing=\"0\">", len(records))
	b.WriteString("<tr><th>标题</th><th>来源</th><th>日期</th></tr>")
	for _, r := range records {
		fmt.Fprintf(&b, "<tr><td><a href=%q>%s</a></td><td>%s</td><td>%s</td></tr>",
			r.URL, html.EscapeString(r.Title), html.EscapeString(r.Source), html.EscapeString(r.PublishDate))
	}
	b.WriteString("</table></body></html>")
	return b.String()
}
