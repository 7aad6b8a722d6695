package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"strconv"
	"time"

	"github.com/ooblik/drive-backend/internal/settings"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

var (
	errMissingSettings = errors.New("mailer: settings store is required")
	errMissingBaseURL  = errors.New("mailer: api base url is required")
)

// SenderConfig bundles the dependencies of the SMTP sender.
type SenderConfig struct {
	Settings   *settings.Store
	APIBaseURL string
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Sender dispatches transactional mail over the operator-configured SMTP
// transport. Transport configuration is read from the settings store on each
// send so admin changes take effect without a restart.
type Sender struct {
	settings   *settings.Store
	apiBaseURL string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewSender constructs a Sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if cfg.Settings == nil {
		return nil, errMissingSettings
	}
	if cfg.APIBaseURL == "" {
		return nil, errMissingBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		settings:   cfg.Settings,
		apiBaseURL: cfg.APIBaseURL,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// MagicLinkURL builds the consume link embedding the raw token.
func (s *Sender) MagicLinkURL(rawToken string) string {
	return s.apiBaseURL + "/auth/consume?token=" + url.QueryEscape(rawToken)
}

// SendMagicLink mails the one-time access link for a space. The caller treats
// failures as soft: issuance must not depend on a flaky mail transport.
func (s *Sender) SendMagicLink(ctx context.Context, email, rawToken, spaceName string) error {
	cfg, err := s.settings.SMTP(ctx)
	if err != nil {
		return fmt.Errorf("mailer: loading smtp config: %w", err)
	}

	link := s.MagicLinkURL(rawToken)
	subject := fmt.Sprintf("Access to your space %q", spaceName)
	html := fmt.Sprintf(
		`<p>You requested access to your file transfer space <strong>%s</strong>.</p>`+
			`<p><a href="%s">Open my space</a></p>`+
			`<p>Or copy this link into your browser:<br>%s</p>`+
			`<p>This link is valid for 6 hours and can be used only once. `+
			`Your session will last 4 hours after sign-in.</p>`+
			`<p>If you did not request this access, you can ignore this email.</p>`,
		spaceName, link, link,
	)

	if err := s.send(cfg, email, subject, html); err != nil {
		return err
	}
	s.logger.Info("magic link email sent", zap.String("space_name", spaceName))
	return nil
}

// SendTest mails a short test message, using the override configuration when
// provided so admins can try settings before saving them.
func (s *Sender) SendTest(ctx context.Context, email string, override *settings.SMTPConfig) error {
	cfg, err := s.resolveConfig(ctx, override)
	if err != nil {
		return err
	}
	html := `<h2>SMTP configuration test passed</h2>` +
		`<p>If you received this email, the configured transport works.</p>`
	return s.send(cfg, email, "SMTP configuration test", html)
}

// TestConnection dials and authenticates against the transport without
// sending mail.
func (s *Sender) TestConnection(ctx context.Context, override *settings.SMTPConfig) error {
	cfg, err := s.resolveConfig(ctx, override)
	if err != nil {
		return err
	}
	client, err := s.connect(cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

func (s *Sender) resolveConfig(ctx context.Context, override *settings.SMTPConfig) (settings.SMTPConfig, error) {
	if override != nil {
		if err := override.Validate(); err != nil {
			return settings.SMTPConfig{}, err
		}
		return *override, nil
	}
	cfg, err := s.settings.SMTP(ctx)
	if err != nil {
		return settings.SMTPConfig{}, fmt.Errorf("mailer: loading smtp config: %w", err)
	}
	return cfg, nil
}

func (s *Sender) connect(cfg settings.SMTPConfig) (*smtp.Client, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("mailer: dialing %s: %w", addr, err)
	}
	// Fixed deadline over the whole exchange; SMTP sends are short-lived.
	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		conn.Close()
		return nil, err
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mailer: smtp handshake: %w", err)
	}

	if cfg.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				client.Close()
				return nil, fmt.Errorf("mailer: starttls: %w", err)
			}
		}
	}

	if cfg.Username != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("mailer: smtp auth: %w", err)
		}
	}
	return client, nil
}

func (s *Sender) send(cfg settings.SMTPConfig, to, subject, html string) error {
	client, err := s.connect(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	from := cfg.Sender()
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mailer: mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("mailer: rcpt to: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("mailer: data: %w", err)
	}
	if _, err := writer.Write(buildMessage(cfg.FromName, from, to, subject, html)); err != nil {
		writer.Close()
		return fmt.Errorf("mailer: writing message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("mailer: closing message: %w", err)
	}
	return client.Quit()
}

func buildMessage(fromName, from, to, subject, html string) []byte {
	sender := from
	if fromName != "" {
		sender = fmt.Sprintf("%q <%s>", fromName, from)
	}
	msg := "From: " + sender + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=\"UTF-8\"\r\n" +
		"\r\n" +
		html
	return []byte(msg)
}
