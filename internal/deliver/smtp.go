package deliver

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPOptions configures the relay messages are forwarded through.
type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	// UseTLS dials with implicit TLS; otherwise STARTTLS is used when the
	// server offers it.
	UseTLS bool
}

// SMTP forwards fetched messages to one address, keeping the original
// message intact apart from the prepended trace headers.
type SMTP struct {
	opts      SMTPOptions
	tlsConfig *tls.Config
	to        string
	agent     string
	logger    *slog.Logger
	now       func() time.Time
}

// NewSMTP creates a sink forwarding to the address to.
func NewSMTP(opts SMTPOptions, to, agent string, logger *slog.Logger) *SMTP {
	return &SMTP{
		opts:      opts,
		tlsConfig: &tls.Config{ServerName: opts.Host},
		to:        to,
		agent:     agent,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *SMTP) dial() (*smtp.Client, error) {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))

	if s.opts.UseTLS {
		c, err := smtp.DialTLS(addr, s.tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("smtp tls dial %s: %w", addr, err)
		}
		return c, nil
	}

	c, err := smtp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return c, nil
	}

	// The client cannot upgrade a session that already said EHLO, so
	// reconnect and negotiate STARTTLS from the start.
	if err := c.Quit(); err != nil {
		c.Close()
	}
	c, err = smtp.DialStartTLS(addr, s.tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("smtp starttls %s: %w", addr, err)
	}
	return c, nil
}

// Deliver forwards raw. The envelope sender is the message's From
// address, falling back to the relay username.
func (s *SMTP) Deliver(raw []byte, source, uid string) error {
	from := s.opts.Username
	if reader, err := mail.CreateReader(bytes.NewReader(raw)); err == nil {
		if addrs, err := reader.Header.AddressList("From"); err == nil && len(addrs) > 0 {
			from = addrs[0].Address
		}
		reader.Close()
	}

	c, err := s.dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if s.opts.Username != "" && s.opts.Password != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.opts.Username, s.opts.Password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(s.to, nil); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(traceHeaders(raw, s.agent, source, uid, s.now())); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	if err := c.Quit(); err != nil {
		s.logger.Warn("smtp quit failed", "error", err)
	}
	s.logger.Debug("forwarded", "to", s.to, "source", source, "uid", uid, "from", from)
	return nil
}

// Fanout delivers to every sink in order and stops at the first failure.
type Fanout []Sink

func (f Fanout) Deliver(raw []byte, source, uid string) error {
	for _, sink := range f {
		if err := sink.Deliver(raw, source, uid); err != nil {
			return err
		}
	}
	return nil
}
