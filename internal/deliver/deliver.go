// Package deliver hands fetched messages to a local maildir or an SMTP relay.
package deliver

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-maildir"
)

// Maildir delivers raw messages into one maildir, prepending trace headers
// that record where each message was fetched from.
type Maildir struct {
	dir    maildir.Dir
	agent  string
	logger *slog.Logger
	now    func() time.Time
}

// NewMaildir opens the maildir at path, creating it when missing.
func NewMaildir(path, agent string, logger *slog.Logger) (*Maildir, error) {
	dir := maildir.Dir(path)
	if _, err := os.Stat(filepath.Join(path, "cur")); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("create maildir %s: %w", path, err)
		}
		if err := dir.Init(); err != nil {
			return nil, fmt.Errorf("init maildir %s: %w", path, err)
		}
	}
	return &Maildir{
		dir:    dir,
		agent:  agent,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Path returns the maildir directory.
func (m *Maildir) Path() string {
	return string(m.dir)
}

// Deliver stores raw as a new message. source names the mailbox it came
// from and uid its unique identifier there.
func (m *Maildir) Deliver(raw []byte, source, uid string) error {
	delivery, err := maildir.NewDelivery(string(m.dir))
	if err != nil {
		return fmt.Errorf("maildir delivery %s: %w", m.dir, err)
	}

	if _, err := delivery.Write(traceHeaders(raw, m.agent, source, uid, m.now())); err != nil {
		_ = delivery.Abort()
		return fmt.Errorf("maildir write: %w", err)
	}
	if _, err := delivery.Write(raw); err != nil {
		_ = delivery.Abort()
		return fmt.Errorf("maildir write: %w", err)
	}
	if err := delivery.Close(); err != nil {
		return fmt.Errorf("maildir close: %w", err)
	}

	m.logger.Debug("delivered", "maildir", string(m.dir), "source", source, "uid", uid, "bytes", len(raw))
	return nil
}

// Sink stores fetched messages.
type Sink interface {
	Deliver(raw []byte, source, uid string) error
}

// traceHeaders records where raw was fetched from. It uses the line
// ending of raw so the header block stays consistent.
func traceHeaders(raw []byte, agent, source, uid string, now time.Time) []byte {
	eol := "\n"
	if i := bytes.IndexByte(raw, '\n'); i > 0 && raw[i-1] == '\r' {
		eol = "\r\n"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "X-Fetched-By: %s%s", agent, eol)
	fmt.Fprintf(&b, "X-Fetched-From: %s%s", source, eol)
	fmt.Fprintf(&b, "X-Fetched-UID: %s%s", uid, eol)
	fmt.Fprintf(&b, "X-Fetched-Time: %s%s", now.UTC().Format(time.RFC3339), eol)
	return b.Bytes()
}
