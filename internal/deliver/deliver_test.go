package deliver

import (
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-maildir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, path string) []string {
	t.Helper()
	dir := maildir.Dir(path)
	_, err := dir.Unseen()
	require.NoError(t, err)
	msgs, err := dir.Messages()
	require.NoError(t, err)

	var out []string
	for _, msg := range msgs {
		rc, err := msg.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out = append(out, string(data))
	}
	return out
}

func TestDeliverPrependsTraceHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "Maildir")
	m, err := NewMaildir(path, "mailfetch", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	assert.Equal(t, path, m.Path())

	raw := "Subject: hi\r\n\r\nbody\r\n"
	require.NoError(t, m.Deliver([]byte(raw), "pop3://pop.example.com:995", "1143007546.176"))

	got := readAll(t, path)
	require.Len(t, got, 1)
	assert.Equal(t, "X-Fetched-By: mailfetch\r\n"+
		"X-Fetched-From: pop3://pop.example.com:995\r\n"+
		"X-Fetched-UID: 1143007546.176\r\n"+
		"X-Fetched-Time: 2026-03-01T12:00:00Z\r\n"+
		raw, got[0])
}

func TestDeliverKeepsBareNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Maildir")
	m, err := NewMaildir(path, "mailfetch", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	require.NoError(t, m.Deliver([]byte("Subject: a\n\nx\n"), "mbox:/srv/INBOX", "abc"))
	require.NoError(t, m.Deliver([]byte("Subject: b\n\ny\n"), "mbox:/srv/INBOX", "def"))

	got := readAll(t, path)
	require.Len(t, got, 2)
	for _, msg := range got {
		assert.NotContains(t, msg, "\r")
		assert.True(t, strings.HasPrefix(msg, "X-Fetched-By: mailfetch\n"))
	}

	// Reopening an existing maildir is fine.
	_, err = NewMaildir(path, "mailfetch", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, err)
}
