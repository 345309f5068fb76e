package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log_level: debug
metrics_addr: ":9110"
smtp:
  host: smtp.example.com
  username: relay
  password: hunter2
accounts:
  - name: work
    protocol: POP3
    host: pop.example.com
    username: alice
    password: secret
    use_tls: true
    deliver_to: /var/mail/alice
  - name: archive
    protocol: imap
    host: imap.example.com
    port: 1143
    username: alice
    auth: plain
    imap_folder: Archive
    keep: false
    check_interval_seconds: 300
    timeout_seconds: 5
    deliver_to: /var/mail/alice
  - protocol: mbox
    path: /srv/export/INBOX
    forward_to: archive@example.net
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9110", cfg.MetricsAddr)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
	require.Len(t, cfg.Accounts, 3)

	work := cfg.Accounts[0]
	assert.Equal(t, "pop3", work.Protocol)
	assert.Equal(t, 995, work.Port)
	assert.True(t, work.KeepMessages())
	assert.Equal(t, 60*time.Second, work.CheckInterval())
	assert.Equal(t, 30*time.Second, work.Timeout())
	assert.True(t, work.Network())
	assert.Equal(t, "work", work.Label())

	archive := cfg.Accounts[1]
	assert.Equal(t, 1143, archive.Port)
	assert.Equal(t, "plain", archive.Auth)
	assert.False(t, archive.KeepMessages())
	assert.Equal(t, "Archive", archive.GetIMAPFolder())
	assert.Equal(t, 5*time.Minute, archive.CheckInterval())
	assert.Equal(t, 5*time.Second, archive.Timeout())

	local := cfg.Accounts[2]
	assert.False(t, local.Network())
	assert.Equal(t, "/srv/export/INBOX", local.Label())
	assert.Equal(t, 0, local.Port)
	assert.Equal(t, "archive@example.net", local.ForwardTo)
	assert.Empty(t, local.DeliverTo)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestDefaultPorts(t *testing.T) {
	assert.Equal(t, 110, defaultPort("pop3", false))
	assert.Equal(t, 995, defaultPort("pop3", true))
	assert.Equal(t, 143, defaultPort("imap", false))
	assert.Equal(t, 993, defaultPort("imap", true))
	assert.Equal(t, 0, defaultPort("maildir", false))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  string
	}{
		{
			name: "no accounts",
			yaml: "log_level: info\n",
			err:  "at least one account is required",
		},
		{
			name: "bad log level",
			yaml: "log_level: loud\naccounts: [{protocol: maildir, path: /m, deliver_to: /d}]\n",
			err:  "log_level must be",
		},
		{
			name: "unknown protocol",
			yaml: "accounts: [{name: x, protocol: smtp, deliver_to: /d}]\n",
			err:  "account x: protocol must be pop3, imap, mbox or maildir",
		},
		{
			name: "missing host",
			yaml: "accounts: [{protocol: pop3, username: u, deliver_to: /d}]\n",
			err:  "account #0: host is required",
		},
		{
			name: "missing username",
			yaml: "accounts: [{protocol: imap, host: h, deliver_to: /d}]\n",
			err:  "username is required",
		},
		{
			name: "login on pop3",
			yaml: "accounts: [{protocol: pop3, host: h, username: u, auth: login, deliver_to: /d}]\n",
			err:  `auth "login" is not supported for pop3`,
		},
		{
			name: "apop",
			yaml: "accounts: [{protocol: pop3, host: h, username: u, auth: apop, deliver_to: /d}]\n",
			err:  `auth "apop" is not supported`,
		},
		{
			name: "missing path",
			yaml: "accounts: [{protocol: maildir, deliver_to: /d}]\n",
			err:  "path is required",
		},
		{
			name: "mbox must keep",
			yaml: "accounts: [{protocol: mbox, path: /m, keep: false, deliver_to: /d}]\n",
			err:  "mbox accounts are read-only",
		},
		{
			name: "missing destination",
			yaml: "accounts: [{protocol: maildir, path: /m}]\n",
			err:  "deliver_to or forward_to is required",
		},
		{
			name: "forward without relay",
			yaml: "accounts: [{protocol: maildir, path: /m, forward_to: a@example.net}]\n",
			err:  "forward_to needs smtp.host",
		},
		{
			name: "duplicate names",
			yaml: "accounts: [{name: a, protocol: maildir, path: /m, deliver_to: /d}, {name: a, protocol: maildir, path: /n, deliver_to: /d}]\n",
			err:  "account a: duplicate name",
		},
		{
			name: "not yaml",
			yaml: "accounts: [",
			err:  "parse config",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}
