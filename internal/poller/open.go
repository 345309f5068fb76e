package poller

import (
	"fmt"
	"net"
	"strconv"

	"github.com/tracyhatemice/mailfetch/internal/transport"
)

func (p *Poller) openMailbox() (transport.Mailbox, error) {
	acct := p.account
	switch acct.Protocol {
	case "pop3", "imap":
		opts := transport.Options{
			TLS:           acct.UseTLS,
			TLSSkipVerify: acct.TLSSkipVerify,
			Timeout:       acct.Timeout(),
			Folder:        acct.GetIMAPFolder(),
		}
		var t transport.Transport
		if acct.Protocol == "pop3" {
			t = transport.NewPOP3(opts, p.logger)
		} else {
			t = transport.NewIMAP(opts, p.logger)
		}
		if err := t.Connect(acct.Host, acct.Port); err != nil {
			return nil, err
		}
		if err := t.Authenticate(acct.Username, acct.Password, mechanism(acct.Auth)); err != nil {
			t.Disconnect()
			return nil, err
		}
		return t, nil
	case "mbox":
		box, err := transport.OpenMbox(acct.Path, p.logger)
		if err != nil {
			return nil, err
		}
		return box, nil
	case "maildir":
		box, err := transport.OpenMaildir(acct.Path, p.logger)
		if err != nil {
			return nil, err
		}
		return box, nil
	}
	return nil, fmt.Errorf("unsupported protocol: %s", acct.Protocol)
}

func mechanism(auth string) transport.Mechanism {
	switch auth {
	case "user":
		return transport.AuthUser
	case "login":
		return transport.AuthLogin
	case "plain":
		return transport.AuthPlain
	}
	return transport.AuthDefault
}

// source names the account's mailbox in trace headers and logs.
func (p *Poller) source() string {
	acct := p.account
	if acct.Network() {
		src := acct.Protocol + "://" + net.JoinHostPort(acct.Host, strconv.Itoa(acct.Port))
		if acct.Protocol == "imap" {
			src += "/" + acct.GetIMAPFolder()
		}
		return src
	}
	return acct.Protocol + ":" + acct.Path
}
