package transport

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/emersion/go-sasl"
	pop3client "github.com/knadh/go-pop3"
)

// POP3 is a Transport speaking RFC 1939.
type POP3 struct {
	opts   Options
	logger *slog.Logger

	addr   string
	dialer *deadlineDialer
	conn   *pop3client.Conn
	state  State

	// count is the STAT message count taken at authentication.
	count int
}

// NewPOP3 creates a disconnected POP3 transport.
func NewPOP3(opts Options, logger *slog.Logger) *POP3 {
	return &POP3{
		opts:   opts,
		logger: logger,
	}
}

func (p *POP3) State() State {
	return p.state
}

func (p *POP3) Connect(host string, port int) error {
	if p.state != Disconnected {
		return &StateError{Op: "connect", State: p.state}
	}
	p.addr = net.JoinHostPort(host, strconv.Itoa(port))
	p.dialer = newDeadlineDialer(p.opts.timeout())

	client := pop3client.New(pop3client.Opt{
		Host:          host,
		Port:          port,
		DialTimeout:   p.opts.timeout(),
		Dialer:        p.dialer,
		TLSEnabled:    p.opts.TLS,
		TLSSkipVerify: p.opts.TLSSkipVerify,
	})
	conn, err := client.NewConn()
	if err != nil {
		p.abort()
		return &ConnectionError{Op: "connect", Addr: p.addr, Err: err}
	}
	p.conn = conn
	p.state = Connected
	p.logger.Debug("pop3 connected", "addr", p.addr)
	return nil
}

func (p *POP3) Authenticate(user, secret string, mech Mechanism) error {
	if p.state != Connected {
		return &StateError{Op: "authenticate", State: p.state}
	}

	var err error
	switch mech {
	case AuthDefault, AuthUser:
		mech = AuthUser
		if err = p.conn.User(user); err == nil {
			err = p.conn.Pass(secret)
		}
	case AuthPlain:
		err = p.authPlain(user, secret)
	default:
		return &AuthenticationError{User: user, Mechanism: mech, Reason: "mechanism not supported"}
	}
	if err != nil {
		if isConnError(err) {
			return p.connError("authenticate", err)
		}
		return &AuthenticationError{User: user, Mechanism: mech, Reason: err.Error()}
	}

	count, _, err := p.conn.Stat()
	if err != nil {
		return p.commandError("stat", err)
	}
	p.count = count
	p.state = Authenticated
	p.logger.Debug("pop3 authenticated", "addr", p.addr, "user", user, "messages", count)
	return nil
}

func (p *POP3) authPlain(user, secret string) error {
	_, ir, err := sasl.NewPlainClient("", user, secret).Start()
	if err != nil {
		return err
	}
	_, err = p.conn.Cmd("AUTH", false, "PLAIN", base64.StdEncoding.EncodeToString(ir))
	return err
}

func (p *POP3) Status() (int, int64, error) {
	if err := p.require("status"); err != nil {
		return 0, 0, err
	}
	count, size, err := p.conn.Stat()
	if err != nil {
		return 0, 0, p.commandError("stat", err)
	}
	return count, int64(size), nil
}

func (p *POP3) List() ([]MessageInfo, error) {
	if err := p.require("list"); err != nil {
		return nil, err
	}
	ids, err := p.conn.List(0)
	if err != nil {
		return nil, p.commandError("list", err)
	}
	out := make([]MessageInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, MessageInfo{Num: id.ID, Size: int64(id.Size)})
	}
	return out, nil
}

func (p *POP3) ListMessage(num int) (int64, error) {
	if err := p.requireNum("list", num); err != nil {
		return 0, err
	}
	ids, err := p.conn.List(num)
	if err != nil {
		return 0, p.commandError("list", err)
	}
	if len(ids) == 0 {
		return 0, &ServerError{Op: "list", Reply: "empty reply"}
	}
	return int64(ids[0].Size), nil
}

func (p *POP3) FetchByMessageNr(num int) (*Set, error) {
	if err := p.requireNum("retr", num); err != nil {
		return nil, err
	}
	return newSet([]int{num}, p.retr, nil), nil
}

func (p *POP3) FetchFromOffset(offset, count int) (*Set, error) {
	if err := p.require("retr"); err != nil {
		return nil, err
	}
	list, err := p.List()
	if err != nil {
		return nil, err
	}
	nums, err := subset(numbers(list), offset, count)
	if err != nil {
		return nil, err
	}
	return newSet(nums, p.retr, nil), nil
}

func (p *POP3) FetchAll(deleteFromServer bool) (*Set, error) {
	if err := p.require("retr"); err != nil {
		return nil, err
	}
	list, err := p.List()
	if err != nil {
		return nil, err
	}
	var remove func(int) error
	if deleteFromServer {
		remove = p.Delete
	}
	return newSet(numbers(list), p.retr, remove), nil
}

func (p *POP3) retr(num int) ([]byte, error) {
	if err := p.requireNum("retr", num); err != nil {
		return nil, err
	}
	buf, err := p.conn.RetrRaw(num)
	if err != nil {
		return nil, p.commandError("retr", err)
	}
	return buf.Bytes(), nil
}

func (p *POP3) Top(num, lines int) ([]byte, error) {
	if err := p.requireNum("top", num); err != nil {
		return nil, err
	}
	if lines < 0 {
		return nil, &InvalidLimitError{Offset: num, Count: lines}
	}
	buf, err := p.conn.Cmd("TOP", true, num, lines)
	if err != nil {
		return nil, p.commandError("top", err)
	}
	return buf.Bytes(), nil
}

func (p *POP3) Delete(num int) error {
	if err := p.requireNum("dele", num); err != nil {
		return err
	}
	if err := p.conn.Dele(num); err != nil {
		return p.commandError("dele", err)
	}
	p.logger.Debug("pop3 marked for deletion", "addr", p.addr, "msg", num)
	return nil
}

func (p *POP3) ListUniqueIdentifiers(num int) ([]MessageInfo, error) {
	if num == 0 {
		if err := p.require("uidl"); err != nil {
			return nil, err
		}
	} else if err := p.requireNum("uidl", num); err != nil {
		return nil, err
	}
	ids, err := p.conn.Uidl(num)
	if err != nil {
		return nil, p.commandError("uidl", err)
	}
	out := make([]MessageInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, MessageInfo{Num: id.ID, UID: id.UID})
	}
	return out, nil
}

func (p *POP3) Noop() error {
	if err := p.require("noop"); err != nil {
		return err
	}
	if err := p.conn.Noop(); err != nil {
		return p.commandError("noop", err)
	}
	return nil
}

// Disconnect sends QUIT, which commits deletions, and closes the socket.
func (p *POP3) Disconnect() {
	if p.state == Disconnected {
		return
	}
	if err := p.conn.Quit(); err != nil {
		p.logger.Debug("pop3 quit failed", "addr", p.addr, "error", err)
	}
	p.abort()
	p.logger.Debug("pop3 disconnected", "addr", p.addr)
}

// Abort closes the connection without QUIT. Deletions are discarded and
// any blocked operation fails with a ConnectionError.
func (p *POP3) Abort() {
	p.abort()
}

func (p *POP3) abort() {
	if p.dialer != nil && p.dialer.conn != nil {
		_ = p.dialer.conn.Close()
	}
	p.conn = nil
	p.count = 0
	p.state = Disconnected
}

func (p *POP3) require(op string) error {
	if p.state != Authenticated {
		return &StateError{Op: op, State: p.state}
	}
	return nil
}

func (p *POP3) requireNum(op string, num int) error {
	if err := p.require(op); err != nil {
		return err
	}
	return checkNum(num, p.count)
}

// commandError classifies a failed command. Stream failures end the
// session.
func (p *POP3) commandError(op string, err error) error {
	if isConnError(err) {
		return p.connError(op, err)
	}
	return &ServerError{Op: op, Reply: strings.TrimSpace(err.Error())}
}

func (p *POP3) connError(op string, err error) error {
	p.abort()
	return &ConnectionError{Op: op, Addr: p.addr, Err: err}
}

var _ Transport = (*POP3)(nil)

func (p *POP3) String() string {
	return fmt.Sprintf("pop3://%s", p.addr)
}
