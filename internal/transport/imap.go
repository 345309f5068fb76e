package transport

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// IMAP is a Transport reading one IMAP folder. The folder selected at
// authentication is the session snapshot; messages deleted in-session are
// hidden from listings but stay fetchable until Disconnect expunges them.
type IMAP struct {
	opts   Options
	logger *slog.Logger

	addr   string
	conn   *deadlineConn
	client *imapclient.Client
	state  State

	count       int
	uidValidity uint32
	infos       []MessageInfo
	deleted     map[int]bool
}

// NewIMAP creates a disconnected IMAP transport.
func NewIMAP(opts Options, logger *slog.Logger) *IMAP {
	return &IMAP{
		opts:   opts,
		logger: logger,
	}
}

func (m *IMAP) State() State {
	return m.state
}

func (m *IMAP) Connect(host string, port int) error {
	if m.state != Disconnected {
		return &StateError{Op: "connect", State: m.state}
	}
	m.addr = net.JoinHostPort(host, strconv.Itoa(port))

	dialer := newDeadlineDialer(m.opts.timeout())
	raw, err := dialer.Dial("tcp", m.addr)
	if err != nil {
		return &ConnectionError{Op: "connect", Addr: m.addr, Err: err}
	}
	m.conn = dialer.conn
	release := m.conn.busy()
	defer release()

	conn := raw
	if m.opts.TLS {
		conn = tls.Client(raw, &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: m.opts.TLSSkipVerify,
		})
	}

	client := imapclient.New(conn, nil)
	if err := client.WaitGreeting(); err != nil {
		client.Close()
		m.conn = nil
		return &ConnectionError{Op: "connect", Addr: m.addr, Err: err}
	}
	m.client = client
	m.state = Connected
	m.logger.Debug("imap connected", "addr", m.addr)
	return nil
}

func (m *IMAP) Authenticate(user, secret string, mech Mechanism) error {
	if m.state != Connected {
		return &StateError{Op: "authenticate", State: m.state}
	}
	defer m.busy()()

	var err error
	switch mech {
	case AuthDefault, AuthLogin:
		mech = AuthLogin
		err = m.client.Login(user, secret).Wait()
	case AuthPlain:
		err = m.client.Authenticate(sasl.NewPlainClient("", user, secret))
	default:
		return &AuthenticationError{User: user, Mechanism: mech, Reason: "mechanism not supported"}
	}
	if err != nil {
		if m.lost(err) {
			return m.connError("authenticate", err)
		}
		return &AuthenticationError{User: user, Mechanism: mech, Reason: imapReason(err)}
	}

	folder := m.opts.folder()
	data, err := m.client.Select(folder, nil).Wait()
	if err != nil {
		return m.commandError("select "+folder, err)
	}
	m.count = int(data.NumMessages)
	m.uidValidity = data.UIDValidity
	m.deleted = make(map[int]bool)
	m.state = Authenticated
	m.logger.Debug("imap authenticated", "addr", m.addr, "user", user, "folder", folder, "messages", m.count)
	return nil
}

// snapshot fetches sizes and UIDs of the whole folder once per session.
func (m *IMAP) snapshot() ([]MessageInfo, error) {
	if m.infos != nil || m.count == 0 {
		return m.infos, nil
	}
	defer m.busy()()
	var set imap.SeqSet
	set.AddRange(1, uint32(m.count))
	bufs, err := m.client.Fetch(set, &imap.FetchOptions{
		UID:        true,
		RFC822Size: true,
	}).Collect()
	if err != nil {
		return nil, m.commandError("fetch", err)
	}
	infos := make([]MessageInfo, 0, len(bufs))
	for _, buf := range bufs {
		infos = append(infos, MessageInfo{
			Num:  int(buf.SeqNum),
			Size: buf.RFC822Size,
			UID:  fmt.Sprintf("%d.%d", m.uidValidity, buf.UID),
		})
	}
	m.infos = infos
	return infos, nil
}

func (m *IMAP) visible() ([]MessageInfo, error) {
	infos, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]MessageInfo, 0, len(infos))
	for _, info := range infos {
		if !m.deleted[info.Num] {
			out = append(out, info)
		}
	}
	return out, nil
}

func (m *IMAP) Status() (int, int64, error) {
	if err := m.require("status"); err != nil {
		return 0, 0, err
	}
	infos, err := m.visible()
	if err != nil {
		return 0, 0, err
	}
	var size int64
	for _, info := range infos {
		size += info.Size
	}
	return len(infos), size, nil
}

func (m *IMAP) List() ([]MessageInfo, error) {
	if err := m.require("list"); err != nil {
		return nil, err
	}
	infos, err := m.visible()
	if err != nil {
		return nil, err
	}
	for i := range infos {
		infos[i].UID = ""
	}
	return infos, nil
}

func (m *IMAP) ListMessage(num int) (int64, error) {
	info, err := m.info("list", num)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (m *IMAP) info(op string, num int) (MessageInfo, error) {
	if err := m.requireNum(op, num); err != nil {
		return MessageInfo{}, err
	}
	infos, err := m.snapshot()
	if err != nil {
		return MessageInfo{}, err
	}
	for _, info := range infos {
		if info.Num == num {
			return info, nil
		}
	}
	return MessageInfo{}, &NoSuchMessageError{Num: num}
}

func (m *IMAP) FetchByMessageNr(num int) (*Set, error) {
	if err := m.requireNum("fetch", num); err != nil {
		return nil, err
	}
	return newSet([]int{num}, m.fetchBody, nil), nil
}

func (m *IMAP) FetchFromOffset(offset, count int) (*Set, error) {
	if err := m.require("fetch"); err != nil {
		return nil, err
	}
	infos, err := m.visible()
	if err != nil {
		return nil, err
	}
	nums, err := subset(numbers(infos), offset, count)
	if err != nil {
		return nil, err
	}
	return newSet(nums, m.fetchBody, nil), nil
}

func (m *IMAP) FetchAll(deleteFromServer bool) (*Set, error) {
	if err := m.require("fetch"); err != nil {
		return nil, err
	}
	infos, err := m.visible()
	if err != nil {
		return nil, err
	}
	var remove func(int) error
	if deleteFromServer {
		remove = m.Delete
	}
	return newSet(numbers(infos), m.fetchBody, remove), nil
}

func (m *IMAP) fetchBody(num int) ([]byte, error) {
	section := &imap.FetchItemBodySection{Peek: true}
	bufs, err := m.fetchSections(num, section)
	if err != nil {
		return nil, err
	}
	return bufs.FindBodySection(section), nil
}

func (m *IMAP) fetchSections(num int, sections ...*imap.FetchItemBodySection) (*imapclient.FetchMessageBuffer, error) {
	if err := m.requireNum("fetch", num); err != nil {
		return nil, err
	}
	defer m.busy()()
	bufs, err := m.client.Fetch(imap.SeqSetNum(uint32(num)), &imap.FetchOptions{
		BodySection: sections,
	}).Collect()
	if err != nil {
		return nil, m.commandError("fetch", err)
	}
	if len(bufs) == 0 {
		return nil, &NoSuchMessageError{Num: num}
	}
	return bufs[0], nil
}

func (m *IMAP) Top(num, lines int) ([]byte, error) {
	if lines < 0 {
		if err := m.requireNum("top", num); err != nil {
			return nil, err
		}
		return nil, &InvalidLimitError{Offset: num, Count: lines}
	}
	header := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader, Peek: true}
	text := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierText, Peek: true}
	buf, err := m.fetchSections(num, header, text)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	// The header section already ends with the blank separator line.
	out.Write(buf.FindBodySection(header))
	out.Write(head(buf.FindBodySection(text), lines))
	return out.Bytes(), nil
}

func (m *IMAP) Delete(num int) error {
	if err := m.requireNum("store", num); err != nil {
		return err
	}
	defer m.busy()()
	err := m.client.Store(imap.SeqSetNum(uint32(num)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
	if err != nil {
		return m.commandError("store", err)
	}
	m.deleted[num] = true
	m.logger.Debug("imap marked for deletion", "addr", m.addr, "msg", num)
	return nil
}

func (m *IMAP) ListUniqueIdentifiers(num int) ([]MessageInfo, error) {
	if num != 0 {
		info, err := m.info("uid", num)
		if err != nil {
			return nil, err
		}
		return []MessageInfo{{Num: info.Num, UID: info.UID}}, nil
	}
	if err := m.require("uid"); err != nil {
		return nil, err
	}
	infos, err := m.visible()
	if err != nil {
		return nil, err
	}
	for i := range infos {
		infos[i].Size = 0
	}
	return infos, nil
}

func (m *IMAP) Noop() error {
	if err := m.require("noop"); err != nil {
		return err
	}
	defer m.busy()()
	if err := m.client.Noop().Wait(); err != nil {
		return m.commandError("noop", err)
	}
	return nil
}

// Disconnect expunges messages deleted in this session, logs out and
// closes the connection.
func (m *IMAP) Disconnect() {
	if m.state == Disconnected {
		return
	}
	defer m.busy()()
	if m.state == Authenticated && len(m.deleted) > 0 {
		if err := m.client.Expunge().Close(); err != nil {
			m.logger.Warn("imap expunge failed", "addr", m.addr, "error", err)
		}
	}
	if err := m.client.Logout().Wait(); err != nil {
		m.logger.Debug("imap logout failed", "addr", m.addr, "error", err)
	}
	m.abort()
	m.logger.Debug("imap disconnected", "addr", m.addr)
}

// Abort closes the connection without expunging.
func (m *IMAP) Abort() {
	m.abort()
}

func (m *IMAP) abort() {
	if m.client != nil {
		_ = m.client.Close()
	}
	m.client = nil
	m.conn = nil
	m.count = 0
	m.uidValidity = 0
	m.infos = nil
	m.deleted = nil
	m.state = Disconnected
}

func (m *IMAP) require(op string) error {
	if m.state != Authenticated {
		return &StateError{Op: op, State: m.state}
	}
	return nil
}

func (m *IMAP) requireNum(op string, num int) error {
	if err := m.require(op); err != nil {
		return err
	}
	return checkNum(num, m.count)
}

// busy bounds reads for the duration of one command.
func (m *IMAP) busy() func() {
	if m.conn == nil {
		return func() {}
	}
	return m.conn.busy()
}

// lost reports whether err ended the connection. imapclient flattens
// read errors into text, so the socket's own record is checked too.
func (m *IMAP) lost(err error) bool {
	return isConnError(err) || (m.conn != nil && m.conn.failure() != nil)
}

func (m *IMAP) commandError(op string, err error) error {
	if m.lost(err) {
		return m.connError(op, err)
	}
	return &ServerError{Op: op, Reply: imapReason(err)}
}

func (m *IMAP) connError(op string, err error) error {
	m.abort()
	return &ConnectionError{Op: op, Addr: m.addr, Err: err}
}

func imapReason(err error) string {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) && imapErr.Text != "" {
		return imapErr.Text
	}
	return err.Error()
}

var _ Transport = (*IMAP)(nil)
