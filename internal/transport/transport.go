// Package transport fetches raw messages from mail stores.
//
// Every store is exposed as a Mailbox: a numbered snapshot of messages
// taken when the session starts. Network stores (POP3, IMAP) additionally
// implement Transport, which adds the connect/authenticate handshake.
// Implementations are single-session and not safe for concurrent use.
package transport

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// State is the session state of a Transport.
type State int

const (
	Disconnected State = iota
	Connected
	Authenticated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Authenticated:
		return "authenticated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Mechanism selects how Authenticate proves the credentials.
type Mechanism string

const (
	// AuthDefault picks the transport's plain login command.
	AuthDefault Mechanism = ""
	// AuthUser is POP3 USER/PASS.
	AuthUser Mechanism = "USER"
	// AuthLogin is IMAP LOGIN.
	AuthLogin Mechanism = "LOGIN"
	// AuthPlain is SASL PLAIN.
	AuthPlain Mechanism = "PLAIN"
	// AuthAPOP is POP3 APOP. It is recognised but not supported.
	AuthAPOP Mechanism = "APOP"
)

// MessageInfo describes one message of a session snapshot. Num is the
// 1-based sequence number; Size or UID is zero when the call that produced
// the value does not report it.
type MessageInfo struct {
	Num  int
	Size int64
	UID  string
}

// Mailbox is the message access shared by every store.
type Mailbox interface {
	// Status returns the number of visible messages and their total size.
	Status() (count int, size int64, err error)

	// List returns every visible message with its size, ordered by Num.
	List() ([]MessageInfo, error)

	// ListMessage returns the size of message num.
	ListMessage(num int) (int64, error)

	// FetchByMessageNr returns a set holding message num.
	FetchByMessageNr(num int) (*Set, error)

	// FetchFromOffset returns count messages starting at the 1-based
	// position offset of List. A count of 0 means through the end.
	FetchFromOffset(offset, count int) (*Set, error)

	// FetchAll returns every visible message. With deleteFromServer each
	// message is marked for deletion once it has been fetched.
	FetchAll(deleteFromServer bool) (*Set, error)

	// Top returns the header block and the first lines body lines of
	// message num.
	Top(num, lines int) ([]byte, error)

	// Delete marks message num for removal when the session ends.
	Delete(num int) error

	// ListUniqueIdentifiers returns the stable identifier of message num,
	// or of every visible message when num is 0.
	ListUniqueIdentifiers(num int) ([]MessageInfo, error)

	// Disconnect ends the session, committing deletions. It is safe to
	// call in any state and more than once.
	Disconnect()
}

// Transport is a Mailbox reached over the network.
type Transport interface {
	Mailbox

	// Connect opens the connection and reads the server greeting.
	Connect(host string, port int) error

	// Authenticate logs in and takes the session snapshot.
	Authenticate(user, secret string, mech Mechanism) error

	// Noop keeps the session alive.
	Noop() error

	// State returns the current session state.
	State() State
}

// Options configures a network transport.
type Options struct {
	TLS           bool
	TLSSkipVerify bool

	// Timeout bounds dialing and every read and write of a command.
	// Default is 30 seconds.
	Timeout time.Duration

	// Folder is the IMAP mailbox to select. Default is INBOX.
	Folder string
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return o.Timeout
}

func (o Options) folder() string {
	if o.Folder == "" {
		return "INBOX"
	}
	return o.Folder
}

// Set is a lazily fetched sequence of raw messages.
type Set struct {
	nums   []int
	fetch  func(num int) ([]byte, error)
	remove func(num int) error
	pos    int
	last   int
}

func newSet(nums []int, fetch func(int) ([]byte, error), remove func(int) error) *Set {
	return &Set{nums: nums, fetch: fetch, remove: remove}
}

// Numbers returns the message numbers the set covers, in fetch order.
func (s *Set) Numbers() []int {
	out := make([]int, len(s.nums))
	copy(out, s.nums)
	return out
}

// Len returns the number of messages in the set.
func (s *Set) Len() int {
	return len(s.nums)
}

// Next fetches the next message. It returns io.EOF when the set is
// exhausted.
func (s *Set) Next() (io.Reader, error) {
	raw, err := s.NextBytes()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(raw), nil
}

// NextBytes is Next returning the raw message bytes.
func (s *Set) NextBytes() ([]byte, error) {
	if s.pos >= len(s.nums) {
		return nil, io.EOF
	}
	num := s.nums[s.pos]
	raw, err := s.fetch(num)
	if err != nil {
		return nil, err
	}
	s.pos++
	s.last = num
	if s.remove != nil {
		if err := s.remove(num); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// MessageNr returns the number of the message last returned by Next, or
// 0 before the first call.
func (s *Set) MessageNr() int {
	return s.last
}
