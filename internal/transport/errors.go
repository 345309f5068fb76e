package transport

import (
	"errors"
	"fmt"
)

// ErrTransport matches every error this package returns:
// errors.Is(err, ErrTransport) reports whether err came from a transport.
var ErrTransport = errors.New("transport error")

// ConnectionError reports an unreachable store, a timeout or a reset.
// The session is Disconnected afterwards.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrTransport }

// AuthenticationError reports rejected credentials or an unsupported
// mechanism.
type AuthenticationError struct {
	User      string
	Mechanism Mechanism
	Reason    string
}

func (e *AuthenticationError) Error() string {
	mech := e.Mechanism
	if mech == AuthDefault {
		mech = "default"
	}
	return fmt.Sprintf("authentication of %q with %s failed: %s", e.User, mech, e.Reason)
}

func (e *AuthenticationError) Is(target error) bool { return target == ErrTransport }

// StateError reports an operation invoked in the wrong session state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is not allowed while %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrTransport }

// NoSuchMessageError reports a message number outside the session snapshot.
type NoSuchMessageError struct {
	Num int
}

func (e *NoSuchMessageError) Error() string {
	return fmt.Sprintf("message with ID <%d> could not be found", e.Num)
}

func (e *NoSuchMessageError) Is(target error) bool { return target == ErrTransport }

// OffsetOutOfRangeError reports a FetchFromOffset subset that does not fit
// the mailbox.
type OffsetOutOfRangeError struct {
	Offset int
	Count  int
}

func (e *OffsetOutOfRangeError) Error() string {
	return fmt.Sprintf("offset <%d> is outside of the message subset <%d, %d>", e.Offset, e.Offset, e.Count)
}

func (e *OffsetOutOfRangeError) Is(target error) bool { return target == ErrTransport }

// InvalidLimitError reports a negative message count.
type InvalidLimitError struct {
	Offset int
	Count  int
}

func (e *InvalidLimitError) Error() string {
	return fmt.Sprintf("message count <%d> is not allowed for the message subset <%d, %d>", e.Count, e.Offset, e.Count)
}

func (e *InvalidLimitError) Is(target error) bool { return target == ErrTransport }

// ServerError carries a negative reply to a command.
type ServerError struct {
	Op    string
	Reply string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: server replied: %s", e.Op, e.Reply)
}

func (e *ServerError) Is(target error) bool { return target == ErrTransport }
