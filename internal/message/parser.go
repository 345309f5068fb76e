package message

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/tracyhatemice/mailfetch/internal/header"
)

const defaultContentType = "text/plain"

var (
	// ErrParserDone is returned when a finished parser is used again.
	ErrParserDone = errors.New("parser already finished")

	// ErrNoBoundary is returned for a multipart body without a boundary.
	ErrNoBoundary = errors.New("multipart content type without boundary")
)

// ParseError reports malformed input. It aborts the current parse only.
type ParseError struct {
	Context string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Context, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// State is the position of a Parser in its input.
type State int

const (
	ReadingHeaders State = iota
	ReadingBody
	Done
)

func (s State) String() string {
	switch s {
	case ReadingHeaders:
		return "reading headers"
	case ReadingBody:
		return "reading body"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Parser is a line-fed RFC 822 message parser. A Parser is single-use and
// not safe for concurrent use.
type Parser struct {
	state       State
	headers     *header.Store
	defaultType string
	body        partParser
	err         error
}

// NewParser returns a parser for a top-level message.
func NewParser() *Parser {
	return newParser(defaultContentType)
}

func newParser(defaultType string) *Parser {
	return &Parser{
		headers:     header.New(),
		defaultType: defaultType,
	}
}

// State returns the current parser state.
func (p *Parser) State() State {
	return p.state
}

// FeedLine consumes one line without its line terminator. Header lines
// starting with whitespace continue the previous header.
func (p *Parser) FeedLine(line []byte) error {
	switch p.state {
	case Done:
		if p.err != nil {
			return p.err
		}
		return &ParseError{Context: "line", Err: ErrParserDone}
	case ReadingBody:
		if err := p.body.feedLine(line); err != nil {
			return p.fail(err)
		}
		return nil
	}

	if len(line) == 0 {
		body, err := newPartParser(p.headers, p.defaultType)
		if err != nil {
			return p.fail(err)
		}
		p.body = body
		p.state = ReadingBody
		return nil
	}

	if line[0] == ' ' || line[0] == '\t' {
		if !p.headers.AppendContinuation(strings.TrimSpace(string(line))) {
			return p.fail(&ParseError{Context: "header", Err: fmt.Errorf("continuation line before any header: %q", clip(line))})
		}
		return nil
	}

	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return p.fail(&ParseError{Context: "header", Err: fmt.Errorf("missing colon: %q", clip(line))})
	}
	name := strings.TrimSpace(string(line[:i]))
	if name == "" {
		return p.fail(&ParseError{Context: "header", Err: fmt.Errorf("empty header name: %q", clip(line))})
	}
	p.headers.Set(name, strings.TrimSpace(string(line[i+1:])))
	return nil
}

// Finish completes the parse and returns the message.
func (p *Parser) Finish() (*Message, error) {
	body, err := p.finishBody()
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Header:         p.headers,
		Body:           body,
		SubjectCharset: "utf-8",
	}

	h := mail.Header{Header: p.headers.MessageHeader()}
	from, err := addressList(h, p.headers, "From")
	if err != nil {
		return nil, p.fail(err)
	}
	if len(from) > 0 {
		msg.From = from[0]
	}
	if msg.To, err = addressList(h, p.headers, "To"); err != nil {
		return nil, p.fail(err)
	}
	if msg.Cc, err = addressList(h, p.headers, "Cc"); err != nil {
		return nil, p.fail(err)
	}
	if msg.Bcc, err = addressList(h, p.headers, "Bcc"); err != nil {
		return nil, p.fail(err)
	}

	if subject, ok := p.headers.Get("Subject"); ok {
		msg.Subject = decodeHeader(subject)
	}
	if p.headers.Has("Date") {
		// An unparsable date leaves the zero time.
		if date, err := h.Date(); err == nil {
			msg.Date = date
		}
	}
	return msg, nil
}

// finishBody ends the parse and returns only the body part. Multipart
// children use it since their headers carry no envelope.
func (p *Parser) finishBody() (Part, error) {
	if p.state == Done {
		if p.err != nil {
			return nil, p.err
		}
		return nil, &ParseError{Context: "finish", Err: ErrParserDone}
	}
	if p.body == nil {
		// Header block with no separator line: the body is empty.
		body, err := newPartParser(p.headers, p.defaultType)
		if err != nil {
			return nil, p.fail(err)
		}
		p.body = body
	}
	p.state = Done
	part, err := p.body.finish()
	if err != nil {
		p.err = err
		return nil, err
	}
	return part, nil
}

func (p *Parser) fail(err error) error {
	p.state = Done
	p.err = err
	return err
}

func addressList(h mail.Header, s *header.Store, key string) ([]*mail.Address, error) {
	if !s.Has(key) {
		return nil, nil
	}
	addrs, err := h.AddressList(key)
	if err != nil {
		return nil, &ParseError{Context: "address list " + key, Err: err}
	}
	return addrs, nil
}

func clip(line []byte) []byte {
	const max = 64
	if len(line) > max {
		return line[:max]
	}
	return line
}

// Parse reads one message from r. Lines may end in LF or CRLF.
func Parse(r io.Reader) (*Message, error) {
	p := NewParser()
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSuffix(line, []byte("\n"))
			line = bytes.TrimSuffix(line, []byte("\r"))
			if ferr := p.FeedLine(line); ferr != nil {
				return nil, ferr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read message: %w", err)
		}
	}
	return p.Finish()
}

// Source yields raw messages one at a time. Next returns io.EOF once the
// source is exhausted.
type Source interface {
	Next() (io.Reader, error)
}

// ParseAll parses every message src yields. On error the messages parsed
// so far are returned with it.
func ParseAll(src Source) ([]*Message, error) {
	var out []*Message
	for {
		r, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		msg, err := Parse(r)
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
}
