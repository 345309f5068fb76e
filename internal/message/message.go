// Package message parses RFC 822 / MIME messages into a typed tree.
//
// Input is consumed one line at a time by a Parser, which splits the
// header block from the body and hands body lines to a part parser chosen
// from Content-Type. Transfer and charset decoding are done by go-message.
package message

import (
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"

	"github.com/tracyhatemice/mailfetch/internal/header"
)

// Message is a parsed mail message. It is produced by Parser.Finish and
// must be treated as read-only.
type Message struct {
	From           *mail.Address
	To             []*mail.Address
	Cc             []*mail.Address
	Bcc            []*mail.Address
	Subject        string
	SubjectCharset string
	Date           time.Time

	Header *header.Store
	Body   Part
}

// Part is one node of a message body tree: *TextPart, *FilePart,
// *MultipartPart or *MessagePart.
type Part interface {
	MediaType() string
}

// TextPart is an inline text body. Text is UTF-8; Charset is the charset
// the part declared.
type TextPart struct {
	Subtype string
	Charset string
	Text    string
	Header  *header.Store
}

func (p *TextPart) MediaType() string { return "text/" + p.Subtype }

// PlainText returns the part as plain text, converting HTML.
func (p *TextPart) PlainText() string {
	if p.Subtype == "html" {
		return html2text.HTML2Text(p.Text)
	}
	return p.Text
}

// FilePart is a non-text or attached body with decoded content.
type FilePart struct {
	Filename    string
	MIMEType    string
	Disposition string
	ContentID   string
	Data        []byte
	Header      *header.Store
}

func (p *FilePart) MediaType() string { return p.MIMEType }

// MultipartPart holds child parts in source order.
type MultipartPart struct {
	Subtype  string
	Boundary string
	Children []Part
}

func (p *MultipartPart) MediaType() string { return "multipart/" + p.Subtype }

// MessagePart is an embedded message/rfc822 body.
type MessagePart struct {
	Message *Message
}

func (p *MessagePart) MediaType() string { return "message/rfc822" }

// Walk calls fn for every part of m depth-first, parents before children.
// Embedded messages are entered. Returning false from fn stops the walk.
func (m *Message) Walk(fn func(Part) bool) {
	walk(m.Body, fn)
}

func walk(p Part, fn func(Part) bool) bool {
	if p == nil {
		return true
	}
	if !fn(p) {
		return false
	}
	switch v := p.(type) {
	case *MultipartPart:
		for _, c := range v.Children {
			if !walk(c, fn) {
				return false
			}
		}
	case *MessagePart:
		if v.Message != nil {
			return walk(v.Message.Body, fn)
		}
	}
	return true
}

// PlainText returns the first text/plain body of m, falling back to the
// first text/html body converted to text. Embedded messages are skipped.
func (m *Message) PlainText() string {
	var html *TextPart
	var plain *TextPart
	var find func(Part)
	find = func(p Part) {
		switch v := p.(type) {
		case *TextPart:
			if v.Subtype == "plain" && plain == nil {
				plain = v
			}
			if v.Subtype == "html" && html == nil {
				html = v
			}
		case *MultipartPart:
			for _, c := range v.Children {
				find(c)
			}
		}
	}
	find(m.Body)
	if plain != nil {
		return plain.Text
	}
	if html != nil {
		return html.PlainText()
	}
	return ""
}

// Attachments returns every file part in m, including those of embedded
// messages.
func (m *Message) Attachments() []*FilePart {
	var out []*FilePart
	m.Walk(func(p Part) bool {
		if f, ok := p.(*FilePart); ok {
			out = append(out, f)
		}
		return true
	})
	return out
}
