package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/tracyhatemice/mailfetch/internal/header"
)

// partParser consumes the body lines of one entity.
type partParser interface {
	feedLine(line []byte) error
	finish() (Part, error)
}

// newPartParser picks a body parser from the entity's content headers.
// defaultType applies when Content-Type is absent.
func newPartParser(h *header.Store, defaultType string) (partParser, error) {
	mediaType, params := contentType(h, defaultType)

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return nil, &ParseError{Context: "multipart", Err: ErrNoBoundary}
		}
		childType := defaultContentType
		if mediaType == "multipart/digest" {
			childType = "message/rfc822"
		}
		return &multipartParser{
			subtype:   strings.TrimPrefix(mediaType, "multipart/"),
			boundary:  boundary,
			childType: childType,
		}, nil
	case mediaType == "message/rfc822":
		return &rfc822Parser{inner: NewParser()}, nil
	default:
		return &leafParser{headers: h, mediaType: mediaType, params: params}, nil
	}
}

func contentType(h *header.Store, defaultType string) (string, map[string]string) {
	if !h.Has("Content-Type") {
		return defaultType, map[string]string{}
	}
	mh := h.MessageHeader()
	mediaType, params, err := mh.ContentType()
	if err != nil || mediaType == "" {
		// Unparsable types are read as plain text.
		return defaultContentType, map[string]string{}
	}
	return strings.ToLower(mediaType), params
}

// leafParser buffers a single-part body and decodes it on finish.
type leafParser struct {
	headers   *header.Store
	mediaType string
	params    map[string]string
	buf       bytes.Buffer
}

func (p *leafParser) feedLine(line []byte) error {
	p.buf.Write(line)
	p.buf.WriteByte('\n')
	return nil
}

func (p *leafParser) finish() (Part, error) {
	mh := p.headers.MessageHeader()
	data, err := decodeBody(mh, p.buf.Bytes())
	if err != nil {
		return nil, &ParseError{Context: "body " + p.mediaType, Err: err}
	}

	disposition, dparams, _ := mh.ContentDisposition()
	disposition = strings.ToLower(disposition)

	if strings.HasPrefix(p.mediaType, "text/") && disposition != "attachment" {
		charset := strings.ToLower(p.params["charset"])
		if charset == "" {
			charset = "us-ascii"
		}
		return &TextPart{
			Subtype: strings.TrimPrefix(p.mediaType, "text/"),
			Charset: charset,
			Text:    string(data),
			Header:  p.headers,
		}, nil
	}

	filename := dparams["filename"]
	if filename == "" {
		filename = p.params["name"]
	}
	contentID, _ := p.headers.Get("Content-ID")
	return &FilePart{
		Filename:    decodeHeader(filename),
		MIMEType:    p.mediaType,
		Disposition: disposition,
		ContentID:   strings.Trim(contentID, "<>"),
		Data:        data,
		Header:      p.headers,
	}, nil
}

// decodeBody undoes the transfer encoding and, for text, converts the
// declared charset to UTF-8. Unknown encodings and charsets leave the data
// as it was.
func decodeBody(h message.Header, raw []byte) ([]byte, error) {
	ent, err := message.New(h, bytes.NewReader(raw))
	if err != nil && !message.IsUnknownEncoding(err) && !message.IsUnknownCharset(err) {
		return nil, err
	}
	if ent == nil {
		return raw, nil
	}
	data, err := io.ReadAll(ent.Body)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return data, nil
}

// multipartParser splits a multipart body on its boundary and feeds each
// part to a nested Parser.
type multipartParser struct {
	subtype   string
	boundary  string
	childType string

	current  *Parser
	children []Part
	closed   bool
}

func (p *multipartParser) feedLine(line []byte) error {
	if p.closed {
		return nil // epilogue
	}
	if isDelim, closing := p.delimiter(line); isDelim {
		if err := p.closeChild(); err != nil {
			return err
		}
		if closing {
			p.closed = true
			return nil
		}
		p.current = newParser(p.childType)
		return nil
	}
	if p.current == nil {
		return nil // preamble
	}
	return p.current.FeedLine(line)
}

// delimiter reports whether line is a boundary line and whether it is the
// closing one. Trailing whitespace after the boundary is ignored.
func (p *multipartParser) delimiter(line []byte) (bool, bool) {
	l := bytes.TrimRight(line, " \t")
	if len(l) < 2+len(p.boundary) || l[0] != '-' || l[1] != '-' {
		return false, false
	}
	if string(l[2:2+len(p.boundary)]) != p.boundary {
		return false, false
	}
	switch rest := l[2+len(p.boundary):]; {
	case len(rest) == 0:
		return true, false
	case string(rest) == "--":
		return true, true
	}
	return false, false
}

func (p *multipartParser) closeChild() error {
	if p.current == nil {
		return nil
	}
	part, err := p.current.finishBody()
	p.current = nil
	if err != nil {
		return err
	}
	p.children = append(p.children, part)
	return nil
}

func (p *multipartParser) finish() (Part, error) {
	// A missing closing delimiter is tolerated.
	if err := p.closeChild(); err != nil {
		return nil, err
	}
	return &MultipartPart{
		Subtype:  p.subtype,
		Boundary: p.boundary,
		Children: p.children,
	}, nil
}

// rfc822Parser parses an embedded message.
type rfc822Parser struct {
	inner *Parser
}

func (p *rfc822Parser) feedLine(line []byte) error {
	return p.inner.FeedLine(line)
}

func (p *rfc822Parser) finish() (Part, error) {
	msg, err := p.inner.Finish()
	if err != nil {
		return nil, err
	}
	return &MessagePart{Message: msg}, nil
}
