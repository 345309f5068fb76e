package message

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

func TestParseSimpleMessage(t *testing.T) {
	raw := crlf(
		"Return-Path: <bounce@example.com>",
		"From: John Doe <john@example.com>",
		"To: jane@example.com, \"Bob B.\" <bob@example.com>",
		"Cc: carol@example.com",
		"Subject: a subject that is",
		"  folded over two lines",
		"Date: Mon, 02 Jan 2006 15:04:05 -0700",
		"",
		"Hello Jane,",
		"",
		"bye",
	)

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	require.NotNil(t, msg.From)
	assert.Equal(t, "John Doe", msg.From.Name)
	assert.Equal(t, "john@example.com", msg.From.Address)
	require.Len(t, msg.To, 2)
	assert.Equal(t, "jane@example.com", msg.To[0].Address)
	assert.Equal(t, "Bob B.", msg.To[1].Name)
	require.Len(t, msg.Cc, 1)
	assert.Empty(t, msg.Bcc)
	assert.Equal(t, "a subject that is folded over two lines", msg.Subject)
	assert.Equal(t, "utf-8", msg.SubjectCharset)
	assert.True(t, msg.Date.Equal(time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)))

	text, ok := msg.Body.(*TextPart)
	require.True(t, ok, "body is %T", msg.Body)
	assert.Equal(t, "plain", text.Subtype)
	assert.Equal(t, "us-ascii", text.Charset)
	assert.Equal(t, "Hello Jane,\n\nbye\n", text.Text)

	entries := msg.Header.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, "Return-Path", entries[0].Name)
}

func TestParseEncodedSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    string
	}{
		{"plain", "hello", "hello"},
		{"latin1 q", "=?ISO-8859-1?Q?caf=E9?=", "café"},
		{"utf8 b", "=?UTF-8?B?w6nDqMOg?=", "éèà"},
		{"windows-1252", "=?windows-1252?Q?price_=80?=", "price €"},
		{"broken word", "=?bogus", "=?bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(strings.NewReader(crlf("Subject: "+tt.subject, "", "body")))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Subject)
		})
	}
}

func TestParseQuotedPrintableCharset(t *testing.T) {
	raw := crlf(
		"Content-Type: text/plain; charset=ISO-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=E9 cr=E8me",
	)
	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	text := msg.Body.(*TextPart)
	assert.Equal(t, "iso-8859-1", text.Charset)
	assert.Equal(t, "café crème\n", text.Text)
}

func TestParseMultipartMixed(t *testing.T) {
	raw := crlf(
		"From: pine@example.com",
		"Subject: pine: Mail with attachment",
		"MIME-Version: 1.0",
		"Content-Type: multipart/mixed; boundary=\"-559023410-2078917053-1143028843=:15624\"",
		"",
		"This is the preamble.",
		"",
		"---559023410-2078917053-1143028843=:15624",
		"Content-Type: text/plain; charset=US-ASCII",
		"",
		"first part",
		"---559023410-2078917053-1143028843=:15624",
		"Content-Type: application/octet-stream; name=\"greeting.bin\"",
		"Content-Transfer-Encoding: base64",
		"Content-Disposition: attachment; filename=\"hello.txt\"",
		"Content-ID: <part2@example.com>",
		"",
		"aGVsbG8gd29ybGQ=",
		"---559023410-2078917053-1143028843=:15624  ",
		"Content-Type: image/png; name=\"dot.png\"",
		"Content-Transfer-Encoding: base64",
		"",
		"iVBORw0K",
		"---559023410-2078917053-1143028843=:15624--",
		"epilogue is dropped",
	)

	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "pine: Mail with attachment", msg.Subject)

	mp, ok := msg.Body.(*MultipartPart)
	require.True(t, ok, "body is %T", msg.Body)
	assert.Equal(t, "mixed", mp.Subtype)
	assert.Equal(t, "-559023410-2078917053-1143028843=:15624", mp.Boundary)
	require.Len(t, mp.Children, 3)

	first := mp.Children[0].(*TextPart)
	assert.Equal(t, "first part\n", first.Text)

	att := mp.Children[1].(*FilePart)
	assert.Equal(t, "hello.txt", att.Filename)
	assert.Equal(t, "application/octet-stream", att.MIMEType)
	assert.Equal(t, "attachment", att.Disposition)
	assert.Equal(t, "part2@example.com", att.ContentID)
	assert.Equal(t, "hello world", string(att.Data))

	img := mp.Children[2].(*FilePart)
	assert.Equal(t, "dot.png", img.Filename)
	assert.Equal(t, "image/png", img.MediaType())
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', '\r', '\n'}, img.Data)

	assert.Len(t, msg.Attachments(), 2)
	assert.Equal(t, "first part\n", msg.PlainText())
}

func TestParseMultipartChildCount(t *testing.T) {
	for n := 1; n <= 5; n++ {
		lines := []string{"Content-Type: multipart/mixed; boundary=b", ""}
		for i := 0; i < n; i++ {
			lines = append(lines, "--b", "", strings.Repeat("x", i+1))
		}
		lines = append(lines, "--b--")

		msg, err := Parse(strings.NewReader(crlf(lines...)))
		require.NoError(t, err)
		mp := msg.Body.(*MultipartPart)
		require.Len(t, mp.Children, n)
		for i, c := range mp.Children {
			assert.Equal(t, strings.Repeat("x", i+1)+"\n", c.(*TextPart).Text)
		}
	}
}

func TestParseUnterminatedMultipart(t *testing.T) {
	raw := crlf(
		"Content-Type: multipart/mixed; boundary=b",
		"",
		"--b",
		"",
		"one",
		"--b",
		"",
		"two",
	)
	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	mp := msg.Body.(*MultipartPart)
	require.Len(t, mp.Children, 2)
	assert.Equal(t, "two\n", mp.Children[1].(*TextPart).Text)
}

func TestParseNestedAlternative(t *testing.T) {
	raw := crlf(
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=outer-inner",
		"",
		"--outer-inner",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Hello <b>there</b></p>",
		"--outer-inner--",
		"--outer",
		"Content-Type: text/plain",
		"Content-Disposition: attachment; filename=notes.txt",
		"",
		"notes",
		"--outer--",
	)
	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	outer := msg.Body.(*MultipartPart)
	require.Len(t, outer.Children, 2)
	inner := outer.Children[0].(*MultipartPart)
	assert.Equal(t, "alternative", inner.Subtype)
	require.Len(t, inner.Children, 1)
	assert.Equal(t, "text/html", inner.Children[0].MediaType())

	notes := outer.Children[1].(*FilePart)
	assert.Equal(t, "notes.txt", notes.Filename)
	assert.Equal(t, "notes\n", string(notes.Data))

	assert.Contains(t, msg.PlainText(), "Hello")
	assert.NotContains(t, msg.PlainText(), "<p>")
}

func TestParseDigest(t *testing.T) {
	raw := crlf(
		"Subject: digest",
		"Content-Type: multipart/digest; boundary=D",
		"",
		"--D",
		"",
		"From: a@example.com",
		"Subject: first",
		"",
		"one",
		"--D",
		"",
		"From: b@example.com",
		"Subject: second",
		"",
		"two",
		"--D",
		"Content-Type: text/plain",
		"",
		"not a message",
		"--D--",
	)
	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	mp := msg.Body.(*MultipartPart)
	assert.Equal(t, "digest", mp.Subtype)
	require.Len(t, mp.Children, 3)

	first := mp.Children[0].(*MessagePart)
	assert.Equal(t, "first", first.Message.Subject)
	assert.Equal(t, "a@example.com", first.Message.From.Address)
	assert.Equal(t, "one\n", first.Message.Body.(*TextPart).Text)

	second := mp.Children[1].(*MessagePart)
	assert.Equal(t, "second", second.Message.Subject)

	_, isText := mp.Children[2].(*TextPart)
	assert.True(t, isText)
}

func TestParseEmbeddedMessage(t *testing.T) {
	raw := crlf(
		"Content-Type: multipart/mixed; boundary=B",
		"",
		"--B",
		"Content-Type: message/rfc822",
		"",
		"From: x@example.com",
		"Subject: inner",
		"",
		"inner body",
		"--B--",
	)
	msg, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)

	mp := msg.Body.(*MultipartPart)
	require.Len(t, mp.Children, 1)
	embedded := mp.Children[0].(*MessagePart)
	assert.Equal(t, "message/rfc822", embedded.MediaType())
	assert.Equal(t, "inner", embedded.Message.Subject)

	var seen []string
	msg.Walk(func(p Part) bool {
		seen = append(seen, p.MediaType())
		return true
	})
	assert.Equal(t, []string{"multipart/mixed", "message/rfc822", "text/plain"}, seen)
}

func TestParseHeadersOnly(t *testing.T) {
	msg, err := Parse(strings.NewReader("Subject: nothing else"))
	require.NoError(t, err)
	assert.Equal(t, "nothing else", msg.Subject)
	assert.Equal(t, "", msg.Body.(*TextPart).Text)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing colon", crlf("Subject hello", "", "body")},
		{"continuation first", crlf(" orphan", "Subject: x", "", "body")},
		{"empty name", crlf(": value", "", "body")},
		{"multipart without boundary", crlf("Content-Type: multipart/mixed", "", "--x")},
		{"bad address list", crlf("To: <<<", "", "body")},
		{"bad part header", crlf("Content-Type: multipart/mixed; boundary=b", "", "--b", "broken header", "", "x", "--b--")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.raw))
			require.Error(t, err)
			var perr *ParseError
			assert.True(t, errors.As(err, &perr), "got %T: %v", err, err)
		})
	}
}

func TestParserStateTransitions(t *testing.T) {
	p := NewParser()
	assert.Equal(t, ReadingHeaders, p.State())
	require.NoError(t, p.FeedLine([]byte("Subject: x")))
	require.NoError(t, p.FeedLine(nil))
	assert.Equal(t, ReadingBody, p.State())
	require.NoError(t, p.FeedLine([]byte("Subject: this is body text")))

	msg, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, Done, p.State())
	assert.Equal(t, "Subject: this is body text\n", msg.Body.(*TextPart).Text)

	_, err = p.Finish()
	assert.ErrorIs(t, err, ErrParserDone)
	assert.ErrorIs(t, p.FeedLine([]byte("late")), ErrParserDone)
}

func TestParserFailureIsSticky(t *testing.T) {
	p := NewParser()
	err := p.FeedLine([]byte("garbage"))
	require.Error(t, err)
	assert.Equal(t, Done, p.State())
	assert.Equal(t, err, p.FeedLine([]byte("Subject: ok")))
	_, ferr := p.Finish()
	assert.Equal(t, err, ferr)
}

func TestParserAddressFailureIsSticky(t *testing.T) {
	p := NewParser()
	require.NoError(t, p.FeedLine([]byte("To: <<<")))
	require.NoError(t, p.FeedLine(nil))
	require.NoError(t, p.FeedLine([]byte("body")))

	_, err := p.Finish()
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "address list To", perr.Context)
	assert.Equal(t, Done, p.State())

	_, again := p.Finish()
	assert.Equal(t, err, again)
	assert.NotErrorIs(t, again, ErrParserDone)
	assert.Equal(t, err, p.FeedLine([]byte("late")))
}

type sliceSource struct {
	msgs []string
}

func (s *sliceSource) Next() (io.Reader, error) {
	if len(s.msgs) == 0 {
		return nil, io.EOF
	}
	r := strings.NewReader(s.msgs[0])
	s.msgs = s.msgs[1:]
	return r, nil
}

func TestParseAll(t *testing.T) {
	src := &sliceSource{msgs: []string{
		crlf("Subject: one", "", "1"),
		crlf("Subject: two", "", "2"),
		"Subject: three\n\n3\n",
	}}
	msgs, err := ParseAll(src)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "three", msgs[2].Subject)
	assert.Equal(t, "3\n", msgs[2].Body.(*TextPart).Text)

	bad := &sliceSource{msgs: []string{crlf("Subject: ok", "", "x"), "broken\n"}}
	msgs, err = ParseAll(bad)
	require.Error(t, err)
	assert.Len(t, msgs, 1)
}
