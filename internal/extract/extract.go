// Package extract pulls the readable parts out of raw email records and
// scans text for currency amounts.
package extract

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

// ErrDecodeBody is returned when a body payload is not valid base64.
var ErrDecodeBody = errors.New("failed to decode email body")

const (
	mimeTextPlain = "text/plain"
	mimeTextHTML  = "text/html"
)

// Message is the plaintext view of a RawEmail.
type Message struct {
	From    string
	Subject string
	Date    string
	Body    string
}

// Text returns sender, subject and body joined for keyword and price matching.
func (m Message) Text() string {
	return m.From + " " + m.Subject + " " + m.Body
}

// HTMLConverter turns an HTML document into readable text.
type HTMLConverter interface {
	ConvertString(html string) (string, error)
}

type options struct {
	html HTMLConverter
}

// Option configures Extract.
type Option func(*options)

// WithHTMLFallback converts the first text/html part when a message carries
// no plaintext body at all.
func WithHTMLFallback(conv HTMLConverter) Option {
	return func(o *options) {
		o.html = conv
	}
}

// Extract returns the sender, subject, date and plaintext body of raw.
// Missing headers resolve to "". The body is the top-level payload when
// present, otherwise the first text/plain part, otherwise "".
func Extract(raw *model.RawEmail, opts ...Option) (Message, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	msg := Message{
		From:    raw.Header("From"),
		Subject: raw.Header("Subject"),
		Date:    raw.Header("Date"),
	}

	body, err := resolveBody(raw)
	if err != nil {
		return msg, err
	}

	if body == "" && o.html != nil {
		body, err = resolveHTML(raw, o.html)
		if err != nil {
			return msg, err
		}
	}

	msg.Body = body
	return msg, nil
}

func resolveBody(raw *model.RawEmail) (string, error) {
	if raw.Body != "" && !isHTML(raw.MimeType) {
		return decodeBase64(raw.Body)
	}

	for _, part := range raw.Parts {
		if isPlainText(part.MimeType) && part.Body != "" {
			return decodeBase64(part.Body)
		}
	}

	return "", nil
}

func resolveHTML(raw *model.RawEmail, conv HTMLConverter) (string, error) {
	doc := ""
	if raw.Body != "" && isHTML(raw.MimeType) {
		doc = raw.Body
	} else {
		for _, part := range raw.Parts {
			if isHTML(part.MimeType) && part.Body != "" {
				doc = part.Body
				break
			}
		}
	}
	if doc == "" {
		return "", nil
	}

	html, err := decodeBase64(doc)
	if err != nil {
		return "", err
	}

	text, err := conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("failed to convert html body: %w", err)
	}
	return text, nil
}

func isPlainText(mimeType string) bool {
	return mediaType(mimeType) == mimeTextPlain
}

func isHTML(mimeType string) bool {
	return mediaType(mimeType) == mimeTextHTML
}

func mediaType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// Mail providers disagree on the alphabet and on padding.
var encodings = []*base64.Encoding{
	base64.RawURLEncoding,
	base64.URLEncoding,
	base64.StdEncoding,
	base64.RawStdEncoding,
}

func decodeBase64(s string) (string, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, s)

	for _, enc := range encodings {
		if data, err := enc.DecodeString(s); err == nil {
			return string(data), nil
		}
	}
	return "", ErrDecodeBody
}
