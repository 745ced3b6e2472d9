package model

import "strings"

// Header is a single name/value pair from an email's header list.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MessagePart is one typed part of a multi-part email body.
// Body holds the base64 payload exactly as the mail provider returned it.
type MessagePart struct {
	MimeType string `json:"mimeType"`
	Body     string `json:"body"`
}

// RawEmail is an email as supplied by a mail provider, before any decoding.
// Body is the top-level payload when the message is single-part; Parts lists
// the flattened parts otherwise.
type RawEmail struct {
	ID       string        `json:"id"`
	MimeType string        `json:"mimeType"`
	Body     string        `json:"body,omitempty"`
	Headers  []Header      `json:"headers"`
	Parts    []MessagePart `json:"parts,omitempty"`
}

// Header returns the value of the first header matching name, ignoring case.
// It returns "" when the header is absent.
func (e *RawEmail) Header(name string) string {
	for _, h := range e.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
