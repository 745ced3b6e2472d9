package testutil

import (
	"encoding/base64"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

// EmailBuilder assembles RawEmail values the way a mail provider returns them.
type EmailBuilder struct {
	email model.RawEmail
}

// NewEmail starts a builder for a message with the given ID.
func NewEmail(id string) *EmailBuilder {
	return &EmailBuilder{email: model.RawEmail{ID: id}}
}

// From sets the From header.
func (b *EmailBuilder) From(from string) *EmailBuilder {
	return b.Header("From", from)
}

// Subject sets the Subject header.
func (b *EmailBuilder) Subject(subject string) *EmailBuilder {
	return b.Header("Subject", subject)
}

// Date sets the Date header.
func (b *EmailBuilder) Date(date string) *EmailBuilder {
	return b.Header("Date", date)
}

// Header appends an arbitrary header.
func (b *EmailBuilder) Header(name, value string) *EmailBuilder {
	b.email.Headers = append(b.email.Headers, model.Header{Name: name, Value: value})
	return b
}

// Body sets a single-part plaintext body.
func (b *EmailBuilder) Body(text string) *EmailBuilder {
	b.email.MimeType = "text/plain"
	b.email.Body = Encode(text)
	return b
}

// Part appends a typed part.
func (b *EmailBuilder) Part(mimeType, text string) *EmailBuilder {
	b.email.MimeType = "multipart/alternative"
	b.email.Parts = append(b.email.Parts, model.MessagePart{MimeType: mimeType, Body: Encode(text)})
	return b
}

// RawBody sets the top-level payload without encoding it.
func (b *EmailBuilder) RawBody(payload string) *EmailBuilder {
	b.email.Body = payload
	return b
}

// Build returns the assembled email.
func (b *EmailBuilder) Build() *model.RawEmail {
	e := b.email
	return &e
}

// Encode base64-encodes text with the URL-safe alphabet mail APIs use.
func Encode(text string) string {
	return base64.URLEncoding.EncodeToString([]byte(text))
}
