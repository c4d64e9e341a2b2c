// Package headers extracts correlation metadata from raw message bytes
// without decoding MIME bodies.
package headers

import (
	"bytes"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	// Register extended charsets so encoded-word subjects decode.
	_ "github.com/emersion/go-message/charset"
)

// Subject returns the decoded Subject header of the raw message, or the
// empty string if the header is absent or the message is too malformed to
// parse. Parse failures never propagate: a broken subject must not stop
// the mail.
func Subject(raw []byte) string {
	// Read is deliberately permissive: unknown-charset and similar errors
	// still yield a usable header, so only a nil entity gives up.
	entity, _ := message.Read(bytes.NewReader(raw))
	if entity == nil {
		return ""
	}

	h := mail.Header{Header: entity.Header}
	subject, err := h.Subject()
	if err != nil {
		// Fall back to the undecoded value rather than dropping it.
		return strings.TrimSpace(entity.Header.Get("Subject"))
	}
	return subject
}

// Envelope reconstructs a best-effort envelope from message headers, for
// replaying archived messages where Postfix's argv is not available.
// Return-Path and Delivered-To are preferred since they record the actual
// envelope; From and To are header-level fallbacks.
func Envelope(raw []byte) (sender, recipient string) {
	entity, _ := message.Read(bytes.NewReader(raw))
	if entity == nil {
		return "", ""
	}

	h := mail.Header{Header: entity.Header}

	sender = cleanAddress(entity.Header.Get("Return-Path"))
	if sender == "" {
		if list, err := h.AddressList("From"); err == nil && len(list) > 0 {
			sender = list[0].Address
		}
	}

	recipient = cleanAddress(entity.Header.Get("Delivered-To"))
	if recipient == "" {
		recipient = cleanAddress(entity.Header.Get("X-Original-To"))
	}
	if recipient == "" {
		if list, err := h.AddressList("To"); err == nil && len(list) > 0 {
			recipient = list[0].Address
		}
	}

	return sender, recipient
}

func cleanAddress(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "<")
	v = strings.TrimSuffix(v, ">")
	return strings.TrimSpace(v)
}
