package model

// Message represents a single outbound email as handed over by Postfix:
// the envelope addresses plus the raw RFC 5322 bytes from stdin.
type Message struct {
	// Sender is the envelope sender (Return-Path), lowercased by the
	// argument parser before any decision is made on it.
	Sender string
	// Recipient is the single envelope recipient, passed through verbatim.
	Recipient string
	Raw       []byte
}
