package sigs

import (
	"bytes"
	"strings"
)

// Marker is a substring that classifies an SMTP response. Matching is
// case-sensitive and runs over the raw response bytes.
type Marker string

const (
	// NotRecognized marks VRFY/EXPN as unavailable on the server.
	NotRecognized Marker = "not recognized"
	// CannotVerify is the 252 reply VRFY/EXPN give for a known mailbox.
	CannotVerify Marker = "252"
	// EnvelopeOK accepts MAIL FROM and RCPT TO.
	EnvelopeOK Marker = "250 OK"
	// RCPTNotRecognized is the Postfix rejection of RCPT TO as a command.
	RCPTNotRecognized Marker = "502 5.5.2 Error: command not recognized"
)

// In reports whether the marker occurs in resp.
func (m Marker) In(resp []byte) bool {
	return bytes.Contains(resp, []byte(m))
}

// Small banner signature table mapping substrings to a service name.
// Matching is done case-insensitively. First match wins.
var signatures = []struct {
	Substr  string
	Service string
}{
	{"220 ", "smtp"}, // final greeting line
	{"220-", "smtp"}, // multi-line greeting
	{"ssh-", "ssh"},
	{"http/", "http"},
	{"+ok", "pop3"},
	{"* ok", "imap"},
}

// Detect guesses which service sent banner.
func Detect(banner []byte) (service string, found bool) {
	if len(banner) == 0 {
		return "", false
	}
	lb := strings.ToLower(string(banner))
	for _, s := range signatures {
		if strings.Contains(lb, s.Substr) {
			return s.Service, true
		}
	}
	return "", false
}

// LooksLikeSMTP reports whether banner carries an SMTP 220 greeting.
func LooksLikeSMTP(banner []byte) bool {
	svc, ok := Detect(banner)
	return ok && svc == "smtp"
}
