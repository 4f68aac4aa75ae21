package probe

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultPort is the SMTP port used when the target does not name one.
const DefaultPort = 25

// Technique names the SMTP command used as an enumeration oracle.
type Technique string

const (
	VRFY Technique = "VRFY"
	EXPN Technique = "EXPN"
	RCPT Technique = "RCPT"
)

// ParseTechnique accepts a technique name in any case. "RCPT TO" is accepted as RCPT.
func ParseTechnique(s string) (Technique, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VRFY":
		return VRFY, nil
	case "EXPN":
		return EXPN, nil
	case "RCPT", "RCPT TO":
		return RCPT, nil
	}
	return "", errors.Errorf("unknown technique %q (want VRFY, EXPN or RCPT)", s)
}

// ParseTechniques parses a comma separated technique chain, e.g. "VRFY,EXPN".
func ParseTechniques(spec string) ([]Technique, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty technique list")
	}
	seen := make(map[Technique]struct{})
	var out []Technique
	for _, tok := range strings.Split(spec, ",") {
		t, err := ParseTechnique(tok)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// Verdict is the classified outcome of one check for one username.
type Verdict int

const (
	NotFound Verdict = iota
	Found
	Undetermined
	TechniqueUnsupported
)

func (v Verdict) String() string {
	switch v {
	case Found:
		return "found"
	case NotFound:
		return "not found"
	case Undetermined:
		return "undetermined"
	case TechniqueUnsupported:
		return "unsupported"
	}
	return "verdict(" + strconv.Itoa(int(v)) + ")"
}

// Target is the SMTP server being probed.
type Target struct {
	Host string
	Port int
}

// Addr returns host:port, bracketing IPv6 literals.
func (t Target) Addr() string {
	port := t.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Result is the outcome of CheckUser.
type Result struct {
	Username  string
	Technique Technique
	Verdict   Verdict
	Stage     string // command whose response decided the verdict: "VRFY" | "EXPN" | "MAIL FROM" | "RCPT TO"
	Response  []byte
}
