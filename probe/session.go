package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"smtpenum/sigs"
)

// Dialer is satisfied by *net.Dialer and by the SOCKS5 dialer from netutil.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Options tunes a Session. The zero value gives the reference behavior:
// direct dial, no deadlines, single-read replies, username as sender.
type Options struct {
	Dialer    Dialer
	Timeout   time.Duration // per exchange; 0 leaves OS defaults
	Multiline bool          // reassemble "250-" continuation lines
	From      string        // MAIL FROM sender; empty uses the probed mailbox
	Domain    string        // appended as @Domain to usernames without one
	Logger    logrus.FieldLogger
}

// Session is one connection to an SMTP server. Commands are strictly
// request/response, never pipelined. Not safe for concurrent use.
type Session struct {
	conn   net.Conn
	addr   string
	opts   Options
	reader replyReader
	banner []byte
	log    logrus.FieldLogger
}

// Dial connects to target and reads the greeting.
func Dial(ctx context.Context, target Target, opts Options) (*Session, error) {
	d := opts.Dialer
	if d == nil {
		d = &net.Dialer{Timeout: opts.Timeout}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	addr := target.Addr()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, connError("dial", addr, err)
	}
	s, err := NewSession(conn, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSession wraps an established connection and reads the banner from it.
func NewSession(conn net.Conn, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Session{
		conn: conn,
		addr: conn.RemoteAddr().String(),
		opts: opts,
		log:  log.WithField("server", conn.RemoteAddr().String()),
	}
	if opts.Multiline {
		s.reader = newLineReader(conn)
	} else {
		s.reader = newSingleReader(conn)
	}

	s.setDeadline()
	banner, err := s.reader.readReply()
	if err != nil {
		return nil, connError("read", s.addr, err)
	}
	s.banner = banner
	s.log.WithField("banner", string(banner)).Debug("connected")
	return s, nil
}

// Banner returns the greeting exactly as it was read.
func (s *Session) Banner() []byte { return s.banner }

// Close closes the connection without sending QUIT.
func (s *Session) Close() error {
	return s.conn.Close()
}

// SendCommand writes line plus CRLF and reads one response.
func (s *Session) SendCommand(line string) ([]byte, error) {
	s.setDeadline()
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		return nil, connError("write", s.addr, err)
	}
	s.log.WithField("cmd", line).Debug("sent")

	resp, err := s.reader.readReply()
	if err != nil {
		return nil, connError("read", s.addr, err)
	}
	s.log.WithField("response", string(resp)).Debug("received")
	return resp, nil
}

// Hello sends HELO name. The response is returned unclassified.
func (s *Session) Hello(name string) ([]byte, error) {
	return s.SendCommand("HELO " + name)
}

// CheckUser runs technique t for username. A transport failure is returned as
// a *ConnectionError; RCPT TO being unknown to the server is ErrRCPTUnsupported.
func (s *Session) CheckUser(username string, t Technique) (Result, error) {
	switch t {
	case VRFY, EXPN:
		return s.verify(username, t)
	case RCPT:
		return s.rcpt(username)
	}
	return Result{}, errors.Errorf("unknown technique %q", t)
}

func (s *Session) verify(username string, t Technique) (Result, error) {
	res := Result{Username: username, Technique: t, Stage: string(t)}
	resp, err := s.SendCommand(string(t) + " " + s.mailbox(username))
	if err != nil {
		return res, err
	}
	res.Response = resp

	switch {
	case sigs.NotRecognized.In(resp):
		res.Verdict = TechniqueUnsupported
	case sigs.CannotVerify.In(resp):
		res.Verdict = Found
	default:
		res.Verdict = NotFound
	}
	return res, nil
}

func (s *Session) rcpt(username string) (Result, error) {
	res := Result{Username: username, Technique: RCPT, Stage: "MAIL FROM"}
	mailbox := s.mailbox(username)
	sender := s.opts.From
	if sender == "" {
		sender = mailbox
	}

	resp, err := s.SendCommand("MAIL FROM: <" + sender + ">")
	if err != nil {
		return res, err
	}
	res.Response = resp
	if !sigs.EnvelopeOK.In(resp) {
		res.Verdict = Undetermined
		return res, nil
	}

	res.Stage = "RCPT TO"
	resp, err = s.SendCommand("RCPT TO: <" + mailbox + ">")
	if err != nil {
		return res, err
	}
	res.Response = resp

	switch {
	case sigs.EnvelopeOK.In(resp):
		res.Verdict = Found
	case sigs.RCPTNotRecognized.In(resp):
		res.Verdict = TechniqueUnsupported
		return res, ErrRCPTUnsupported
	default:
		res.Verdict = Undetermined
	}
	return res, nil
}

func (s *Session) mailbox(username string) string {
	if s.opts.Domain == "" || strings.Contains(username, "@") {
		return username
	}
	return username + "@" + s.opts.Domain
}

func (s *Session) setDeadline() {
	if s.opts.Timeout <= 0 {
		return
	}
	if err := s.conn.SetDeadline(time.Now().Add(s.opts.Timeout)); err != nil {
		s.log.WithError(err).Warn("set deadline")
	}
}
