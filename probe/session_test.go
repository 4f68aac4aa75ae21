package probe

import (
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smtpenum/smtpstub"
)

const banner = "220 mx.example.com ESMTP Postfix\r\n"

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func dialStub(t *testing.T, srv *smtpstub.Server, opts Options) *Session {
	t.Helper()
	opts.Logger = quietLogger()
	s, err := Dial(context.Background(), Target{Host: srv.Host(), Port: srv.Port()}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDial_BannerVerbatim(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(string) string { return "250 OK" })
	s := dialStub(t, srv, Options{})
	assert.Equal(t, []byte(banner), s.Banner())
}

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	_, err = Dial(context.Background(), Target{Host: "127.0.0.1", Port: port},
		Options{Timeout: 500 * time.Millisecond, Logger: quietLogger()})
	require.Error(t, err)
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "dial", ce.Op)
	assert.Contains(t, []string{"connection refused", "timeout"}, ce.Reason)
}

func TestCheckUser_VRFYFound(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(cmd string) string {
		return "252 2.1.5 " + strings.TrimPrefix(cmd, "VRFY ")
	})
	s := dialStub(t, srv, Options{})

	for _, u := range []string{"alice", "bob", "root", "x.y-z"} {
		res, err := s.CheckUser(u, VRFY)
		require.NoError(t, err)
		assert.Equal(t, Found, res.Verdict, u)
		assert.Equal(t, "VRFY", res.Stage)
	}
	assert.Equal(t, []string{"VRFY alice", "VRFY bob", "VRFY root", "VRFY x.y-z"}, srv.Commands())
}

func TestCheckUser_VRFYUnsupported(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(string) string {
		// carries "252" too; unsupported must win
		return "550 not recognized 252"
	})
	s := dialStub(t, srv, Options{})

	res, err := s.CheckUser("alice", VRFY)
	require.NoError(t, err)
	assert.Equal(t, TechniqueUnsupported, res.Verdict)
}

func TestCheckUser_VRFYNotFound(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(string) string {
		return "550 5.1.1 <alice>: Recipient address rejected: User unknown"
	})
	s := dialStub(t, srv, Options{})

	res, err := s.CheckUser("alice", VRFY)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Verdict)
}

func TestCheckUser_EXPN(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(cmd string) string {
		switch cmd {
		case "EXPN staff":
			return "252 2.1.5 staff"
		case "EXPN nobody":
			return "550 5.1.1 unknown"
		}
		return "502 5.5.2 Error: command not recognized"
	})
	s := dialStub(t, srv, Options{})

	res, err := s.CheckUser("staff", EXPN)
	require.NoError(t, err)
	assert.Equal(t, Found, res.Verdict)

	res, err = s.CheckUser("nobody", EXPN)
	require.NoError(t, err)
	assert.Equal(t, NotFound, res.Verdict)

	res, err = s.CheckUser("other", EXPN)
	require.NoError(t, err)
	assert.Equal(t, TechniqueUnsupported, res.Verdict)
}

func TestCheckUser_RCPTFound(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(string) string { return "250 OK" })
	s := dialStub(t, srv, Options{})

	res, err := s.CheckUser("alice", RCPT)
	require.NoError(t, err)
	assert.Equal(t, Found, res.Verdict)
	assert.Equal(t, "RCPT TO", res.Stage)
	assert.Equal(t, []string{"MAIL FROM: <alice>", "RCPT TO: <alice>"}, srv.Commands())
}

func TestCheckUser_RCPTMailFromRejected(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(string) string {
		return "503 5.5.1 Error: need HELO first"
	})
	s := dialStub(t, srv, Options{})

	res, err := s.CheckUser("alice", RCPT)
	require.NoError(t, err)
	assert.Equal(t, Undetermined, res.Verdict)
	assert.Equal(t, "MAIL FROM", res.Stage)
	assert.Equal(t, []string{"MAIL FROM: <alice>"}, srv.Commands(), "RCPT TO must not be sent")
}

func TestCheckUser_RCPTUnsupported(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(cmd string) string {
		if strings.HasPrefix(cmd, "MAIL FROM") {
			return "250 OK"
		}
		return "502 5.5.2 Error: command not recognized"
	})
	s := dialStub(t, srv, Options{})

	res, err := s.CheckUser("alice", RCPT)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRCPTUnsupported))
	assert.Equal(t, TechniqueUnsupported, res.Verdict)
}

func TestCheckUser_RCPTUndetermined(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(cmd string) string {
		if strings.HasPrefix(cmd, "MAIL FROM") {
			return "250 OK"
		}
		return "450 4.2.0 <alice>: Recipient address rejected: Greylisted"
	})
	s := dialStub(t, srv, Options{})

	res, err := s.CheckUser("alice", RCPT)
	require.NoError(t, err)
	assert.Equal(t, Undetermined, res.Verdict)
	assert.Equal(t, "RCPT TO", res.Stage)
}

func TestCheckUser_FromAndDomain(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(string) string { return "250 OK" })
	s := dialStub(t, srv, Options{From: "probe@example.org", Domain: "example.com"})

	_, err := s.CheckUser("alice", RCPT)
	require.NoError(t, err)
	_, err = s.CheckUser("bob@other.net", VRFY)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"MAIL FROM: <probe@example.org>",
		"RCPT TO: <alice@example.com>",
		"VRFY bob@other.net",
	}, srv.Commands())
}

func TestCheckUser_UnknownTechnique(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(string) string { return "250 OK" })
	s := dialStub(t, srv, Options{})

	_, err := s.CheckUser("alice", Technique("SOML"))
	require.Error(t, err)
	assert.Empty(t, srv.Commands())
}

func TestHello(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(string) string { return "250 mx.example.com" })
	s := dialStub(t, srv, Options{})

	resp, err := s.Hello("probe.local")
	require.NoError(t, err)
	assert.Equal(t, "250 mx.example.com\r\n", string(resp))
	assert.Equal(t, []string{"HELO probe.local"}, srv.Commands())
}

func TestSendCommand_Multiline(t *testing.T) {
	const multi = "250-mx.example.com\r\n250-PIPELINING\r\n250 VRFY\r\n"
	srv := smtpstub.Start(t, "220-mx.example.com ESMTP\r\n220 ready\r\n", func(string) string {
		return multi
	})
	s := dialStub(t, srv, Options{Multiline: true})
	assert.Equal(t, "220-mx.example.com ESMTP\r\n220 ready\r\n", string(s.Banner()))

	resp, err := s.SendCommand("EHLO probe")
	require.NoError(t, err)
	assert.Equal(t, multi, string(resp))

	// the next reply starts cleanly after the reassembled one
	resp, err = s.SendCommand("NOOP")
	require.NoError(t, err)
	assert.Equal(t, multi, string(resp))
}

func TestSendCommand_ServerClosed(t *testing.T) {
	srv := smtpstub.Start(t, banner, func(string) string { return "221 bye" })
	s := dialStub(t, srv, Options{Timeout: time.Second})
	srv.Close()

	_, err := s.SendCommand("VRFY alice")
	if err == nil {
		// the write may land before the reset; the read cannot
		_, err = s.SendCommand("VRFY alice")
	}
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
}

func TestCheckUser_CommandTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := smtpstub.Start(t, banner, func(string) string {
		<-release
		return "252 2.0.0 late"
	})
	t.Cleanup(func() { close(release) })
	s := dialStub(t, srv, Options{Timeout: 200 * time.Millisecond})

	start := time.Now()
	_, err := s.CheckUser("alice", VRFY)
	require.Error(t, err)

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "read", ce.Op)
	assert.Equal(t, "timeout", ce.Reason)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSingleReader_Truncates(t *testing.T) {
	long := strings.Repeat("a", BufferSize+100)
	r := newSingleReader(strings.NewReader(long))
	got, err := r.readReply()
	require.NoError(t, err)
	assert.Len(t, got, BufferSize)
}

func TestParseTechniques(t *testing.T) {
	got, err := ParseTechniques("vrfy, EXPN,rcpt to,VRFY")
	require.NoError(t, err)
	assert.Equal(t, []Technique{VRFY, EXPN, RCPT}, got)

	_, err = ParseTechniques("VRFY,HELO")
	assert.Error(t, err)
	_, err = ParseTechniques(" ")
	assert.Error(t, err)
}

func TestTargetAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1:25", Target{Host: "10.0.0.1"}.Addr())
	assert.Equal(t, "[::1]:2525", Target{Host: "::1", Port: 2525}.Addr())
}
