package netutil

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

// ContextDialer dials with a context. *net.Dialer satisfies it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewDialer returns a direct dialer, or a SOCKS5 dialer when proxyURL is set
// (socks5://[user:pass@]host:port or socks5h://...).
func NewDialer(proxyURL string, timeout time.Duration) (ContextDialer, error) {
	direct := &net.Dialer{Timeout: timeout}
	if proxyURL == "" {
		return direct, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse proxy url")
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, errors.Errorf("unsupported proxy scheme %q (want socks5 or socks5h)", u.Scheme)
	}
	d, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, errors.Wrap(err, "create proxy dialer")
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd, nil
	}
	return contextless{d}, nil
}

type contextless struct {
	d proxy.Dialer
}

func (c contextless) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.d.Dial(network, addr)
}
