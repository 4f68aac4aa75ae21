package netutil

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// LookupIPFunc is the system lookup used when no nameserver is configured.
// Tests replace it.
var LookupIPFunc = net.DefaultResolver.LookupIP

// resolvConf is read when MX lookups run without an explicit nameserver.
var resolvConf = "/etc/resolv.conf"

// Resolver turns the target argument into an address to dial.
// With Nameserver empty, host lookups go through the system resolver.
type Resolver struct {
	Nameserver string // host or host:port, queried directly with miekg/dns
	Timeout    time.Duration
}

// ResolveHost returns host unchanged when it is an IP literal, otherwise its
// first IPv4 address, falling back to IPv6.
func (r *Resolver) ResolveHost(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}

	var ips []net.IP
	var err error
	if r.Nameserver == "" {
		ips, err = LookupIPFunc(ctx, "ip", host)
	} else {
		ips, err = r.lookupIP(ctx, host)
	}
	if err != nil {
		return "", errors.WithStack(err)
	}

	var firstV6 net.IP
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
		if firstV6 == nil {
			firstV6 = ip
		}
	}
	if firstV6 != nil {
		return firstV6.String(), nil
	}
	return "", errors.Errorf("no A or AAAA records found for %s", host)
}

// LookupMX returns the mail exchangers of domain, best preference first,
// without the trailing dot.
func (r *Resolver) LookupMX(ctx context.Context, domain string) ([]string, error) {
	in, err := r.exchange(ctx, domain, dns.TypeMX)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var mxs []*dns.MX
	for _, rr := range in.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			mxs = append(mxs, mx)
		}
	}
	if len(mxs) == 0 {
		return nil, errors.Errorf("no MX records found for %s", domain)
	}
	sort.SliceStable(mxs, func(i, j int) bool { return mxs[i].Preference < mxs[j].Preference })

	out := make([]string, 0, len(mxs))
	for _, mx := range mxs {
		out = append(out, strings.TrimSuffix(mx.Mx, "."))
	}
	return out, nil
}

func (r *Resolver) lookupIP(ctx context.Context, host string) ([]net.IP, error) {
	var ips []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		in, err := r.exchange(ctx, host, qtype)
		if err != nil {
			return nil, err
		}
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *dns.A:
				ips = append(ips, v.A)
			case *dns.AAAA:
				ips = append(ips, v.AAAA)
			}
		}
		if len(ips) > 0 {
			break
		}
	}
	return ips, nil
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	server, err := r.server()
	if err != nil {
		return nil, err
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	c := new(dns.Client)
	if r.Timeout > 0 {
		c.Timeout = r.Timeout
	}
	in, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, errors.Errorf("%s %s: %s", dns.TypeToString[qtype], name, dns.RcodeToString[in.Rcode])
	}
	return in, nil
}

func (r *Resolver) server() (string, error) {
	if r.Nameserver != "" {
		if _, _, err := net.SplitHostPort(r.Nameserver); err == nil {
			return r.Nameserver, nil
		}
		return net.JoinHostPort(r.Nameserver, "53"), nil
	}
	conf, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return "", errors.Wrap(err, "read resolver config")
	}
	if len(conf.Servers) == 0 {
		return "", errors.Errorf("no nameservers in %s", resolvConf)
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}
