package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DavidGamba/go-getoptions"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"smtpenum/netutil"
	"smtpenum/output"
	"smtpenum/probe"
	"smtpenum/scanner"
	"smtpenum/sigs"
	"smtpenum/users"
)

// Exit codes.
const (
	exitOK    = 0
	exitFatal = 1 // no usernames given, or RCPT TO unsupported
	exitUsage = 2
)

type config struct {
	ip         string
	port       int
	user       string
	file       string
	techniques string
	from       string
	domain     string
	helo       string
	multiline  bool
	timeout    string
	proxy      string
	resolver   string
	mx         bool
	outFile    string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var cfg config
	opt := getoptions.New()
	opt.SetUnknownMode(getoptions.Fail)
	opt.Bool("help", false, opt.Alias("h", "?"))
	opt.StringVar(&cfg.ip, "ip", "", opt.Required(), opt.Description("Target server IP address (or mail domain with --mx)"))
	opt.IntVar(&cfg.port, "port", probe.DefaultPort, opt.Description("SMTP port"))
	opt.StringVar(&cfg.user, "user", "", opt.Description("Username to check"))
	opt.StringVar(&cfg.file, "file", "", opt.Description("File with a list of usernames"))
	opt.StringVar(&cfg.techniques, "technique", string(probe.VRFY), opt.Alias("t"),
		opt.Description("Comma separated technique chain: VRFY, EXPN, RCPT"))
	opt.StringVar(&cfg.from, "from", "", opt.Description("MAIL FROM sender for RCPT (default: the probed username)"))
	opt.StringVar(&cfg.domain, "domain", "", opt.Description("Domain appended to usernames without one"))
	opt.StringVar(&cfg.helo, "helo", "", opt.Description("Send HELO with this name after the banner"))
	opt.BoolVar(&cfg.multiline, "multiline", false, opt.Description("Read full multi-line replies instead of a single 1024 byte read"))
	opt.StringVar(&cfg.timeout, "timeout", "0s", opt.Description("Dial and per-command timeout, 0s for none"))
	opt.StringVar(&cfg.proxy, "proxy", "", opt.Description("SOCKS5 proxy, socks5://[user:pass@]host:port"))
	opt.StringVar(&cfg.resolver, "resolver", "", opt.Description("DNS server used to resolve the target"))
	opt.BoolVar(&cfg.mx, "mx", false, opt.Description("Treat --ip as a mail domain and probe its best MX"))
	opt.StringVar(&cfg.outFile, "output", "", opt.Alias("o"), opt.Description("Also write the output to this file"))
	opt.BoolVar(&cfg.verbose, "verbose", false, opt.Alias("v"), opt.Description("Debug logging to stderr"))

	_, err := opt.Parse(args)
	if opt.Called("help") {
		fmt.Fprint(stdout, opt.Help())
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		fmt.Fprint(stderr, opt.Help())
		return exitUsage
	}

	log := logrus.New()
	log.SetOutput(stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	techniques, err := probe.ParseTechniques(cfg.techniques)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	timeout, err := time.ParseDuration(cfg.timeout)
	if err != nil || timeout < 0 {
		fmt.Fprintf(stderr, "error: invalid --timeout %q\n", cfg.timeout)
		return exitUsage
	}
	dialer, err := netutil.NewDialer(cfg.proxy, timeout)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	var out io.Writer = stdout
	if cfg.outFile != "" {
		tr := output.NewTranscript(cfg.outFile)
		out = io.MultiWriter(stdout, tr)
		defer func() {
			if err := tr.Flush(); err != nil {
				log.WithError(err).Error("failed to write output file")
			}
		}()
	}
	console := output.NewConsole(out, cfg.outFile == "" && isTerminal(stdout))

	usernames, err := users.Load(cfg.user, cfg.file)
	if errors.Is(err, users.ErrNoUsers) {
		console.Println("Please specify --user or --file.")
		return exitFatal
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}
	if cfg.user != "" && cfg.file != "" {
		log.WithField("file", cfg.file).Warn("--user given, ignoring --file")
	}

	return probeTarget(ctx, cfg, probe.Options{
		Dialer:    dialer,
		Timeout:   timeout,
		Multiline: cfg.multiline,
		From:      cfg.from,
		Domain:    cfg.domain,
		Logger:    log,
	}, techniques, usernames, console, log)
}

// probeTarget opens the session and runs the checks. Transport failures are
// reported and end the run normally; only RCPT TO being unsupported is fatal.
func probeTarget(ctx context.Context, cfg config, opts probe.Options, techniques []probe.Technique,
	usernames []string, console *output.Console, log *logrus.Logger) int {
	resolver := &netutil.Resolver{Nameserver: cfg.resolver, Timeout: opts.Timeout}
	addr, err := resolveTarget(ctx, cfg, resolver, log)
	if err != nil {
		console.Error(err)
		return exitOK
	}

	target := probe.Target{Host: addr, Port: cfg.port}
	log.WithFields(logrus.Fields{"target": target.Addr(), "users": len(usernames), "techniques": techniques}).
		Debug("connecting")

	session, err := probe.Dial(ctx, target, opts)
	if err != nil {
		console.Error(err)
		return exitOK
	}
	defer session.Close()
	// a blocked read only wakes up when the socket is closed
	stop := context.AfterFunc(ctx, func() { _ = session.Close() })
	defer stop()

	console.Banner(session.Banner())
	if svc, _ := sigs.Detect(session.Banner()); svc != "smtp" {
		log.WithFields(logrus.Fields{"service": svc, "banner": string(session.Banner())}).
			Warn("banner does not look like an SMTP greeting")
	}

	if cfg.helo != "" {
		resp, err := session.Hello(cfg.helo)
		if err != nil {
			console.Error(err)
			return exitOK
		}
		log.WithField("response", string(resp)).Debug("HELO")
	}

	mgr := scanner.NewManager(scanner.Config{Techniques: techniques, Logger: log})
	sum, err := mgr.Run(ctx, session, usernames, console)
	log.WithFields(logrus.Fields{
		"checked":      sum.Checked,
		"found":        sum.Found,
		"not_found":    sum.NotFound,
		"undetermined": sum.Undetermined,
	}).Debug("run finished")

	switch {
	case ctx.Err() != nil:
		log.WithField("checked", sum.Checked).Warn("interrupted")
		return exitOK
	case err == nil, errors.Is(err, scanner.ErrNoTechnique):
		return exitOK
	case errors.Is(err, probe.ErrRCPTUnsupported):
		return exitFatal
	}
	console.Error(err)
	return exitOK
}

// resolveTarget turns --ip into an address to dial, through the best MX
// first when --mx is set. DNS failures come back as *probe.ConnectionError.
func resolveTarget(ctx context.Context, cfg config, resolver *netutil.Resolver, log logrus.FieldLogger) (string, error) {
	host := cfg.ip
	if cfg.mx {
		mxs, err := resolver.LookupMX(ctx, cfg.ip)
		if err != nil {
			return "", probe.NewConnectionError("resolve", cfg.ip, err)
		}
		log.WithField("mx", mxs).Info("using best mail exchanger")
		host = mxs[0]
	}
	// resolve up front so --resolver applies; the proxy still receives an IP
	addr, err := resolver.ResolveHost(ctx, host)
	if err != nil {
		return "", probe.NewConnectionError("resolve", host, err)
	}
	return addr, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
