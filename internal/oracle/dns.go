package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/phrazzld/verifyd/internal/config"
)

// smtpPort is the port MX hosts accept mail on.
const smtpPort = "25"

// Resolver looks up mail exchangers. *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Prober asks a mail exchanger whether it would accept rcpt.
type Prober interface {
	Probe(ctx context.Context, mxHost, sender, rcpt string) (bool, error)
}

// DNSOracle verifies email addresses with local checks followed by an MX
// lookup and, optionally, an SMTP RCPT handshake.
type DNSOracle struct {
	resolver   Resolver
	prober     Prober
	sender     string
	disposable map[string]struct{}
	logger     *slog.Logger
}

var _ Oracle = (*DNSOracle)(nil)

// Option customises a DNSOracle.
type Option func(*DNSOracle)

// WithResolver replaces the system resolver.
func WithResolver(r Resolver) Option {
	return func(o *DNSOracle) { o.resolver = r }
}

// WithProber replaces the SMTP prober. A nil prober disables the SMTP check.
func WithProber(p Prober) Option {
	return func(o *DNSOracle) { o.prober = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *DNSOracle) { o.logger = l }
}

// NewDNSOracle builds an oracle from configuration.
func NewDNSOracle(cfg config.OracleConfig, opts ...Option) *DNSOracle {
	o := &DNSOracle{
		resolver:   net.DefaultResolver,
		sender:     cfg.Sender,
		disposable: make(map[string]struct{}, len(defaultDisposableDomains)+len(cfg.DisposableDomains)),
		logger:     slog.Default(),
	}
	if cfg.SMTPProbe {
		o.prober = SMTPProber{}
	}
	for _, d := range defaultDisposableDomains {
		o.disposable[d] = struct{}{}
	}
	for _, d := range cfg.DisposableDomains {
		o.disposable[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(slog.String("component", "dns_oracle"))
	return o
}

// Verify implements Oracle. Checks stop at the first failure, whose name
// becomes the verdict's Reason. Lookup failures other than "no such domain"
// are returned as errors rather than verdicts.
func (o *DNSOracle) Verify(ctx context.Context, payload string) (*Verdict, error) {
	address := strings.ToLower(strings.TrimSpace(payload))
	v := &Verdict{}

	if !addressRegex.MatchString(address) {
		v.Reason = CheckRegex
		return v, nil
	}
	v.RegexValid = true
	domain := address[strings.LastIndex(address, "@")+1:]

	if fix, ok := commonTypos[domain]; ok {
		v.Typo = true
		v.Suggestion = address[:strings.LastIndex(address, "@")+1] + fix
		v.Reason = CheckTypo
		return v, nil
	}

	if o.isDisposable(domain) {
		v.Disposable = true
		v.Reason = CheckDisposable
		return v, nil
	}

	hosts, err := o.lookupMX(ctx, domain)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		v.Reason = CheckMX
		return v, nil
	}
	v.MXValid = true

	if o.prober == nil {
		v.SMTPValid = true
		v.Valid = true
		return v, nil
	}

	accepted, err := o.prober.Probe(ctx, hosts[0], o.sender, address)
	if err != nil {
		o.logger.Debug("smtp probe failed",
			slog.String("mx_host", hosts[0]),
			slog.String("error", err.Error()))
		accepted = false
	}
	v.SMTPValid = accepted
	if !accepted {
		// The domain takes mail but the handshake would not confirm the
		// mailbox, which is how catch-all and greylisting hosts behave.
		v.CatchAll = true
		v.Reason = CheckSMTP
		return v, nil
	}

	v.Valid = true
	return v, nil
}

func (o *DNSOracle) isDisposable(domain string) bool {
	if _, ok := o.disposable[domain]; ok {
		return true
	}
	for _, p := range disposablePatterns {
		if p.MatchString(domain) {
			return true
		}
	}
	return false
}

// lookupMX returns MX hosts by preference. A domain that does not exist
// yields no hosts and no error.
func (o *DNSOracle) lookupMX(ctx context.Context, domain string) ([]string, error) {
	records, err := o.resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("mx lookup for %s: %w", domain, err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Pref < records[j].Pref })
	hosts := make([]string, 0, len(records))
	for _, r := range records {
		host := strings.TrimSuffix(r.Host, ".")
		// A null MX ("." with preference 0) declares the domain takes no mail.
		if host == "" {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

// SMTPProber performs MAIL FROM / RCPT TO against port 25 and quits before DATA.
type SMTPProber struct {
	// HelloName is sent in EHLO. Defaults to the sender's domain.
	HelloName string
}

// Probe implements Prober.
func (p SMTPProber) Probe(ctx context.Context, mxHost, sender, rcpt string) (bool, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(mxHost, smtpPort))
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", mxHost, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	client, err := smtp.NewClient(conn, mxHost)
	if err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("smtp greeting from %s: %w", mxHost, err)
	}
	defer func() { _ = client.Close() }()

	hello := p.HelloName
	if hello == "" {
		hello = "localhost"
		if at := strings.LastIndex(sender, "@"); at >= 0 {
			hello = sender[at+1:]
		}
	}
	if err := client.Hello(hello); err != nil {
		return false, err
	}
	if err := client.Mail(sender); err != nil {
		return false, err
	}
	if err := client.Rcpt(rcpt); err != nil {
		var reply *textproto.Error
		if errors.As(err, &reply) && reply.Code >= 500 {
			// 5xx is a definite "no such mailbox".
			return false, nil
		}
		return false, err
	}
	_ = client.Quit()
	return true, nil
}
