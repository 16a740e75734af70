package oracle_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/phrazzld/verifyd/internal/config"
	"github.com/phrazzld/verifyd/internal/oracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	records map[string][]*net.MX
	err     error
}

func (r fakeResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	if r.err != nil {
		return nil, r.err
	}
	mx, ok := r.records[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return mx, nil
}

type fakeProber struct {
	accept bool
	err    error
	calls  []string
}

func (p *fakeProber) Probe(_ context.Context, mxHost, sender, rcpt string) (bool, error) {
	p.calls = append(p.calls, mxHost+"|"+sender+"|"+rcpt)
	return p.accept, p.err
}

var exampleMX = map[string][]*net.MX{
	"example.com": {
		{Host: "mx2.example.com.", Pref: 20},
		{Host: "mx1.example.com.", Pref: 10},
	},
	"nullmx.org": {{Host: ".", Pref: 0}},
}

func TestDNSOracle_Verify(t *testing.T) {
	t.Parallel()

	cfg := config.OracleConfig{Sender: "probe@verifyd.dev", DisposableDomains: []string{"Burner.IO"}}

	tests := []struct {
		name    string
		payload string
		want    oracle.Verdict
	}{
		{
			name:    "bad syntax",
			payload: "not-an-address",
			want:    oracle.Verdict{Reason: oracle.CheckRegex},
		},
		{
			name:    "typo",
			payload: "jane@gmial.com",
			want: oracle.Verdict{
				Reason: oracle.CheckTypo, RegexValid: true, Typo: true, Suggestion: "jane@gmail.com",
			},
		},
		{
			name:    "known disposable",
			payload: "x@mailinator.com",
			want:    oracle.Verdict{Reason: oracle.CheckDisposable, RegexValid: true, Disposable: true},
		},
		{
			name:    "configured disposable",
			payload: "x@burner.io",
			want:    oracle.Verdict{Reason: oracle.CheckDisposable, RegexValid: true, Disposable: true},
		},
		{
			name:    "no such domain",
			payload: "x@nowhere.invalid",
			want:    oracle.Verdict{Reason: oracle.CheckMX, RegexValid: true},
		},
		{
			name:    "null mx",
			payload: "x@nullmx.org",
			want:    oracle.Verdict{Reason: oracle.CheckMX, RegexValid: true},
		},
		{
			name:    "valid without smtp probe",
			payload: "  Jane@Example.com ",
			want:    oracle.Verdict{Valid: true, RegexValid: true, MXValid: true, SMTPValid: true},
		},
	}

	o := oracle.NewDNSOracle(cfg, oracle.WithResolver(fakeResolver{records: exampleMX}))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, err := o.Verify(context.Background(), tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *v)
		})
	}
}

func TestDNSOracle_SMTPProbe(t *testing.T) {
	t.Parallel()

	cfg := config.OracleConfig{Sender: "probe@verifyd.dev"}

	accepting := &fakeProber{accept: true}
	o := oracle.NewDNSOracle(cfg,
		oracle.WithResolver(fakeResolver{records: exampleMX}),
		oracle.WithProber(accepting))
	v, err := o.Verify(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.True(t, v.SMTPValid)
	require.Len(t, accepting.calls, 1)
	assert.Equal(t, "mx1.example.com|probe@verifyd.dev|jane@example.com", accepting.calls[0],
		"the most preferred exchanger is probed")

	rejecting := &fakeProber{err: errors.New("connection reset")}
	o = oracle.NewDNSOracle(cfg,
		oracle.WithResolver(fakeResolver{records: exampleMX}),
		oracle.WithProber(rejecting))
	v, err = o.Verify(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.True(t, v.MXValid)
	assert.True(t, v.CatchAll)
	assert.Equal(t, oracle.CheckSMTP, v.Reason)
}

func TestDNSOracle_ResolverFailureIsAnError(t *testing.T) {
	t.Parallel()

	o := oracle.NewDNSOracle(config.OracleConfig{},
		oracle.WithResolver(fakeResolver{err: &net.DNSError{Err: "server misbehaving", IsTemporary: true}}))

	v, err := o.Verify(context.Background(), "jane@example.com")
	assert.Nil(t, v)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "mx lookup")
}
