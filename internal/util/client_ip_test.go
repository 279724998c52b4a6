package util

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.10 ", ""})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{name: "untrusted peer ignores headers", remote: "198.51.100.10:1234", xff: "203.0.113.5", realIP: "203.0.113.6", want: "198.51.100.10"},
		{name: "trusted peer uses forwarded for", remote: "10.1.2.3:80", xff: "203.0.113.5", trusted: trusted, want: "203.0.113.5"},
		{name: "rightmost untrusted hop wins", remote: "10.1.2.3:80", xff: "198.51.100.1, 203.0.113.5, 10.0.0.9", trusted: trusted, want: "203.0.113.5"},
		{name: "all hops trusted returns leftmost", remote: "192.168.1.10:80", xff: "10.0.0.1, 10.0.0.2", trusted: trusted, want: "10.0.0.1"},
		{name: "garbage hops are skipped", remote: "10.1.2.3:80", xff: "nonsense, 203.0.113.7", trusted: trusted, want: "203.0.113.7"},
		{name: "real ip fallback", remote: "10.1.2.3:80", realIP: "203.0.113.8", trusted: trusted, want: "203.0.113.8"},
		{name: "mapped v4 peer", remote: "[::ffff:198.51.100.4]:99", want: "198.51.100.4"},
		{name: "unparseable remote addr returned as is", remote: "pipe", want: "pipe"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/leads", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if tp, err := NewTrustedProxies(nil); err != nil || tp != nil {
		t.Fatalf("expected nil allowlist, got %v, %v", tp, err)
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for bad cidr")
	}
	if _, err := NewTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected error for bad address")
	}
	tp, err := NewTrustedProxies([]string{"2001:db8::/32"})
	if err != nil {
		t.Fatalf("parse v6: %v", err)
	}
	if !tp.Contains(netip.MustParseAddr("2001:db8::1")) || tp.Contains(netip.MustParseAddr("2001:db9::1")) {
		t.Fatal("unexpected v6 membership")
	}
}
