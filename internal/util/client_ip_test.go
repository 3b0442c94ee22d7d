package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{"172.16.0.0/12", "10.1.2.3"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		realIP     string
		proxies    *TrustedProxies
		want       string
	}{
		{
			name:       "direct client without proxy config",
			remoteAddr: "203.0.113.40:52011",
			forwarded:  "198.51.100.9",
			realIP:     "198.51.100.8",
			want:       "203.0.113.40",
		},
		{
			name:       "forwarded-for honored behind trusted proxy",
			remoteAddr: "172.16.4.4:52011",
			forwarded:  "198.51.100.9",
			proxies:    proxies,
			want:       "198.51.100.9",
		},
		{
			name:       "rightmost untrusted hop wins",
			remoteAddr: "172.16.4.4:52011",
			forwarded:  "198.51.100.9, 10.1.2.3",
			proxies:    proxies,
			want:       "198.51.100.9",
		},
		{
			name:       "real-ip fallback when forwarded-for is garbage",
			remoteAddr: "172.16.4.4:52011",
			forwarded:  "not-an-address",
			realIP:     "198.51.100.12",
			proxies:    proxies,
			want:       "198.51.100.12",
		},
		{
			name:       "chain of only trusted hops keeps the leftmost",
			remoteAddr: "172.16.4.4:52011",
			forwarded:  "172.16.9.9, 10.1.2.3",
			proxies:    proxies,
			want:       "172.16.9.9",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://reviews.local/api/v1/titles", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.proxies); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxiesRejectsBadEntries(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"172.16.0.0/12", "10.1.2.3"}); err != nil {
		t.Fatalf("valid entries: %v", err)
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/badmask"}); err == nil {
		t.Fatal("malformed cidr must not parse")
	}
}
