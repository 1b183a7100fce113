package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		realIP     string
		forwarded  string
		want       string
	}{
		{"no proxies ignores headers", nil, "203.0.113.9:5000", "1.1.1.1", "", "203.0.113.9:5000"},
		{"untrusted peer ignores headers", []string{"10.0.0.0/8"}, "203.0.113.9:5000", "1.1.1.1", "", "203.0.113.9:5000"},
		{"trusted peer uses X-Real-IP", []string{"10.0.0.0/8"}, "10.1.2.3:5000", "198.51.100.7", "", "198.51.100.7"},
		{"trusted peer uses first forwarded hop", []string{"10.0.0.0/8"}, "10.1.2.3:5000", "", "198.51.100.7, 10.1.2.3", "198.51.100.7"},
		{"single IP entry", []string{"127.0.0.1"}, "127.0.0.1:5000", "198.51.100.7", "", "198.51.100.7"},
		{"invalid header value ignored", []string{"10.0.0.0/8"}, "10.1.2.3:5000", "not-an-ip", "", "10.1.2.3:5000"},
		{"invalid proxy entry skipped", []string{"bogus"}, "10.1.2.3:5000", "198.51.100.7", "", "10.1.2.3:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"[::1]:54321", "::1"},
		{"198.51.100.7", "198.51.100.7"},
	}

	for _, tt := range tests {
		if got := ClientIP(tt.in); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
