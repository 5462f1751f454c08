package upstream

import "testing"

func TestParseURLRoundTrips(t *testing.T) {
	cases := []struct {
		in       string
		wantTLS  bool
		wantHost string
		wantPort string
		wantPath string
	}{
		{"wss://ws.okx.com:8443/ws/v5/public", true, "ws.okx.com", "8443", "/ws/v5/public"},
		{"wss://ws.okx.com/ws/v5/public", true, "ws.okx.com", "443", "/ws/v5/public"},
		{"ws://localhost:8080/feed", false, "localhost", "8080", "/feed"},
		{"ws://localhost", false, "localhost", "80", "/"},
		{"wss://host", true, "host", "443", "/"},
	}

	for _, tc := range cases {
		u, err := parseURL(tc.in)
		if err != nil {
			t.Fatalf("parseURL(%q): %v", tc.in, err)
		}
		if u.TLS != tc.wantTLS || u.Host != tc.wantHost || u.Port != tc.wantPort || u.Path != tc.wantPath {
			t.Errorf("parseURL(%q) = %+v, want {TLS:%v Host:%q Port:%q Path:%q}",
				tc.in, u, tc.wantTLS, tc.wantHost, tc.wantPort, tc.wantPath)
		}
	}
}

func TestParseURLRejectsBadScheme(t *testing.T) {
	for _, in := range []string{"http://host/path", "WSS://host", "tcp://host", "host:8080"} {
		if _, err := parseURL(in); err == nil {
			t.Errorf("parseURL(%q) succeeded, want scheme error", in)
		}
	}
}

func TestParseURLRejectsEmptyHost(t *testing.T) {
	if _, err := parseURL("wss:///path"); err == nil {
		t.Error("parseURL with empty host succeeded, want error")
	}
}

func TestDialURLRoundTrip(t *testing.T) {
	u, err := parseURL("wss://ws.okx.com/ws/v5/public")
	if err != nil {
		t.Fatalf("parseURL: %v", err)
	}
	want := "wss://ws.okx.com:443/ws/v5/public"
	if got := u.dialURL(); got != want {
		t.Errorf("dialURL() = %q, want %q", got, want)
	}
}
