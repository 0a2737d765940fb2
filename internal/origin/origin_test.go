package origin

import "testing"

func TestAllowedSameHostDefault(t *testing.T) {
	tests := []struct {
		name        string
		origin      string
		requestHost string
		want        bool
	}{
		{"no origin header", "", "relay.example.com", true},
		{"same host", "https://relay.example.com", "relay.example.com", true},
		{"same host http", "http://relay.example.com", "relay.example.com", true},
		{"case-insensitive host", "https://Relay.Example.com", "relay.example.com", true},
		{"default https port stripped", "https://relay.example.com:443", "relay.example.com", true},
		{"default http port stripped", "http://relay.example.com:80", "relay.example.com", true},
		{"different host", "https://evil.example.com", "relay.example.com", false},
		{"different port", "https://relay.example.com:8443", "relay.example.com", false},
		{"null origin", "null", "relay.example.com", false},
		{"garbage", "not a url", "relay.example.com", false},
		{"non-http scheme", "ftp://relay.example.com", "relay.example.com", false},
		{"origin with path", "https://relay.example.com/app", "relay.example.com", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allowed(tc.origin, tc.requestHost, nil); got != tc.want {
				t.Fatalf("Allowed(%q, %q, nil)=%v, want %v", tc.origin, tc.requestHost, got, tc.want)
			}
		})
	}
}

func TestAllowedWithExplicitList(t *testing.T) {
	allowed := []string{"https://app.example.com"}

	if !Allowed("https://app.example.com", "relay.example.com", allowed) {
		t.Fatal("listed origin refused")
	}
	if Allowed("https://other.example.com", "relay.example.com", allowed) {
		t.Fatal("unlisted origin allowed")
	}
	// Same-host fallback does not apply once a list is configured.
	if Allowed("https://relay.example.com", "relay.example.com", allowed) {
		t.Fatal("same-host origin allowed despite explicit list")
	}
}

func TestAllowedWildcard(t *testing.T) {
	wildcard := []string{"*"}
	if !Allowed("https://anywhere.example.com", "relay.example.com", wildcard) {
		t.Fatal("wildcard refused an origin")
	}
	if !Allowed("null", "relay.example.com", wildcard) {
		t.Fatal("wildcard refused a null origin")
	}
	if Allowed("definitely not an origin", "relay.example.com", wildcard) {
		t.Fatal("wildcard allowed a malformed origin")
	}
}
