package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret string, header, claims map[string]any) string {
	t.Helper()
	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)
	claimsB64 := base64.RawURLEncoding.EncodeToString(claimsJSON)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(headerB64 + "." + claimsB64))
	sigB64 := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return headerB64 + "." + claimsB64 + "." + sigB64
}

func validClaims(now time.Time) map[string]any {
	return map[string]any{
		"sub": "user-123",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func newTestVerifier(now time.Time) *JWTVerifier {
	v := NewJWTVerifier(testSecret)
	v.now = func() time.Time { return now }
	return v
}

func TestJWTVerifierAcceptsValidToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(now)

	token := mintToken(t, testSecret, map[string]any{"alg": "HS256", "typ": "JWT"}, validClaims(now))
	user, err := v.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.UserID != "user-123" {
		t.Fatalf("UserID=%q, want user-123", user.UserID)
	}
	if user.Anonymous() {
		t.Fatal("Anonymous()=true for authenticated user")
	}
}

func TestJWTVerifierRejections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	hs256 := map[string]any{"alg": "HS256", "typ": "JWT"}

	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  error
	}{
		{
			name:  "empty token",
			token: func(t *testing.T) string { return "" },
			want:  ErrMissingCredentials,
		},
		{
			name:  "garbage",
			token: func(t *testing.T) string { return "not.a.jwt" },
			want:  ErrInvalidCredentials,
		},
		{
			name: "wrong secret",
			token: func(t *testing.T) string {
				return mintToken(t, "other-secret", hs256, validClaims(now))
			},
			want: ErrInvalidCredentials,
		},
		{
			name: "unsupported alg",
			token: func(t *testing.T) string {
				return mintToken(t, testSecret, map[string]any{"alg": "RS256"}, validClaims(now))
			},
			want: ErrUnsupportedJWT,
		},
		{
			name: "alg none",
			token: func(t *testing.T) string {
				return mintToken(t, testSecret, map[string]any{"alg": "none"}, validClaims(now))
			},
			want: ErrUnsupportedJWT,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				claims := validClaims(now)
				claims["exp"] = now.Add(-time.Minute).Unix()
				return mintToken(t, testSecret, hs256, claims)
			},
			want: ErrInvalidCredentials,
		},
		{
			name: "missing exp",
			token: func(t *testing.T) string {
				claims := validClaims(now)
				delete(claims, "exp")
				return mintToken(t, testSecret, hs256, claims)
			},
			want: ErrInvalidCredentials,
		},
		{
			name: "missing iat",
			token: func(t *testing.T) string {
				claims := validClaims(now)
				delete(claims, "iat")
				return mintToken(t, testSecret, hs256, claims)
			},
			want: ErrInvalidCredentials,
		},
		{
			name: "not yet valid",
			token: func(t *testing.T) string {
				claims := validClaims(now)
				claims["nbf"] = now.Add(time.Minute).Unix()
				return mintToken(t, testSecret, hs256, claims)
			},
			want: ErrInvalidCredentials,
		},
		{
			name: "missing sub",
			token: func(t *testing.T) string {
				claims := validClaims(now)
				delete(claims, "sub")
				return mintToken(t, testSecret, hs256, claims)
			},
			want: ErrInvalidCredentials,
		},
		{
			name: "empty sub",
			token: func(t *testing.T) string {
				claims := validClaims(now)
				claims["sub"] = ""
				return mintToken(t, testSecret, hs256, claims)
			},
			want: ErrInvalidCredentials,
		},
		{
			name: "padded base64 segment",
			token: func(t *testing.T) string {
				tok := mintToken(t, testSecret, hs256, validClaims(now))
				return tok + "="
			},
			want: ErrInvalidCredentials,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVerifier(now)
			if _, err := v.Authenticate(tc.token(t)); err != tc.want {
				t.Fatalf("Authenticate err=%v, want %v", err, tc.want)
			}
		})
	}
}

func TestJWTVerifierHonorsNbfInThePast(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVerifier(now)

	claims := validClaims(now)
	claims["nbf"] = now.Add(-time.Minute).Unix()
	token := mintToken(t, testSecret, map[string]any{"alg": "HS256"}, claims)

	if _, err := v.Authenticate(token); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
}
