package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var ErrUnsupportedJWT = errors.New("unsupported jwt")

const (
	// HMAC-SHA256 output size in bytes.
	hmacSHA256SigLen = 32
	// base64url-no-pad encoding length for a 32-byte HMAC:
	// - 32 bytes => 44 chars with one '=' padding
	// - without padding => 43 chars
	hmacSHA256SigB64Len = 43
	maxJWTHeaderB64Len  = 4 * 1024
	maxJWTPayloadB64Len = 16 * 1024
	maxJWTLen           = maxJWTHeaderB64Len + 1 + maxJWTPayloadB64Len + 1 + hmacSHA256SigB64Len
)

// JWTVerifier checks HS256 tokens minted by the login service.
//
// The implementation is intentionally dependency-free and strict: canonical
// base64url-no-pad segments only, exp/iat required, nbf honored when present.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Authenticate verifies token and returns the user identified by its `sub`
// claim.
func (v *JWTVerifier) Authenticate(token string) (UserRecord, error) {
	if token == "" {
		return UserRecord{}, ErrMissingCredentials
	}

	headerB64, payloadB64, sigB64, ok := splitJWTParts(token)
	if !ok {
		return UserRecord{}, ErrInvalidCredentials
	}

	headerJSON, err := base64.RawURLEncoding.DecodeString(headerB64)
	if err != nil {
		return UserRecord{}, ErrInvalidCredentials
	}
	var header struct {
		Alg string `json:"alg"`
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return UserRecord{}, ErrInvalidCredentials
	}
	if header.Alg == "" {
		return UserRecord{}, ErrInvalidCredentials
	}
	if header.Alg != "HS256" {
		return UserRecord{}, ErrUnsupportedJWT
	}

	gotSig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return UserRecord{}, ErrInvalidCredentials
	}
	if len(gotSig) != hmacSHA256SigLen {
		return UserRecord{}, ErrInvalidCredentials
	}

	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write([]byte(headerB64))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write([]byte(payloadB64))
	if !hmac.Equal(gotSig, mac.Sum(nil)) {
		return UserRecord{}, ErrInvalidCredentials
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return UserRecord{}, ErrInvalidCredentials
	}

	dec := json.NewDecoder(bytes.NewReader(payloadJSON))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return UserRecord{}, ErrInvalidCredentials
	}
	// json.Decoder allows trailing bytes after the first top-level value. Ensure
	// the payload is exactly one JSON object.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return UserRecord{}, ErrInvalidCredentials
	}

	now := v.now().Unix()

	exp, ok := claims["exp"]
	if !ok {
		return UserRecord{}, ErrInvalidCredentials
	}
	expUnix, err := parseUnixTimestamp(exp)
	if err != nil || now >= expUnix {
		return UserRecord{}, ErrInvalidCredentials
	}

	iat, ok := claims["iat"]
	if !ok {
		return UserRecord{}, ErrInvalidCredentials
	}
	if _, err := parseUnixTimestamp(iat); err != nil {
		return UserRecord{}, ErrInvalidCredentials
	}

	if nbf, ok := claims["nbf"]; ok {
		nbfUnix, err := parseUnixTimestamp(nbf)
		if err != nil || now < nbfUnix {
			return UserRecord{}, ErrInvalidCredentials
		}
	}

	subRaw, ok := claims["sub"]
	if !ok {
		return UserRecord{}, ErrInvalidCredentials
	}
	sub, ok := subRaw.(string)
	if !ok || sub == "" {
		return UserRecord{}, ErrInvalidCredentials
	}

	return UserRecord{UserID: sub}, nil
}

func splitJWTParts(token string) (headerB64, payloadB64, sigB64 string, ok bool) {
	if token == "" || len(token) > maxJWTLen {
		return "", "", "", false
	}
	headerB64, rest, found := strings.Cut(token, ".")
	if !found {
		return "", "", "", false
	}
	payloadB64, sigB64, found = strings.Cut(rest, ".")
	if !found {
		return "", "", "", false
	}
	if strings.Contains(sigB64, ".") {
		return "", "", "", false
	}
	if headerB64 == "" || payloadB64 == "" || sigB64 == "" {
		return "", "", "", false
	}
	if len(headerB64) > maxJWTHeaderB64Len || len(payloadB64) > maxJWTPayloadB64Len {
		return "", "", "", false
	}
	if len(sigB64) != hmacSHA256SigB64Len {
		return "", "", "", false
	}
	if !isBase64urlNoPad(headerB64, maxJWTHeaderB64Len) ||
		!isBase64urlNoPad(payloadB64, maxJWTPayloadB64Len) ||
		!isBase64urlNoPad(sigB64, hmacSHA256SigB64Len) {
		return "", "", "", false
	}
	return headerB64, payloadB64, sigB64, true
}

func isBase64urlNoPad(raw string, maxLen int) bool {
	if raw == "" || len(raw) > maxLen {
		return false
	}
	// Base64url without padding cannot have length mod 4 == 1.
	if len(raw)%4 == 1 {
		return false
	}
	for i := 0; i < len(raw); i++ {
		if _, ok := b64urlValue(raw[i]); !ok {
			return false
		}
	}
	// Canonical base64url-no-pad: the unused bits in the final quantum must be
	// zero.
	switch len(raw) % 4 {
	case 0:
		return true
	case 2:
		last, _ := b64urlValue(raw[len(raw)-1])
		return (last & 0x0f) == 0
	case 3:
		last, _ := b64urlValue(raw[len(raw)-1])
		return (last & 0x03) == 0
	default:
		return false
	}
}

func b64urlValue(b byte) (byte, bool) {
	switch {
	case b >= 'A' && b <= 'Z':
		return b - 'A', true
	case b >= 'a' && b <= 'z':
		return b - 'a' + 26, true
	case b >= '0' && b <= '9':
		return b - '0' + 52, true
	case b == '-':
		return 62, true
	case b == '_':
		return 63, true
	default:
		return 0, false
	}
}

func parseUnixTimestamp(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Int64()
	default:
		return 0, fmt.Errorf("invalid timestamp %T", v)
	}
}
