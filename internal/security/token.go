package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// AccessTokens issues and verifies access tokens for an identity.
type AccessTokens struct {
	codec  Codec
	signer *Signer
	ttl    time.Duration
}

func NewAccessTokens(codec Codec, signer *Signer, ttl time.Duration) *AccessTokens {
	return &AccessTokens{codec: codec, signer: signer, ttl: ttl}
}

func (a *AccessTokens) TTL() time.Duration {
	return a.ttl
}

func (a *AccessTokens) Issue(claims IdentityClaims) (string, error) {
	return a.signer.Sign(a.codec.Encode(claims, a.ttl))
}

// Verify checks signature and validity window, then the claims shape.
// Errors are ErrInvalidSignature, ErrExpired, ErrNotYetValid, ErrMalformed
// or *SchemaViolation.
func (a *AccessTokens) Verify(token string) (IdentityClaims, error) {
	payload, err := a.signer.Verify(token)
	if err != nil {
		return IdentityClaims{}, err
	}
	return a.codec.Decode(payload)
}

// SecurityTokenBytes is the entropy of emailed security tokens; the encoded
// value is 64 hex characters.
const SecurityTokenBytes = 32

// GenerateSecurityToken returns a random hex token of n bytes of entropy.
func GenerateSecurityToken(n int) (string, error) {
	if n <= 0 {
		n = SecurityTokenBytes
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate security token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateRefreshToken returns the raw refresh token and its storage hash.
func GenerateRefreshToken(length int) (string, string, error) {
	if length <= 0 {
		length = 48
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}

	token := base64.RawURLEncoding.EncodeToString(buf)
	return token, HashToken(token), nil
}

// HashToken is the at-rest form of opaque tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
