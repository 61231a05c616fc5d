package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authsvc/internal/clock"
)

func newSigner(t *testing.T, alg, secret, previous string, clk clock.Clock) *Signer {
	t.Helper()
	s, err := NewSigner(alg, secret, previous, clk)
	require.NoError(t, err)
	return s
}

func TestSignVerifyRoundTrip(t *testing.T) {
	clk := clock.NewManual(epoch)
	codec := NewCodec(clk)
	signer := newSigner(t, "HS256", "primary-secret", "", clk)

	token, err := signer.Sign(codec.Encode(sampleClaims(), time.Minute))
	require.NoError(t, err)

	payload, err := signer.Verify(token)
	require.NoError(t, err)

	claims, err := codec.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, sampleClaims(), claims)
}

func TestVerifyValidityWindow(t *testing.T) {
	clk := clock.NewManual(epoch)
	codec := NewCodec(clk)
	signer := newSigner(t, "HS512", "primary-secret", "", clk)

	token, err := signer.Sign(codec.Encode(sampleClaims(), time.Minute))
	require.NoError(t, err)

	clk.Set(epoch.Add(time.Minute))
	_, err = signer.Verify(token)
	assert.NoError(t, err, "a token is still valid at its exp second")

	clk.Set(epoch.Add(time.Minute + time.Second))
	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrInvalidSignature)

	clk.Set(epoch.Add(-time.Second))
	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrNotYetValid)
}

func TestVerifyWrongSecret(t *testing.T) {
	clk := clock.NewManual(epoch)
	codec := NewCodec(clk)
	issuer := newSigner(t, "HS256", "attacker", "", clk)
	verifier := newSigner(t, "HS256", "primary-secret", "", clk)

	token, err := issuer.Sign(codec.Encode(sampleClaims(), time.Minute))
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsOtherAlgorithm(t *testing.T) {
	clk := clock.NewManual(epoch)
	codec := NewCodec(clk)
	issuer := newSigner(t, "HS256", "primary-secret", "", clk)
	verifier := newSigner(t, "HS512", "primary-secret", "", clk)

	token, err := issuer.Sign(codec.Encode(sampleClaims(), time.Minute))
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSecretRotation(t *testing.T) {
	clk := clock.NewManual(epoch)
	codec := NewCodec(clk)
	old := newSigner(t, "HS256", "old-secret", "", clk)
	rotated := newSigner(t, "HS256", "new-secret", "old-secret", clk)
	retired := newSigner(t, "HS256", "new-secret", "", clk)

	oldToken, err := old.Sign(codec.Encode(sampleClaims(), time.Minute))
	require.NoError(t, err)

	_, err = rotated.Verify(oldToken)
	assert.NoError(t, err, "previous secret still verifies during rotation")

	_, err = retired.Verify(oldToken)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	newToken, err := rotated.Sign(codec.Encode(sampleClaims(), time.Minute))
	require.NoError(t, err)
	_, err = old.Verify(newToken)
	assert.ErrorIs(t, err, ErrInvalidSignature, "signing always uses the primary secret")

	clk.Advance(2 * time.Minute)
	_, err = rotated.Verify(oldToken)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyMalformed(t *testing.T) {
	signer := newSigner(t, "HS256", "primary-secret", "", nil)
	_, err := signer.Verify("not.a.jwt")
	assert.Error(t, err)
	_, err = signer.Verify("")
	assert.Error(t, err)
}

func TestNewSignerValidation(t *testing.T) {
	_, err := NewSigner("RS256", "secret", "", nil)
	assert.Error(t, err)
	_, err = NewSigner("HS256", "", "", nil)
	assert.Error(t, err)
	assert.True(t, SupportedAlgorithm("HS384"))
}

func TestVerifyRequiresNumericExpiry(t *testing.T) {
	clk := clock.NewManual(epoch)
	signer := newSigner(t, "HS256", "primary-secret", "", clk)

	cases := map[string]jwt.MapClaims{
		"missing exp":     {"id": 1},
		"string exp":      {"id": 1, "exp": "tomorrow"},
		"string nbf":      {"id": 1, "exp": epoch.Add(time.Minute).Unix(), "nbf": "now"},
		"exp in the past": {"id": 1, "exp": epoch.Add(-time.Second).Unix()},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			token, err := signer.Sign(payload)
			require.NoError(t, err)
			_, err = signer.Verify(token)
			if name == "exp in the past" {
				assert.ErrorIs(t, err, ErrExpired)
				return
			}
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestVerifyAcceptsTokenAtNotBeforeSecond(t *testing.T) {
	clk := clock.NewManual(epoch)
	signer := newSigner(t, "HS256", "primary-secret", "", clk)

	token, err := signer.Sign(jwt.MapClaims{
		"id":  1,
		"nbf": epoch.Unix(),
		"exp": epoch.Unix(),
	})
	require.NoError(t, err)

	_, err = signer.Verify(token)
	assert.NoError(t, err)
}
